package conversation

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/publish"
)

// Replies of the builder bot.
const (
	textWelcome          = "مرحبا بك! استخدم /create لإنشاء بوت جديد أو /mybots لعرض بوتاتك."
	textAskDescription   = "اكتب وصف البوت المطلوب إنشاؤه."
	textNoBots           = "لا يوجد بوتات حتى الآن. استخدم /create لإنشاء أول بوت."
	textBotsHeader       = "بوتاتك الحالية:"
	textBuildFailed      = "صار خطأ مؤقت أثناء بناء البوت. حاول مرة ثانية."
	textCreated          = "تم إنشاء البوت بنجاح 🎉\nهل ترغب بمراجعته قبل النشر؟"
	textSessionExpired   = "انتهت الجلسة الحالية. استخدم /create للبدء من جديد."
	textDraftMissing     = "تعذر العثور على بيانات البوت المسودّة. حاول /create مرة أخرى."
	textPreviewBanner    = "🔍 وضع المعاينة – التغييرات غير محفوظة"
	textEditMenu         = "ماذا تريد تعديل؟"
	textConfirmPublish   = "هل أنت متأكد من نشر هذا الإصدار؟"
	textAskWelcome       = "أرسل رسالة الترحيب الجديدة."
	textAskMenu          = "أرسل أسماء الأزرار الجديدة مفصولة بفواصل."
	textPickButton       = "اختر الزر الذي تريد تعديله."
	textAskButtonLabel   = "أرسل النص الجديد للزر."
	textAskButtonAction  = "أرسل الرسالة/الوجهة الجديدة لهذا الزر."
	textRegenerated      = "تمت إعادة التوليد بنجاح."
	textRegenerateFailed = "صار خطأ مؤقت أثناء إعادة التوليد. حاول مرة ثانية."
	textRegeneratePrompt = "إعادة توليد البوت"
	textAskToken         = "أرسل توكن البوت لإتمام النشر."
	textBadTokenFormat   = "صيغة التوكن غير صحيحة. حاول مرة أخرى."
	textRestart          = "حدث خطأ. ابدأ من جديد باستخدام /create."
	textFeedbackGood     = "شكراً! تم حفظ الاقتراح لتحسين الردود القادمة. 🧠"
	textFeedbackBad      = "شكراً على ملاحظتك. سنحاول التحسن. 🙏"
	textWelcomeUpdated   = "تم تحديث رسالة الترحيب (مسودة)."
	textMenuUpdated      = "تم تحديث القائمة (مسودة)."
	textButtonUpdated    = "تم تحديث الزر (مسودة)."
	textBotUnresolved    = "حدث خطأ في تحديد البوت. استخدم /mybots أو /create."
	textButtonMissing    = "لم يتم العثور على الزر المحدد. استخدم /create أو /mybots."
	textButtonEditFailed = "حدث خطأ أثناء تعديل الزر. جرّب /create أو /mybots."
	textDraftGone        = "تعذر العثور على بيانات البوت المسودّة. جرّب /create مرة أخرى."
	textInvalidEdit      = "التعديل غير صالح: يجب أن تحتوي القائمة على 3 إلى 7 أزرار بأسماء غير مكررة."
	textPreviewExpired   = "انتهت جلسة المعاينة. استخدم /mybots للعودة."
	textBotMissing       = "تعذر العثور على بيانات البوت. استخدم /create للبدء."
	textUnknown          = "أمر غير معروف. استخدم /start للبدء."
	textFailure          = "حدث خطأ أثناء معالجة طلبك. حاول مرة أخرى أو أعد البدء باستخدام /start."
	textUnknownError     = "خطأ غير معروف"
)

// Replies of generated bots.
const (
	textBotWelcome  = "مرحبا!"
	textBotBack     = "رجوع"
	textChooseMenu  = "اختر من القائمة:"
	textOwnerPanel  = "لوحة التحكم: اختر الإجراء المطلوب."
	textStatusSetTo = "تم ضبط الحالة إلى %s."
)

// Callback data of the builder bot.
const (
	cbPreview        = "draft:preview"
	cbEdit           = "draft:edit"
	cbPublish        = "draft:publish"
	cbBack           = "draft:back"
	cbEditWelcome    = "draft:edit_welcome"
	cbEditMenu       = "draft:edit_menu"
	cbEditButton     = "draft:edit_button"
	cbRegenerate     = "draft:regenerate"
	cbConfirmPublish = "draft:confirm_publish"
	cbSelectButton   = "draft:select_button:"
	cbFeedbackGood   = "feedback:good:"
	cbFeedbackBad    = "feedback:bad:"
	cbManageBots     = "mybots:manage"
	cbOwnerToggle    = "owner:toggle"
	draftPrefix      = "draft:"
	feedbackPrefix   = "feedback:"
	ownerPrefix      = "owner:"
)

// FeedbackRating is stored with advice the user liked.
const FeedbackRating = 5

func button(text, data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, data)
}

func keyboard(rows ...[]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

func reviewKeyboard() *tgbotapi.InlineKeyboardMarkup {
	return keyboard(
		tgbotapi.NewInlineKeyboardRow(button("👀 معاينة البوت", cbPreview), button("✏️ تعديل البوت", cbEdit)),
		tgbotapi.NewInlineKeyboardRow(button("🚀 نشر البوت", cbPublish)),
	)
}

func editKeyboard() *tgbotapi.InlineKeyboardMarkup {
	return keyboard(
		tgbotapi.NewInlineKeyboardRow(button("✏️ تعديل رسالة الترحيب", cbEditWelcome), button("🧱 تعديل القوائم", cbEditMenu)),
		tgbotapi.NewInlineKeyboardRow(button("🧩 تعديل زر معيّن", cbEditButton), button("🧪 إعادة توليد بالذكاء الاصطناعي", cbRegenerate)),
		tgbotapi.NewInlineKeyboardRow(button("🔙 رجوع", cbBack)),
	)
}

func confirmKeyboard() *tgbotapi.InlineKeyboardMarkup {
	return keyboard(
		tgbotapi.NewInlineKeyboardRow(button("✅ تأكيد النشر", cbConfirmPublish), button("🔙 رجوع", cbBack)),
	)
}

func buttonPicker(items []blueprint.MenuItem) *tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(items))
	for i, item := range items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(item.Title, fmt.Sprintf("%s%d", cbSelectButton, i))))
	}
	return keyboard(rows...)
}

func feedbackKeyboard(sessionID string) *tgbotapi.InlineKeyboardMarkup {
	return keyboard(
		tgbotapi.NewInlineKeyboardRow(
			button("👍 نصيحة جيدة", cbFeedbackGood+sessionID),
			button("👎 غير مفيدة", cbFeedbackBad+sessionID),
		),
	)
}

func ownerPanelKeyboard() *tgbotapi.InlineKeyboardMarkup {
	return keyboard(tgbotapi.NewInlineKeyboardRow(button("تفعيل/إيقاف", cbOwnerToggle)))
}

func botList(list []bots.Bot) string {
	var sb strings.Builder
	sb.WriteString(textBotsHeader)
	for _, b := range list {
		fmt.Fprintf(&sb, "\n• %s (%s)", b.Name, b.Status)
	}
	return sb.String()
}

func publishSuccess(username string) (string, *tgbotapi.InlineKeyboardMarkup) {
	text := fmt.Sprintf("✅ تم نشر البوت بنجاح!\n\n🤖 البوت: @%s\n🔗 رابط مباشر: t.me/%s\n\nيمكنك الآن استخدام البوت أو مشاركته مع الآخرين.", username, username)
	kb := keyboard(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🚀 فتح البوت", "https://t.me/"+username)),
		tgbotapi.NewInlineKeyboardRow(button("📊 إدارة البوت", cbManageBots)),
	)
	return text, kb
}

func publishFailure(res publish.Result) (string, *tgbotapi.InlineKeyboardMarkup) {
	reason := res.Error
	if reason == "" {
		reason = textUnknownError
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "❌ فشل نشر البوت\n\nالسبب: %s\n\n", reason)
	if res.Username != "" {
		fmt.Fprintf(&sb, "البوت: @%s\n\n", res.Username)
	}
	sb.WriteString("💡 نصائح:\n• تأكد من صحة توكن البوت\n• تأكد من أن البوت غير محظور\n• جرب إعادة النشر بعد دقيقة")
	kb := keyboard(
		tgbotapi.NewInlineKeyboardRow(button("🔄 إعادة المحاولة", cbConfirmPublish)),
		tgbotapi.NewInlineKeyboardRow(button("🔙 رجوع", cbBack)),
	)
	return sb.String(), kb
}

func invalidToken(reason string) string {
	return fmt.Sprintf("❌ التوكن غير صالح: %s\n\nتأكد من نسخ التوكن كاملاً من @BotFather وحاول مرة أخرى.", reason)
}
