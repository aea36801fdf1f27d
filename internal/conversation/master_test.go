package conversation

import (
	"bytes"
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/bots"
	"github.com/memohai/botsmith/internal/pipeline"
	"github.com/memohai/botsmith/internal/publish"
	"github.com/memohai/botsmith/internal/secrets"
	"github.com/memohai/botsmith/internal/session"
	"github.com/memohai/botsmith/internal/telegram"
	"github.com/memohai/botsmith/internal/users"
)

const (
	masterToken = "100:master"
	chatID      = int64(4242)
	fromID      = int64(77)
	goodToken   = "123456:ABCdef_ghi-jkl"
)

type sent struct {
	token string
	chat  int64
	text  string
	kb    *tgbotapi.InlineKeyboardMarkup
}

// callbacks lists the callback data of every button, row by row.
func (s sent) callbacks() []string {
	if s.kb == nil {
		return nil
	}
	var out []string
	for _, row := range s.kb.InlineKeyboard {
		for _, b := range row {
			if b.CallbackData != nil {
				out = append(out, *b.CallbackData)
			}
		}
	}
	return out
}

type fakeTelegram struct {
	mu       sync.Mutex
	messages []sent
	answered []string
}

func (f *fakeTelegram) GetMe(context.Context, string) (telegram.BotInfo, error) {
	return telegram.BotInfo{}, nil
}

func (f *fakeTelegram) SetWebhook(context.Context, string, string, string, []string) error {
	return nil
}

func (f *fakeTelegram) GetWebhookInfo(context.Context, string) (telegram.WebhookInfo, error) {
	return telegram.WebhookInfo{}, nil
}

func (f *fakeTelegram) Send(_ context.Context, token string, chat int64, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sent{token: token, chat: chat, text: text, kb: kb})
	return nil
}

func (f *fakeTelegram) AnswerCallback(_ context.Context, _, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, id)
	return nil
}

func (f *fakeTelegram) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	return f.messages[len(f.messages)-1]
}

type fakeGenerator struct {
	outputs []pipeline.Output
	inputs  []pipeline.Input
}

func (g *fakeGenerator) Run(_ context.Context, in pipeline.Input) pipeline.Output {
	g.inputs = append(g.inputs, in)
	if len(g.outputs) == 0 {
		return pipeline.Output{Summary: pipeline.FallbackSummary}
	}
	out := g.outputs[0]
	if len(g.outputs) > 1 {
		g.outputs = g.outputs[1:]
	}
	return out
}

type fakePublisher struct {
	result   publish.Result
	requests []publish.Request
}

func (p *fakePublisher) Publish(_ context.Context, req publish.Request) publish.Result {
	p.requests = append(p.requests, req)
	res := p.result
	res.BotID = req.BotID
	return res
}

type rated struct {
	bp     blueprint.Blueprint
	rating int
}

type fakeFeedback struct{ saved []rated }

func (f *fakeFeedback) SaveExample(_ context.Context, bp blueprint.Blueprint, rating int) error {
	f.saved = append(f.saved, rated{bp: bp, rating: rating})
	return nil
}

func sampleBlueprint() blueprint.Blueprint {
	return blueprint.Blueprint{
		Name:        "بوت التوصيل",
		Description: "بوت لطلب الطعام",
		Menu: []blueprint.MenuItem{
			{Title: "المطاعم", Action: "قائمة المطاعم"},
			{Title: "طلباتي", Action: "تتبع طلباتك"},
			{Title: "الدعم", Action: "تواصل معنا"},
		},
		Skills:   []string{},
		Triggers: []blueprint.Trigger{},
		Config:   map[string]any{},
		Fallback: blueprint.DefaultFallback,
	}
}

type masterHarness struct {
	tg       *fakeTelegram
	gen      *fakeGenerator
	pub      *fakePublisher
	feedback *fakeFeedback
	users    *users.Service
	sessions *session.Service
	bots     *bots.Service
	master   *Master
}

func newMasterHarness(t *testing.T) *masterHarness {
	t.Helper()
	cipher, err := secrets.NewCipher(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	h := &masterHarness{
		tg:       &fakeTelegram{},
		gen:      &fakeGenerator{},
		pub:      &fakePublisher{},
		feedback: &fakeFeedback{},
		users:    users.NewService(nil, users.NewMemoryStore(), users.Defaults{DailyLimit: 100, InitialBalance: 100}),
		sessions: session.NewService(nil, session.NewMemoryStore()),
		bots:     bots.NewService(nil, bots.NewMemoryStore(), cipher),
	}
	h.master = NewMaster(nil, MasterDeps{
		Token:     masterToken,
		Users:     h.users,
		Sessions:  h.sessions,
		Bots:      h.bots,
		Generator: h.gen,
		Publisher: h.pub,
		Feedback:  h.feedback,
		Telegram:  h.tg,
	})
	return h
}

func (h *masterHarness) text(t *testing.T, text string) sent {
	t.Helper()
	require.NoError(t, h.master.Handle(context.Background(), telegram.ParsedUpdate{
		Type: telegram.UpdateMessage, ChatID: chatID, FromID: fromID, FromName: "Sara", Text: text,
	}))
	return h.tg.last(t)
}

func (h *masterHarness) press(t *testing.T, data string) sent {
	t.Helper()
	require.NoError(t, h.master.Handle(context.Background(), telegram.ParsedUpdate{
		Type: telegram.UpdateCallback, ChatID: chatID, FromID: fromID, FromName: "Sara", CallbackData: data, CallbackID: "cb-" + data,
	}))
	return h.tg.last(t)
}

func (h *masterHarness) session(t *testing.T) session.Session {
	t.Helper()
	u, err := h.users.GetByTelegramID(context.Background(), "77")
	require.NoError(t, err)
	s, ok, err := h.sessions.Master(context.Background(), u.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

// drafted walks /create and a successful generation.
func (h *masterHarness) drafted(t *testing.T) bots.Bot {
	t.Helper()
	h.gen.outputs = []pipeline.Output{{OK: true, Intent: pipeline.IntentCreateBot, Blueprint: sampleBlueprint(), Summary: "تم إنشاء بوت توصيل طعام"}}
	h.text(t, "/create")
	h.text(t, "بوت توصيل طعام")
	s := h.session(t)
	require.Equal(t, session.StateAwaitingReview, s.State)
	b, err := h.bots.Get(context.Background(), s.DraftBotID())
	require.NoError(t, err)
	return b
}

func TestMasterCreateFlow(t *testing.T) {
	h := newMasterHarness(t)

	msg := h.text(t, "/start")
	assert.Equal(t, textWelcome, msg.text)
	assert.Equal(t, masterToken, msg.token)
	assert.Equal(t, chatID, msg.chat)
	assert.Equal(t, session.StateIdle, h.session(t).State)

	msg = h.text(t, "/create")
	assert.Equal(t, textAskDescription, msg.text)
	assert.Equal(t, session.StateAwaitingDescription, h.session(t).State)

	h.gen.outputs = []pipeline.Output{{OK: true, Intent: pipeline.IntentCreateBot, Blueprint: sampleBlueprint(), Summary: "تم إنشاء بوت توصيل طعام"}}
	msg = h.text(t, "بوت توصيل طعام")
	assert.Equal(t, "تم إنشاء بوت توصيل طعام\n\n"+textCreated, msg.text)
	assert.Equal(t, []string{cbPreview, cbEdit, cbPublish}, msg.callbacks())

	s := h.session(t)
	assert.Equal(t, session.StateAwaitingReview, s.State)
	b, err := h.bots.Get(context.Background(), s.DraftBotID())
	require.NoError(t, err)
	assert.Equal(t, bots.StatusDraft, b.Status)
	assert.True(t, b.HasDraft())
	assert.Equal(t, "بوت توصيل طعام", b.Description)

	require.Len(t, h.gen.inputs, 1)
	in := h.gen.inputs[0]
	assert.Equal(t, "بوت توصيل طعام", in.MessageText)
	assert.Equal(t, string(session.StateAwaitingDescription), in.SessionState)
	assert.Equal(t, chatID, in.ChatID)
	assert.NotEmpty(t, in.TraceID)

	history, err := h.sessions.History(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "USER: بوت توصيل طعام\nASSISTANT: تم إنشاء بوت توصيل طعام", history)
}

func TestMasterGenerationFailures(t *testing.T) {
	tests := []struct {
		name string
		out  pipeline.Output
		want string
	}{
		{"stage failure", pipeline.Output{Summary: pipeline.FallbackSummary, ErrorMessage: "boom"}, textBuildFailed},
		{"blocked", pipeline.Output{Summary: "رصيدك غير كافٍ", BlockedReason: "insufficient_credits"}, "رصيدك غير كافٍ"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newMasterHarness(t)
			h.text(t, "/create")
			h.gen.outputs = []pipeline.Output{tt.out}
			msg := h.text(t, "بوت")
			assert.Equal(t, tt.want, msg.text)
			assert.Equal(t, session.StateAwaitingDescription, h.session(t).State)
			list, err := h.bots.ListByOwner(context.Background(), h.session(t).UserID)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestMasterConsultationFeedback(t *testing.T) {
	h := newMasterHarness(t)
	h.text(t, "/create")
	advice := sampleBlueprint()
	h.gen.outputs = []pipeline.Output{{OK: true, Intent: pipeline.IntentConsultation, Blueprint: advice, Summary: "فكرة جيدة"}}

	msg := h.text(t, "ما رأيك ببوت مطعم؟")
	s := h.session(t)
	assert.Equal(t, "فكرة جيدة", msg.text)
	assert.Equal(t, []string{cbFeedbackGood + s.ID, cbFeedbackBad + s.ID}, msg.callbacks())
	assert.Equal(t, session.StateAwaitingDescription, s.State)
	p, ok := s.Payload.(session.Describing)
	require.True(t, ok)
	require.NotNil(t, p.LastBlueprint)
	assert.Equal(t, advice.Name, p.LastBlueprint.Name)

	list, err := h.bots.ListByOwner(context.Background(), s.UserID)
	require.NoError(t, err)
	assert.Empty(t, list, "advice never creates a bot")

	msg = h.press(t, cbFeedbackBad+s.ID)
	assert.Equal(t, textFeedbackBad, msg.text)
	assert.Empty(t, h.feedback.saved)

	msg = h.press(t, cbFeedbackGood+s.ID)
	assert.Equal(t, textFeedbackGood, msg.text)
	require.Len(t, h.feedback.saved, 1)
	assert.Equal(t, FeedbackRating, h.feedback.saved[0].rating)
	assert.Equal(t, advice.Name, h.feedback.saved[0].bp.Name)

	// The next description sees the advice as context.
	h.gen.outputs = []pipeline.Output{{Summary: pipeline.FallbackSummary}}
	h.text(t, "أضف العروض")
	require.Len(t, h.gen.inputs, 2)
	require.NotNil(t, h.gen.inputs[1].Draft)
	assert.Equal(t, advice.Name, h.gen.inputs[1].Draft.Name)
}

func TestMasterDraftCallbacks(t *testing.T) {
	tests := []struct {
		data      string
		state     session.State
		text      string
		callbacks []string
	}{
		{cbEdit, session.StateAwaitingReview, textEditMenu, []string{cbEditWelcome, cbEditMenu, cbEditButton, cbRegenerate, cbBack}},
		{cbPublish, session.StateConfirmPublish, textConfirmPublish, []string{cbConfirmPublish, cbBack}},
		{cbBack, session.StateAwaitingReview, textCreated, []string{cbPreview, cbEdit, cbPublish}},
		{cbEditWelcome, session.StateOwnerEditWelcome, textAskWelcome, nil},
		{cbEditMenu, session.StateOwnerEditMenu, textAskMenu, nil},
		{cbEditButton, session.StateOwnerEditButtonSelect, textPickButton, []string{cbSelectButton + "0", cbSelectButton + "1", cbSelectButton + "2"}},
		{cbConfirmPublish, session.StateAwaitingToken, textAskToken, nil},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			h := newMasterHarness(t)
			b := h.drafted(t)
			msg := h.press(t, tt.data)
			assert.Equal(t, tt.text, msg.text)
			assert.Equal(t, tt.callbacks, msg.callbacks())
			s := h.session(t)
			assert.Equal(t, tt.state, s.State)
			assert.Equal(t, b.ID, s.DraftBotID())
			assert.Contains(t, h.tg.answered, "cb-"+tt.data)
		})
	}
}

func TestMasterPreview(t *testing.T) {
	ctx := context.Background()
	h := newMasterHarness(t)
	b := h.drafted(t)

	msg := h.press(t, cbPreview)
	assert.Equal(t, textPreviewBanner, msg.text)
	assert.Contains(t, msg.callbacks(), "menu:0")
	assert.Contains(t, msg.callbacks(), "nav:home")
	assert.NotContains(t, msg.callbacks(), "owner:panel")
	assert.Equal(t, session.StatePreviewMode, h.session(t).State)
	after, err := h.bots.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, bots.StatusPreview, after.Status)

	msg = h.press(t, "menu:1")
	assert.Equal(t, textPreviewBanner+"\n\nتتبع طلباتك", msg.text)
	msg = h.press(t, "nav:back")
	assert.Equal(t, textPreviewBanner, msg.text)
	msg = h.text(t, "أي شيء")
	assert.Equal(t, textPreviewBanner, msg.text)
	assert.Equal(t, session.StatePreviewMode, h.session(t).State)

	h.press(t, cbBack)
	assert.Equal(t, session.StateAwaitingReview, h.session(t).State)
}

func TestMasterOwnerEdits(t *testing.T) {
	ctx := context.Background()

	t.Run("welcome", func(t *testing.T) {
		h := newMasterHarness(t)
		b := h.drafted(t)
		h.press(t, cbEditWelcome)
		msg := h.text(t, "أهلاً بك في مطعمنا")
		assert.Equal(t, textWelcomeUpdated, msg.text)
		assert.Equal(t, session.StateAwaitingReview, h.session(t).State)
		after, err := h.bots.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "أهلاً بك في مطعمنا", after.DraftWelcomeMessage())
		assert.Empty(t, after.WelcomeText, "live welcome untouched")
	})

	t.Run("menu", func(t *testing.T) {
		h := newMasterHarness(t)
		b := h.drafted(t)
		h.press(t, cbEditMenu)
		msg := h.text(t, "عروض، طلبات, تواصل")
		assert.Equal(t, textMenuUpdated, msg.text)
		after, err := h.bots.Get(ctx, b.ID)
		require.NoError(t, err)
		items := after.DraftMenuItems()
		require.Len(t, items, 3)
		assert.Equal(t, blueprint.MenuItem{Title: "عروض", Action: "عروض"}, items[0])
		assert.Empty(t, after.Menu, "live menu untouched")
	})

	t.Run("menu too short keeps state", func(t *testing.T) {
		h := newMasterHarness(t)
		b := h.drafted(t)
		h.press(t, cbEditMenu)
		msg := h.text(t, "واحد, اثنان")
		assert.Equal(t, textInvalidEdit, msg.text)
		assert.Equal(t, session.StateOwnerEditMenu, h.session(t).State)
		after, err := h.bots.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "المطاعم", after.DraftMenuItems()[0].Title)
	})

	t.Run("button", func(t *testing.T) {
		h := newMasterHarness(t)
		b := h.drafted(t)
		h.press(t, cbEditButton)
		msg := h.press(t, cbSelectButton+"1")
		assert.Equal(t, textAskButtonLabel, msg.text)
		s := h.session(t)
		assert.Equal(t, session.StateOwnerEditButtonLabel, s.State)
		assert.Equal(t, session.ButtonLabel{BotID: b.ID, Index: 1}, s.Payload)

		msg = h.text(t, "الطلبات")
		assert.Equal(t, textAskButtonAction, msg.text)
		assert.Equal(t, session.ButtonAction{BotID: b.ID, Index: 1, Label: "الطلبات"}, h.session(t).Payload)

		msg = h.text(t, "أرسل رقم طلبك")
		assert.Equal(t, textButtonUpdated, msg.text)
		assert.Equal(t, session.StateAwaitingReview, h.session(t).State)
		after, err := h.bots.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, blueprint.MenuItem{Title: "الطلبات", Action: "أرسل رقم طلبك"}, after.DraftMenuItems()[1])
	})

	t.Run("button out of range", func(t *testing.T) {
		h := newMasterHarness(t)
		h.drafted(t)
		h.press(t, cbEditButton)
		msg := h.press(t, cbSelectButton+"9")
		assert.Equal(t, textButtonMissing, msg.text)
		assert.Equal(t, session.StateOwnerEditButtonSelect, h.session(t).State)
	})
}

func TestMasterRegenerate(t *testing.T) {
	ctx := context.Background()
	h := newMasterHarness(t)
	b := h.drafted(t)

	regenerated := sampleBlueprint()
	regenerated.Name = "بوت التوصيل السريع"
	h.gen.outputs = []pipeline.Output{{OK: true, Intent: pipeline.IntentEditBot, Blueprint: regenerated, Summary: "نسخة جديدة"}}
	msg := h.press(t, cbRegenerate)
	assert.Equal(t, "نسخة جديدة\n\n"+textRegenerated, msg.text)

	in := h.gen.inputs[len(h.gen.inputs)-1]
	assert.Equal(t, "بوت توصيل طعام", in.MessageText)
	require.NotNil(t, in.CurrentBot)
	assert.Equal(t, b.ID, in.CurrentBot.ID)
	require.NotNil(t, in.Draft)

	after, err := h.bots.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "بوت التوصيل السريع", after.DraftBlueprint.Name)

	h.gen.outputs = []pipeline.Output{{Summary: pipeline.FallbackSummary}}
	msg = h.press(t, cbRegenerate)
	assert.Equal(t, textRegenerateFailed, msg.text)
}

func TestMasterPublish(t *testing.T) {
	t.Run("token then success", func(t *testing.T) {
		h := newMasterHarness(t)
		b := h.drafted(t)
		h.press(t, cbConfirmPublish)

		msg := h.text(t, "not-a-token")
		assert.Equal(t, textBadTokenFormat, msg.text)
		assert.Equal(t, session.StateAwaitingToken, h.session(t).State)
		assert.Empty(t, h.pub.requests)

		h.pub.result = publish.Result{Success: true, Username: "food_bot", WebhookStatus: publish.WebhookOK}
		msg = h.text(t, goodToken)
		assert.Contains(t, msg.text, "@food_bot")
		assert.Contains(t, msg.text, "t.me/food_bot")
		assert.Equal(t, []string{cbManageBots}, msg.callbacks())
		require.NotNil(t, msg.kb)
		require.NotNil(t, msg.kb.InlineKeyboard[0][0].URL)
		assert.Equal(t, "https://t.me/food_bot", *msg.kb.InlineKeyboard[0][0].URL)
		assert.Equal(t, []publish.Request{{BotID: b.ID, Token: goodToken}}, h.pub.requests)
		assert.Equal(t, session.StateIdle, h.session(t).State)
	})

	t.Run("rejected token keeps waiting", func(t *testing.T) {
		h := newMasterHarness(t)
		h.drafted(t)
		h.press(t, cbConfirmPublish)
		h.pub.result = publish.Result{FailedPhase: publish.PhaseValidateToken, Error: "Unauthorized", WebhookStatus: publish.WebhookFailed}
		msg := h.text(t, goodToken)
		assert.Equal(t, invalidToken("Unauthorized"), msg.text)
		assert.Equal(t, session.StateAwaitingToken, h.session(t).State)
	})

	t.Run("webhook failure", func(t *testing.T) {
		h := newMasterHarness(t)
		h.drafted(t)
		h.press(t, cbConfirmPublish)
		h.pub.result = publish.Result{FailedPhase: publish.PhaseRegisterWebhook, Username: "food_bot", Error: "connection refused", WebhookStatus: publish.WebhookFailed}
		msg := h.text(t, goodToken)
		assert.Contains(t, msg.text, "السبب: connection refused")
		assert.Contains(t, msg.text, "البوت: @food_bot")
		assert.Equal(t, []string{cbConfirmPublish, cbBack}, msg.callbacks())
		assert.Equal(t, session.StateIdle, h.session(t).State)
	})

	t.Run("stored token skips prompt", func(t *testing.T) {
		h := newMasterHarness(t)
		b := h.drafted(t)
		_, err := h.bots.SaveToken(context.Background(), b.ID, goodToken, bots.TelegramIdentity{Username: "food_bot", BotID: "123456"})
		require.NoError(t, err)
		h.pub.result = publish.Result{Success: true, Username: "food_bot"}
		h.press(t, cbConfirmPublish)
		assert.Equal(t, []publish.Request{{BotID: b.ID}}, h.pub.requests)
		assert.Equal(t, session.StateIdle, h.session(t).State)
	})
}

func TestMasterUnknownAndExpired(t *testing.T) {
	ctx := context.Background()
	h := newMasterHarness(t)

	msg := h.text(t, "مرحبا")
	assert.Equal(t, textUnknown, msg.text)
	u, err := h.users.GetByTelegramID(ctx, "77")
	require.NoError(t, err)
	_, ok, err := h.sessions.Master(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, ok, "unknown input never writes a session")

	msg = h.press(t, cbPreview)
	assert.Equal(t, textSessionExpired, msg.text)

	msg = h.text(t, "/mybots")
	assert.Equal(t, textNoBots, msg.text)

	h.drafted(t)
	msg = h.text(t, "/mybots")
	assert.Equal(t, textBotsHeader+"\n• بوت التوصيل (DRAFT)", msg.text)
}

func TestMasterIgnoresIncompleteUpdates(t *testing.T) {
	h := newMasterHarness(t)
	require.NoError(t, h.master.Handle(context.Background(), telegram.ParsedUpdate{Type: telegram.UpdateMessage, Text: "/start"}))
	assert.Empty(t, h.tg.messages)
}
