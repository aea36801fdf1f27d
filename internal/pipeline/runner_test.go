package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/botsmith/internal/audit"
	"github.com/memohai/botsmith/internal/blueprint"
	"github.com/memohai/botsmith/internal/credits"
	"github.com/memohai/botsmith/internal/learning"
	"github.com/memohai/botsmith/internal/llm"
	"github.com/memohai/botsmith/internal/prompts"
	"github.com/memohai/botsmith/internal/users"
)

const (
	intentCreate   = `{"intent":" create_bot ","confidence":"0.8"}`
	intentConsult  = `{"intent":"CONSULTATION","confidence":0.7}`
	planReply      = `{"purpose":"توصيل الطعام","audience":"سكان المدينة","mainMenus":["المطاعم","طلباتي","الدعم"],"actionsNeeded":["طلب وجبة"],"steps":["عرض المطاعم","استقبال الطلب","المتابعة"]}`
	builderReply   = `{"blueprint":{"name":"بوت التوصيل","description":"بوت لطلب الطعام وتوصيله","menu":[{"title":"المطاعم","action":"قائمة المطاعم المتاحة"},{"title":"طلباتي","action":"تتبع طلباتك"},{"title":"الدعم","action":"تواصل معنا"}]},"summary":"تم إنشاء بوت توصيل طعام","confidence":0.9}`
	duplicateReply = `{"blueprint":{"name":"بوت التوصيل","description":"بوت لطلب الطعام وتوصيله","menu":[{"title":"المطاعم","action":"أ"},{"title":"المطاعم","action":"ب"},{"title":"الدعم","action":"ج"}]},"summary":"نسخة فيها تكرار","confidence":0.4}`
	advisorReply   = `{"critique":["القائمة قصيرة جداً"],"suggestions":["أضف زر العروض","أضف زر ساعات العمل"],"summary":"فكرة جيدة تحتاج بعض الإضافات"}`
)

// scripted answers each schema with the next queued reply.
type scripted struct {
	mu      sync.Mutex
	replies map[string][]string
	calls   map[string]int
}

func newScripted(replies map[string][]string) *scripted {
	return &scripted{replies: replies, calls: map[string]int{}}
}

func (s *scripted) client() llm.Client {
	return llm.ClientFunc(func(_ context.Context, _ string, schema *llm.Schema, _ *llm.Options) llm.RawResult {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls[schema.Name]++
		queue := s.replies[schema.Name]
		if len(queue) == 0 {
			return llm.RawResult{ErrorMessage: llm.MsgRetriesExceeded}
		}
		reply := queue[0]
		if len(queue) > 1 {
			s.replies[schema.Name] = queue[1:]
		}
		return llm.Reply(reply, schema)
	})
}

type fakeSecrets map[string]string

func (f fakeSecrets) GetSecret(_ context.Context, botID, key string) (string, bool) {
	v, ok := f[botID+"/"+key]
	return v, ok
}

type fakeExamples struct{ queries []string }

func (f *fakeExamples) FindSimilarExamples(_ context.Context, query string) []learning.Example {
	f.queries = append(f.queries, query)
	return []learning.Example{{Name: "بوت مطعم", Description: "قائمة الطعام", Skills: []string{"ai_chat"}}}
}

type harness struct {
	users    *users.MemoryStore
	ledger   *credits.MemoryStore
	runs     *audit.MemoryStore
	llm      *scripted
	examples *fakeExamples
	runner   *Runner
}

func newHarness(t *testing.T, replies map[string][]string, secrets Secrets) *harness {
	t.Helper()
	h := &harness{
		users:    users.NewMemoryStore(),
		runs:     audit.NewMemoryStore(),
		llm:      newScripted(replies),
		examples: &fakeExamples{},
	}
	h.ledger = credits.NewMemoryStore(h.users)
	catalog, err := prompts.Load()
	require.NoError(t, err)
	h.runner = NewRunner(nil, Deps{
		LLM:      h.llm.client(),
		Prompts:  catalog,
		Gate:     credits.NewGate(nil, h.ledger, credits.PipelineCost),
		Audit:    audit.NewRecorder(nil, h.runs),
		Examples: h.examples,
		Secrets:  secrets,
	})
	return h
}

func (h *harness) addUser(t *testing.T, status users.Status, balance int) users.User {
	t.Helper()
	u, err := h.users.Upsert(context.Background(), users.Profile{TelegramID: "77", Name: "Sara"}, users.Defaults{DailyLimit: 100, InitialBalance: balance})
	require.NoError(t, err)
	require.NoError(t, h.users.Update(u.ID, func(x *users.User) error {
		x.Status = status
		return nil
	}))
	return u
}

func createReplies() map[string][]string {
	return map[string][]string{
		"intent":  {intentCreate},
		"plan":    {planReply},
		"builder": {builderReply},
	}
}

func TestRunCreatesBlueprintAndCharges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, createReplies(), nil)
	u := h.addUser(t, users.StatusApproved, 100)

	out := h.runner.Run(ctx, Input{TraceID: "t-1", UserID: u.ID, MessageText: "بوت توصيل طعام", SessionState: "AWAITING_DESCRIPTION"})
	require.True(t, out.OK, out.ErrorMessage)
	assert.Equal(t, IntentCreateBot, out.Intent)
	assert.GreaterOrEqual(t, len(out.Blueprint.Menu), blueprint.MenuMin)
	assert.LessOrEqual(t, len(out.Blueprint.Menu), blueprint.MenuMax)
	assert.Equal(t, blueprint.DefaultFallback, out.Blueprint.Fallback)
	assert.Equal(t, credits.PipelineCost, out.CreditsUsed)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)
	require.NotNil(t, out.Evaluation)
	assert.Equal(t, blueprint.ActionApprove, out.Evaluation.Action)
	assert.Equal(t, []string{"بوت توصيل طعام"}, h.examples.queries)

	after, err := h.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, after.Credits)

	runs := h.runs.All()
	require.Len(t, runs, 1)
	assert.Equal(t, audit.StatusSuccess, runs[0].Status)
	assert.Equal(t, IntentCreateBot, runs[0].Intent)
	assert.Equal(t, credits.PipelineCost, runs[0].CreditsUsed)
	bp, err := blueprint.Unwrap[blueprint.Blueprint](runs[0].Blueprint, blueprint.KindBlueprint)
	require.NoError(t, err)
	assert.Equal(t, out.Blueprint.Name, bp.Name)
}

func TestRunBlocked(t *testing.T) {
	tests := []struct {
		name    string
		status  users.Status
		balance int
		reason  string
	}{
		{"insufficient credits", users.StatusApproved, 5, credits.ReasonInsufficientCredits},
		{"pending approval", users.StatusPendingApproval, 100, "user_status_pending_approval"},
		{"suspended", users.StatusSuspended, 100, "user_status_suspended"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, createReplies(), nil)
			u := h.addUser(t, tt.status, tt.balance)

			out := h.runner.Run(context.Background(), Input{TraceID: "t-2", UserID: u.ID, MessageText: strings.Repeat("ب", 300)})
			assert.False(t, out.OK)
			assert.Equal(t, tt.reason, out.BlockedReason)
			assert.NotEmpty(t, out.Summary)
			assert.Empty(t, h.llm.calls)

			runs := h.runs.All()
			require.Len(t, runs, 1)
			assert.Equal(t, audit.IntentBlocked, runs[0].Intent)
			assert.Equal(t, audit.StatusFailed, runs[0].Status)
			assert.Equal(t, tt.reason, runs[0].ErrorMessage)
			assert.Equal(t, int64(0), runs[0].LatencyMS)
			assert.Len(t, []rune(runs[0].InputText), audit.BlockedInputLimit)
		})
	}
}

func TestRunConsultationNeverCharges(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, map[string][]string{"intent": {intentConsult}, "advisor": {advisorReply}}, nil)
	u := h.addUser(t, users.StatusApproved, 100)
	draft := blueprint.Blueprint{Name: "مطعم", Description: "وصف المطعم", Menu: []blueprint.MenuItem{{Title: "أ", Action: "ب"}}}

	out := h.runner.Run(ctx, Input{TraceID: "t-3", UserID: u.ID, MessageText: "ما رأيك؟", Draft: &draft})
	require.True(t, out.OK)
	assert.Equal(t, IntentConsultation, out.Intent)
	assert.Equal(t, 0, out.CreditsUsed)
	assert.Equal(t, draft, out.Blueprint)
	assert.Contains(t, out.Summary, "💡 اقتراحات:\n• أضف زر العروض\n• أضف زر ساعات العمل")
	assert.Zero(t, h.llm.calls["plan"])
	assert.Zero(t, h.llm.calls["builder"])

	after, err := h.users.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, after.Credits)

	runs := h.runs.All()
	require.Len(t, runs, 1)
	assert.Equal(t, IntentConsultation, runs[0].Intent)
	assert.Equal(t, 0, runs[0].CreditsUsed)
}

func TestRunRepairsOnce(t *testing.T) {
	t.Run("repair succeeds", func(t *testing.T) {
		replies := createReplies()
		replies["builder"] = []string{duplicateReply, builderReply}
		h := newHarness(t, replies, nil)
		u := h.addUser(t, users.StatusApproved, 100)

		out := h.runner.Run(context.Background(), Input{UserID: u.ID, MessageText: "بوت توصيل طعام"})
		require.True(t, out.OK, out.ErrorMessage)
		assert.NotEmpty(t, out.ValidatorErrors)
		assert.Equal(t, "تم إنشاء بوت توصيل طعام", out.Summary)
		assert.Equal(t, 2, h.llm.calls["builder"])
	})

	t.Run("repair still invalid", func(t *testing.T) {
		replies := createReplies()
		replies["builder"] = []string{duplicateReply, duplicateReply, builderReply}
		h := newHarness(t, replies, nil)
		u := h.addUser(t, users.StatusApproved, 100)

		out := h.runner.Run(context.Background(), Input{UserID: u.ID, MessageText: "بوت توصيل طعام"})
		assert.False(t, out.OK)
		assert.Equal(t, ErrRepairFailed, out.ErrorMessage)
		assert.Equal(t, FallbackSummary, out.Summary)
		assert.Equal(t, 2, h.llm.calls["builder"])

		runs := h.runs.All()
		require.Len(t, runs, 1)
		assert.Equal(t, audit.StatusFailed, runs[0].Status)
		assert.Equal(t, ErrRepairFailed, runs[0].ErrorMessage)

		after, _ := h.users.Get(context.Background(), u.ID)
		assert.Equal(t, 100, after.Credits)
	})
}

func TestRunStageFailureIsGeneric(t *testing.T) {
	replies := createReplies()
	replies["plan"] = []string{"sorry, I cannot help"}
	h := newHarness(t, replies, nil)
	u := h.addUser(t, users.StatusApproved, 100)

	out := h.runner.Run(context.Background(), Input{UserID: u.ID, MessageText: "بوت"})
	assert.False(t, out.OK)
	assert.Equal(t, FallbackSummary, out.Summary)
	assert.Contains(t, out.ErrorMessage, "non-JSON")
	assert.Zero(t, h.llm.calls["builder"])

	runs := h.runs.All()
	require.Len(t, runs, 1)
	assert.Equal(t, IntentCreateBot, runs[0].Intent)
	assert.Equal(t, audit.StatusFailed, runs[0].Status)
}

func TestRunSecretWarnings(t *testing.T) {
	withSkill := strings.Replace(builderReply, `"menu"`, `"skills":["ai_chat"],"menu"`, 1)

	t.Run("new bot lists every key", func(t *testing.T) {
		replies := createReplies()
		replies["builder"] = []string{withSkill}
		h := newHarness(t, replies, fakeSecrets{})
		out := h.runner.Run(context.Background(), Input{MessageText: "بوت ذكي", SkipCreditCheck: true})
		require.True(t, out.OK, out.ErrorMessage)
		assert.Contains(t, out.Summary, "ستحتاج لإضافة المفاتيح التالية: OPENAI_API_KEY.")
		assert.Equal(t, 0, out.CreditsUsed)
	})

	t.Run("existing bot names missing keys", func(t *testing.T) {
		replies := createReplies()
		replies["builder"] = []string{withSkill}
		h := newHarness(t, replies, fakeSecrets{})
		out := h.runner.Run(context.Background(), Input{MessageText: "بوت ذكي", SkipCreditCheck: true, CurrentBot: &BotRef{ID: "b1"}})
		require.True(t, out.OK)
		assert.Contains(t, out.Summary, "يحتاج مفاتيح API ليعمل: OPENAI_API_KEY")
	})

	t.Run("configured keys are quiet", func(t *testing.T) {
		replies := createReplies()
		replies["builder"] = []string{withSkill}
		h := newHarness(t, replies, fakeSecrets{"b1/OPENAI_API_KEY": "sk"})
		out := h.runner.Run(context.Background(), Input{MessageText: "بوت ذكي", SkipCreditCheck: true, CurrentBot: &BotRef{ID: "b1"}})
		require.True(t, out.OK)
		assert.Equal(t, "تم إنشاء بوت توصيل طعام", out.Summary)
	})
}

func TestRunDeductionFailureKeepsBlueprint(t *testing.T) {
	h := newHarness(t, createReplies(), nil)
	u := h.addUser(t, users.StatusApproved, 100)
	h.ledger.FailDeduct = errors.New("ledger offline")

	out := h.runner.Run(context.Background(), Input{UserID: u.ID, MessageText: "بوت توصيل طعام"})
	require.True(t, out.OK)
	assert.Equal(t, 0, out.CreditsUsed)
	runs := h.runs.All()
	require.Len(t, runs, 1)
	assert.Equal(t, 0, runs[0].CreditsUsed)
}

func TestRequiredKeysDeduplicates(t *testing.T) {
	assert.Equal(t, []string{"OPENAI_API_KEY"}, requiredKeys([]string{"ai_chat", "image_generator", "group_admin"}))
	assert.Empty(t, requiredKeys(nil))
}
