package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/botsmith/internal/blueprint"
)

func TestCheckPairsStatesWithPayloads(t *testing.T) {
	tests := []struct {
		state State
		p     Payload
		err   error
	}{
		{StateIdle, Idle{}, nil},
		{StateAwaitingDescription, Describing{}, nil},
		{StatePreviewMode, Drafting{BotID: "b"}, nil},
		{StateAwaitingToken, Drafting{BotID: "b"}, nil},
		{StateOwnerEditButtonLabel, ButtonLabel{BotID: "b", Index: 1}, nil},
		{StateOwnerEditButtonAction, ButtonAction{BotID: "b", Index: 1, Label: "x"}, nil},
		{StateUserFlow, UserFlow{}, nil},
		{StateAwaitingReview, Idle{}, ErrPayloadMismatch},
		{StateOwnerEditButtonLabel, Drafting{}, ErrPayloadMismatch},
		{State("NOPE"), Idle{}, ErrUnknownState},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			err := Check(tt.state, tt.p)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	bp := blueprint.Skeleton("desc")
	cases := []struct {
		state State
		p     Payload
	}{
		{StateIdle, Idle{}},
		{StateAwaitingDescription, Describing{LastBlueprint: &bp}},
		{StateConfirmPublish, Drafting{BotID: "bot-1"}},
		{StateOwnerEditButtonAction, ButtonAction{BotID: "bot-1", Index: 2, Label: "Prices"}},
		{StateUserFlow, UserFlow{Stack: []string{"A", "B"}}},
	}
	for _, c := range cases {
		raw, err := Encode(c.state, c.p)
		require.NoError(t, err)
		got, err := Decode(c.state, raw)
		require.NoError(t, err)
		assert.Equal(t, c.p, got)
	}
}

func TestDecodeLegacyBag(t *testing.T) {
	got, err := Decode(StateOwnerEditButtonAction, []byte(`{"botId":"b1","buttonIndex":3,"buttonLabel":"Hi"}`))
	require.NoError(t, err)
	assert.Equal(t, ButtonAction{BotID: "b1", Index: 3, Label: "Hi"}, got)

	got, err = Decode(StateUserFlow, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, UserFlow{Stack: []string{}}, got)

	got, err = Decode(StateIdle, nil)
	require.NoError(t, err)
	assert.Equal(t, Idle{}, got)

	_, err = Decode(StateIdle, []byte(`{"kind":"session","version":9,"data":{}}`))
	assert.ErrorIs(t, err, blueprint.ErrUnsupportedVersion)
}

func TestTransitionOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, NewMemoryStore())

	cur, found, err := svc.Master(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, StateIdle, cur.State)

	first, err := svc.Transition(ctx, cur, StateAwaitingDescription, Describing{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := svc.Transition(ctx, first, StateAwaitingReview, Drafting{BotID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, "b1", second.DraftBotID())

	_, err = svc.Transition(ctx, first, StateIdle, Idle{})
	assert.ErrorIs(t, err, ErrSessionConflict)

	_, err = svc.Transition(ctx, second, StateAwaitingReview, Idle{})
	assert.ErrorIs(t, err, ErrPayloadMismatch)

	latest, found, err := svc.Master(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, StateAwaitingReview, latest.State)
}

func TestGetOrCreateIsolatedFromMaster(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, NewMemoryStore())

	bot, err := svc.GetOrCreate(ctx, "u1", "bot-1", "42")
	require.NoError(t, err)
	assert.Equal(t, StateUserFlow, bot.State)
	assert.Equal(t, UserFlow{Stack: []string{}}, bot.Payload)

	again, err := svc.GetOrCreate(ctx, "u1", "bot-1", "42")
	require.NoError(t, err)
	assert.Equal(t, bot.ID, again.ID)

	_, found, err := svc.Master(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil, NewMemoryStore())
	cur, _, err := svc.Master(ctx, "u1")
	require.NoError(t, err)
	sess, err := svc.Transition(ctx, cur, StateAwaitingDescription, Describing{})
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, svc.AppendMessage(ctx, sess.ID, role, string(rune('a'+i))))
	}
	hist, err := svc.History(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "USER: c\nASSISTANT: d\nUSER: e\nASSISTANT: f\nUSER: g\nASSISTANT: h", hist)

	empty, err := svc.History(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
