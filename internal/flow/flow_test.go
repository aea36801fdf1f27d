package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/botsmith/internal/blueprint"
)

func TestHandleNavigation(t *testing.T) {
	tests := []struct {
		name   string
		action Nav
		stack  []string
		want   []string
	}{
		{"back pops", NavBack, []string{"a", "b"}, []string{"a"}},
		{"home clears", NavHome, []string{"a", "b"}, []string{}},
		{"back on empty", NavBack, []string{}, []string{}},
		{"back on nil", NavBack, nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := append([]string(nil), tt.stack...)
			assert.Equal(t, tt.want, HandleNavigation(tt.action, tt.stack))
			assert.Equal(t, orig, append([]string(nil), tt.stack...))
		})
	}
}

func TestPush(t *testing.T) {
	base := []string{"a"}
	assert.Equal(t, []string{"a", "b"}, Push(base, "b"))
	assert.Equal(t, []string{"a"}, base)
}

func TestMenuKeyboardLayout(t *testing.T) {
	items := []blueprint.MenuItem{{Title: "A"}, {Title: "B"}, {Title: "C"}}
	kb := MenuKeyboard(items, true, []LinkButton{{Text: "Site", URL: "https://example.com"}})
	rows := kb.InlineKeyboard
	require.Len(t, rows, 5)
	assert.Len(t, rows[0], 2)
	assert.Len(t, rows[1], 1)
	require.NotNil(t, rows[0][1].CallbackData)
	assert.Equal(t, "menu:1", *rows[0][1].CallbackData)
	require.NotNil(t, rows[2][0].URL)
	assert.Equal(t, "https://example.com", *rows[2][0].URL)
	assert.Equal(t, LabelHome, rows[3][0].Text)
	assert.Equal(t, LabelBack, rows[3][1].Text)
	assert.Equal(t, LabelOwnerPanel, rows[4][0].Text)

	plain := MenuKeyboard(items[:2], false, nil)
	require.Len(t, plain.InlineKeyboard, 2)
	assert.Equal(t, CallbackBack, *plain.InlineKeyboard[1][1].CallbackData)
}

func TestParseMenuCallback(t *testing.T) {
	i, ok := ParseMenuCallback("menu:3")
	assert.True(t, ok)
	assert.Equal(t, 3, i)
	for _, bad := range []string{"menu:", "menu:x", "menu:-1", "nav:home"} {
		_, ok := ParseMenuCallback(bad)
		assert.False(t, ok, bad)
	}
}
