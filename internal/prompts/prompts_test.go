package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/botsmith/internal/blueprint"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{Advisor, Builder, Intent, Planner, Repair}, c.Names())
}

func TestRenderIntent(t *testing.T) {
	c := MustLoad()
	out, err := c.Render(Intent, IntentData{Message: "بوت توصيل", History: "USER: مرحبا"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Classify the user intent."))
	assert.Contains(t, out, `User message: "بوت توصيل"`)
	assert.Contains(t, out, "Session state: NONE")
	assert.Contains(t, out, "USER: مرحبا")
}

func TestRenderBuilderExamples(t *testing.T) {
	c := MustLoad()
	data := BuilderData{Message: "m", Intent: "CREATE_BOT", Plan: blueprint.Plan{Purpose: "food"}}

	out, err := c.Render(Builder, data)
	require.NoError(t, err)
	assert.NotContains(t, out, "Examples of successful bots")
	assert.Contains(t, out, `"purpose":"food"`)

	data.Examples = []Example{{Name: "Pizza", Description: "orders", Skills: []string{"ai_chat", "payments"}}}
	out, err = c.Render(Builder, data)
	require.NoError(t, err)
	assert.Contains(t, out, "Examples of successful bots (use as inspiration):\n- Name: Pizza, Desc: orders, Skills: ai_chat, payments")
}

func TestRenderRepair(t *testing.T) {
	c := MustLoad()
	out, err := c.Render(Repair, RepairData{Issues: []string{"a"}, Blueprint: blueprint.Skeleton("d"), Context: "{}"})
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Repair the blueprint JSON to satisfy the validation errors.", lines[0])
	assert.Equal(t, `Errors: ["a"]`, lines[1])
	assert.True(t, strings.HasPrefix(lines[2], `Current blueprint: {"name":"New Bot"`))
	assert.Equal(t, "Context: {}", lines[3])
}

func TestParseRejectsIncompleteCatalog(t *testing.T) {
	_, err := Parse([]byte("intent: hi\n"))
	assert.ErrorContains(t, err, "missing")

	_, err = Parse([]byte("intent: '{{.Broken'\n"))
	assert.Error(t, err)
}

func TestRenderUnknown(t *testing.T) {
	_, err := MustLoad().Render("nope", nil)
	assert.Error(t, err)
}
