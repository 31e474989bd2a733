package assistant_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepakdriver/lepakdriver/internal/assistant"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		markup assistant.Markup
		in     string
		want   string
	}{
		{"plain untouched", assistant.MarkupPlain, "**Bus** <b>", "**Bus** <b>"},
		{"bold", assistant.MarkupHTML, "**Service 174**", "<b>Service 174</b>"},
		{"italic", assistant.MarkupHTML, "*Updated: 10:00*", "<i>Updated: 10:00</i>"},
		{"escapes first", assistant.MarkupHTML, "a < b & **c**", "a &lt; b &amp; <b>c</b>"},
		{"mixed on one line", assistant.MarkupHTML, "**Next:** *3 min*", "<b>Next:</b> <i>3 min</i>"},
		{"no cross-line emphasis", assistant.MarkupHTML, "*a\nb*", "*a\nb*"},
		{"bullet untouched", assistant.MarkupHTML, "• Next: soon", "• Next: soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assistant.Render(tt.markup, tt.in))
		})
	}
}

func TestParseMarkup(t *testing.T) {
	m, err := assistant.ParseMarkup("")
	require.NoError(t, err)
	assert.Equal(t, assistant.MarkupPlain, m)

	m, err = assistant.ParseMarkup("html")
	require.NoError(t, err)
	assert.Equal(t, assistant.MarkupHTML, m)

	_, err = assistant.ParseMarkup("markdownv2")
	assert.Error(t, err)
}

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "system_prompt.md")
	require.NoError(t, os.WriteFile(path, []byte("\nYou are Lepak Driver.\n"), 0o600))
	assert.Equal(t, "You are Lepak Driver.", assistant.LoadSystemPrompt(path, zerolog.Nop()))

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	assert.Equal(t, assistant.DefaultSystemPrompt, assistant.LoadSystemPrompt(empty, zerolog.Nop()))

	assert.Equal(t, assistant.DefaultSystemPrompt, assistant.LoadSystemPrompt(filepath.Join(dir, "missing.md"), zerolog.Nop()))
	assert.Equal(t, assistant.DefaultSystemPrompt, assistant.LoadSystemPrompt("", zerolog.Nop()))
}

func TestWelcomeAndClearTexts(t *testing.T) {
	assert.Contains(t, assistant.WelcomeText("Ah Boy"), "Hi Ah Boy!")
	assert.Contains(t, assistant.WelcomeText("  "), "Hi there!")
	assert.Equal(t, assistant.ClearedReply, assistant.ClearText(true))
	assert.Equal(t, assistant.NothingToClearText, assistant.ClearText(false))
	assert.Contains(t, assistant.HelpText, "/clear - Reset conversation")
}
