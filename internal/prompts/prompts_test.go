package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	p := Default()

	system, err := p.System("Revenue grew 12%.", "3, 4")
	require.NoError(t, err)
	assert.Contains(t, system, "context: Revenue grew 12%.")
	assert.Contains(t, system, "pages: 3, 4")

	para, err := p.Paraphrase(5)
	require.NoError(t, err)
	assert.Contains(t, para, "exactly 5 paraphrased")

	assert.Contains(t, p.Decompose(), "numbered list")
	assert.Equal(t, DefaultFallback, p.Fallback())
	assert.Equal(t, DefaultGuidance, p.Guidance())
}

func TestSystem_DoesNotEscape(t *testing.T) {
	out, err := Default().System(`a < b && "quoted"`, "")
	require.NoError(t, err)
	assert.Contains(t, out, `a < b && "quoted"`)
}

func TestLoadFile(t *testing.T) {
	path := writeTOML(t, `
system = "Answer from: {{.Context}} ({{.Pages}})"
fallback = "Nothing found."
`)
	p, err := LoadFile(path)
	require.NoError(t, err)

	out, err := p.System("ctx", "1")
	require.NoError(t, err)
	assert.Equal(t, "Answer from: ctx (1)", out)
	assert.Equal(t, "Nothing found.", p.Fallback())
	assert.Equal(t, DefaultDecompose, p.Decompose(), "unset keys keep built-ins")
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid toml", `system = `},
		{"unknown key", `sytem = "typo"`},
		{"bad template", `system = "{{.Context"`},
		{"unknown field", `paraphrase = "give {{.Count}}"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeTOML(t, tt.content))
			assert.ErrorIs(t, err, ErrInvalidPrompts)
		})
	}
}

func TestLoadFile_EmptyPathAndMissing(t *testing.T) {
	p, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultGuidance, p.Guidance())

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
