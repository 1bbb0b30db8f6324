package i18n

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestBuiltinTranslations(t *testing.T) {
	tr, err := NewI18n(language.English)
	require.NoError(t, err)

	assert.Equal(t, "The analysis engine took too long to respond.", tr.Translate("analysis.failure.timeout", "en", nil))
	assert.Equal(t, "分析引擎响应超时。", tr.Translate("analysis.failure.timeout", "zh", nil))
	// unknown language falls back to the default
	assert.Equal(t, "The analysis engine took too long to respond.", tr.Translate("analysis.failure.timeout", "fr", nil))
	assert.Equal(t, "no.such.message", tr.Translate("no.such.message", "en", nil))
}

func TestLoadTranslationsOverrides(t *testing.T) {
	dir := t.TempDir()
	content := "[analysis.failure.unknown]\nother = \"Something went wrong, {{.Name}}\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en.toml"), []byte(content), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	tr, err := NewI18n(language.English)
	require.NoError(t, err)
	require.NoError(t, tr.LoadTranslations(dir))

	assert.Equal(t, "Something went wrong, Ana", tr.Translate("analysis.failure.unknown", "en", map[string]any{"Name": "Ana"}))
	assert.Error(t, tr.LoadTranslations(filepath.Join(dir, "missing")))
}

func TestLanguage(t *testing.T) {
	tr, err := NewI18n(language.English)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "en", tr.Language(r))

	r.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	assert.Equal(t, "zh", tr.Language(r))

	r.Header.Set(HeaderLang, "en-US")
	assert.Equal(t, "en", tr.Language(r))

	assert.Equal(t, "en", tr.Normalize("not a tag"))
	assert.Equal(t, "zh", tr.Normalize("zh-Hans"))
}
