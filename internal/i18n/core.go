package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// HeaderLang overrides Accept-Language when present.
const HeaderLang = "X-Lang"

//go:embed locales/*.toml
var builtin embed.FS

// I18n manages internationalization and translations
type I18n struct {
	bundle      *i18n.Bundle
	defaultLang language.Tag
	supported   []language.Tag
	matcher     language.Matcher
}

// NewI18n creates a new I18n instance with the builtin message files loaded.
func NewI18n(defaultLang language.Tag) (*I18n, error) {
	bundle := i18n.NewBundle(defaultLang)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	i := &I18n{
		bundle:      bundle,
		defaultLang: defaultLang,
	}

	entries, err := fs.ReadDir(builtin, "locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read builtin translations: %w", err)
	}
	for _, e := range entries {
		if _, err := bundle.LoadMessageFileFS(builtin, "locales/"+e.Name()); err != nil {
			return nil, fmt.Errorf("failed to load builtin translation %s: %w", e.Name(), err)
		}
	}
	i.refreshMatcher()
	return i, nil
}

// LoadTranslations loads translation files from the specified directory,
// overriding builtin messages with the same ids.
func (i *I18n) LoadTranslations(translationsDir string) error {
	files, err := os.ReadDir(translationsDir)
	if err != nil {
		return fmt.Errorf("failed to read translations directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".toml") {
			continue
		}
		if _, err := i.bundle.LoadMessageFile(filepath.Join(translationsDir, file.Name())); err != nil {
			return fmt.Errorf("failed to load translation %s: %w", file.Name(), err)
		}
	}
	i.refreshMatcher()
	return nil
}

func (i *I18n) refreshMatcher() {
	tags := i.bundle.LanguageTags()
	// the default must come first for the matcher fallback
	i.supported = append([]language.Tag{i.defaultLang}, tags...)
	i.matcher = language.NewMatcher(i.supported)
}

// Translate returns a localized string for the given message ID and language
func (i *I18n) Translate(msgID string, lang string, templateData map[string]any) string {
	localizer := i18n.NewLocalizer(i.bundle, lang, i.defaultLang.String())

	lc := &i18n.LocalizeConfig{
		MessageID: msgID,
	}
	if len(templateData) > 0 {
		lc.TemplateData = templateData
	}

	msg, err := localizer.Localize(lc)
	if err != nil {
		return msgID
	}
	return msg
}

// Language picks the best supported language for the request.
func (i *I18n) Language(r *http.Request) string {
	if lang := r.Header.Get(HeaderLang); lang != "" {
		return i.Normalize(lang)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		tags, _, err := language.ParseAcceptLanguage(accept)
		if err == nil && len(tags) > 0 {
			_, idx, _ := i.matcher.Match(tags...)
			return baseOf(i.supported[idx])
		}
	}
	return baseOf(i.defaultLang)
}

// Normalize maps a language code onto a supported one.
func (i *I18n) Normalize(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return baseOf(i.defaultLang)
	}
	_, idx, _ := i.matcher.Match(tag)
	return baseOf(i.supported[idx])
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}
