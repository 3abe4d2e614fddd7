// Package i18n exposes the translated user-facing strings. Lookups that miss
// fall back to the message key itself, so a missing translation degrades to a
// readable identifier rather than an error.
package i18n

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Translator resolves message keys for the configured locales.
type Translator struct {
	bundle        *i18n.Bundle
	defaultLocale string
}

// NewTranslator loads messages.<locale>.toml for each locale from dir. The
// first locale that fails to load aborts construction.
func NewTranslator(dir, defaultLocale string, locales ...string) (*Translator, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	for _, locale := range locales {
		path := fmt.Sprintf("%s/messages.%s.toml", dir, locale)
		if _, err := bundle.LoadMessageFile(path); err != nil {
			return nil, fmt.Errorf("i18n: load %s: %w", path, err)
		}
	}
	if defaultLocale == "" {
		defaultLocale = language.English.String()
	}
	return &Translator{bundle: bundle, defaultLocale: defaultLocale}, nil
}

// Translate resolves key in the requested locale, falling back to the default
// locale and finally to the key itself.
func (t *Translator) Translate(locale, key string) string {
	return t.TranslateWithData(locale, key, nil)
}

// TranslateWithData resolves key with template data.
func (t *Translator) TranslateWithData(locale, key string, data map[string]interface{}) string {
	localizer := i18n.NewLocalizer(t.bundle, locale, t.defaultLocale)
	translated, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	// Localize reports a missing message in the requested locale as an error
	// while still returning the default-locale text; that fallback is usable.
	if translated == "" {
		return key
	}
	if err != nil {
		var notFound *i18n.MessageNotFoundErr
		if !errors.As(err, &notFound) {
			return key
		}
	}
	return translated
}
