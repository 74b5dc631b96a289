// Package i18n renders lending reason codes and kiosk messages in the
// configured language. Message ids are the reason codes themselves.
package i18n

import (
	"embed"
	"io/fs"
	"log"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

var (
	bundle      *i18n.Bundle
	defaultLang = "th"
	once        sync.Once
	mu          sync.RWMutex
	localizers  = map[string]*i18n.Localizer{}
)

// Init loads the embedded bundles and sets the fallback language
func Init(lang string) {
	once.Do(load)
	if lang != "" {
		mu.Lock()
		defaultLang = lang
		mu.Unlock()
	}
}

func load() {
	bundle = i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	files, _ := fs.ReadDir(localeFS, "locales")
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, _ := localeFS.ReadFile("locales/" + f.Name())
		if _, err := bundle.ParseMessageFileBytes(data, f.Name()); err != nil {
			log.Printf("⚠️ i18n: cannot parse %s: %v", f.Name(), err)
		}
	}
}

// DefaultLang returns the fallback language
func DefaultLang() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLang
}

func localizerFor(lang string) *i18n.Localizer {
	once.Do(load)
	if lang == "" {
		lang = DefaultLang()
	}

	mu.RLock()
	l, ok := localizers[lang]
	mu.RUnlock()
	if ok {
		return l
	}

	l = i18n.NewLocalizer(bundle, lang, DefaultLang(), "en")
	mu.Lock()
	localizers[lang] = l
	mu.Unlock()
	return l
}

// T translates messageID into lang. Unknown ids come back unchanged.
func T(lang, messageID string) string {
	msg, err := localizerFor(lang).Localize(&i18n.LocalizeConfig{MessageID: messageID})
	if err != nil {
		return messageID
	}
	return msg
}

// Tf translates messageID with template data
func Tf(lang, messageID string, data map[string]interface{}) string {
	msg, err := localizerFor(lang).Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID
	}
	return msg
}

// Pick returns the first supported language of an Accept-Language style list
func Pick(query, acceptLanguage string) string {
	if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
		return q
	}
	if acceptLanguage == "" {
		return DefaultLang()
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return DefaultLang()
	}
	matcher := language.NewMatcher([]language.Tag{language.Thai, language.English})
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return DefaultLang()
	}
	if idx == 0 {
		return "th"
	}
	return "en"
}
