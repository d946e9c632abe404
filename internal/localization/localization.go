// Package localization provides the user-facing chat texts in the languages
// the marketplace supports.
package localization

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"tutorlink/chat/internal/errs"
)

const DefaultLang = "en"

//go:embed locales/*.json
var bundled embed.FS

// Localizer holds a key->text map per language.
type Localizer struct {
	translations map[string]map[string]string
	mu           sync.RWMutex
}

// NewLocalizer loads every <lang>.json file in the root of fsys.
func NewLocalizer(fsys fs.FS) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
	}

	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || path.Ext(file.Name()) != ".json" {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, file.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}
		l.translations[lang] = translations
	}

	return l, nil
}

// Bundled returns a localizer over the texts compiled into the binary.
func Bundled() (*Localizer, error) {
	sub, err := fs.Sub(bundled, "locales")
	if err != nil {
		return nil, err
	}
	return NewLocalizer(sub)
}

// GetString returns the text for key in lang, falling back to English and
// then to the key itself.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if t, ok := l.translations[lang]; ok {
		if value, ok := t[key]; ok {
			return value
		}
	}
	if lang != DefaultLang {
		if value, ok := l.translations[DefaultLang][key]; ok {
			return value
		}
	}
	return key
}

// Has reports whether lang has its own translation file.
func (l *Localizer) Has(lang string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.translations[lang]
	return ok
}

// Negotiate picks the first supported language of an Accept-Language header.
func (l *Localizer) Negotiate(acceptLanguage string) string {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		lang := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if lang != "" && l.Has(lang) {
			return lang
		}
	}
	return DefaultLang
}

// ErrorKey maps a chat error to its message key.
func ErrorKey(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errs.ErrEmptyMessage):
		return "error.empty_message"
	case errors.Is(err, errs.ErrNoActiveConversation):
		return "error.no_active_conversation"
	case errors.Is(err, errs.ErrAckTimeout):
		return "error.ack_timeout"
	case errors.Is(err, errs.ErrAckRejected):
		return "error.ack_rejected"
	case errors.Is(err, errs.ErrNoIdentity):
		return "error.no_identity"
	}

	switch errs.Kind(err) {
	case "fetch":
		return "error.fetch"
	case "send":
		return "error.send"
	case "connection":
		return "error.connection"
	default:
		return "error.internal"
	}
}

// ErrorText is the display text for err in lang.
func (l *Localizer) ErrorText(lang string, err error) string {
	if err == nil {
		return ""
	}
	return l.GetString(lang, ErrorKey(err))
}
