package translation

import (
	"strings"

	"golang.org/x/text/language"

	"lingochat/internal/apperr"
)

var supported = []string{"en", "es", "fr", "de", "hi", "zh", "ja", "ko", "ar", "pt", "ru", "it", "mr"}

// SupportedLanguages lists the codes offered to clients.
func SupportedLanguages() []string {
	return append([]string(nil), supported...)
}

// NormalizeLanguage parses a BCP-47 tag and returns its primary subtag
// ("en-US" -> "en"). Malformed or undetermined codes are BadRequest.
func NormalizeLanguage(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", apperr.BadRequest("language code is required")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", apperr.BadRequest("unknown language code: " + code)
	}
	// An undetermined tag gets a guessed base ("und" -> "en"); only an
	// explicit language subtag counts.
	base, conf := tag.Base()
	if conf != language.Exact {
		return "", apperr.BadRequest("unknown language code: " + code)
	}
	return base.String(), nil
}

// canonical is NormalizeLanguage without the error, for internal lookups.
func canonical(code string) string {
	if norm, err := NormalizeLanguage(code); err == nil {
		return norm
	}
	return strings.ToLower(strings.TrimSpace(code))
}
