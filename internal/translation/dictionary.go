package translation

import (
	"context"
	"strings"
)

var phrasebook = map[string]map[string]string{
	"hello": {
		"es": "hola", "fr": "bonjour", "de": "hallo", "hi": "नमस्ते", "zh": "你好",
	},
	"how are you": {
		"es": "¿cómo estás?", "fr": "comment allez-vous?", "de": "wie geht es dir?", "hi": "आप कैसे हैं?", "zh": "你好吗？",
	},
	"good morning": {
		"es": "buenos días", "fr": "bonjour", "de": "guten morgen", "hi": "सुप्रभात", "zh": "早上好",
	},
	"thank you": {
		"es": "gracias", "fr": "merci", "de": "danke", "hi": "धन्यवाद", "zh": "谢谢",
	},
	"goodbye": {
		"es": "adiós", "fr": "au revoir", "de": "auf wiedersehen", "hi": "अलविदा", "zh": "再见",
	},
}

// Dictionary translates a fixed English phrasebook. With tagUnknown set,
// anything else comes back as "[XX] text"; otherwise it reports ErrNoTranslation.
type Dictionary struct {
	tagUnknown bool
}

func NewDictionary(tagUnknown bool) *Dictionary {
	return &Dictionary{tagUnknown: tagUnknown}
}

func (d *Dictionary) Name() string { return "dictionary" }

func (d *Dictionary) Translate(_ context.Context, text, _, target string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if out, ok := phrasebook[key][target]; ok {
		return out, nil
	}
	if d.tagUnknown {
		return "[" + strings.ToUpper(target) + "] " + text, nil
	}
	return "", ErrNoTranslation
}
