package translation

import (
	"context"
	"net/http"
	"strings"
)

// Libre calls a LibreTranslate instance.
type Libre struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewLibre(client *http.Client, baseURL, apiKey string) *Libre {
	return &Libre{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (l *Libre) Name() string { return "libretranslate" }

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
}

func (l *Libre) Translate(ctx context.Context, text, source, target string) (string, error) {
	body := libreRequest{Q: text, Source: source, Target: target, Format: "text", APIKey: l.apiKey}

	var resp libreResponse
	if err := postJSON(ctx, l.client, l.baseURL+"/translate", "libretranslate", body, &resp); err != nil {
		return "", err
	}
	if resp.TranslatedText == "" {
		return "", ErrNoTranslation
	}
	return resp.TranslatedText, nil
}
