package translation

import (
	"context"
	"html"
	"net/http"
	"net/url"
)

const googleEndpoint = "https://translation.googleapis.com/language/translate/v2"

// Google calls the Cloud Translation v2 REST API with an API key.
type Google struct {
	client   *http.Client
	apiKey   string
	endpoint string
}

func NewGoogle(client *http.Client, apiKey string) *Google {
	return &Google{client: client, apiKey: apiKey, endpoint: googleEndpoint}
}

func (g *Google) Name() string { return "google" }

type googleRequest struct {
	Q      []string `json:"q"`
	Source string   `json:"source,omitempty"`
	Target string   `json:"target"`
	Format string   `json:"format"`
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

func (g *Google) Translate(ctx context.Context, text, source, target string) (string, error) {
	endpoint := g.endpoint + "?key=" + url.QueryEscape(g.apiKey)
	body := googleRequest{Q: []string{text}, Source: source, Target: target, Format: "text"}

	var resp googleResponse
	if err := postJSON(ctx, g.client, endpoint, "google", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Data.Translations) == 0 || resp.Data.Translations[0].TranslatedText == "" {
		return "", ErrNoTranslation
	}
	// v2 returns HTML entities even with format=text for some scripts.
	return html.UnescapeString(resp.Data.Translations[0].TranslatedText), nil
}
