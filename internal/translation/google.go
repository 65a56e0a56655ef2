package translation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"avsrt/internal/services"
	"avsrt/internal/services/retry"
)

const defaultGoogleTimeout = 30 * time.Second

// Google calls the Cloud Translation v2 REST endpoint.
type Google struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	policy     retry.Policy
}

// GoogleOption customizes the Google backend.
type GoogleOption func(*Google)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) GoogleOption {
	return func(g *Google) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy retry.Policy) GoogleOption {
	return func(g *Google) {
		g.policy = policy
	}
}

// NewGoogle constructs the backend. A non-positive timeout uses 30s.
func NewGoogle(baseURL, apiKey string, timeout time.Duration, opts ...GoogleOption) *Google {
	if timeout <= 0 {
		timeout = defaultGoogleTimeout
	}
	g := &Google{
		baseURL:    strings.TrimSpace(baseURL),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
		policy:     retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

// Translate sends texts in one request. Callers batch; the service accepts
// at most 128 q values per call.
func (g *Google) Translate(ctx context.Context, texts []string, source, target string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if g.apiKey == "" {
		return nil, services.Wrap(services.ErrTranslation, "translate", "google", "api key required", nil)
	}
	form := url.Values{}
	for _, text := range texts {
		form.Add("q", text)
	}
	form.Set("source", source)
	form.Set("target", target)
	form.Set("format", "text")
	form.Set("key", g.apiKey)

	var parsed googleResponse
	err := g.policy.Do(ctx, "google translate", func(int) error {
		var err error
		parsed, err = g.send(ctx, form)
		return err
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTranslation, "translate", "google", authHint(err), err)
	}
	if got := len(parsed.Data.Translations); got != len(texts) {
		return nil, services.Wrap(services.ErrTranslation, "translate", "google",
			fmt.Sprintf("expected %d translations, got %d", len(texts), got), nil)
	}
	out := make([]string, len(texts))
	for i, item := range parsed.Data.Translations {
		out[i] = html.UnescapeString(item.TranslatedText)
	}
	return out, nil
}

func (g *Google) send(ctx context.Context, form url.Values) (googleResponse, error) {
	var parsed googleResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return parsed, fmt.Errorf("google translate: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return parsed, fmt.Errorf("google translate: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return parsed, fmt.Errorf("google translate: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return parsed, retry.NewStatusError("google translate", resp, body)
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return parsed, fmt.Errorf("google translate: decode response: %w", err)
	}
	return parsed, nil
}

func authHint(err error) string {
	var statusErr *retry.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "authentication failed"
		case http.StatusTooManyRequests:
			return "quota exceeded"
		}
	}
	return ""
}
