package speech

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ProviderEngine renders prompts through the telephony provider's
// text-to-speech API
type ProviderEngine struct {
	baseURL    string
	accountSID string
	authToken  string
	http       *http.Client
}

// NewProviderEngine creates a TTS engine client
func NewProviderEngine(baseURL, accountSID, authToken string) *ProviderEngine {
	return &ProviderEngine{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// Render synthesizes the prompt and returns the audio bytes
func (e *ProviderEngine) Render(ctx context.Context, text, voice string) ([]byte, string, error) {
	form := url.Values{}
	form.Set("Text", text)
	if voice != "" {
		form.Set("Voice", voice)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Speech.json", e.baseURL, e.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(e.accountSID, e.authToken)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", fmt.Errorf("tts returned %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read tts response: %w", err)
	}
	return audio, resp.Header.Get("Content-Type"), nil
}
