package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RESTClient talks to the provider's account-scoped REST API with
// form-encoded requests and basic auth.
type RESTClient struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRESTClient creates a provider client
func NewRESTClient(baseURL, accountSID, authToken string, logger zerolog.Logger) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "telephony").Logger(),
	}
}

type callResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall starts an outbound call and returns the provider leg ID
func (c *RESTClient) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("Url", req.URL)
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
		for _, ev := range req.StatusCallbackEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.TimeoutSecs > 0 {
		form.Set("Timeout", strconv.Itoa(req.TimeoutSecs))
	}

	var resource callResource
	if err := c.post(ctx, c.callsURL(), form, &resource); err != nil {
		return "", fmt.Errorf("place call to %s: %w", req.To, err)
	}

	c.logger.Debug().
		Str("leg_id", resource.SID).
		Str("to", req.To).
		Msg("outbound call placed")
	return resource.SID, nil
}

// TerminateCall hangs up a live leg
func (c *RESTClient) TerminateCall(ctx context.Context, legID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	if err := c.post(ctx, c.callURL(legID), form, nil); err != nil {
		return fmt.Errorf("terminate leg %s: %w", legID, err)
	}
	c.logger.Debug().Str("leg_id", legID).Msg("leg terminated")
	return nil
}

// RedirectCall points a live leg at a new markup URL
func (c *RESTClient) RedirectCall(ctx context.Context, legID, markupURL string) error {
	form := url.Values{}
	form.Set("Url", markupURL)
	form.Set("Method", "POST")

	if err := c.post(ctx, c.callURL(legID), form, nil); err != nil {
		return fmt.Errorf("redirect leg %s: %w", legID, err)
	}
	c.logger.Debug().Str("leg_id", legID).Str("url", markupURL).Msg("leg redirected")
	return nil
}

func (c *RESTClient) callsURL() string {
	return fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
}

func (c *RESTClient) callURL(legID string) string {
	return fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, legID)
}

func (c *RESTClient) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}
