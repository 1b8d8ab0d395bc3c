// Package outreach sends the first-touch and followup SMS to a lead,
// gating every send through TCPA checks and the idempotency reservation
// so a retried dispatch job never double-texts a homeowner.
package outreach

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

	"github.com/ebrland/orchestrator/pkg/types"
)

// No official Twilio SDK appears anywhere in the retrieval pack. Twilio's
// Messages resource is a single form-encoded POST with HTTP basic auth, so
// this is a minimal net/http client in the style of the pack's other
// hand-rolled REST provider clients (see DESIGN.md) rather than a full SDK.
type TwilioClient struct {
	httpClient *http.Client
	accountSID string
	authToken  string
	from       string
	baseURL    string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	HTTPClient *http.Client
}

func NewTwilioClient(cfg TwilioConfig) *TwilioClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TwilioClient{
		httpClient: httpClient,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		from:       cfg.From,
		baseURL:    "https://api.twilio.com/2010-04-01",
	}
}

// twilioMessageResponse is the subset of Twilio's Message resource this
// client cares about.
type twilioMessageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// TwilioError wraps a non-2xx Twilio response with its numeric error code,
// so the dispatcher can map it to a send result without parsing strings.
type TwilioError struct {
	Code    int
	Message string
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// SendSMS implements types.MessageSender against the live Twilio REST API.
func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) (types.SendResult, error) {
	if c.accountSID == "" || c.authToken == "" {
		return types.SendResult{}, &TwilioError{Code: 20003, Message: "twilio credentials not configured"}
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return types.SendResult{}, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.SendResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.SendResult{}, err
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Code != 0 {
			return types.SendResult{}, &TwilioError{Code: apiErr.Code, Message: apiErr.Message}
		}
		return types.SendResult{}, &TwilioError{Code: resp.StatusCode, Message: "twilio request failed: " + strconv.Itoa(resp.StatusCode)}
	}

	var msg twilioMessageResponse
	if err := json.Unmarshal(raw, &msg); err != nil {
		return types.SendResult{}, err
	}
	if msg.ErrorCode != nil {
		return types.SendResult{}, &TwilioError{Code: *msg.ErrorCode, Message: msg.ErrorMessage}
	}

	return types.SendResult{ProviderSID: msg.SID, Status: msg.Status}, nil
}
