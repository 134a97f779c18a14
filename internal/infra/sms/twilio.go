package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dispatchly/internal/domain/notification"
)

var _ notification.Adapter = (*TwilioAdapter)(nil)

// TwilioAdapter sends SMS messages using the Twilio REST API.
//
// Twilio 429s and 5xx responses are retryable; other 4xx responses (bad
// number, unverified sender, auth failure) are terminal.
type TwilioAdapter struct {
	accountSID string
	authToken  string
	fromNumber string
	httpClient *http.Client
}

// NewTwilioAdapter creates a new Twilio SMS adapter.
func NewTwilioAdapter(accountSID, authToken, fromNumber string) *TwilioAdapter {
	return &TwilioAdapter{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Channel returns the SMS channel identifier.
func (a *TwilioAdapter) Channel() notification.Channel {
	return notification.ChannelSMS
}

// Send delivers an SMS via Twilio and returns the message SID. SMS has no
// subject line; only the body is sent.
func (a *TwilioAdapter) Send(ctx context.Context, msg *notification.Message, rcpt *notification.Recipient) (string, error) {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", a.accountSID)

	form := url.Values{}
	form.Set("To", rcpt.Phone)
	form.Set("From", a.fromNumber)
	form.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", notification.Terminal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.accountSID, a.authToken)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		reason := errResp.Message
		if reason == "" {
			reason = fmt.Sprintf("twilio API error: status %d", resp.StatusCode)
		}
		apiErr := fmt.Errorf("twilio: %s", reason)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return "", apiErr
		default:
			return "", notification.Terminal(apiErr)
		}
	}

	var successResp struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(respBody, &successResp); err != nil {
		return "", fmt.Errorf("parsing twilio response: %w", err)
	}
	return successResp.SID, nil
}
