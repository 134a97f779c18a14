package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"dispatchly/internal/domain/notification"
)

var _ notification.Adapter = (*ResendAdapter)(nil)

// ResendAdapter sends emails using the Resend API.
//
// API errors are classified for the retry controller: 429 responses are
// retryable and carry the Retry-After hint; 5xx responses are retryable;
// any other 4xx (bad address, invalid payload, revoked key) is terminal.
type ResendAdapter struct {
	apiKey      string
	fromAddress string
	fromName    string
	httpClient  *http.Client
}

// NewResendAdapter creates a new Resend email adapter.
func NewResendAdapter(apiKey, fromAddress, fromName string) *ResendAdapter {
	return &ResendAdapter{
		apiKey:      apiKey,
		fromAddress: fromAddress,
		fromName:    fromName,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Channel returns the email channel identifier.
func (a *ResendAdapter) Channel() notification.Channel {
	return notification.ChannelEmail
}

// Send delivers an email via the Resend API and returns the message ID.
func (a *ResendAdapter) Send(ctx context.Context, msg *notification.Message, rcpt *notification.Recipient) (string, error) {
	from := a.fromAddress
	if a.fromName != "" {
		from = fmt.Sprintf("%s <%s>", a.fromName, a.fromAddress)
	}

	payload := map[string]any{
		"from":    from,
		"to":      []string{rcpt.Email},
		"subject": msg.Subject,
		"text":    msg.Body,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", notification.Terminal(fmt.Errorf("marshaling email payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.resend.com/emails", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", notification.Terminal(fmt.Errorf("creating request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		// Network errors and timeouts are transient.
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB max
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		reason := errResp.Message
		if reason == "" {
			reason = fmt.Sprintf("resend API error: status %d", resp.StatusCode)
		}
		apiErr := fmt.Errorf("resend: %s", reason)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
				return "", notification.WithRetryAfter(apiErr, after)
			}
			return "", apiErr
		case resp.StatusCode >= 500:
			return "", apiErr
		default:
			return "", notification.Terminal(apiErr)
		}
	}

	var successResp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &successResp); err != nil {
		return "", fmt.Errorf("parsing resend response: %w", err)
	}
	return successResp.ID, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
