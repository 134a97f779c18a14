package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dispatchly/internal/domain/notification"
)

var _ notification.Adapter = (*FCMAdapter)(nil)

// FCMAdapter sends push notifications through Firebase Cloud Messaging.
//
// An UNREGISTERED token (app uninstalled, token rotated) is terminal;
// UNAVAILABLE/INTERNAL and 429 are retryable.
type FCMAdapter struct {
	projectID   string
	accessToken func(ctx context.Context) (string, error)
	httpClient  *http.Client
}

// NewFCMAdapter creates an FCM push adapter. accessToken supplies a fresh
// OAuth bearer token per request.
func NewFCMAdapter(projectID string, accessToken func(ctx context.Context) (string, error)) *FCMAdapter {
	return &FCMAdapter{
		projectID:   projectID,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Channel returns the push channel identifier.
func (a *FCMAdapter) Channel() notification.Channel {
	return notification.ChannelPush
}

// Send delivers a push notification via the FCM v1 API and returns the
// message name.
func (a *FCMAdapter) Send(ctx context.Context, msg *notification.Message, rcpt *notification.Recipient) (string, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return "", fmt.Errorf("obtaining FCM access token: %w", err)
	}

	payload := map[string]any{
		"message": map[string]any{
			"token": rcpt.PushToken,
			"notification": map[string]string{
				"title": msg.Subject,
				"body":  msg.Body,
			},
		},
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", notification.Terminal(fmt.Errorf("marshaling push payload: %w", err))
	}

	endpoint := fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", a.projectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", notification.Terminal(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

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
			Error struct {
				Status  string `json:"status"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)

		reason := errResp.Error.Message
		if reason == "" {
			reason = fmt.Sprintf("fcm API error: status %d", resp.StatusCode)
		}
		apiErr := fmt.Errorf("fcm: %s", reason)

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", apiErr
		}
		// UNREGISTERED, INVALID_ARGUMENT and the rest of the 4xx family
		// will not recover on retry.
		return "", notification.Terminal(apiErr)
	}

	var successResp struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(respBody, &successResp); err != nil {
		return "", fmt.Errorf("parsing fcm response: %w", err)
	}
	return successResp.Name, nil
}
