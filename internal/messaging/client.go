// Package messaging sends outbound messages through the WhatsApp Cloud-style
// provider API and verifies inbound webhook signatures.
package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"
)

const (
	defaultBaseURL = "https://graph.facebook.com/v21.0"

	sendMaxAttempts = 3
)

// SendResult carries the provider-assigned message id of a delivered message.
type SendResult struct {
	ExternalID string
}

// Client posts messages to the provider's /{phone-number-id}/messages endpoint.
type Client struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	http          *http.Client
	log           *logger.Logger
}

func NewClient(cfg config.MessagingConfig, timeout time.Duration, log *logger.Logger) *Client {
	base := cfg.GetMessagingBaseURL()
	if base == "" {
		base = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:       base,
		accessToken:   cfg.GetMessagingAccessToken(),
		phoneNumberID: cfg.GetMessagingPhoneNumberID(),
		http:          &http.Client{Timeout: timeout},
		log:           log,
	}
}

// SendText delivers a plain text message to the recipient phone number.
func (c *Client) SendText(ctx context.Context, to, body string) (*SendResult, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": false, "body": body},
	}
	return c.send(ctx, payload)
}

// SendMedia delivers a media message referencing an already-hosted asset.
// mediaType is one of image, audio or video.
func (c *Client) SendMedia(ctx context.Context, to, mediaType, link, caption string) (*SendResult, error) {
	media := map[string]any{"link": link}
	if caption != "" && mediaType != "audio" {
		media["caption"] = caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              mediaType,
		mediaType:           media,
	}
	return c.send(ctx, payload)
}

// MarkRead acknowledges an inbound message so the sender sees read receipts.
func (c *Client) MarkRead(ctx context.Context, externalMessageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        externalMessageID,
	}
	_, err := c.send(ctx, payload)
	return err
}

// send posts the payload, retrying rate limits and transient failures. After
// the retry budget the failure is permanent and the message is considered
// undeliverable.
func (c *Client) send(ctx context.Context, payload map[string]any) (*SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)

	var lastErr error
	for attempt := 0; attempt < sendMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = apperr.Wrap(apperr.KindTransient, "provider request failed", err).WithOp("messaging.send")
			continue
		}

		switch {
		case resp.StatusCode < 300:
			var out struct {
				Messages []struct {
					ID string `json:"id"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				resp.Body.Close()
				return nil, fmt.Errorf("failed to decode provider response: %w", err)
			}
			resp.Body.Close()
			result := &SendResult{}
			if len(out.Messages) > 0 {
				result.ExternalID = out.Messages[0].ID
			}
			return result, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			lastErr = apperr.Transient("provider rate limited the sender").WithOp("messaging.send")
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}

		case resp.StatusCode >= 500:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = apperr.Transient(fmt.Sprintf("provider returned %d: %s", resp.StatusCode, respBody)).WithOp("messaging.send")

		default:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, apperr.Dependency(fmt.Sprintf("provider rejected message with %d: %s", resp.StatusCode, respBody)).WithOp("messaging.send")
		}
	}

	return nil, apperr.Wrap(apperr.KindDependency, "provider delivery retries exhausted", lastErr).WithOp("messaging.send")
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
