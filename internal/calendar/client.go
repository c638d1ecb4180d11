// Package calendar talks to the Microsoft Graph calendar API: busy-interval
// queries, event create/update/cancel, and local slot derivation.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TDXCORE/Agent-Test/platform/apperr"
	"github.com/TDXCORE/Agent-Test/platform/config"
	"github.com/TDXCORE/Agent-Test/platform/logger"
)

const (
	graphEndpoint = "https://graph.microsoft.com/v1.0"
	authorityBase = "https://login.microsoftonline.com"

	retryBaseDelay  = 500 * time.Millisecond
	retryMaxDelay   = 30 * time.Second
	retryMaxAttempt = 5
)

// BusyInterval is an occupied window on the remote calendar.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Event is the remote representation of a scheduled meeting.
type Event struct {
	ExternalID string
	Subject    string
	Start      time.Time
	End        time.Time
	Attendees  []string
	JoinURL    string
	Cancelled  bool
}

// EventPatch carries the mutable fields for an update.
type EventPatch struct {
	Start *time.Time
	End   *time.Time
}

// Client calls the Graph API with app-only credentials. It retries transient
// failures and surfaces permanent ones as apperr.Dependency.
type Client struct {
	tenantID     string
	clientID     string
	clientSecret string
	userEmail    string
	http         *http.Client
	log          *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient creates a Graph calendar client. Returns nil when the calendar
// integration is not configured; callers treat a nil client as disabled.
func NewClient(cfg config.CalendarConfig, timeout time.Duration, log *logger.Logger) *Client {
	if !cfg.IsCalendarEnabled() {
		return nil
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		tenantID:     cfg.GetCalendarTenantID(),
		clientID:     cfg.GetCalendarClientID(),
		clientSecret: cfg.GetCalendarClientSecret(),
		userEmail:    cfg.GetCalendarUserEmail(),
		http:         &http.Client{Timeout: timeout},
		log:          log,
	}
}

// token returns a cached app-only access token, refreshing when it is within
// a minute of expiry.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Until(c.tokenExpiry) > time.Minute {
		return c.accessToken, nil
	}

	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
		"grant_type":    {"client_credentials"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s/oauth2/v2.0/token", authorityBase, c.tenantID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, "calendar token request failed", err).WithOp("calendar.token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", apperr.Dependency(fmt.Sprintf("calendar token request returned %d: %s", resp.StatusCode, body)).WithOp("calendar.token")
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.accessToken, nil
}

// doWithRetry sends the request built by build, retrying transient failures
// with exponential backoff (base 500ms, factor 2, cap 30s, 5 attempts).
func (c *Client) doWithRetry(ctx context.Context, op string, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < retryMaxAttempt; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay << (attempt - 1)
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}

		token, err := c.token(ctx)
		if err != nil {
			if apperr.IsRetriable(err) {
				lastErr = err
				continue
			}
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = apperr.Wrap(apperr.KindTransient, "calendar request failed", err).WithOp(op)
			continue
		}

		switch {
		case resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = apperr.Transient(fmt.Sprintf("calendar returned %d: %s", resp.StatusCode, body)).WithOp(op)
			if retryAfter > 0 {
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, apperr.Dependency(fmt.Sprintf("calendar returned %d: %s", resp.StatusCode, body)).WithOp(op)
		}
	}

	// Retry budget exhausted; the transient failure becomes permanent for callers.
	if lastErr != nil {
		return nil, apperr.Wrap(apperr.KindDependency, "calendar retries exhausted", lastErr).WithOp(op)
	}
	return nil, apperr.Dependency("calendar retries exhausted").WithOp(op)
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

func (c *Client) calendarURL(path string) string {
	return fmt.Sprintf("%s/users/%s%s", graphEndpoint, url.PathEscape(c.userEmail), path)
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID        string        `json:"id,omitempty"`
	Subject   string        `json:"subject,omitempty"`
	Start     graphDateTime `json:"start"`
	End       graphDateTime `json:"end"`
	Attendees []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"attendees,omitempty"`
	IsCancelled   bool `json:"isCancelled,omitempty"`
	OnlineMeeting *struct {
		JoinURL string `json:"joinUrl"`
	} `json:"onlineMeeting,omitempty"`
}

func graphTime(t time.Time) graphDateTime {
	return graphDateTime{DateTime: t.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"}
}

func parseGraphTime(v graphDateTime) (time.Time, error) {
	// Graph emits fractional seconds ("2026-09-02T15:00:00.0000000"); drop them.
	raw := strings.TrimSuffix(v.DateTime, "Z")
	if i := strings.IndexByte(raw, '.'); i >= 0 {
		raw = raw[:i]
	}
	return time.Parse("2006-01-02T15:04:05", raw)
}

// GetSchedule returns the busy intervals on the configured mailbox inside the window.
func (c *Client) GetSchedule(ctx context.Context, from, to time.Time) ([]BusyInterval, error) {
	endpoint := c.calendarURL("/calendarView") +
		"?startDateTime=" + url.QueryEscape(from.UTC().Format(time.RFC3339)) +
		"&endDateTime=" + url.QueryEscape(to.UTC().Format(time.RFC3339)) +
		"&$top=200"

	resp, err := c.doWithRetry(ctx, "calendar.get_schedule", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Value []graphEvent `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode calendar view: %w", err)
	}

	busy := make([]BusyInterval, 0, len(payload.Value))
	for _, ev := range payload.Value {
		if ev.IsCancelled {
			continue
		}
		start, err := parseGraphTime(ev.Start)
		if err != nil {
			continue
		}
		end, err := parseGraphTime(ev.End)
		if err != nil {
			continue
		}
		busy = append(busy, BusyInterval{Start: start, End: end})
	}
	return busy, nil
}

// CreateEvent creates a calendar event, optionally as an online meeting, and
// returns its external id and join URL.
func (c *Client) CreateEvent(ctx context.Context, subject string, start, end time.Time, attendees []string, body string, online bool) (*Event, error) {
	attendeeList := make([]map[string]any, 0, len(attendees))
	for _, addr := range attendees {
		attendeeList = append(attendeeList, map[string]any{
			"emailAddress": map[string]string{"address": addr, "name": addr},
			"type":         "required",
		})
	}

	payload := map[string]any{
		"subject":   subject,
		"body":      map[string]string{"contentType": "HTML", "content": body},
		"start":     graphTime(start),
		"end":       graphTime(end),
		"attendees": attendeeList,
	}
	if online {
		payload["isOnlineMeeting"] = true
		payload["onlineMeetingProvider"] = "teamsForBusiness"
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithRetry(ctx, "calendar.create_event", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, c.calendarURL("/events"), bytes.NewReader(jsonBody))
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var created graphEvent
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode created event: %w", err)
	}

	return c.toEvent(created), nil
}

// UpdateEvent patches an existing event's window.
func (c *Client) UpdateEvent(ctx context.Context, externalID string, patch EventPatch) (*Event, error) {
	payload := map[string]any{}
	if patch.Start != nil {
		payload["start"] = graphTime(*patch.Start)
	}
	if patch.End != nil {
		payload["end"] = graphTime(*patch.End)
	}
	if len(payload) == 0 {
		return nil, apperr.Validation("event patch is empty")
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithRetry(ctx, "calendar.update_event", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPatch,
			c.calendarURL("/events/"+url.PathEscape(externalID)), bytes.NewReader(jsonBody))
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var updated graphEvent
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		return nil, fmt.Errorf("failed to decode updated event: %w", err)
	}

	return c.toEvent(updated), nil
}

// CancelEvent deletes an event from the remote calendar.
func (c *Client) CancelEvent(ctx context.Context, externalID string) error {
	resp, err := c.doWithRetry(ctx, "calendar.cancel_event", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete,
			c.calendarURL("/events/"+url.PathEscape(externalID)), nil)
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Sync returns all events starting after since, for reconciling local
// meeting status with the remote calendar.
func (c *Client) Sync(ctx context.Context, since time.Time) ([]Event, error) {
	endpoint := c.calendarURL("/calendarView") +
		"?startDateTime=" + url.QueryEscape(since.UTC().Format(time.RFC3339)) +
		"&endDateTime=" + url.QueryEscape(since.UTC().Add(30*24*time.Hour).Format(time.RFC3339)) +
		"&$top=200"

	resp, err := c.doWithRetry(ctx, "calendar.sync", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Value []graphEvent `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode calendar sync: %w", err)
	}

	events := make([]Event, 0, len(payload.Value))
	for _, ev := range payload.Value {
		events = append(events, *c.toEvent(ev))
	}
	return events, nil
}

func (c *Client) toEvent(ev graphEvent) *Event {
	start, _ := parseGraphTime(ev.Start)
	end, _ := parseGraphTime(ev.End)

	attendees := make([]string, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		attendees = append(attendees, a.EmailAddress.Address)
	}

	out := &Event{
		ExternalID: ev.ID,
		Subject:    ev.Subject,
		Start:      start,
		End:        end,
		Attendees:  attendees,
		Cancelled:  ev.IsCancelled,
	}
	if ev.OnlineMeeting != nil {
		out.JoinURL = ev.OnlineMeeting.JoinURL
	}
	return out
}
