// Package calendar provides the HTTP client for the calendar collaborator.
// The provider exposes a Google-Calendar-shaped API: a free/busy query and an
// event insert. Booking carries an idempotency token so a retried insert
// cannot create a duplicate event.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/gate"
	"leadflow_backend/platform/logger"
)

const (
	freeBusyPath       = "/freeBusy"
	eventsPathFmt      = "/calendars/%s/events"
	defaultHTTPTimeout = 10 * time.Second
)

// Window is the scheduling lookahead interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Slot is a maximal free interval inside the queried window. The scheduling
// service carves meeting-sized bookings out of these.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Meeting is a booked calendar event.
type Meeting struct {
	ID       string
	Start    time.Time
	End      time.Time
	HTMLLink string
}

// BookingRequest describes the event to insert.
type BookingRequest struct {
	Start            time.Time
	End              time.Time
	Summary          string
	Description      string
	Attendees        []string
	IdempotencyToken string
}

// Client handles calendar provider requests.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	calendarID string
	timeout    time.Duration
	gate       *gate.Gate
	log        *logger.Logger
}

// New creates a calendar client.
func New(cfg config.CalendarConfig, g *gate.Gate, log *logger.Logger) *Client {
	timeout := cfg.GetCalendarTimeout()
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.GetCalendarBaseURL(), "/"),
		apiKey:     cfg.GetCalendarAPIKey(),
		calendarID: cfg.GetCalendarID(),
		timeout:    timeout,
		gate:       g,
		log:        log,
	}
}

type freeBusyRequest struct {
	TimeMin time.Time          `json:"timeMin"`
	TimeMax time.Time          `json:"timeMax"`
	Items   []freeBusyCalendar `json:"items"`
}

type freeBusyCalendar struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []busyInterval `json:"busy"`
	} `json:"calendars"`
}

type busyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FindFreeSlots queries free/busy for the window and returns the maximal free
// intervals of at least minDuration, sorted by start time.
func (c *Client) FindFreeSlots(ctx context.Context, window Window, minDuration time.Duration) ([]Slot, error) {
	var payload freeBusyResponse
	err := c.gate.Do(ctx, c.timeout, func(ctx context.Context) error {
		return c.postJSON(ctx, c.baseURL+freeBusyPath, freeBusyRequest{
			TimeMin: window.Start,
			TimeMax: window.End,
			Items:   []freeBusyCalendar{{ID: c.calendarID}},
		}, &payload)
	})
	if err != nil {
		return nil, err
	}

	busy := payload.Calendars[c.calendarID].Busy
	return freeGaps(window, busy, minDuration), nil
}

type insertEventRequest struct {
	Summary     string          `json:"summary"`
	Description string          `json:"description,omitempty"`
	Start       eventTime       `json:"start"`
	End         eventTime       `json:"end"`
	Attendees   []eventAttendee `json:"attendees,omitempty"`
}

type eventTime struct {
	DateTime time.Time `json:"dateTime"`
}

type eventAttendee struct {
	Email string `json:"email"`
}

type insertEventResponse struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	HTMLLink string    `json:"htmlLink"`
	Start    eventTime `json:"start"`
	End      eventTime `json:"end"`
}

// Book inserts the event. A 409 from the provider means the slot was taken
// between query and book and surfaces as a conflict error; the provider
// dedupes on the idempotency token, so retrying a booking that already went
// through returns the existing event instead of creating a second one.
func (c *Client) Book(ctx context.Context, req BookingRequest) (Meeting, error) {
	body := insertEventRequest{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       eventTime{DateTime: req.Start},
		End:         eventTime{DateTime: req.End},
	}
	for _, email := range req.Attendees {
		body.Attendees = append(body.Attendees, eventAttendee{Email: email})
	}

	var payload insertEventResponse
	err := c.gate.Do(ctx, c.timeout, func(ctx context.Context) error {
		return c.postJSONWithHeaders(ctx, c.baseURL+fmt.Sprintf(eventsPathFmt, c.calendarID), body, &payload,
			map[string]string{"Idempotency-Key": req.IdempotencyToken})
	})
	if err != nil {
		return Meeting{}, err
	}

	// The provider echoes the committed event times. On an idempotent replay
	// they belong to the original event, not this request, so they win.
	meeting := Meeting{
		ID:       payload.ID,
		Start:    payload.Start.DateTime,
		End:      payload.End.DateTime,
		HTMLLink: payload.HTMLLink,
	}
	if meeting.Start.IsZero() {
		meeting.Start, meeting.End = req.Start, req.End
	}
	return meeting, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	return c.postJSONWithHeaders(ctx, url, body, out, nil)
}

func (c *Client) postJSONWithHeaders(ctx context.Context, url string, body, out any, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperr.Wrap(apperr.KindCollaboratorTimeout, "calendar request timed out", err)
		}
		c.log.Error("calendar request failed", "error", err)
		return apperr.Wrap(apperr.KindCollaboratorUnavailable, "calendar request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusConflict:
		return apperr.Conflict("calendar slot no longer available")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.log.Error("calendar auth rejected", "status", resp.StatusCode)
		return apperr.CollaboratorUnavailable("calendar credential rejected")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.log.Error("calendar request error", "status", resp.StatusCode)
		return apperr.CollaboratorUnavailable(fmt.Sprintf("calendar status %d", resp.StatusCode))
	default:
		return apperr.Internal(fmt.Sprintf("calendar status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.log.Error("calendar decode failed", "error", err)
			return apperr.Wrap(apperr.KindCollaboratorUnavailable, "calendar response malformed", err)
		}
	}

	return nil
}

// freeGaps computes the complement of the busy intervals within the window
// and keeps gaps of at least minDuration.
func freeGaps(window Window, busy []busyInterval, minDuration time.Duration) []Slot {
	intervals := make([]busyInterval, 0, len(busy))
	for _, b := range busy {
		// Clamp to the window; drop intervals fully outside it.
		start, end := b.Start, b.End
		if end.Before(window.Start) || start.After(window.End) {
			continue
		}
		if start.Before(window.Start) {
			start = window.Start
		}
		if end.After(window.End) {
			end = window.End
		}
		if end.After(start) {
			intervals = append(intervals, busyInterval{Start: start, End: end})
		}
	}

	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].Start.Before(intervals[j].Start)
	})

	// Merge overlapping busy intervals.
	merged := intervals[:0]
	for _, iv := range intervals {
		if len(merged) == 0 || iv.Start.After(merged[len(merged)-1].End) {
			merged = append(merged, iv)
			continue
		}
		if iv.End.After(merged[len(merged)-1].End) {
			merged[len(merged)-1].End = iv.End
		}
	}

	var slots []Slot
	cursor := window.Start
	for _, iv := range merged {
		if iv.Start.Sub(cursor) >= minDuration {
			slots = append(slots, Slot{Start: cursor, End: iv.Start})
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if window.End.Sub(cursor) >= minDuration {
		slots = append(slots, Slot{Start: cursor, End: window.End})
	}

	return slots
}
