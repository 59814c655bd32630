// Package scheduling books discovery meetings for qualified leads.
//
// Candidate starts are stepped at meeting-duration increments inside business
// hours on business days, matched against the calendar's free gaps, and the
// earliest fit is booked. A booking conflict triggers one fresh query; a
// second conflict, like an empty window, surfaces as NoAvailability so the
// lead lands in manual follow-up instead of ERRORED.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"leadflow_backend/internal/calendar"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const (
	replayKeyFmt = "leads:scheduling:replay:%s"
	replayTTL    = 24 * time.Hour
)

// Calendar is the slice of the calendar client the scheduler needs.
type Calendar interface {
	FindFreeSlots(ctx context.Context, window calendar.Window, minDuration time.Duration) ([]calendar.Slot, error)
	Book(ctx context.Context, req calendar.BookingRequest) (calendar.Meeting, error)
}

// Request describes one booking attempt for a qualified lead.
type Request struct {
	LeadName  string
	LeadEmail string
	Company   string
	// Token is the run-scoped idempotency token; the provider dedupes
	// bookings by it and the replay guard keys on it.
	Token string
}

// Result is the committed meeting. JSON tags exist for the replay guard,
// which caches the result under the booking token.
type Result struct {
	MeetingID string    `json:"meetingId"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	HTMLLink  string    `json:"htmlLink,omitempty"`
}

type Service struct {
	cal       Calendar
	rdb       *redis.Client
	lookahead int
	dayStart  int
	dayEnd    int
	duration  time.Duration
	hostEmail string
	loc       *time.Location
	now       func() time.Time
	log       *logger.Logger
}

// New builds the scheduler. rdb may be nil, which disables the crash-replay
// guard; the calendar provider still dedupes by token.
func New(cal Calendar, rdb *redis.Client, cfg config.SchedulingConfig, calCfg config.CalendarConfig, log *logger.Logger) *Service {
	loc, err := time.LoadLocation(calCfg.GetCalendarTimezone())
	if err != nil {
		log.Warn("unknown calendar timezone, falling back to UTC", "timezone", calCfg.GetCalendarTimezone())
		loc = time.UTC
	}
	return &Service{
		cal:       cal,
		rdb:       rdb,
		lookahead: cfg.GetSchedulingLookaheadDays(),
		dayStart:  cfg.GetSchedulingDayStartHour(),
		dayEnd:    cfg.GetSchedulingDayEndHour(),
		duration:  cfg.GetSchedulingMeetingDuration(),
		hostEmail: cfg.GetSchedulingHostEmail(),
		loc:       loc,
		now:       time.Now,
		log:       log,
	}
}

// Schedule books the earliest available business-hour slot for the lead.
// Returns a NoAvailability kind when the lookahead window has no bookable
// slot or conflicts exhaust the retry; those route to manual follow-up.
func (s *Service) Schedule(ctx context.Context, req Request) (Result, error) {
	if cached, ok := s.replayed(ctx, req.Token); ok {
		return cached, nil
	}

	for attempt := 1; ; attempt++ {
		slot, err := s.earliestSlot(ctx)
		if err != nil {
			return Result{}, err
		}

		meeting, err := s.cal.Book(ctx, calendar.BookingRequest{
			Start:            slot,
			End:              slot.Add(s.duration),
			Summary:          fmt.Sprintf("Intro call: %s (%s)", req.LeadName, req.Company),
			Description:      fmt.Sprintf("Discovery call with %s <%s>, booked by the lead pipeline.", req.LeadName, req.LeadEmail),
			Attendees:        []string{req.LeadEmail, s.hostEmail},
			IdempotencyToken: req.Token,
		})
		if err != nil {
			if apperr.Is(err, apperr.KindConflict) && attempt == 1 {
				s.log.Warn("calendar slot taken between query and book, requerying", "start", slot)
				continue
			}
			if apperr.Is(err, apperr.KindConflict) {
				return Result{}, apperr.NoAvailability("calendar conflicts on consecutive booking attempts")
			}
			return Result{}, err
		}

		// The provider echoes the event times; on an idempotent replay they
		// are the original meeting's, not the slot we just picked.
		start, end := meeting.Start, meeting.End
		if start.IsZero() {
			start, end = slot, slot.Add(s.duration)
		}
		result := Result{MeetingID: meeting.ID, Start: start, End: end, HTMLLink: meeting.HTMLLink}
		s.remember(ctx, req.Token, result)
		return result, nil
	}
}

// earliestSlot queries free/busy once and walks the window day by day,
// stepping candidate starts at meeting-duration increments from the opening
// hour, the same way slots are offered to a human picking from a grid.
func (s *Service) earliestSlot(ctx context.Context) (time.Time, error) {
	now := s.now().In(s.loc)
	window := s.bookingWindow(now)

	free, err := s.cal.FindFreeSlots(ctx, window, s.duration)
	if err != nil {
		return time.Time{}, err
	}

	for d := window.Start; !d.After(window.End); d = d.AddDate(0, 0, 1) {
		if !isBusinessDay(d) {
			continue
		}
		dayEnd := time.Date(d.Year(), d.Month(), d.Day(), s.dayEnd, 0, 0, 0, s.loc)
		start := time.Date(d.Year(), d.Month(), d.Day(), s.dayStart, 0, 0, 0, s.loc)
		for ; !start.Add(s.duration).After(dayEnd); start = start.Add(s.duration) {
			if start.Before(window.Start) {
				continue
			}
			if fitsFreeGap(start, start.Add(s.duration), free) {
				return start, nil
			}
		}
	}
	return time.Time{}, apperr.NoAvailability("no bookable slot in the lookahead window")
}

// bookingWindow spans from now to close of business on the last of the next
// lookahead business days. Today counts while its business hours are still
// open.
func (s *Service) bookingWindow(now time.Time) calendar.Window {
	day := now
	remaining := s.lookahead
	if isBusinessDay(day) && day.Hour() < s.dayEnd {
		remaining--
	}
	for remaining > 0 {
		day = day.AddDate(0, 0, 1)
		if isBusinessDay(day) {
			remaining--
		}
	}
	end := time.Date(day.Year(), day.Month(), day.Day(), s.dayEnd, 0, 0, 0, s.loc)
	return calendar.Window{Start: now, End: end}
}

func isBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func fitsFreeGap(start, end time.Time, free []calendar.Slot) bool {
	for _, gap := range free {
		if !start.Before(gap.Start) && !end.After(gap.End) {
			return true
		}
	}
	return false
}

// replayed returns the committed booking for a token when a previous attempt
// got as far as the calendar write but crashed before the state commit.
// Best effort: any guard failure falls through to a normal booking.
func (s *Service) replayed(ctx context.Context, token string) (Result, bool) {
	if s.rdb == nil || token == "" {
		return Result{}, false
	}
	raw, err := s.rdb.Get(ctx, fmt.Sprintf(replayKeyFmt, token)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("scheduling replay guard read failed", "error", err)
		}
		return Result{}, false
	}
	var cached Result
	if err := json.Unmarshal(raw, &cached); err != nil {
		return Result{}, false
	}
	s.log.Info("booking replayed from guard", "meetingId", cached.MeetingID)
	return cached, true
}

func (s *Service) remember(ctx context.Context, token string, result Result) {
	if s.rdb == nil || token == "" {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.rdb.SetNX(ctx, fmt.Sprintf(replayKeyFmt, token), payload, replayTTL).Err(); err != nil {
		s.log.Warn("scheduling replay guard write failed", "error", err)
	}
}
