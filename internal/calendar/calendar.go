// Package calendar mirrors assigned schedule windows into Google Calendar.
// Each task owns at most one event, found through the private extended
// property slotwise_task_id. Mirror errors are logged and never reach the
// caller, so an unreachable calendar cannot stall a tick.
package calendar

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/marcus/slotwise/internal/config"
	"github.com/marcus/slotwise/internal/logging"
	"github.com/marcus/slotwise/internal/tasks"
)

// TaskIDProperty keys events to tasks.
const TaskIDProperty = "slotwise_task_id"

const (
	defaultTimeout = 10 * time.Second
	donePrefix     = "[done] "
)

// Mirror keeps one calendar event per scheduled task.
type Mirror struct {
	srv        *gcal.Service
	calendarID string
	timeout    time.Duration
	log        *logging.Logger
}

// New builds a mirror from config. The credentials file may hold a service
// account key or authorized-user credentials.
func New(ctx context.Context, cfg config.CalendarConfig) (*Mirror, error) {
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("calendar: credentials_file is required")
	}
	path := config.ExpandPath(cfg.CredentialsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read credentials %s: %w", path, err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("calendar: parse credentials: %w", err)
	}

	srv, err := gcal.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, creds.TokenSource)))
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return NewWithService(srv, cfg.CalendarID), nil
}

// NewWithService wraps an existing calendar service.
func NewWithService(srv *gcal.Service, calendarID string) *Mirror {
	if calendarID == "" {
		calendarID = config.DefaultCalendarID
	}
	return &Mirror{
		srv:        srv,
		calendarID: calendarID,
		timeout:    defaultTimeout,
		log:        logging.Component("calendar"),
	}
}

// Scheduled upserts the event for a newly committed window.
func (m *Mirror) Scheduled(ctx context.Context, t *tasks.Task) {
	if _, err := m.Sync(ctx, t); err != nil {
		m.log.Err(err).Int64("task_id", t.ID).Msg("calendar sync failed")
	}
}

// Completed marks the event as done and moves it to the time actually worked.
func (m *Mirror) Completed(ctx context.Context, t *tasks.Task) {
	if err := m.markDone(ctx, t); err != nil {
		m.log.Err(err).Int64("task_id", t.ID).Msg("calendar complete failed")
	}
}

// Deleted removes the event for a deleted task.
func (m *Mirror) Deleted(ctx context.Context, id int64) {
	if err := m.Remove(ctx, id); err != nil {
		m.log.Err(err).Int64("task_id", id).Msg("calendar delete failed")
	}
}

// Sync creates or updates the event for t. Tasks without a window are ignored.
func (m *Mirror) Sync(ctx context.Context, t *tasks.Task) (*gcal.Event, error) {
	if t.ScheduledStart == nil || t.ScheduledEnd == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	want := eventFor(t)
	existing, err := m.find(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		ev, err := m.srv.Events.Insert(m.calendarID, want).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("insert event for task %d: %w", t.ID, err)
		}
		m.log.InfoCtx("calendar event created", map[string]any{"task_id": t.ID, "event_id": ev.Id})
		return ev, nil
	}
	if !needsUpdate(existing, want) {
		return existing, nil
	}
	ev, err := m.srv.Events.Patch(m.calendarID, existing.Id, want).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("patch event %s: %w", existing.Id, err)
	}
	m.log.InfoCtx("calendar event updated", map[string]any{"task_id": t.ID, "event_id": ev.Id})
	return ev, nil
}

// Remove deletes the event for task id, if any.
func (m *Mirror) Remove(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	existing, err := m.find(ctx, id)
	if err != nil || existing == nil {
		return err
	}
	if err := m.srv.Events.Delete(m.calendarID, existing.Id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", existing.Id, err)
	}
	return nil
}

func (m *Mirror) markDone(ctx context.Context, t *tasks.Task) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	existing, err := m.find(ctx, t.ID)
	if err != nil || existing == nil {
		return err
	}
	patch := &gcal.Event{Summary: donePrefix + t.Title}
	if t.ActualEnd != nil {
		start, _ := parseEventTime(existing.Start)
		if t.ActualStart != nil {
			start = *t.ActualStart
			patch.Start = eventTime(start)
		}
		end := *t.ActualEnd
		// The API rejects events that end before they start.
		if !start.IsZero() && !end.After(start) {
			end = start.Add(time.Minute)
		}
		patch.End = eventTime(end)
	}
	if _, err := m.srv.Events.Patch(m.calendarID, existing.Id, patch).Context(ctx).Do(); err != nil {
		return fmt.Errorf("patch event %s: %w", existing.Id, err)
	}
	return nil
}

func (m *Mirror) find(ctx context.Context, id int64) (*gcal.Event, error) {
	res, err := m.srv.Events.List(m.calendarID).
		PrivateExtendedProperty(TaskIDProperty + "=" + strconv.FormatInt(id, 10)).
		ShowDeleted(false).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search event for task %d: %w", id, err)
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	return res.Items[0], nil
}

func eventFor(t *tasks.Task) *gcal.Event {
	desc := t.Description
	if t.ScheduleReasoning != "" {
		if desc != "" {
			desc += "\n\n"
		}
		desc += t.ScheduleReasoning
	}
	return &gcal.Event{
		Summary:     t.Title,
		Description: desc,
		Start:       eventTime(*t.ScheduledStart),
		End:         eventTime(*t.ScheduledEnd),
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{TaskIDProperty: strconv.FormatInt(t.ID, 10)},
		},
	}
}

func eventTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{DateTime: t.Format(time.RFC3339)}
}

func needsUpdate(have, want *gcal.Event) bool {
	return have.Summary != want.Summary ||
		have.Description != want.Description ||
		!sameTime(have.Start, want.Start) ||
		!sameTime(have.End, want.End)
}

func sameTime(a, b *gcal.EventDateTime) bool {
	if a == nil || b == nil {
		return a == b
	}
	ta, okA := parseEventTime(a)
	tb, okB := parseEventTime(b)
	if !okA || !okB {
		return a.DateTime == b.DateTime
	}
	return ta.Equal(tb)
}

func parseEventTime(dt *gcal.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, dt.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
