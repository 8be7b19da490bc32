package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/slotwise/internal/tasks"
)

// MaxWindow bounds an accepted window's length.
const MaxWindow = 24 * time.Hour

// Layouts accepted for oracle timestamps. Zone-less values are read in
// the location of the request's Now.
var oracleLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// cleanJSON strips markdown fences models like to add around JSON.
func cleanJSON(response string) string {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}

// ParseTimestamp parses an oracle timestamp in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range oracleLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

type scheduleResponse struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reasoning string `json:"reasoning"`
}

// ParseScheduleResponse decodes and validates a scheduling answer. The
// window must be well-formed, start before end, last at most MaxWindow,
// and end after now.
func ParseScheduleResponse(raw string, now time.Time) (ScheduleResult, error) {
	var resp scheduleResponse
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &resp); err != nil {
		return ScheduleResult{}, wrapErr(OpAssignSchedule, fmt.Errorf("decode response: %w", err))
	}

	loc := now.Location()
	start, err := ParseTimestamp(resp.StartTime, loc)
	if err != nil {
		return ScheduleResult{}, wrapErr(OpAssignSchedule, fmt.Errorf("start_time: %w", err))
	}
	end, err := ParseTimestamp(resp.EndTime, loc)
	if err != nil {
		return ScheduleResult{}, wrapErr(OpAssignSchedule, fmt.Errorf("end_time: %w", err))
	}

	switch {
	case !start.Before(end):
		return ScheduleResult{}, wrapErr(OpAssignSchedule, fmt.Errorf("start %s not before end %s", resp.StartTime, resp.EndTime))
	case end.Sub(start) > MaxWindow:
		return ScheduleResult{}, wrapErr(OpAssignSchedule, fmt.Errorf("window %s exceeds %s", end.Sub(start), MaxWindow))
	case !end.After(now):
		return ScheduleResult{}, wrapErr(OpAssignSchedule, fmt.Errorf("window ends in the past (%s)", resp.EndTime))
	}

	return ScheduleResult{Start: start, End: end, Reasoning: strings.TrimSpace(resp.Reasoning)}, nil
}

type priorityEntry struct {
	ID        json.Number `json:"id"`
	Priority  json.Number `json:"priority"`
	Reasoning string      `json:"reasoning"`
}

type priorityResponse struct {
	Priorities []priorityEntry `json:"prioritized_tasks"`
}

// ParsePriorityResponse decodes scores keyed by task id. Every score must
// be within the task priority range and no id may repeat.
func ParsePriorityResponse(raw string) (map[int64]float64, error) {
	dec := json.NewDecoder(strings.NewReader(cleanJSON(raw)))
	dec.UseNumber()
	var resp priorityResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, wrapErr(OpAssignPriorities, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Priorities) == 0 {
		return nil, wrapErr(OpAssignPriorities, errors.New("response has no prioritized_tasks"))
	}

	out := make(map[int64]float64, len(resp.Priorities))
	for _, p := range resp.Priorities {
		id, err := strconv.ParseInt(p.ID.String(), 10, 64)
		if err != nil {
			return nil, wrapErr(OpAssignPriorities, fmt.Errorf("task id %q: %w", p.ID, err))
		}
		score, err := p.Priority.Float64()
		if err != nil {
			return nil, wrapErr(OpAssignPriorities, fmt.Errorf("task %d priority %q: %w", id, p.Priority, err))
		}
		if err := tasks.ValidatePriority(score); err != nil {
			return nil, wrapErr(OpAssignPriorities, fmt.Errorf("task %d: %w", id, err))
		}
		if _, dup := out[id]; dup {
			return nil, wrapErr(OpAssignPriorities, fmt.Errorf("task %d scored twice", id))
		}
		out[id] = score
	}
	return out, nil
}
