package commands

import (
	"fmt"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTimeInput accepts the layouts above plus a few relative words.
// Date-only values resolve to the end of that day, which is what a due
// date usually means.
func parseTimeInput(input string, now time.Time, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(strings.ToLower(input))
	now = now.In(loc)

	switch value {
	case "now":
		return now, nil
	case "today":
		return endOfDay(now), nil
	case "tomorrow":
		return endOfDay(now.AddDate(0, 0, 1)), nil
	}

	for _, layout := range timeLayouts {
		if layout == time.RFC3339 {
			if parsed, err := time.Parse(layout, input); err == nil {
				return parsed.In(loc), nil
			}
			continue
		}
		if parsed, err := time.ParseInLocation(layout, strings.TrimSpace(input), loc); err == nil {
			if layout == "2006-01-02" {
				return endOfDay(parsed), nil
			}
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid time %q (use YYYY-MM-DD, YYYY-MM-DD HH:MM or RFC3339)", input)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 0, 0, t.Location())
}
