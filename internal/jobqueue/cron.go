package jobqueue

import (
	"fmt"
	"strings"
	"time"

	cronv3 "github.com/robfig/cron/v3"
)

var cronParser = cronv3.NewParser(
	cronv3.SecondOptional | cronv3.Minute | cronv3.Hour | cronv3.Dom | cronv3.Month | cronv3.Dow | cronv3.Descriptor,
)

// ParseSchedule parses a cron expression and resolves its timezone.
// An empty timezone means UTC.
func ParseSchedule(expr, timezone string) (cronv3.Schedule, *time.Location, error) {
	raw := strings.TrimSpace(expr)
	if raw == "" {
		return nil, nil, fmt.Errorf("cron expression is required")
	}

	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid cron timezone %q: %w", timezone, err)
		}
		loc = l
	}

	schedule, err := cronParser.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression %q: %w", raw, err)
	}
	return schedule, loc, nil
}

// NextFireAt returns the next fire time of expr, evaluated in timezone, as
// epoch seconds strictly after 'after'.
func NextFireAt(expr, timezone string, after time.Time) (int64, error) {
	schedule, loc, err := ParseSchedule(expr, timezone)
	if err != nil {
		return 0, err
	}
	// cron works at second granularity; truncating keeps the result
	// strictly after 'after' once converted to epoch seconds.
	next := schedule.Next(after.Truncate(time.Second).In(loc))
	if next.IsZero() {
		return 0, fmt.Errorf("cron expression %q never fires", expr)
	}
	return next.Unix(), nil
}
