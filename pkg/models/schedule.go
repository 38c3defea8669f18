package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSpec translates the schedule into a six-field cron expression
// (seconds first) or an "@every" descriptor.
//
//	daily  "HH:MM" or "HH:MM:SS"
//	hourly ":MM" or "MM:SS"
//	minute ":SS"
//	every  a Go duration such as "15m"
//	cron   a six-field expression, passed through
func (s Schedule) CronSpec() (string, error) {
	at := strings.TrimSpace(s.At)
	switch s.Cadence {
	case CadenceDaily:
		parts := strings.Split(at, ":")
		if len(parts) != 2 && len(parts) != 3 {
			return "", fmt.Errorf("daily time %q: want HH:MM or HH:MM:SS", at)
		}
		h, err := field(parts[0], 23, "hour")
		if err != nil {
			return "", fmt.Errorf("daily time %q: %w", at, err)
		}
		m, err := field(parts[1], 59, "minute")
		if err != nil {
			return "", fmt.Errorf("daily time %q: %w", at, err)
		}
		sec := 0
		if len(parts) == 3 {
			if sec, err = field(parts[2], 59, "second"); err != nil {
				return "", fmt.Errorf("daily time %q: %w", at, err)
			}
		}
		return fmt.Sprintf("%d %d %d * * *", sec, m, h), nil

	case CadenceHourly:
		parts := strings.Split(at, ":")
		if len(parts) != 2 {
			return "", fmt.Errorf("hourly time %q: want :MM or MM:SS", at)
		}
		if parts[0] == "" {
			m, err := field(parts[1], 59, "minute")
			if err != nil {
				return "", fmt.Errorf("hourly time %q: %w", at, err)
			}
			return fmt.Sprintf("0 %d * * * *", m), nil
		}
		m, err := field(parts[0], 59, "minute")
		if err != nil {
			return "", fmt.Errorf("hourly time %q: %w", at, err)
		}
		sec, err := field(parts[1], 59, "second")
		if err != nil {
			return "", fmt.Errorf("hourly time %q: %w", at, err)
		}
		return fmt.Sprintf("%d %d * * * *", sec, m), nil

	case CadenceMinute:
		rest, ok := strings.CutPrefix(at, ":")
		if !ok {
			return "", fmt.Errorf("minute time %q: want :SS", at)
		}
		sec, err := field(rest, 59, "second")
		if err != nil {
			return "", fmt.Errorf("minute time %q: %w", at, err)
		}
		return fmt.Sprintf("%d * * * * *", sec), nil

	case CadenceEvery:
		d, err := time.ParseDuration(at)
		if err != nil {
			return "", fmt.Errorf("every %q: %w", at, err)
		}
		if d < time.Second {
			return "", fmt.Errorf("every %q: interval must be at least 1s", at)
		}
		return "@every " + d.String(), nil

	case CadenceCron:
		if len(strings.Fields(at)) != 6 {
			return "", fmt.Errorf("cron %q: want six fields (seconds first)", at)
		}
		return at, nil
	}
	return "", fmt.Errorf("unsupported schedule %q", s.Cadence)
}

func field(s string, max int, name string) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > max {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return n, nil
}
