package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Cadence is how often a flow fires.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceHourly Cadence = "hourly"
	CadenceMinute Cadence = "minute"
	CadenceEvery  Cadence = "every"
	CadenceCron   Cadence = "cron"
)

var cadenceAliases = map[string]Cadence{
	"daily":           CadenceDaily,
	"daily_at":        CadenceDaily,
	"hourly":          CadenceHourly,
	"hourly_at":       CadenceHourly,
	"minute":          CadenceMinute,
	"minute_at":       CadenceMinute,
	"minute-interval": CadenceMinute,
	"every":           CadenceEvery,
	"cron":            CadenceCron,
}

// ParseCadence normalizes a schedule kind. ok is false for unknown kinds.
func ParseCadence(s string) (Cadence, bool) {
	c, ok := cadenceAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Schedule describes when a flow runs. At holds the time of day for daily
// flows, the minute offset for hourly flows, the second offset for minute
// flows, a duration for "every" and a six-field expression for "cron".
type Schedule struct {
	Cadence Cadence `json:"cadence"`
	At      string  `json:"at"`
}

func (s Schedule) String() string {
	if s.Cadence == "" {
		return "manual"
	}
	return string(s.Cadence) + " " + s.At
}

// Flow is an ordered list of job names. Steps[0] is expected to name a
// connection job acting as the reachability gate.
type Flow struct {
	Name     string   `json:"name"`
	Steps    []string `json:"steps"`
	Schedule Schedule `json:"schedule"`
}

// Gate returns the name of the gate step, or "" for an empty flow.
func (f Flow) Gate() string {
	if len(f.Steps) == 0 {
		return ""
	}
	return f.Steps[0]
}

// TriggerSource identifies who asked for a flow run.
type TriggerSource string

const (
	TriggerSchedule TriggerSource = "schedule"
	TriggerAPI      TriggerSource = "api"
	TriggerCLI      TriggerSource = "cli"
	TriggerEnforce  TriggerSource = "enforce"
)

// Trigger is a request to run a flow now. It is the unit carried by the
// trigger queue.
type Trigger struct {
	ID          uuid.UUID     `json:"id"`
	Flow        string        `json:"flow"`
	Source      TriggerSource `json:"source"`
	RequestedAt time.Time     `json:"requested_at"`
}

// NewTrigger stamps a trigger with a fresh id and the current time.
func NewTrigger(flow string, source TriggerSource) *Trigger {
	return &Trigger{
		ID:          uuid.New(),
		Flow:        flow,
		Source:      source,
		RequestedAt: time.Now().UTC(),
	}
}
