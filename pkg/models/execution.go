package models

import (
	"time"

	"github.com/google/uuid"
)

// OutcomeStatus tags the result of a single step.
type OutcomeStatus string

const (
	OutcomeSucceeded       OutcomeStatus = "SUCCEEDED"
	OutcomeFailed          OutcomeStatus = "FAILED"
	OutcomeInvalidInput    OutcomeStatus = "INVALID_INPUT"
	OutcomeSkippedUnknown  OutcomeStatus = "SKIPPED_UNKNOWN_JOB"
	OutcomeSkippedType     OutcomeStatus = "SKIPPED_UNHANDLED_TYPE"
	OutcomeSkippedPlatform OutcomeStatus = "SKIPPED_PLATFORM"
	OutcomeStepFatal       OutcomeStatus = "STEP_FATAL"
	OutcomeProcessFatal    OutcomeStatus = "PROCESS_FATAL"
)

// Fatal reports whether the status stops the rest of the flow.
func (s OutcomeStatus) Fatal() bool {
	return s == OutcomeStepFatal || s == OutcomeProcessFatal
}

// Outcome is what a handler returns for one job.
type Outcome struct {
	Status   OutcomeStatus `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
	Detail   string        `json:"detail,omitempty"`
}

// Succeeded builds a success outcome.
func Succeeded(d time.Duration) Outcome {
	return Outcome{Status: OutcomeSucceeded, Duration: d}
}

// FromExitCode maps a finished process to succeeded or failed.
func FromExitCode(code int, d time.Duration) Outcome {
	if code == 0 {
		return Succeeded(d)
	}
	return Outcome{Status: OutcomeFailed, ExitCode: code, Duration: d}
}

// StepReport pairs a step name with its outcome.
type StepReport struct {
	Step    string  `json:"step"`
	JobType JobType `json:"job_type,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// FlowReport aggregates one flow run.
type FlowReport struct {
	RunID        uuid.UUID     `json:"run_id"`
	Flow         string        `json:"flow"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	GateAttempts int           `json:"gate_attempts"`
	// GateMisconfigured marks a run whose first step was not a usable
	// connection job. Best-effort runs still execute their steps.
	GateMisconfigured bool         `json:"gate_misconfigured,omitempty"`
	Steps             []StepReport `json:"steps"`
	Err               error        `json:"-"`
}

// Succeeded is true when the flow finished without a terminal error, its
// gate was usable and every step that ran succeeded.
func (r *FlowReport) Succeeded() bool {
	if r.Err != nil || r.GateMisconfigured {
		return false
	}
	for _, s := range r.Steps {
		if s.Outcome.Status != OutcomeSucceeded && s.Outcome.Status != OutcomeSkippedPlatform {
			return false
		}
	}
	return true
}

// Count returns how many steps ended with the given status.
func (r *FlowReport) Count(status OutcomeStatus) int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome.Status == status {
			n++
		}
	}
	return n
}

// InstallMode chooses how dependency-install jobs install packages.
type InstallMode string

const (
	InstallModeScript       InstallMode = "script"
	InstallModeRequirements InstallMode = "requirements"
)

// RunOptions carries per-invocation settings threaded to every handler.
type RunOptions struct {
	DryRun bool

	// Interpreter overrides the per-job interpreter when set.
	Interpreter string
	// FallbackInterpreter is used when the chosen interpreter is missing.
	FallbackInterpreter string
	ScriptExtension     string
	ScriptArgs          string
	DataBuildArgs       string

	BaseDir      string
	InstallMode  InstallMode
	Requirements string

	// GOOS is the platform handlers branch on. Empty means runtime.GOOS.
	GOOS string

	StrictGate      bool
	GateMaxAttempts int
}
