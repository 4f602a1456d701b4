package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/shadowprobe/internal/probe"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageProbeDone Stage = "PROBE_DONE"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported status classes. StatusNone marks probes that never got a response.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
	StatusNone  StatusClass = "none"
)

// Outcome summarizes a probe result for counters.
type Outcome string

// Probe outcomes.
const (
	OutcomeFound    Outcome = "found"
	OutcomeNotFound Outcome = "not_found"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeError    Outcome = "error"
)

// Event captures a single milestone of a probe run.
type Event struct {
	RunID       [16]byte
	TS          time.Time
	Stage       Stage
	Site        string
	URL         string
	StatusClass StatusClass
	Outcome     Outcome
	// Dur is the probe latency for PROBE_DONE and the run wall time for RUN_DONE.
	Dur time.Duration
	// Counts are set on RUN_START (Checked only) and RUN_DONE.
	Checked int
	Found   int
	Note    string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageProbeDone:
		if e.Site == "" {
			return errors.New("probe done requires site")
		}
		if e.Outcome == "" {
			return errors.New("probe done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups an optional HTTP status code.
func ClassifyStatus(code *int) StatusClass {
	if code == nil {
		return StatusNone
	}
	switch c := *code; {
	case c >= 200 && c < 300:
		return Status2xx
	case c >= 300 && c < 400:
		return Status3xx
	case c >= 400 && c < 500:
		return Status4xx
	case c >= 500 && c < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

// OutcomeOf maps a probe result onto an Outcome.
func OutcomeOf(res probe.Result) Outcome {
	switch {
	case res.Found:
		return OutcomeFound
	case res.Status != nil:
		return OutcomeNotFound
	}
	switch res.ReasonText() {
	case probe.ReasonDisallowed, probe.ReasonInvalidUsername:
		return OutcomeSkipped
	}
	return OutcomeError
}

// ProbeDone builds the PROBE_DONE event for res.
func ProbeDone(runID uuid.UUID, res probe.Result, dur time.Duration) Event {
	return Event{
		RunID:       UUIDToBytes(runID),
		TS:          time.Now().UTC(),
		Stage:       StageProbeDone,
		Site:        res.Site,
		URL:         res.URL,
		StatusClass: ClassifyStatus(res.Status),
		Outcome:     OutcomeOf(res),
		Dur:         dur,
		Note:        res.ReasonText(),
	}
}
