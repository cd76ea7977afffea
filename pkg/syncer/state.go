package syncer

import (
	"errors"
	"time"
)

var (
	// ErrCycleInProgress is returned when Sync or Reset is called while a cycle is running.
	ErrCycleInProgress = errors.New("sync cycle already in progress")
	// ErrFetchFailed wraps transport failures. The cursor is left untouched.
	ErrFetchFailed = errors.New("sync fetch failed")
	// ErrSaveFailed wraps a failed commit at the end of a cycle. The cursor is left untouched.
	ErrSaveFailed = errors.New("sync save failed")
	// ErrUnknownLocale is returned when the configured locale is not published by the source.
	ErrUnknownLocale = errors.New("locale not published by source")
)

// Mode is the fetch mode of a cycle.
type Mode string

const (
	ModeInitial Mode = "initial"
	ModeDelta   Mode = "delta"
)

// State is the orchestrator lifecycle position.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateApplying
	StateResolving
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateApplying:
		return "applying"
	case StateResolving:
		return "resolving"
	case StatePersisting:
		return "persisting"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Outcome summarizes a completed cycle.
type Outcome struct {
	CycleID     string        `json:"cycle_id"`
	Mode        Mode          `json:"mode"`
	Pages       int           `json:"pages"`
	Applied     int           `json:"applied"`
	Skipped     int           `json:"skipped"`
	Failed      int           `json:"failed"`
	Deleted     int           `json:"deleted"`
	Bound       int           `json:"bound"`
	Resurrected int           `json:"resurrected"`
	Cleared     int           `json:"cleared"`
	Missed      int           `json:"missed"`
	SyncToken   string        `json:"sync_token"`
	Duration    time.Duration `json:"duration"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State       State    `json:"state"`
	Mode        Mode     `json:"mode,omitempty"`
	LastOutcome *Outcome `json:"last_outcome,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
}
