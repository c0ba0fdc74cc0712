package queue

import (
	"errors"
	"fmt"
	"time"

	"atticqueue/internal/artifact"
)

// State is the persisted upload state of one artifact.
type State string

const (
	// StateAbsent is the compare-and-swap sentinel for "no entry".
	StateAbsent State = ""
	// StateQueued marks an artifact that needs uploading and is not claimed.
	StateQueued State = "queued"
	// StateInProgress marks an artifact claimed by exactly one worker.
	StateInProgress State = "in_progress"
)

// ErrCorruptState reports a stored tag that is not a known state.
var ErrCorruptState = errors.New("corrupt work state")

var persistedStates = []State{StateQueued, StateInProgress}

// PersistedStates returns the states an entry can hold.
func PersistedStates() []State {
	return append([]State(nil), persistedStates...)
}

// ParseState decodes a stored tag.
func ParseState(raw string) (State, error) {
	switch State(raw) {
	case StateQueued, StateInProgress:
		return State(raw), nil
	default:
		return State(raw), fmt.Errorf("%w: %q", ErrCorruptState, raw)
	}
}

// Valid reports whether s may be written as an entry value.
func (s State) Valid() bool {
	return s == StateQueued || s == StateInProgress
}

func (s State) String() string {
	if s == StateAbsent {
		return "absent"
	}
	return string(s)
}

// Entry is one row of a store snapshot.
type Entry struct {
	Path  artifact.Path
	State State
	// Corrupt is set when the stored tag could not be decoded; State then
	// holds the raw tag.
	Corrupt   bool
	Attempts  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Counts summarizes a snapshot by state.
type Counts struct {
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Corrupt    int `json:"corrupt"`
}

// Total returns the number of entries counted.
func (c Counts) Total() int {
	return c.Queued + c.InProgress + c.Corrupt
}

func validateTransition(old, next State) error {
	if old != StateAbsent && !old.Valid() {
		return fmt.Errorf("compare-and-swap: invalid expected state %q", old)
	}
	if next != StateAbsent && !next.Valid() {
		return fmt.Errorf("compare-and-swap: invalid new state %q", next)
	}
	return nil
}
