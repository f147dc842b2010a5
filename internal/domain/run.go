package domain

import (
	"fmt"
	"time"
)

// State is a synchronization run's position in its state machine:
// Idle → Listing → Diffing → Fetching → Updating → Done, with Failed
// reachable from any state.
type State int

const (
	StateIdle State = iota
	StateListing
	StateDiffing
	StateFetching
	StateUpdating
	StateDone
	StateFailed
)

var stateNames = [...]string{"idle", "listing", "diffing", "fetching", "updating", "done", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText renders the state by name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// FetchStatus distinguishes a download from an idempotent skip.
type FetchStatus string

const (
	FetchStatusFetched FetchStatus = "fetched"
	FetchStatusSkipped FetchStatus = "skipped"
)

// FetchResult is the outcome of a successful fetch. Entry.Size holds the
// size of the file now on disk.
type FetchResult struct {
	Entry        CatalogEntry
	Status       FetchStatus
	BytesWritten int64
}

// FailedEntry pairs an entry with the error that kept it out of the index.
type FailedEntry struct {
	Entry CatalogEntry `json:"entry"`
	Error string       `json:"error"`
}

// Summary reports the outcome of one synchronization run.
//
// Added entries were downloaded, Skipped entries were already on disk and
// were indexed without a download, Removed entries were unindexed (their
// files are left in place), Failed entries were excluded from the index.
// Incomplete lists entries that had not resolved when a run was cancelled.
type Summary struct {
	RunID           string         `json:"run_id"`
	Category        Category       `json:"category"`
	State           State          `json:"state"`
	Transitions     []State        `json:"transitions"`
	Added           []CatalogEntry `json:"added"`
	Removed         []CatalogEntry `json:"removed"`
	Skipped         []CatalogEntry `json:"skipped"`
	Failed          []FailedEntry  `json:"failed"`
	Incomplete      []CatalogEntry `json:"incomplete,omitempty"`
	ParseErrors     []ParseError   `json:"parse_errors,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	Error           string         `json:"error,omitempty"`
	BytesDownloaded int64          `json:"bytes_downloaded"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// Exit codes of the one-shot trigger.
const (
	ExitOK             = 0
	ExitPartialFailure = 1
	ExitFailed         = 2
)

// ExitCode maps the run outcome onto the trigger's exit code contract.
func (s Summary) ExitCode() int {
	switch {
	case s.State != StateDone:
		return ExitFailed
	case len(s.Failed) > 0:
		return ExitPartialFailure
	default:
		return ExitOK
	}
}

// Duration is the wall time between start and finish.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
