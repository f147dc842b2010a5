package domain

import "time"

// ChangeAction is what happened to an entry during a run.
type ChangeAction string

const (
	ChangeAdded   ChangeAction = "added"
	ChangeRemoved ChangeAction = "removed"
	ChangeFailed  ChangeAction = "failed"
)

// ChangeEvent announces one catalog change to downstream consumers.
type ChangeEvent struct {
	RunID         string       `json:"run_id"`
	Action        ChangeAction `json:"action"`
	Category      Category     `json:"category"`
	StationID     string       `json:"station_id"`
	FileKind      FileKind     `json:"file_kind"`
	Filename      string       `json:"filename"`
	RemoteLocator string       `json:"remote_locator"`
	Size          int64        `json:"size,omitempty"`
	Error         string       `json:"error,omitempty"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

// Key is the partitioning key: <category>/<stationId>/<fileKind>.
func (e ChangeEvent) Key() string {
	return Key{StationID: e.StationID, Category: e.Category, FileKind: e.FileKind}.String()
}

// Changes lists the catalog changes of a completed run. Downloaded and
// skipped entries are both "added" since both became indexed. Removals come
// first so that a replacement, which shares its key with the removed entry,
// ends in "added" for consumers applying events in order. Runs that did not
// reach Done changed nothing and yield no events.
func (s Summary) Changes() []ChangeEvent {
	if s.State != StateDone {
		return nil
	}
	out := make([]ChangeEvent, 0, len(s.Added)+len(s.Skipped)+len(s.Removed)+len(s.Failed))
	event := func(action ChangeAction, e CatalogEntry, errMsg string) ChangeEvent {
		return ChangeEvent{
			RunID:         s.RunID,
			Action:        action,
			Category:      s.Category,
			StationID:     e.StationID,
			FileKind:      e.FileKind,
			Filename:      e.Filename,
			RemoteLocator: e.RemoteLocator,
			Size:          e.Size,
			Error:         errMsg,
			OccurredAt:    s.FinishedAt,
		}
	}
	for _, e := range s.Removed {
		out = append(out, event(ChangeRemoved, e, ""))
	}
	for _, e := range s.Added {
		out = append(out, event(ChangeAdded, e, ""))
	}
	for _, e := range s.Skipped {
		out = append(out, event(ChangeAdded, e, ""))
	}
	for _, f := range s.Failed {
		out = append(out, event(ChangeFailed, f.Entry, f.Error))
	}
	return out
}
