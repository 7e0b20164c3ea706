// Package audit keeps the append-only, hash-chained record of privileged
// actions. Each entry's hash covers all of its fields plus the previous
// entry's hash, so mutating or deleting any historical row is detectable by
// recomputation.
package audit

import "time"

// Entry is what callers submit for appending.
type Entry struct {
	PrincipalID *int64
	Action      string
	EntityType  string
	EntityID    string
	OldValues   map[string]any
	NewValues   map[string]any
	IPAddress   string
	UserAgent   string
}

// StoredEntry is a persisted row. Never mutated after EntryHash is computed.
type StoredEntry struct {
	ID           int64
	PrincipalID  *int64
	Action       string
	EntityType   string
	EntityID     string
	OldValues    map[string]any
	NewValues    map[string]any
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	PreviousHash string
	EntryHash    string
}

// Report summarizes an integrity scan. Errors holds every discrepancy found;
// the scan never stops at the first one.
type Report struct {
	Valid          bool     `json:"valid"`
	EntriesChecked int      `json:"entriesChecked"`
	Errors         []string `json:"errors,omitempty"`
}
