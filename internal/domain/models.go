package domain

import "errors"

// Sentinel errors used to classify failures across the sync pipeline.
// Fatal conditions abort the run before any snapshot upload; the rest
// cause a single book or file to be skipped.
var (
	// ErrConnectivity means the content server could not be reached at
	// startup. Fatal.
	ErrConnectivity = errors.New("content server unreachable")

	// ErrSnapshotUnavailable means the destination catalog download came
	// back missing or empty. Fatal: there is no state to safely mutate.
	ErrSnapshotUnavailable = errors.New("destination catalog snapshot unavailable")

	// ErrTransferFailed means a single upload or download failed after
	// exhausting retries. Non-fatal; the file is skipped.
	ErrTransferFailed = errors.New("transfer failed")

	// ErrIntegrity means a required source file is missing or unreadable,
	// or no destination row matches a content hash. Non-fatal.
	ErrIntegrity = errors.New("integrity mismatch")
)

// AuthorRef is one contributor as (sort key, display name).
type AuthorRef struct {
	SortKey string `json:"sort_key"`
	Name    string `json:"name"`
}

// Identifier is one external identifier as (scheme, value), e.g.
// ("isbn", "9780441013593").
type Identifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// BookFile is one on-disk format of a book.
type BookFile struct {
	Name   string `json:"name" db:"filename"`
	Format string `json:"format" db:"ext"`
}

// BookRecord is the normalized, source-independent view of one book.
// Both source-catalog modes produce this shape; everything downstream is
// mode-agnostic. Immutable for the duration of a sync run.
type BookRecord struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	PubDate      string       `json:"pub_date"`
	Language     string       `json:"language"` // two lowercase letters, or ""
	Synopsis     string       `json:"synopsis"`
	Authors      []AuthorRef  `json:"authors"`
	Tags         []string     `json:"tags"`
	Series       string       `json:"series"`
	SeriesIndex  float64      `json:"series_index"`
	Identifiers  []Identifier `json:"identifiers"`
	Publisher    string       `json:"publisher"`
	Rating       int          `json:"rating"` // 0 = unrated
	Dir          string       `json:"dir"`    // book directory relative to the library root
	Files        []BookFile   `json:"files"`
	CoverPath    string       `json:"cover_path"`
	LastModified string       `json:"last_modified"`
}

// EventType distinguishes progress events from run-level sentinels.
type EventType string

const (
	EventProgress EventType = "progress"
	EventNoServer EventType = "no_server"
	EventDone     EventType = "done"
)

// Phase labels reported while a pass is running.
const (
	PhaseFileSync     = "File sync"
	PhaseMetadataSync = "Metadata sync"
	PhaseWaiting      = "Waiting"
	PhaseUploadingDB  = "Uploading DB file"
)

// ProgressEvent is one update delivered to the embedding caller. The
// caller translates these into its own UI or IPC mechanism.
type ProgressEvent struct {
	RunID string    `json:"run_id"`
	Type  EventType `json:"type"`
	Phase string    `json:"phase,omitempty"`
	Count int       `json:"count"`
	Total int       `json:"total"`
}

// ProgressFunc receives progress events. A nil ProgressFunc is valid and
// means the caller does not want progress.
type ProgressFunc func(ProgressEvent)
