package cache

import "time"

// HistorySnapshot is the last known-good history list of one source.
type HistorySnapshot struct {
	Key       string
	Plays     []byte // JSON encoded list
	UpdatedAt time.Time
}

// ScrobbleRecord is one play submitted to a scrobble client.
type ScrobbleRecord struct {
	ID        string
	Client    string
	Track     string
	Artists   []string
	Album     string
	PlayedAt  time.Time
	Source    string
	CreatedAt time.Time
}

// PendingScrobble is a play that failed to submit and waits for a retry.
type PendingScrobble struct {
	ID        string
	Client    string
	Play      []byte // JSON encoded play
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// Stats contains database statistics.
type Stats struct {
	HistorySnapshots int       `json:"historySnapshots"`
	Scrobbles        int       `json:"scrobbles"`
	Pending          int       `json:"pending"`
	SchemaVersion    string    `json:"schemaVersion"`
	LastScrobble     time.Time `json:"lastScrobble"`
}
