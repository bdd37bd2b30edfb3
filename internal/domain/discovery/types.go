// Package discovery runs the reconciliation pipeline: one poller per source turns
// snapshots into discovered plays, and one dispatcher per scrobble client submits
// them after duplicate suppression.
package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
)

var (
	// ErrPermanent marks a submission failure that retrying cannot fix.
	ErrPermanent = errors.New("permanent failure")

	// ErrQueueFull is returned when a dispatcher cannot accept more plays.
	ErrQueueFull = errors.New("dispatch queue full")
)

// IsPermanentError returns true if the error indicates a permanent failure
func IsPermanentError(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Client submits plays to one scrobble service.
type Client interface {
	Name() string
	Scrobble(ctx context.Context, p play.Play) error
}

// ListenFetcher is implemented by clients that can read back what was already
// scrobbled, used for duplicate suppression.
type ListenFetcher interface {
	RecentListens(ctx context.Context, from, to time.Time) ([]play.Play, error)
}

// Notifier receives pipeline events.
type Notifier interface {
	NowPlaying(sourceName string, state source.PlayerStateData)
	Discovered(sourceName string, p play.Play)
	Scrobbled(clientName string, p play.Play)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) NowPlaying(string, source.PlayerStateData) {}
func (NopNotifier) Discovered(string, play.Play)              {}
func (NopNotifier) Scrobbled(string, play.Play)               {}

// Notifiers fans events out to several notifiers in order.
type Notifiers []Notifier

func (ns Notifiers) NowPlaying(sourceName string, state source.PlayerStateData) {
	for _, n := range ns {
		n.NowPlaying(sourceName, state)
	}
}

func (ns Notifiers) Discovered(sourceName string, p play.Play) {
	for _, n := range ns {
		n.Discovered(sourceName, p)
	}
}

func (ns Notifiers) Scrobbled(clientName string, p play.Play) {
	for _, n := range ns {
		n.Scrobbled(clientName, p)
	}
}

// PendingPlay is a play waiting to be retried for a client.
type PendingPlay struct {
	ID       string
	Play     play.Play
	Attempts int
}

// Store persists history lists, the scrobble log and the retry queue.
type Store interface {
	LoadHistory(key string) ([]play.Play, error)
	SaveHistory(key string, plays []play.Play) error

	RecordScrobble(clientName string, p play.Play) error
	RecentScrobbles(clientName string, since time.Time, limit int) ([]play.Play, error)

	EnqueuePending(clientName string, p play.Play, cause error) error
	ListPending(clientName string, limit int) ([]PendingPlay, error)
	MarkPendingFailed(id string, cause error) error
	DeletePending(id string) error
}

// Handoff receives plays discovered by a poller.
type Handoff func(ctx context.Context, sourceName string, p play.Play)
