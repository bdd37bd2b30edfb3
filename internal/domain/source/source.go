// Package source defines the snapshot capability every upstream adapter implements
// and the adapters for MPD (positional) and Last.fm (history list).
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/player"
)

// ErrNotConnected is returned when a source cannot reach its upstream.
var ErrNotConnected = errors.New("source not connected")

// Kind tells the poller how to reconcile a source's snapshots.
type Kind string

const (
	// KindPositional sources report what each player is playing right now.
	KindPositional Kind = "positional"
	// KindHistory sources report an ordered "recently played" list.
	KindHistory Kind = "history"
)

// PlayerStateData is one player's "now playing" observation.
type PlayerStateData struct {
	Platform play.PlatformID `json:"platform"`
	Status   player.Status   `json:"status"`
	Play     *play.Play      `json:"play,omitempty"`
	Position *float64        `json:"position,omitempty"`
}

// Normalize validates the observation's play, if any, and copies the position
// into its metadata.
func (d *PlayerStateData) Normalize() error {
	if d.Play == nil {
		return nil
	}
	if err := d.Play.Normalize(); err != nil {
		return fmt.Errorf("player %s: %w", d.Platform, err)
	}
	if d.Position != nil && d.Play.Meta.Position == nil {
		pos := *d.Position
		d.Play.Meta.Position = &pos
	}
	if d.Play.Meta.Platform == (play.PlatformID{}) {
		d.Play.Meta.Platform = d.Platform
	}
	return nil
}

// Snapshot is one poll's worth of data from a source.
type Snapshot struct {
	FetchedAt time.Time         `json:"fetchedAt"`
	Players   []PlayerStateData `json:"players,omitempty"`
	History   []play.Play       `json:"history,omitempty"`
}

// Source is implemented by every upstream adapter.
type Source interface {
	Name() string
	Kind() Kind
	FetchSnapshot(ctx context.Context) (Snapshot, error)
}

// Triggerer is implemented by sources that can signal a change between polls.
type Triggerer interface {
	Triggers() <-chan struct{}
}

// HistoryOrder is implemented by history sources that list plays oldest first.
type HistoryOrder interface {
	OldestFirst() bool
}
