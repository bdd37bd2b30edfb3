// Package play defines the listening-event model shared by the reconciliation engine:
// plays, listen progress/ranges, platform identities and the comparators used to
// decide whether two plays are the same listen or whether a play counts as a scrobble.
package play

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors for plays received from source adapters.
var (
	// ErrMissingTrack indicates a play without a track title.
	ErrMissingTrack = errors.New("play has no track title")

	// ErrNegativeDuration indicates a play with a negative track duration.
	ErrNegativeDuration = errors.New("play has a negative duration")
)

// Data holds the musical content of a play and how long it was listened to.
type Data struct {
	Track        string        `json:"track"`
	Artists      []string      `json:"artists"`
	Album        string        `json:"album,omitempty"`
	Duration     float64       `json:"duration,omitempty"` // Track length in seconds, 0 when unknown
	PlayDate     time.Time     `json:"playDate"`           // Zero when unknown
	ListenedFor  float64       `json:"listenedFor,omitempty"`
	ListenRanges []ListenRange `json:"listenRanges,omitempty"`
}

// MBIDs holds MusicBrainz identifiers reported by a source.
type MBIDs struct {
	Track     string   `json:"track,omitempty"`
	Recording string   `json:"recording,omitempty"`
	Album     string   `json:"album,omitempty"`
	Artists   []string `json:"artists,omitempty"`
}

// Meta holds provenance information about a play.
type Meta struct {
	Source   string     `json:"source,omitempty"`
	Platform PlatformID `json:"platform"`
	TrackID  string     `json:"trackId,omitempty"` // Stable upstream identifier
	URL      string     `json:"url,omitempty"`
	Position *float64   `json:"position,omitempty"` // Seconds into the track when observed
	MBID     MBIDs      `json:"mbid"`

	NewFromSource bool `json:"newFromSource,omitempty"` // Discovered by the engine
	Backfilled    bool `json:"backfilled,omitempty"`
	NowPlaying    bool `json:"nowPlaying,omitempty"`
}

// Play is a single listening event.
type Play struct {
	Data Data `json:"data"`
	Meta Meta `json:"meta"`
}

// Normalize trims the play's text fields and checks its invariants.
// After a successful call Artists is never nil.
func (p *Play) Normalize() error {
	p.Data.Track = strings.TrimSpace(p.Data.Track)
	if p.Data.Track == "" {
		return ErrMissingTrack
	}
	if p.Data.Duration < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeDuration, p.Data.Duration)
	}

	artists := make([]string, 0, len(p.Data.Artists))
	for _, a := range p.Data.Artists {
		if a = strings.TrimSpace(a); a != "" {
			artists = append(artists, a)
		}
	}
	p.Data.Artists = artists
	p.Data.Album = strings.TrimSpace(p.Data.Album)
	return nil
}

// HasDuration reports whether the track length is known.
func (p Play) HasDuration() bool {
	return p.Data.Duration > 0
}

// HasPlayDate reports whether the play carries a timestamp.
func (p Play) HasPlayDate() bool {
	return !p.Data.PlayDate.IsZero()
}

// Clone returns a copy that shares no slices or pointers with p.
func (p Play) Clone() Play {
	c := p
	if p.Data.Artists != nil {
		c.Data.Artists = append([]string(nil), p.Data.Artists...)
	}
	if p.Data.ListenRanges != nil {
		c.Data.ListenRanges = append([]ListenRange(nil), p.Data.ListenRanges...)
	}
	if p.Meta.MBID.Artists != nil {
		c.Meta.MBID.Artists = append([]string(nil), p.Meta.MBID.Artists...)
	}
	if p.Meta.Position != nil {
		pos := *p.Meta.Position
		c.Meta.Position = &pos
	}
	return c
}

// String returns a short human readable description, used in logs.
func (p Play) String() string {
	s := p.Data.Track
	if len(p.Data.Artists) > 0 {
		s = strings.Join(p.Data.Artists, ", ") + " - " + s
	}
	if p.HasPlayDate() {
		s += " @ " + p.Data.PlayDate.Format(time.RFC3339)
	}
	return s
}

// PlatformID identifies one physical player/session within a source.
type PlatformID struct {
	Source string `json:"source,omitempty"`
	Device string `json:"device,omitempty"`
	User   string `json:"user,omitempty"`
}

// String returns "source/device/user" with empty parts omitted.
func (id PlatformID) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{id.Source, id.Device, id.User} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, "/")
}

// Seconds returns a pointer to v, for optional position fields.
func Seconds(v float64) *float64 {
	return &v
}
