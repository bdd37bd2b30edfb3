package play

import (
	"time"
)

// SeekToleranceMs is how far (in milliseconds) a reported position may run ahead
// of wall-clock time before it is treated as a forward seek.
const SeekToleranceMs = 2500

// ListenProgress is a single point-in-time observation of a playing track.
type ListenProgress struct {
	Timestamp       time.Time `json:"timestamp"`
	Position        *float64  `json:"position,omitempty"`        // Seconds into the track
	PositionPercent *float64  `json:"positionPercent,omitempty"` // 0-100
}

// NewProgress creates a ListenProgress at ts with an optional position.
func NewProgress(ts time.Time, position *float64) ListenProgress {
	p := ListenProgress{Timestamp: ts}
	if position != nil {
		pos := *position
		p.Position = &pos
	}
	return p
}

// HasPosition reports whether the observation carries a track position.
func (p ListenProgress) HasPosition() bool {
	return p.Position != nil
}

// DurationTo returns the seconds between p and end. When both observations
// carry a position the position difference is used, otherwise wall-clock time.
func (p ListenProgress) DurationTo(end ListenProgress) float64 {
	if p.Position != nil && end.Position != nil {
		return *end.Position - *p.Position
	}
	return end.Timestamp.Sub(p.Timestamp).Seconds()
}

// ListenRange is one contiguous span during which a track was observed playing.
type ListenRange struct {
	Start ListenProgress `json:"start"`
	End   ListenProgress `json:"end"`
}

// NewListenRange opens a zero-length range at the given observation.
func NewListenRange(at ListenProgress) ListenRange {
	return ListenRange{Start: at, End: at}
}

// IsPositional reports whether both ends carry a track position.
func (r ListenRange) IsPositional() bool {
	return r.Start.Position != nil && r.End.Position != nil
}

// IsInitial reports whether the range has not advanced since it was opened.
func (r ListenRange) IsInitial() bool {
	if r.IsPositional() {
		return *r.Start.Position == *r.End.Position
	}
	return r.Start.Timestamp.Equal(r.End.Timestamp)
}

// Seeked reports whether position, observed at reportedAt, is discontinuous with
// the end of the range. The delta is position minus the last known position and is
// only meaningful when seeked is true.
func (r ListenRange) Seeked(position *float64, reportedAt time.Time) (bool, float64) {
	if position == nil || !r.IsPositional() || r.IsInitial() {
		return false, 0
	}

	last := *r.End.Position
	delta := *position - last
	if *position < last {
		return true, delta
	}

	realMs := reportedAt.Sub(r.End.Timestamp).Milliseconds()
	if realMs < 0 {
		realMs = 0
	}
	if delta*1000-float64(realMs) > SeekToleranceMs {
		return true, delta
	}
	return false, 0
}

// SetRangeStart replaces the start of the range.
func (r *ListenRange) SetRangeStart(p ListenProgress) {
	r.Start = p
}

// SetRangeEnd replaces the end of the range.
func (r *ListenRange) SetRangeEnd(p ListenProgress) {
	r.End = p
}

// SetRangeEndAt replaces the end of the range with a fresh observation.
func (r *ListenRange) SetRangeEndAt(ts time.Time, position *float64) {
	r.End = NewProgress(ts, position)
}

// Duration returns the length of the range in seconds.
func (r ListenRange) Duration() float64 {
	return r.Start.DurationTo(r.End)
}

// WallDuration returns the wall-clock length of the range in seconds.
func (r ListenRange) WallDuration() float64 {
	return r.End.Timestamp.Sub(r.Start.Timestamp).Seconds()
}
