// Package player tracks listening sessions for a single physical player.
package player

import (
	"sync"
	"time"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
)

// Status is the playback status reported by a player.
type Status string

// Status constants for player state
const (
	StatusPlaying Status = "playing"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
	StatusUnknown Status = "unknown"
)

// ParseStatus maps the status strings used by players ("play", "pause", "stop" and
// their long forms) to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "play", "playing":
		return StatusPlaying
	case "pause", "paused":
		return StatusPaused
	case "stop", "stopped":
		return StatusStopped
	default:
		return StatusUnknown
	}
}

// StateOption configures a State.
type StateOption func(*State)

// WithClock sets the time source. Defaults to the system clock.
func WithClock(c play.Clock) StateOption {
	return func(s *State) {
		s.clock = c
	}
}

// WithThresholds sets the position thresholds used for repeat detection.
func WithThresholds(t play.PositionThresholds) StateOption {
	return func(s *State) {
		s.thresholds = t
	}
}

// State reconstructs listening sessions from discrete "now playing" observations
// of one player. It is safe for concurrent access.
type State struct {
	mu sync.RWMutex

	platform   play.PlatformID
	clock      play.Clock
	thresholds play.PositionThresholds

	currentPlay     *play.Play
	playFirstSeenAt time.Time
	listenRanges    []play.ListenRange
	currentRange    *play.ListenRange
	status          Status

	createdAt    time.Time
	lastActivity time.Time
}

// NewState creates the state for a newly observed platform.
func NewState(platform play.PlatformID, opts ...StateOption) *State {
	s := &State{
		platform:   platform,
		clock:      play.SystemClock{},
		thresholds: play.DefaultPositionThresholds(),
		status:     StatusUnknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.createdAt = s.clock.Now()
	s.lastActivity = s.createdAt
	return s
}

// SetPlay records an observation of p with the given status. It returns the played
// object for the current session so far and, when the observation ended the previous
// session (a different track, or a repeat of the same one), the finished play.
func (s *State) SetPlay(p play.Play, status Status) (play.Play, *play.Play) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	position := p.Meta.Position
	s.status = status

	if s.currentPlay == nil {
		s.startSession(p, now, status)
		return s.playedObjectLocked(), nil
	}

	if !play.ContentMatch(*s.currentPlay, p) {
		s.closeRange(now, nil)
		finished := s.playedObjectLocked()
		s.startSession(p, now, status)
		return s.playedObjectLocked(), &finished
	}

	// Same track: continuation of the session.
	cur := p.Clone()
	s.currentPlay = &cur

	if status != StatusPlaying {
		s.closeRange(now, position)
		return s.playedObjectLocked(), nil
	}
	s.lastActivity = now

	if s.currentRange == nil {
		s.openRange(now, position)
		return s.playedObjectLocked(), nil
	}

	seeked, delta := s.currentRange.Seeked(position, now)
	if !seeked {
		s.currentRange.SetRangeEndAt(now, position)
		return s.playedObjectLocked(), nil
	}

	if delta < 0 && s.isRepeat(p, *position) {
		// The range ends where it was last observed, the restart begins a new session.
		s.pushRange()
		finished := s.playedObjectLocked()
		s.startSession(p, now, status)
		return s.playedObjectLocked(), &finished
	}

	s.pushRange()
	s.openRange(now, position)
	return s.playedObjectLocked(), nil
}

// Finish closes the current session and returns its played object, or nil when
// nothing is being tracked. The state is left empty.
func (s *State) Finish() *play.Play {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentPlay == nil {
		return nil
	}
	s.closeRange(s.clock.Now(), nil)
	return s.resetLocked()
}

// Expire is like Finish but ends the open range where the player was last
// observed, for players that disappeared without reporting a stop.
func (s *State) Expire() *play.Play {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentPlay == nil {
		return nil
	}
	s.pushRange()
	return s.resetLocked()
}

func (s *State) resetLocked() *play.Play {
	finished := s.playedObjectLocked()

	s.currentPlay = nil
	s.listenRanges = nil
	s.currentRange = nil
	s.playFirstSeenAt = time.Time{}
	return &finished
}

// PlayedObject returns the current play with its first-seen date and the listening
// accumulated so far, including the open range. ok is false when nothing is tracked.
func (s *State) PlayedObject() (play.Play, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentPlay == nil {
		return play.Play{}, false
	}
	return s.playedObjectLocked(), true
}

// ListenDuration returns the wall-clock seconds of all closed listen ranges.
func (s *State) ListenDuration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumRanges(s.listenRanges)
}

// Platform returns the platform identity this state tracks.
func (s *State) Platform() play.PlatformID {
	return s.platform
}

// Status returns the last reported status.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// CurrentPlay returns a copy of the tracked play, or nil.
func (s *State) CurrentPlay() *play.Play {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentPlay == nil {
		return nil
	}
	c := s.currentPlay.Clone()
	return &c
}

// FirstSeenAt returns when the current play was first observed.
func (s *State) FirstSeenAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playFirstSeenAt
}

// ListenRanges returns the closed listen ranges of the current session.
func (s *State) ListenRanges() []play.ListenRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]play.ListenRange(nil), s.listenRanges...)
}

// CurrentRange returns the open listen range, or nil when not playing.
func (s *State) CurrentRange() *play.ListenRange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentRange == nil {
		return nil
	}
	r := *s.currentRange
	return &r
}

// LastActivity returns when the player was last seen playing or changing track.
func (s *State) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IsStale reports whether the player has been inactive for longer than after.
func (s *State) IsStale(now time.Time, after time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Sub(s.lastActivity) > after
}

// ToJSON returns the state as a map suitable for JSON serialization.
func (s *State) ToJSON() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[string]interface{}{
		"platform":     s.platform.String(),
		"status":       s.status,
		"lastActivity": s.lastActivity,
	}
	if s.currentPlay != nil {
		po := s.playedObjectLocked()
		out["track"] = po.Data.Track
		out["artists"] = po.Data.Artists
		out["album"] = po.Data.Album
		out["duration"] = po.Data.Duration
		out["listenedFor"] = po.Data.ListenedFor
		out["firstSeenAt"] = s.playFirstSeenAt
	}
	return out
}

func (s *State) startSession(p play.Play, now time.Time, status Status) {
	cur := p.Clone()
	s.currentPlay = &cur
	s.playFirstSeenAt = now
	s.listenRanges = nil
	s.currentRange = nil
	s.lastActivity = now
	if status == StatusPlaying {
		s.openRange(now, p.Meta.Position)
	}
}

func (s *State) openRange(now time.Time, position *float64) {
	r := play.NewListenRange(play.NewProgress(now, position))
	s.currentRange = &r
}

// closeRange extends a non-initial open range to now and moves it to the closed
// list. An initial range is dropped.
func (s *State) closeRange(now time.Time, position *float64) {
	if s.currentRange == nil {
		return
	}
	if !s.currentRange.IsInitial() {
		if position == nil && s.currentRange.End.Position != nil {
			// Extrapolate the position so the range stays positional.
			est := *s.currentRange.End.Position + now.Sub(s.currentRange.End.Timestamp).Seconds()
			position = &est
		}
		s.currentRange.SetRangeEndAt(now, position)
		s.listenRanges = append(s.listenRanges, *s.currentRange)
	}
	s.currentRange = nil
}

// pushRange closes the open range where it was last observed.
func (s *State) pushRange() {
	if s.currentRange == nil {
		return
	}
	if !s.currentRange.IsInitial() {
		s.listenRanges = append(s.listenRanges, *s.currentRange)
	}
	s.currentRange = nil
}

func (s *State) isRepeat(p play.Play, newPosition float64) bool {
	if ok, _ := s.thresholds.CloseToPlayStart(p, newPosition); !ok {
		return false
	}
	played := 0.0
	if s.currentRange != nil && s.currentRange.End.Position != nil {
		played = *s.currentRange.End.Position
	}
	ok, _ := s.thresholds.RepeatDurationPlayed(p, played)
	return ok
}

func (s *State) playedObjectLocked() play.Play {
	po := s.currentPlay.Clone()
	po.Data.PlayDate = s.playFirstSeenAt

	ranges := append([]play.ListenRange(nil), s.listenRanges...)
	if s.currentRange != nil && !s.currentRange.IsInitial() {
		ranges = append(ranges, *s.currentRange)
	}
	po.Data.ListenRanges = ranges
	po.Data.ListenedFor = sumRanges(ranges)
	if po.Meta.Platform == (play.PlatformID{}) {
		po.Meta.Platform = s.platform
	}
	return po
}

func sumRanges(ranges []play.ListenRange) float64 {
	var total float64
	for _, r := range ranges {
		total += r.WallDuration()
	}
	return total
}
