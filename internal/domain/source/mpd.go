package source

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/player"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/mpd"
)

// MPDSourceName is the source name recorded on plays observed from MPD.
const MPDSourceName = "mpd"

// StatusReader is the subset of the MPD client used to observe playback.
type StatusReader interface {
	Addr() string
	Status() (mpd.Attrs, error)
	CurrentSong() (mpd.Attrs, error)
}

// Watcher streams MPD idle subsystem names.
type Watcher interface {
	Watch(subsystems ...string) (<-chan string, error)
}

// MPDSource reports the single player of an MPD server.
type MPDSource struct {
	name     string
	client   StatusReader
	platform play.PlatformID

	triggers  chan struct{}
	debouncer *Debouncer
}

// NewMPDSource creates a positional source over client.
func NewMPDSource(client StatusReader) *MPDSource {
	return &MPDSource{
		name:     MPDSourceName,
		client:   client,
		platform: play.PlatformID{Source: MPDSourceName, Device: client.Addr()},
		triggers: make(chan struct{}, 1),
	}
}

// Name implements Source.
func (s *MPDSource) Name() string { return s.name }

// SetName renames the source, for setups with several MPD servers.
func (s *MPDSource) SetName(name string) {
	if name != "" {
		s.name = name
	}
}

// Kind implements Source.
func (s *MPDSource) Kind() Kind { return KindPositional }

// Platform returns the identity of the MPD player.
func (s *MPDSource) Platform() play.PlatformID { return s.platform }

// Triggers implements Triggerer.
func (s *MPDSource) Triggers() <-chan struct{} { return s.triggers }

// FetchSnapshot reads the MPD status and current song.
func (s *MPDSource) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	status, err := s.client.Status()
	if err != nil {
		return Snapshot{}, err
	}
	song, err := s.client.CurrentSong()
	if err != nil {
		return Snapshot{}, err
	}

	state := BuildPlayerState(s.platform, status, song)
	if err := state.Normalize(); err != nil {
		log.Debug().Err(err).Str("platform", s.platform.String()).Msg("Ignoring MPD song without metadata")
		state.Play = nil
	}

	return Snapshot{
		FetchedAt: time.Now(),
		Players:   []PlayerStateData{state},
	}, nil
}

// WatchPlayer subscribes to MPD idle events and turns bursts of player changes
// into a single trigger after window.
func (s *MPDSource) WatchPlayer(w Watcher, window time.Duration) error {
	events, err := w.Watch("player", "playlist")
	if err != nil {
		return err
	}

	s.debouncer = NewDebouncer(window, s.notify)
	go func() {
		for subsystem := range events {
			s.debouncer.Trigger(subsystem)
		}
		log.Debug().Msg("MPD watcher channel closed")
	}()
	return nil
}

// Close stops any pending debounced trigger.
func (s *MPDSource) Close() {
	if s.debouncer != nil {
		s.debouncer.Stop()
	}
}

func (s *MPDSource) notify() {
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// BuildPlayerState converts MPD status and song attributes to a player observation.
func BuildPlayerState(platform play.PlatformID, status, song mpd.Attrs) PlayerStateData {
	state := PlayerStateData{
		Platform: platform,
		Status:   player.ParseStatus(status["state"]),
	}

	if elapsed, err := strconv.ParseFloat(status["elapsed"], 64); err == nil {
		state.Position = play.Seconds(elapsed)
	}

	file := song["file"]
	if file == "" && song["Title"] == "" {
		return state
	}

	p := play.Play{
		Data: play.Data{
			Track: song["Title"],
			Album: song["Album"],
		},
		Meta: play.Meta{
			Source:   MPDSourceName,
			Platform: platform,
			TrackID:  file,
			MBID: play.MBIDs{
				Recording: song["MUSICBRAINZ_TRACKID"],
				Album:     song["MUSICBRAINZ_ALBUMID"],
			},
		},
	}
	if p.Data.Track == "" {
		// Use filename if no title tag
		p.Data.Track = strings.TrimSuffix(path.Base(file), path.Ext(file))
	}
	if artist := song["Artist"]; artist != "" {
		p.Data.Artists = []string{artist}
	}
	if id := song["MUSICBRAINZ_ARTISTID"]; id != "" {
		p.Meta.MBID.Artists = []string{id}
	}

	if duration, err := strconv.ParseFloat(status["duration"], 64); err == nil {
		p.Data.Duration = duration
	} else if duration, err := strconv.ParseFloat(song["Time"], 64); err == nil {
		p.Data.Duration = duration
	}

	if state.Position != nil {
		p.Meta.Position = play.Seconds(*state.Position)
	}
	p.Meta.NowPlaying = state.Status == player.StatusPlaying

	state.Play = &p
	return state
}
