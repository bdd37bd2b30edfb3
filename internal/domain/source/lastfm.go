package source

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/lastfm"
)

// LastfmSourceName is the source name recorded on plays read from Last.fm.
const LastfmSourceName = "lastfm"

// RecentTracksFetcher reads a user's recently played list, newest first.
type RecentTracksFetcher interface {
	RecentTracks(user string, limit int, from, to time.Time) ([]lastfm.RecentTrack, error)
}

// LastfmSource reports a Last.fm user's recently played list.
type LastfmSource struct {
	name   string
	client RecentTracksFetcher
	user   string
	limit  int
}

// NewLastfmSource creates a history source for user. limit is clamped to what
// the API accepts.
func NewLastfmSource(client RecentTracksFetcher, user string, limit int) *LastfmSource {
	if limit <= 0 || limit > lastfm.MaxRecentTracks {
		limit = 20
	}
	return &LastfmSource{name: LastfmSourceName, client: client, user: user, limit: limit}
}

// Name implements Source.
func (s *LastfmSource) Name() string { return s.name }

// SetName renames the source.
func (s *LastfmSource) SetName(name string) {
	if name != "" {
		s.name = name
	}
}

// Kind implements Source.
func (s *LastfmSource) Kind() Kind { return KindHistory }

// OldestFirst implements HistoryOrder. Last.fm lists newest first.
func (s *LastfmSource) OldestFirst() bool { return false }

// FetchSnapshot reads the recently played list. The "now playing" row is not
// a completed listen and is skipped.
func (s *LastfmSource) FetchSnapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	tracks, err := s.client.RecentTracks(s.user, s.limit, time.Time{}, time.Time{})
	if err != nil {
		return Snapshot{}, err
	}

	platform := play.PlatformID{Source: LastfmSourceName, User: s.user}
	plays := make([]play.Play, 0, len(tracks))
	for _, t := range tracks {
		if t.NowPlaying {
			continue
		}
		p := PlayFromRecentTrack(t, platform)
		if err := p.Normalize(); err != nil {
			log.Debug().Err(err).Str("user", s.user).Msg("Skipping malformed Last.fm entry")
			continue
		}
		plays = append(plays, p)
	}

	return Snapshot{FetchedAt: time.Now(), History: plays}, nil
}

// PlayFromRecentTrack converts a Last.fm history entry to a play.
func PlayFromRecentTrack(t lastfm.RecentTrack, platform play.PlatformID) play.Play {
	p := play.Play{
		Data: play.Data{
			Track:    t.Track,
			Album:    t.Album,
			PlayDate: t.PlayedAt,
		},
		Meta: play.Meta{
			Source:   LastfmSourceName,
			Platform: platform,
			URL:      t.URL,
			MBID: play.MBIDs{
				Track: t.MBID,
				Album: t.AlbumMBID,
			},
		},
	}
	if t.Artist != "" {
		p.Data.Artists = []string{t.Artist}
	}
	if t.ArtistMBID != "" {
		p.Meta.MBID.Artists = []string{t.ArtistMBID}
	}
	return p
}
