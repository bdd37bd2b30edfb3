package scrobble

import (
	"context"
	"time"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/lastfm"
)

// LastfmAPI is the subset of the Last.fm client used for scrobbling.
type LastfmAPI interface {
	Scrobble(track lastfm.ScrobbleTrack) error
	UpdateNowPlaying(track lastfm.ScrobbleTrack) error
	RecentTracks(user string, limit int, from, to time.Time) ([]lastfm.RecentTrack, error)
}

// Lastfm submits plays to a Last.fm account.
type Lastfm struct {
	name string
	api  LastfmAPI
	user string
	now  func() time.Time
}

// NewLastfm creates a scrobble client. user is the account name used to read
// back recent listens; an empty user disables that lookup.
func NewLastfm(name string, api LastfmAPI, user string) *Lastfm {
	if name == "" {
		name = "lastfm"
	}
	return &Lastfm{name: name, api: api, user: user, now: time.Now}
}

// Name implements discovery.Client.
func (c *Lastfm) Name() string { return c.name }

// Scrobble implements discovery.Client.
func (c *Lastfm) Scrobble(ctx context.Context, p play.Play) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.api.Scrobble(c.track(p)); err != nil {
		if lastfm.IsPermanent(err) {
			return permanent(err)
		}
		return err
	}
	return nil
}

// UpdateNowPlaying implements NowPlayingUpdater.
func (c *Lastfm) UpdateNowPlaying(ctx context.Context, p play.Play) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.api.UpdateNowPlaying(c.track(p))
}

// RecentListens implements discovery.ListenFetcher.
func (c *Lastfm) RecentListens(ctx context.Context, from, to time.Time) ([]play.Play, error) {
	if c.user == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tracks, err := c.api.RecentTracks(c.user, lastfm.MaxRecentTracks, from, to)
	if err != nil {
		return nil, err
	}
	platform := play.PlatformID{Source: source.LastfmSourceName, User: c.user}
	plays := make([]play.Play, 0, len(tracks))
	for _, t := range tracks {
		if t.NowPlaying {
			continue
		}
		plays = append(plays, source.PlayFromRecentTrack(t, platform))
	}
	return plays, nil
}

func (c *Lastfm) track(p play.Play) lastfm.ScrobbleTrack {
	t := lastfm.ScrobbleTrack{
		Track:     p.Data.Track,
		Album:     p.Data.Album,
		Timestamp: playDate(p, c.now()),
		Duration:  time.Duration(p.Data.Duration * float64(time.Second)),
	}
	if len(p.Data.Artists) > 0 {
		t.Artist = p.Data.Artists[0]
	}
	if len(p.Data.Artists) > 1 {
		// Last.fm takes a single artist string.
		t.Artist = joinArtists(p.Data.Artists)
	}
	t.MBRecordingID = p.Meta.MBID.Recording
	if t.MBRecordingID == "" {
		t.MBRecordingID = p.Meta.MBID.Track
	}
	return t
}
