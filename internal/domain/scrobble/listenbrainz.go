package scrobble

import (
	"context"
	"time"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/listenbrainz"
)

const listenBrainzFetchCount = 100

// ListenBrainzAPI is the subset of the ListenBrainz client used for scrobbling.
type ListenBrainzAPI interface {
	User() string
	Submit(ctx context.Context, listen listenbrainz.Listen) error
	PlayingNow(ctx context.Context, listen listenbrainz.Listen) error
	Listens(ctx context.Context, maxTs time.Time, count int) ([]listenbrainz.Listen, error)
}

// ListenBrainz submits plays to a ListenBrainz account.
type ListenBrainz struct {
	name string
	api  ListenBrainzAPI
	now  func() time.Time
}

// NewListenBrainz creates a scrobble client.
func NewListenBrainz(name string, api ListenBrainzAPI) *ListenBrainz {
	if name == "" {
		name = "listenbrainz"
	}
	return &ListenBrainz{name: name, api: api, now: time.Now}
}

// Name implements discovery.Client.
func (c *ListenBrainz) Name() string { return c.name }

// Scrobble implements discovery.Client.
func (c *ListenBrainz) Scrobble(ctx context.Context, p play.Play) error {
	if err := c.api.Submit(ctx, c.listen(p)); err != nil {
		if listenbrainz.IsPermanent(err) {
			return permanent(err)
		}
		return err
	}
	return nil
}

// UpdateNowPlaying implements NowPlayingUpdater.
func (c *ListenBrainz) UpdateNowPlaying(ctx context.Context, p play.Play) error {
	return c.api.PlayingNow(ctx, c.listen(p))
}

// RecentListens implements discovery.ListenFetcher.
func (c *ListenBrainz) RecentListens(ctx context.Context, from, to time.Time) ([]play.Play, error) {
	if c.api.User() == "" {
		return nil, nil
	}

	listens, err := c.api.Listens(ctx, to, listenBrainzFetchCount)
	if err != nil {
		return nil, err
	}
	plays := make([]play.Play, 0, len(listens))
	for _, l := range listens {
		if !from.IsZero() && l.ListenedAt.Before(from) {
			continue
		}
		plays = append(plays, fromListen(l, c.api.User()))
	}
	return plays, nil
}

func (c *ListenBrainz) listen(p play.Play) listenbrainz.Listen {
	l := listenbrainz.Listen{
		Artist:        joinArtists(p.Data.Artists),
		Track:         p.Data.Track,
		Release:       p.Data.Album,
		RecordingMBID: p.Meta.MBID.Recording,
		ReleaseMBID:   p.Meta.MBID.Album,
		Duration:      time.Duration(p.Data.Duration * float64(time.Second)),
		ListenedAt:    playDate(p, c.now()),
	}
	if l.RecordingMBID == "" {
		l.RecordingMBID = p.Meta.MBID.Track
	}
	return l
}

func fromListen(l listenbrainz.Listen, user string) play.Play {
	p := play.Play{
		Data: play.Data{
			Track:    l.Track,
			Album:    l.Release,
			Duration: l.Duration.Seconds(),
			PlayDate: l.ListenedAt,
		},
		Meta: play.Meta{
			Source:   "listenbrainz",
			Platform: play.PlatformID{Source: "listenbrainz", User: user},
			MBID: play.MBIDs{
				Recording: l.RecordingMBID,
				Album:     l.ReleaseMBID,
			},
		},
	}
	if l.Artist != "" {
		p.Data.Artists = []string{l.Artist}
	}
	return p
}
