// Package scrobble adapts the Last.fm and ListenBrainz clients to the discovery
// pipeline: submission, upstream listen lookup for duplicate checks, and
// "now playing" updates.
package scrobble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/discovery"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/player"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
)

// NowPlayingUpdater is implemented by clients that can show a listen in progress.
type NowPlayingUpdater interface {
	Name() string
	UpdateNowPlaying(ctx context.Context, p play.Play) error
}

// permanent marks err as not worth retrying.
func permanent(err error) error {
	return fmt.Errorf("%w: %w", discovery.ErrPermanent, err)
}

// playDate returns when p started, estimated from its listened time when the
// source did not report one.
func playDate(p play.Play, now time.Time) time.Time {
	if p.HasPlayDate() {
		return p.Data.PlayDate
	}
	return now.Add(-time.Duration(p.Data.ListenedFor * float64(time.Second)))
}

func joinArtists(artists []string) string {
	return strings.Join(artists, ", ")
}

// NowPlayingNotifier forwards "now playing" changes from positional sources to
// every updater. Other events are ignored.
type NowPlayingNotifier struct {
	discovery.NopNotifier

	updaters []NowPlayingUpdater
	timeout  time.Duration

	mu   sync.Mutex
	last map[string]string
}

// NewNowPlayingNotifier creates a notifier for updaters.
func NewNowPlayingNotifier(updaters ...NowPlayingUpdater) *NowPlayingNotifier {
	return &NowPlayingNotifier{
		updaters: updaters,
		timeout:  10 * time.Second,
		last:     make(map[string]string),
	}
}

// NowPlaying implements discovery.Notifier. Only playing tracks are announced,
// once per track and updater.
func (n *NowPlayingNotifier) NowPlaying(sourceName string, st source.PlayerStateData) {
	if st.Play == nil || st.Status != player.StatusPlaying {
		return
	}

	key := play.ContentKey(*st.Play)
	n.mu.Lock()
	if n.last[st.Platform.String()] == key {
		n.mu.Unlock()
		return
	}
	n.last[st.Platform.String()] = key
	n.mu.Unlock()

	p := st.Play.Clone()
	for _, u := range n.updaters {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := u.UpdateNowPlaying(ctx, p); err != nil {
			log.Warn().Err(err).Str("client", u.Name()).Str("source", sourceName).Msg("Failed to update now playing")
		}
		cancel()
	}
}
