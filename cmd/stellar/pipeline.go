package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/config"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/discovery"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/scrobble"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/lastfm"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/listenbrainz"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/mpd"
)

// mpdConn is what an MPD source needs from the MPD client.
type mpdConn interface {
	source.StatusReader
	source.Watcher
	Connect() error
	Close() error
}

// pipeline builds sources, pollers and dispatchers from the config.
type pipeline struct {
	cfg      *config.Config
	store    discovery.Store
	notifier discovery.Notifier

	newMPD func(host string, port int, password string) mpdConn

	closers []func()
}

func newPipeline(cfg *config.Config, store discovery.Store, notifier discovery.Notifier) *pipeline {
	if notifier == nil {
		notifier = discovery.NopNotifier{}
	}
	return &pipeline{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		newMPD: func(host string, port int, password string) mpdConn {
			return mpd.NewClient(host, port, password)
		},
	}
}

// wire registers a dispatcher per client and a poller per source on svc.
func (p *pipeline) wire(svc *discovery.Service) error {
	clients, updaters, err := p.buildClients()
	if err != nil {
		return err
	}

	notifier := p.notifier
	if len(updaters) > 0 {
		notifier = discovery.Notifiers{p.notifier, scrobble.NewNowPlayingNotifier(updaters...)}
	}

	for i, c := range clients {
		cc := p.cfg.Clients[i]
		svc.AddDispatcher(discovery.NewDispatcher(c,
			discovery.WithWindow(cc.WindowSize, cc.WindowTTL),
			discovery.WithDispatcherStore(p.store),
			discovery.WithDispatcherNotifier(notifier),
		))
		log.Info().Str("client", c.Name()).Str("type", cc.Type).Msg("Scrobble client configured")
	}
	if len(clients) == 0 {
		log.Warn().Msg("No scrobble clients configured; discovered plays will only be logged")
	}

	thresholds := p.cfg.Thresholds
	if p.cfg.MPD.Enabled {
		m := p.cfg.MPD
		src := p.mpdSource(source.MPDSourceName, m.Host, m.Port, m.Password, m.Debounce)
		svc.AddPoller(p.poller(src, m.Interval, m.StaleAfter, thresholds.Scrobble, notifier))
	}

	for _, sc := range p.cfg.Sources {
		var src source.Source
		switch sc.Type {
		case config.TypeMPD:
			port := sc.Port
			if port == 0 {
				port = 6600
			}
			src = p.mpdSource(sc.DisplayName(), sc.Host, port, sc.Password, p.cfg.MPD.Debounce)
		case config.TypeLastfm:
			ls := source.NewLastfmSource(lastfm.New(sc.APIKey, sc.APISecret), sc.User, sc.Limit)
			ls.SetName(sc.DisplayName())
			src = ls
		default:
			return fmt.Errorf("%w: unknown type %q", config.ErrInvalidSource, sc.Type)
		}
		svc.AddPoller(p.poller(src, sc.Interval, sc.StaleAfter, sc.ScrobbleThresholds(thresholds.Scrobble), notifier))
	}

	return nil
}

func (p *pipeline) buildClients() ([]discovery.Client, []scrobble.NowPlayingUpdater, error) {
	var (
		clients  []discovery.Client
		updaters []scrobble.NowPlayingUpdater
	)
	for _, cc := range p.cfg.Clients {
		var c interface {
			discovery.Client
			scrobble.NowPlayingUpdater
		}
		switch cc.Type {
		case config.TypeLastfm:
			api := lastfm.New(cc.APIKey, cc.APISecret)
			api.SetSessionKey(cc.SessionKey)
			c = scrobble.NewLastfm(cc.DisplayName(), api, cc.User)
		case config.TypeListenBrainz:
			c = scrobble.NewListenBrainz(cc.DisplayName(), listenbrainz.NewClient(cc.URL, cc.Token, cc.User))
		default:
			return nil, nil, fmt.Errorf("%w: unknown type %q", config.ErrInvalidClient, cc.Type)
		}
		clients = append(clients, c)
		if cc.SendsNowPlaying() {
			updaters = append(updaters, c)
		}
	}
	return clients, updaters, nil
}

func (p *pipeline) mpdSource(name, host string, port int, password string, debounce time.Duration) *source.MPDSource {
	client := p.newMPD(host, port, password)
	if err := client.Connect(); err != nil {
		// Status calls reconnect on their own.
		log.Warn().Err(err).Str("source", name).Str("addr", client.Addr()).Msg("MPD not reachable yet")
	}

	src := source.NewMPDSource(client)
	src.SetName(name)
	if err := src.WatchPlayer(client, debounce); err != nil {
		log.Warn().Err(err).Str("source", name).Msg("MPD idle watcher unavailable, polling only")
	}

	p.closers = append(p.closers, func() {
		src.Close()
		client.Close()
	})
	return src
}

func (p *pipeline) poller(src source.Source, interval, staleAfter time.Duration, scrobbleAt play.ScrobbleThresholds, notifier discovery.Notifier) *discovery.Poller {
	log.Info().
		Str("source", src.Name()).
		Str("kind", string(src.Kind())).
		Dur("interval", interval).
		Msg("Source configured")

	return discovery.NewPoller(src,
		discovery.WithInterval(interval),
		discovery.WithStaleAfter(staleAfter),
		discovery.WithScrobbleThresholds(scrobbleAt),
		discovery.WithPositionThresholds(p.cfg.Thresholds.Positions),
		discovery.WithStore(p.store),
		discovery.WithNotifier(notifier),
	)
}

// close releases every MPD connection.
func (p *pipeline) close() {
	for _, c := range p.closers {
		c()
	}
}
