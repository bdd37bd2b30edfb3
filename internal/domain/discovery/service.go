package discovery

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
)

// Status is the state of the whole pipeline.
type Status struct {
	Sources []PollerStatus     `json:"sources"`
	Clients []DispatcherStatus `json:"clients"`
}

// Service owns the pollers and dispatchers and connects them.
type Service struct {
	mu          sync.RWMutex
	pollers     []*Poller
	dispatchers []*Dispatcher
}

// NewService creates an empty service.
func NewService() *Service {
	return &Service{}
}

// AddDispatcher registers a dispatcher that receives every discovered play.
func (s *Service) AddDispatcher(d *Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchers = append(s.dispatchers, d)
}

// AddPoller registers a poller. Its discovered plays are handed to the
// registered dispatchers.
func (s *Service) AddPoller(p *Poller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.handoff == nil {
		p.handoff = s.Dispatch
	}
	s.pollers = append(s.pollers, p)
}

// Dispatch hands p to every dispatcher.
func (s *Service) Dispatch(ctx context.Context, sourceName string, p play.Play) {
	s.mu.RLock()
	dispatchers := append([]*Dispatcher(nil), s.dispatchers...)
	s.mu.RUnlock()

	if len(dispatchers) == 0 {
		log.Debug().Str("source", sourceName).Str("play", p.String()).Msg("No scrobble clients configured")
		return
	}
	for _, d := range dispatchers {
		if err := d.Enqueue(ctx, p); err != nil {
			log.Warn().Err(err).Str("source", sourceName).Str("client", d.Name()).Msg("Failed to hand off play")
		}
	}
}

// Run starts every dispatcher and poller and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.mu.RLock()
	pollers := append([]*Poller(nil), s.pollers...)
	dispatchers := append([]*Dispatcher(nil), s.dispatchers...)
	s.mu.RUnlock()

	log.Info().
		Int("sources", len(pollers)).
		Int("clients", len(dispatchers)).
		Msg("Discovery service starting")

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range dispatchers {
		g.Go(func() error {
			d.Start(gctx)
			return nil
		})
	}
	for _, p := range pollers {
		g.Go(func() error {
			p.Start(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Stop stops every poller and dispatcher.
func (s *Service) Stop() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.pollers {
		p.Stop()
	}
	for _, d := range s.dispatchers {
		d.Stop()
	}
}

// Status returns the status of every poller and dispatcher.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Sources: make([]PollerStatus, 0, len(s.pollers)),
		Clients: make([]DispatcherStatus, 0, len(s.dispatchers)),
	}
	for _, p := range s.pollers {
		st.Sources = append(st.Sources, p.Status())
	}
	for _, d := range s.dispatchers {
		st.Clients = append(st.Clients, d.Status())
	}
	return st
}
