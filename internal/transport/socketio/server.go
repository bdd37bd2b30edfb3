// Package socketio provides the Socket.io server that pushes pipeline events to
// dashboards.
package socketio

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/discovery"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
)

// Events emitted to clients.
const (
	EventNowPlaying = "pushNowPlaying"
	EventDiscovered = "pushDiscovered"
	EventScrobbled  = "pushScrobbled"
	EventStatus     = "pushStatus"
)

// StatusProvider reports the pipeline status. Implemented by *discovery.Service.
type StatusProvider interface {
	Status() discovery.Status
}

// NowPlayingEvent is the payload of pushNowPlaying.
type NowPlayingEvent struct {
	Source   string     `json:"source"`
	Platform string     `json:"platform"`
	Status   string     `json:"status"`
	Position *float64   `json:"position,omitempty"`
	Play     *play.Play `json:"play,omitempty"`
}

// PlayEvent is the payload of pushDiscovered and pushScrobbled.
type PlayEvent struct {
	Source string    `json:"source,omitempty"`
	Client string    `json:"client,omitempty"`
	Play   play.Play `json:"play"`
	At     time.Time `json:"at"`
}

// Server handles Socket.io connections and implements discovery.Notifier.
type Server struct {
	io      *socket.Server
	status  StatusProvider
	mu      sync.RWMutex
	clients map[string]*socket.Socket

	// Last now playing event per platform, replayed to new clients.
	nowPlaying map[string]NowPlayingEvent
}

// NewServer creates a new Socket.io server. status may be nil.
func NewServer(status StatusProvider) (*Server, error) {
	opts := socket.DefaultServerOptions()
	opts.SetPingTimeout(20 * time.Second)
	opts.SetPingInterval(25 * time.Second)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:         socket.NewServer(nil, opts),
		status:     status,
		clients:    make(map[string]*socket.Socket),
		nowPlaying: make(map[string]NowPlayingEvent),
	}

	s.setupHandlers()

	return s, nil
}

func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())

		log.Info().Str("id", clientID).Msg("Client connected")

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushStatus(client)
			for _, ev := range s.NowPlayingEvents() {
				client.Emit(EventNowPlaying, ev)
			}
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
		})

		client.On("getStatus", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getStatus")
			s.pushStatus(client)
		})

		client.On("getNowPlaying", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getNowPlaying")
			for _, ev := range s.NowPlayingEvents() {
				client.Emit(EventNowPlaying, ev)
			}
		})
	})
}

func (s *Server) pushStatus(client *socket.Socket) {
	client.Emit(EventStatus, s.Status())
}

// Status returns the pipeline status, or an empty one when no provider is set.
func (s *Server) Status() discovery.Status {
	if s.status == nil {
		return discovery.Status{Sources: []discovery.PollerStatus{}, Clients: []discovery.DispatcherStatus{}}
	}
	return s.status.Status()
}

// NowPlaying implements discovery.Notifier.
func (s *Server) NowPlaying(sourceName string, state source.PlayerStateData) {
	ev := NowPlayingEvent{
		Source:   sourceName,
		Platform: state.Platform.String(),
		Status:   string(state.Status),
		Position: state.Position,
	}
	if state.Play != nil {
		p := state.Play.Clone()
		ev.Play = &p
	}

	s.mu.Lock()
	s.nowPlaying[ev.Platform] = ev
	s.mu.Unlock()

	s.io.Emit(EventNowPlaying, ev)
	log.Debug().Str("source", sourceName).Str("platform", ev.Platform).Str("status", ev.Status).Int("clients", s.ClientCount()).Msg("Broadcast now playing")
}

// Discovered implements discovery.Notifier.
func (s *Server) Discovered(sourceName string, p play.Play) {
	s.io.Emit(EventDiscovered, PlayEvent{Source: sourceName, Play: p, At: time.Now()})
}

// Scrobbled implements discovery.Notifier.
func (s *Server) Scrobbled(clientName string, p play.Play) {
	s.io.Emit(EventScrobbled, PlayEvent{Client: clientName, Play: p, At: time.Now()})
}

// NowPlayingEvents returns the last now playing event of every platform, ordered
// by platform.
func (s *Server) NowPlayingEvents() []NowPlayingEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NowPlayingEvent, 0, len(s.nowPlaying))
	for _, ev := range s.nowPlaying {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.io.Close(nil)
	return nil
}
