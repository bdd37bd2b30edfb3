package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/discovery"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/cache"
	"github.com/edumarques81/stellar-scrobbler/internal/version"
)

// statusSource reports the pipeline status.
type statusSource interface {
	Status() discovery.Status
}

// statusResponse is the body of /api/v1/status.
type statusResponse struct {
	discovery.Status
	Cache   *cache.Stats `json:"cache,omitempty"`
	Started string       `json:"started"`
}

// newMux serves the health, version and status endpoints and the Socket.io
// transport.
func newMux(status statusSource, stats func() (*cache.Stats, error), socket http.Handler) *http.ServeMux {
	started := time.Now()
	mux := http.NewServeMux()

	if socket != nil {
		mux.Handle("/socket.io/", socket)
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := stats(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","cache":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","cache":"ok"}`))
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, version.GetInfo())
	})

	mux.HandleFunc("/api/v1/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{
			Status:  status.Status(),
			Started: humanize.Time(started),
		}
		if s, err := stats(); err == nil {
			resp.Cache = s
		} else {
			log.Debug().Err(err).Msg("Cache stats unavailable")
		}
		writeJSON(w, resp)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
