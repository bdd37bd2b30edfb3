package discovery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/cache"
)

// CacheStore implements Store on top of the SQLite cache.
type CacheStore struct {
	dao *cache.DAO
}

// NewCacheStore creates a store backed by dao.
func NewCacheStore(dao *cache.DAO) *CacheStore {
	return &CacheStore{dao: dao}
}

// LoadHistory returns the last known-good list stored under key, or nil.
func (s *CacheStore) LoadHistory(key string) ([]play.Play, error) {
	snap, err := s.dao.GetHistory(key)
	if err != nil || snap == nil {
		return nil, err
	}

	var plays []play.Play
	if err := json.Unmarshal(snap.Plays, &plays); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", key, err)
	}
	return plays, nil
}

// SaveHistory stores plays under key.
func (s *CacheStore) SaveHistory(key string, plays []play.Play) error {
	data, err := json.Marshal(plays)
	if err != nil {
		return err
	}
	return s.dao.SaveHistory(cache.HistorySnapshot{Key: key, Plays: data})
}

// RecordScrobble appends p to the scrobble log of clientName.
func (s *CacheStore) RecordScrobble(clientName string, p play.Play) error {
	_, err := s.dao.RecordScrobble(cache.ScrobbleRecord{
		Client:   clientName,
		Track:    p.Data.Track,
		Artists:  p.Data.Artists,
		Album:    p.Data.Album,
		PlayedAt: p.Data.PlayDate,
		Source:   p.Meta.Source,
	})
	return err
}

// RecentScrobbles returns up to limit plays logged for clientName since the given time, newest first.
func (s *CacheStore) RecentScrobbles(clientName string, since time.Time, limit int) ([]play.Play, error) {
	recs, err := s.dao.RecentScrobbles(clientName, since, limit)
	if err != nil {
		return nil, err
	}
	plays := make([]play.Play, 0, len(recs))
	for _, r := range recs {
		plays = append(plays, play.Play{
			Data: play.Data{Track: r.Track, Artists: r.Artists, Album: r.Album, PlayDate: r.PlayedAt},
			Meta: play.Meta{Source: r.Source},
		})
	}
	return plays, nil
}

// EnqueuePending queues p for a later retry.
func (s *CacheStore) EnqueuePending(clientName string, p play.Play, cause error) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.dao.EnqueuePending(clientName, data, errString(cause))
	return err
}

// ListPending returns up to limit queued plays for clientName. Rows that no
// longer decode are dropped from the queue.
func (s *CacheStore) ListPending(clientName string, limit int) ([]PendingPlay, error) {
	rows, err := s.dao.ListPending(clientName, limit)
	if err != nil {
		return nil, err
	}

	out := make([]PendingPlay, 0, len(rows))
	for _, row := range rows {
		var p play.Play
		if err := json.Unmarshal(row.Play, &p); err != nil {
			log.Warn().Err(err).Str("id", row.ID).Msg("Dropping undecodable pending scrobble")
			_ = s.dao.DeletePending(row.ID)
			continue
		}
		out = append(out, PendingPlay{ID: row.ID, Play: p, Attempts: row.Attempts})
	}
	return out, nil
}

// MarkPendingFailed records another failed attempt.
func (s *CacheStore) MarkPendingFailed(id string, cause error) error {
	return s.dao.MarkPendingFailed(id, errString(cause))
}

// DeletePending removes a queued play.
func (s *CacheStore) DeletePending(id string) error {
	return s.dao.DeletePending(id)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
