package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DAO provides data access operations on the database.
type DAO struct {
	db *DB
}

// NewDAO creates a new DAO instance.
func NewDAO(db *DB) *DAO {
	return &DAO{db: db}
}

// --- History Operations ---

// SaveHistory inserts or replaces the snapshot stored under snap.Key.
func (dao *DAO) SaveHistory(snap HistorySnapshot) error {
	db, err := dao.db.conn()
	if err != nil {
		return err
	}

	updated := snap.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	ts := updated.UTC().Format(time.RFC3339)

	_, err = db.Exec(`
		INSERT INTO history_snapshots (key, plays, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET plays = ?, updated_at = ?
	`, snap.Key, string(snap.Plays), ts, string(snap.Plays), ts)
	if err != nil {
		return fmt.Errorf("save history %s: %w", snap.Key, err)
	}
	return nil
}

// GetHistory returns the snapshot stored under key, or nil when there is none.
func (dao *DAO) GetHistory(key string) (*HistorySnapshot, error) {
	db, err := dao.db.conn()
	if err != nil {
		return nil, err
	}

	var plays, updated string
	err = db.QueryRow("SELECT plays, updated_at FROM history_snapshots WHERE key = ?", key).Scan(&plays, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", key, err)
	}

	snap := &HistorySnapshot{Key: key, Plays: []byte(plays)}
	snap.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return snap, nil
}

// DeleteHistory removes the snapshot stored under key.
func (dao *DAO) DeleteHistory(key string) error {
	db, err := dao.db.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec("DELETE FROM history_snapshots WHERE key = ?", key)
	return err
}

// --- Scrobble Log Operations ---

// RecordScrobble appends rec to the scrobble log, assigning an ID when empty.
func (dao *DAO) RecordScrobble(rec ScrobbleRecord) (string, error) {
	db, err := dao.db.conn()
	if err != nil {
		return "", err
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	artists, err := json.Marshal(rec.Artists)
	if err != nil {
		return "", err
	}
	created := rec.CreatedAt.UTC().Format(time.RFC3339)

	_, err = db.Exec(`
		INSERT INTO scrobbles (id, client, track, artists, album, played_at, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Client, rec.Track, string(artists), rec.Album,
		rec.PlayedAt.UTC().Format(time.RFC3339), rec.Source, created)
	if err != nil {
		return "", fmt.Errorf("record scrobble: %w", err)
	}

	if err := dao.db.setMeta("last_scrobble", created); err != nil {
		log.Warn().Err(err).Msg("Failed to update last_scrobble")
	}
	return rec.ID, nil
}

// RecentScrobbles returns the newest limit scrobbles of client played at or after since.
func (dao *DAO) RecentScrobbles(client string, since time.Time, limit int) ([]ScrobbleRecord, error) {
	db, err := dao.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, client, track, artists, album, played_at, source, created_at
		FROM scrobbles
		WHERE client = ? AND played_at >= ?
		ORDER BY played_at DESC
		LIMIT ?
	`, client, since.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("query scrobbles: %w", err)
	}
	defer rows.Close()

	var out []ScrobbleRecord
	for rows.Next() {
		var (
			rec                        ScrobbleRecord
			artists, playedAt, created string
			album, source              sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Client, &rec.Track, &artists, &album, &playedAt, &source, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(artists), &rec.Artists); err != nil {
			log.Warn().Err(err).Str("id", rec.ID).Msg("Corrupt artists in scrobble log")
		}
		rec.Album = album.String
		rec.Source = source.String
		rec.PlayedAt, _ = time.Parse(time.RFC3339, playedAt)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Pending Queue Operations ---

// EnqueuePending stores a failed play for retry and returns its ID.
func (dao *DAO) EnqueuePending(client string, play []byte, lastErr string) (string, error) {
	db, err := dao.db.conn()
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = db.Exec(`
		INSERT INTO pending_scrobbles (id, client, play, attempts, last_error, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, id, client, string(play), lastErr, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", fmt.Errorf("enqueue pending: %w", err)
	}
	return id, nil
}

// ListPending returns up to limit queued plays of client, oldest first.
func (dao *DAO) ListPending(client string, limit int) ([]PendingScrobble, error) {
	db, err := dao.db.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, client, play, attempts, last_error, created_at
		FROM pending_scrobbles
		WHERE client = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, client, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []PendingScrobble
	for rows.Next() {
		var (
			p        PendingScrobble
			playJSON string
			lastErr  sql.NullString
			created  string
		)
		if err := rows.Scan(&p.ID, &p.Client, &playJSON, &p.Attempts, &lastErr, &created); err != nil {
			return nil, err
		}
		p.Play = []byte(playJSON)
		p.LastError = lastErr.String
		p.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPendingFailed increments the attempt count of a queued play.
func (dao *DAO) MarkPendingFailed(id, lastErr string) error {
	db, err := dao.db.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec("UPDATE pending_scrobbles SET attempts = attempts + 1, last_error = ? WHERE id = ?", lastErr, id)
	return err
}

// DeletePending removes a queued play.
func (dao *DAO) DeletePending(id string) error {
	db, err := dao.db.conn()
	if err != nil {
		return err
	}
	_, err = db.Exec("DELETE FROM pending_scrobbles WHERE id = ?", id)
	return err
}
