package cache_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edumarques81/stellar-scrobbler/internal/infra/cache"
)

func openTestDB(t *testing.T) (*cache.DB, *cache.DAO) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db := cache.NewDB(dbPath)
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, cache.NewDAO(db)
}

func TestNewDB(t *testing.T) {
	db := cache.NewDB("")
	if db == nil {
		t.Fatal("NewDB should return a non-nil instance")
	}
	if db.Path() != cache.DefaultDBPath {
		t.Errorf("expected default path %q, got %q", cache.DefaultDBPath, db.Path())
	}
}

func TestDBOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	db := cache.NewDB(dbPath)

	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist after Open()")
	}

	if err := db.Close(); err != nil {
		t.Errorf("Failed to close database: %v", err)
	}

	if _, err := db.GetStats(); !errors.Is(err, cache.ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestDBReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db := cache.NewDB(dbPath)
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	dao := cache.NewDAO(db)
	if err := dao.SaveHistory(cache.HistorySnapshot{Key: "k", Plays: []byte(`[]`)}); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	db.Close()

	db = cache.NewDB(dbPath)
	if err := db.Open(); err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db.Close()

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.HistorySnapshots != 1 {
		t.Errorf("Expected 1 history snapshot, got %d", stats.HistorySnapshots)
	}
}

func TestDBGetStats(t *testing.T) {
	db, _ := openTestDB(t)

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}

	if stats.HistorySnapshots != 0 || stats.Scrobbles != 0 || stats.Pending != 0 {
		t.Errorf("Expected empty database, got %+v", stats)
	}
	if stats.SchemaVersion != cache.CurrentSchemaVersion {
		t.Errorf("Expected schema version %q, got %q", cache.CurrentSchemaVersion, stats.SchemaVersion)
	}
}

func TestHistorySnapshots(t *testing.T) {
	_, dao := openTestDB(t)

	snap, err := dao.GetHistory("lastfm/someone")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected no snapshot, got %+v", snap)
	}

	if err := dao.SaveHistory(cache.HistorySnapshot{Key: "lastfm/someone", Plays: []byte(`[{"a":1}]`)}); err != nil {
		t.Fatalf("SaveHistory: %v", err)
	}
	if err := dao.SaveHistory(cache.HistorySnapshot{Key: "lastfm/someone", Plays: []byte(`[{"a":2}]`)}); err != nil {
		t.Fatalf("SaveHistory overwrite: %v", err)
	}

	snap, err = dao.GetHistory("lastfm/someone")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if snap == nil || string(snap.Plays) != `[{"a":2}]` {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	if err := dao.DeleteHistory("lastfm/someone"); err != nil {
		t.Fatalf("DeleteHistory: %v", err)
	}
	if snap, _ := dao.GetHistory("lastfm/someone"); snap != nil {
		t.Error("expected snapshot to be deleted")
	}
}

func TestScrobbleLog(t *testing.T) {
	db, dao := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	records := []cache.ScrobbleRecord{
		{Client: "lastfm", Track: "Old", Artists: []string{"A"}, PlayedAt: now.Add(-48 * time.Hour)},
		{Client: "lastfm", Track: "Recent", Artists: []string{"A", "B"}, Album: "LP", PlayedAt: now.Add(-time.Hour), Source: "mpd"},
		{Client: "listenbrainz", Track: "Other", Artists: []string{"C"}, PlayedAt: now},
	}
	for _, rec := range records {
		id, err := dao.RecordScrobble(rec)
		if err != nil {
			t.Fatalf("RecordScrobble: %v", err)
		}
		if id == "" {
			t.Error("expected an id to be assigned")
		}
	}

	got, err := dao.RecentScrobbles("lastfm", now.Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentScrobbles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 recent scrobble, got %d", len(got))
	}
	if got[0].Track != "Recent" || got[0].Album != "LP" || got[0].Source != "mpd" || len(got[0].Artists) != 2 {
		t.Errorf("unexpected record %+v", got[0])
	}
	if !got[0].PlayedAt.Equal(now.Add(-time.Hour)) {
		t.Errorf("expected played at %v, got %v", now.Add(-time.Hour), got[0].PlayedAt)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Scrobbles != 3 {
		t.Errorf("expected 3 scrobbles, got %d", stats.Scrobbles)
	}
	if stats.LastScrobble.IsZero() {
		t.Error("expected LastScrobble to be set")
	}
}

func TestPendingQueue(t *testing.T) {
	_, dao := openTestDB(t)

	id, err := dao.EnqueuePending("lastfm", []byte(`{"data":{"track":"x"}}`), "timeout")
	if err != nil {
		t.Fatalf("EnqueuePending: %v", err)
	}
	if _, err := dao.EnqueuePending("listenbrainz", []byte(`{}`), "timeout"); err != nil {
		t.Fatalf("EnqueuePending: %v", err)
	}

	pending, err := dao.ListPending("lastfm", 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != id || pending[0].Attempts != 1 || pending[0].LastError != "timeout" {
		t.Fatalf("unexpected pending %+v", pending)
	}

	if err := dao.MarkPendingFailed(id, "503"); err != nil {
		t.Fatalf("MarkPendingFailed: %v", err)
	}
	pending, _ = dao.ListPending("lastfm", 10)
	if pending[0].Attempts != 2 || pending[0].LastError != "503" {
		t.Errorf("expected 2 attempts with last error 503, got %+v", pending[0])
	}

	if err := dao.DeletePending(id); err != nil {
		t.Fatalf("DeletePending: %v", err)
	}
	pending, _ = dao.ListPending("lastfm", 10)
	if len(pending) != 0 {
		t.Errorf("expected empty queue, got %d", len(pending))
	}
}
