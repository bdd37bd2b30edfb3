package discovery_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/discovery"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/player"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/cache"
)

var t0 = time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)

var device = play.PlatformID{Source: "mpd", Device: "localhost:6600"}

// scriptedSource returns one queued snapshot per fetch and repeats the last.
type scriptedSource struct {
	mu       sync.Mutex
	name     string
	kind     source.Kind
	snaps    []source.Snapshot
	last     source.Snapshot
	err      error
	fetches  int
	triggers chan struct{}
}

func (s *scriptedSource) Name() string      { return s.name }
func (s *scriptedSource) Kind() source.Kind { return s.kind }

func (s *scriptedSource) Triggers() <-chan struct{} { return s.triggers }

func (s *scriptedSource) push(snap source.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *scriptedSource) FetchSnapshot(ctx context.Context) (source.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.err != nil {
		return source.Snapshot{}, s.err
	}
	if len(s.snaps) > 0 {
		s.last = s.snaps[0]
		s.snaps = s.snaps[1:]
	}
	return s.last, nil
}

func (s *scriptedSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type collector struct {
	mu    sync.Mutex
	plays []play.Play
}

func (c *collector) handoff(_ context.Context, _ string, p play.Play) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plays = append(c.plays, p)
}

func (c *collector) tracks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.plays))
	for _, p := range c.plays {
		out = append(out, p.Data.Track)
	}
	return out
}

type recordingNotifier struct {
	discovery.NopNotifier
	mu         sync.Mutex
	nowPlaying []source.PlayerStateData
}

func (n *recordingNotifier) NowPlaying(_ string, st source.PlayerStateData) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowPlaying = append(n.nowPlaying, st)
}

func playing(track string, pos float64) source.Snapshot {
	return playerSnap(track, pos, player.StatusPlaying)
}

func playerSnap(track string, pos float64, status player.Status) source.Snapshot {
	p := &play.Play{
		Data: play.Data{Track: track, Artists: []string{"Artist"}, Duration: 200},
		Meta: play.Meta{Source: "mpd", TrackID: track + ".flac"},
	}
	return source.Snapshot{Players: []source.PlayerStateData{{
		Platform: device,
		Status:   status,
		Play:     p,
		Position: play.Seconds(pos),
	}}}
}

func emptySnap() source.Snapshot {
	return source.Snapshot{Players: []source.PlayerStateData{{Platform: device, Status: player.StatusStopped}}}
}

func newPositional(t *testing.T, opts ...discovery.PollerOption) (*discovery.Poller, *scriptedSource, *collector, *play.ManualClock) {
	t.Helper()
	src := &scriptedSource{name: "mpd", kind: source.KindPositional}
	out := &collector{}
	clock := play.NewManualClock(t0)
	opts = append([]discovery.PollerOption{
		discovery.WithPollerClock(clock),
		discovery.WithHandoff(out.handoff),
	}, opts...)
	return discovery.NewPoller(src, opts...), src, out, clock
}

// step queues snap, advances the clock by d and polls.
func step(p *discovery.Poller, src *scriptedSource, clock *play.ManualClock, d time.Duration, snap source.Snapshot) {
	clock.Advance(d)
	src.push(snap)
	p.Poll(context.Background())
}

func TestPollerTrackChangeDiscoversFinishedPlay(t *testing.T) {
	p, src, out, clock := newPositional(t)

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 30*time.Second, playing("A", 30))
	step(p, src, clock, 10*time.Second, playing("B", 0))

	require.Equal(t, []string{"A"}, out.tracks())
	assert.Equal(t, 40.0, out.plays[0].Data.ListenedFor)
	assert.True(t, out.plays[0].Meta.NewFromSource)
	assert.Equal(t, t0, out.plays[0].Data.PlayDate)
}

func TestPollerShortListenIsNotDiscovered(t *testing.T) {
	p, src, out, clock := newPositional(t)

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 5*time.Second, playing("A", 5))
	step(p, src, clock, 5*time.Second, playing("B", 0))

	assert.Empty(t, out.tracks())
	assert.Zero(t, p.Status().Discovered)
}

func TestPollerCustomThresholds(t *testing.T) {
	p, src, out, clock := newPositional(t, discovery.WithScrobbleThresholds(play.ScrobbleThresholds{Duration: play.Seconds(5)}))

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 5*time.Second, playing("A", 5))
	step(p, src, clock, 5*time.Second, playing("B", 0))

	assert.Equal(t, []string{"A"}, out.tracks())
}

func TestPollerStopFinishesSession(t *testing.T) {
	p, src, out, clock := newPositional(t)

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 20*time.Second, playing("A", 20))
	step(p, src, clock, 20*time.Second, playing("A", 40))
	step(p, src, clock, 5*time.Second, playerSnap("A", 0, player.StatusStopped))

	require.Equal(t, []string{"A"}, out.tracks())
	assert.Equal(t, 45.0, out.plays[0].Data.ListenedFor)

	// Further stopped polls do not rediscover it.
	step(p, src, clock, 10*time.Second, playerSnap("A", 0, player.StatusStopped))
	assert.Len(t, out.tracks(), 1)
}

func TestPollerEmptyQueueExpiresSession(t *testing.T) {
	p, src, out, clock := newPositional(t)

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 60*time.Second, playing("A", 60))
	step(p, src, clock, 3*time.Minute, emptySnap())

	require.Equal(t, []string{"A"}, out.tracks())
	assert.Equal(t, 60.0, out.plays[0].Data.ListenedFor)
}

func TestPollerStalePlayerIsRemoved(t *testing.T) {
	p, src, out, clock := newPositional(t, discovery.WithStaleAfter(time.Minute))

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 40*time.Second, playing("A", 40))
	require.Len(t, p.Status().Players, 1)

	step(p, src, clock, 10*time.Second, source.Snapshot{})
	assert.Len(t, p.Status().Players, 1, "not stale yet")

	step(p, src, clock, 2*time.Minute, source.Snapshot{})
	assert.Empty(t, p.Status().Players)
	require.Equal(t, []string{"A"}, out.tracks())
	assert.Equal(t, 40.0, out.plays[0].Data.ListenedFor)
}

func TestPollerPausedTooLongFinishesSession(t *testing.T) {
	p, src, out, clock := newPositional(t, discovery.WithStaleAfter(time.Minute))

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 45*time.Second, playing("A", 45))
	step(p, src, clock, 5*time.Second, playerSnap("A", 45, player.StatusPaused))
	assert.Empty(t, out.tracks())

	step(p, src, clock, 2*time.Minute, playerSnap("A", 45, player.StatusPaused))
	require.Equal(t, []string{"A"}, out.tracks())
	assert.Equal(t, 50.0, out.plays[0].Data.ListenedFor)
}

func TestPollerIgnoresMalformedSnapshot(t *testing.T) {
	p, src, out, clock := newPositional(t)

	bad := playing("", 0)
	step(p, src, clock, 0, bad)

	assert.Empty(t, p.Status().Players)
	assert.Empty(t, out.tracks())
	assert.Equal(t, 1, p.Status().Polls)
}

func TestPollerCancelledFetchLeavesStateUntouched(t *testing.T) {
	p, src, out, _ := newPositional(t)
	src.push(playing("A", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Poll(ctx)

	st := p.Status()
	assert.Zero(t, st.Polls)
	assert.Empty(t, st.Players)
	assert.Empty(t, out.tracks())
}

func TestPollerFetchError(t *testing.T) {
	p, src, _, _ := newPositional(t)
	src.err = errors.New("connection refused")

	p.Poll(context.Background())

	st := p.Status()
	assert.Equal(t, 1, st.Polls)
	assert.Equal(t, "connection refused", st.LastError)
}

func TestPollerAnnouncesNowPlayingChanges(t *testing.T) {
	n := &recordingNotifier{}
	p, src, _, clock := newPositional(t, discovery.WithNotifier(n))

	step(p, src, clock, 0, playing("A", 0))
	step(p, src, clock, 10*time.Second, playing("A", 10))
	step(p, src, clock, 10*time.Second, playerSnap("A", 20, player.StatusPaused))
	step(p, src, clock, 10*time.Second, playing("B", 0))

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.nowPlaying, 3)
	assert.Equal(t, player.StatusPaused, n.nowPlaying[1].Status)
	assert.Equal(t, "B", n.nowPlaying[2].Play.Data.Track)
}

func TestPollerStartPollsOnTrigger(t *testing.T) {
	src := &scriptedSource{name: "mpd", kind: source.KindPositional, triggers: make(chan struct{}, 1)}
	p := discovery.NewPoller(src, discovery.WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.fetchCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, p.IsRunning())

	src.triggers <- struct{}{}
	require.Eventually(t, func() bool { return src.fetchCount() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.False(t, p.IsRunning())
}

func TestPollerStop(t *testing.T) {
	src := &scriptedSource{name: "mpd", kind: source.KindPositional}
	p := discovery.NewPoller(src, discovery.WithInterval(time.Hour))

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()
	require.Eventually(t, p.IsRunning, time.Second, 5*time.Millisecond)

	p.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func historyPlays(start time.Time, tracks ...string) []play.Play {
	out := make([]play.Play, 0, len(tracks))
	for i, tr := range tracks {
		out = append(out, play.Play{
			Data: play.Data{
				Track:    tr,
				Artists:  []string{"Artist"},
				PlayDate: start.Add(-time.Duration(i) * 4 * time.Minute),
			},
			Meta: play.Meta{Source: "lastfm"},
		})
	}
	return out
}

func openStore(t *testing.T) *discovery.CacheStore {
	t.Helper()
	db := cache.NewDB(filepath.Join(t.TempDir(), "scrobbler.db"))
	require.NoError(t, db.Open())
	t.Cleanup(func() { db.Close() })
	return discovery.NewCacheStore(cache.NewDAO(db))
}

func TestPollerHistoryPrependIsDiscovered(t *testing.T) {
	src := &scriptedSource{name: "lastfm", kind: source.KindHistory}
	out := &collector{}
	clock := play.NewManualClock(t0)
	p := discovery.NewPoller(src, discovery.WithPollerClock(clock), discovery.WithHandoff(out.handoff))

	base := historyPlays(t0, "c", "d", "e", "f")
	src.push(source.Snapshot{History: base})
	p.Poll(context.Background())
	assert.Empty(t, out.tracks())

	clock.Advance(10 * time.Minute)
	newer := historyPlays(t0.Add(8*time.Minute), "a", "b")
	src.push(source.Snapshot{History: append(newer, base...)})
	p.Poll(context.Background())

	assert.Equal(t, []string{"b", "a"}, out.tracks(), "emitted oldest first")
	assert.Equal(t, 6, p.Status().History)
}

func TestPollerHistoryPersistsAndRestores(t *testing.T) {
	store := openStore(t)
	base := historyPlays(t0, "c", "d", "e")

	src := &scriptedSource{name: "lastfm", kind: source.KindHistory}
	p := discovery.NewPoller(src, discovery.WithStore(store))
	src.push(source.Snapshot{History: base})
	p.Poll(context.Background())

	saved, err := store.LoadHistory("history/lastfm")
	require.NoError(t, err)
	require.Len(t, saved, 3)
	assert.Equal(t, "c", saved[0].Data.Track)

	// A new poller seeded from the store treats the same list as known.
	out := &collector{}
	src2 := &scriptedSource{name: "lastfm", kind: source.KindHistory}
	p2 := discovery.NewPoller(src2, discovery.WithStore(store), discovery.WithHandoff(out.handoff))
	newer := historyPlays(t0.Add(4*time.Minute), "b")
	src2.push(source.Snapshot{History: append(newer, base...)})
	p2.Poll(context.Background())

	assert.Equal(t, []string{"b"}, out.tracks())
}

func TestPollerHistorySkipsMalformedEntries(t *testing.T) {
	src := &scriptedSource{name: "lastfm", kind: source.KindHistory}
	p := discovery.NewPoller(src)

	list := historyPlays(t0, "a", "", "c")
	src.push(source.Snapshot{History: list})
	p.Poll(context.Background())

	assert.Equal(t, 2, p.Status().History)
}

func TestPollerRepeatReachesClientTwice(t *testing.T) {
	client := &fakeClient{name: "lastfm"}
	d := discovery.NewDispatcher(client)
	p, src, _, clock := newPositional(t, discovery.WithHandoff(func(ctx context.Context, _ string, pl play.Play) {
		d.Handle(ctx, pl)
	}))

	step(p, src, clock, 0, playing("A", 0))
	for pos := 10; pos <= 190; pos += 10 {
		step(p, src, clock, 10*time.Second, playing("A", float64(pos)))
	}
	step(p, src, clock, 10*time.Second, playing("A", 0))
	for pos := 10; pos <= 120; pos += 10 {
		step(p, src, clock, 10*time.Second, playing("A", float64(pos)))
	}
	step(p, src, clock, 10*time.Second, playing("B", 0))

	require.Equal(t, 2, client.count())
	assert.Zero(t, d.Status().Duplicates)
	assert.True(t, client.submitted[1].Data.PlayDate.After(client.submitted[0].Data.PlayDate))
}

// slowSource blocks in FetchSnapshot until released.
type slowSource struct {
	scriptedSource
	entered chan struct{}
	release chan struct{}
}

func (s *slowSource) FetchSnapshot(ctx context.Context) (source.Snapshot, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.scriptedSource.FetchSnapshot(ctx)
}

func TestPollerStatusDoesNotWaitForFetch(t *testing.T) {
	src := &slowSource{
		scriptedSource: scriptedSource{name: "lastfm", kind: source.KindHistory},
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	src.push(source.Snapshot{History: historyPlays(t0, "a", "b", "c")})
	p := discovery.NewPoller(src, discovery.WithPollerClock(play.NewManualClock(t0)))

	done := make(chan struct{})
	go func() {
		p.Poll(context.Background())
		close(done)
	}()
	<-src.entered

	got := make(chan discovery.PollerStatus, 1)
	go func() { got <- p.Status() }()
	select {
	case st := <-got:
		assert.Zero(t, st.History)
	case <-time.After(time.Second):
		t.Fatal("Status blocked on the in-flight fetch")
	}

	close(src.release)
	<-done
	assert.Equal(t, 3, p.Status().History)
}
