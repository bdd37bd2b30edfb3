package discovery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/history"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/player"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/source"
)

// PollerConfig contains configuration for a poller
type PollerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	Scrobble   play.ScrobbleThresholds
	Positions  play.PositionThresholds
}

// DefaultPollerConfig returns the default poller configuration
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:   10 * time.Second,
		StaleAfter: 5 * time.Minute,
		Positions:  play.DefaultPositionThresholds(),
	}
}

// PollerOption is a functional option for configuring the poller
type PollerOption func(*Poller)

// WithInterval sets the time between polls
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.config.Interval = d
		}
	}
}

// WithStaleAfter sets how long a player may be inactive before its session is finished
func WithStaleAfter(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.config.StaleAfter = d
		}
	}
}

// WithScrobbleThresholds sets the thresholds a finished positional play must pass
func WithScrobbleThresholds(t play.ScrobbleThresholds) PollerOption {
	return func(p *Poller) {
		p.config.Scrobble = t
	}
}

// WithPositionThresholds sets the close-to-start/end and repeat thresholds
func WithPositionThresholds(t play.PositionThresholds) PollerOption {
	return func(p *Poller) {
		p.config.Positions = t
	}
}

// WithPollerClock sets the time source
func WithPollerClock(c play.Clock) PollerOption {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithStore sets where history lists are persisted
func WithStore(s Store) PollerOption {
	return func(p *Poller) {
		p.store = s
	}
}

// WithNotifier sets the receiver of now-playing and discovery events
func WithNotifier(n Notifier) PollerOption {
	return func(p *Poller) {
		p.notifier = n
	}
}

// WithHandoff sets the receiver of discovered plays
func WithHandoff(h Handoff) PollerOption {
	return func(p *Poller) {
		p.handoff = h
	}
}

// PollerStatus is a snapshot of a poller's progress.
type PollerStatus struct {
	Source     string                   `json:"source"`
	Kind       source.Kind              `json:"kind"`
	Running    bool                     `json:"running"`
	Polls      int                      `json:"polls"`
	Discovered int                      `json:"discovered"`
	LastPoll   time.Time                `json:"lastPoll"`
	LastError  string                   `json:"lastError,omitempty"`
	Players    []map[string]interface{} `json:"players,omitempty"`
	History    int                      `json:"history,omitempty"`
}

// Poller periodically fetches snapshots from one source and reconciles them.
// Poll cycles never overlap.
type Poller struct {
	src      source.Source
	config   PollerConfig
	clock    play.Clock
	store    Store
	notifier Notifier
	handoff  Handoff

	// Owned by the polling goroutine.
	pollMu    sync.Mutex
	engine    *history.Engine
	players   map[string]*player.State
	announced map[string]string
	restored  bool

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	polls      int
	discovered int
	lastPoll   time.Time
	lastErr    string

	// Copied from the poll-owned state at the end of each cycle.
	playerSummary []map[string]interface{}
	historyLen    int
}

// NewPoller creates a poller for src.
func NewPoller(src source.Source, opts ...PollerOption) *Poller {
	p := &Poller{
		src:       src,
		config:    DefaultPollerConfig(),
		clock:     play.SystemClock{},
		notifier:  NopNotifier{},
		players:   make(map[string]*player.State),
		announced: make(map[string]string),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if src.Kind() == source.KindHistory {
		oldestFirst := false
		if o, ok := src.(source.HistoryOrder); ok {
			oldestFirst = o.OldestFirst()
		}
		p.engine = history.NewEngine(
			history.WithClock(p.clock),
			history.WithOldestFirst(oldestFirst),
		)
	}
	return p
}

// Name returns the source name.
func (p *Poller) Name() string {
	return p.src.Name()
}

// Start polls until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	log.Info().
		Str("source", p.src.Name()).
		Str("kind", string(p.src.Kind())).
		Dur("interval", p.config.Interval).
		Msg("Poller started")

	var triggers <-chan struct{}
	if t, ok := p.src.(source.Triggerer); ok {
		triggers = t.Triggers()
	}

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Poll immediately on start
	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("source", p.src.Name()).Msg("Poller stopping (context cancelled)")
			return
		case <-stopCh:
			log.Info().Str("source", p.src.Name()).Msg("Poller stopping (stop requested)")
			return
		case <-ticker.C:
			p.Poll(ctx)
		case <-triggers:
			p.Poll(ctx)
		}
	}
}

// Stop stops the poller
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		close(p.stopCh)
		p.running = false
	}
}

// IsRunning returns whether the poller is currently running
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Status returns a snapshot of the poller's progress.
func (p *Poller) Status() PollerStatus {
	p.mu.Lock()
	st := PollerStatus{
		Source:     p.src.Name(),
		Kind:       p.src.Kind(),
		Running:    p.running,
		Polls:      p.polls,
		Discovered: p.discovered,
		LastPoll:   p.lastPoll,
		LastError:  p.lastErr,
		Players:    p.playerSummary,
		History:    p.historyLen,
	}
	p.mu.Unlock()
	return st
}

// refreshSummary copies the player and history state read by Status. Callers
// hold pollMu.
func (p *Poller) refreshSummary() {
	var players []map[string]interface{}
	for _, key := range sortedKeys(p.players) {
		players = append(players, p.players[key].ToJSON())
	}
	historyLen := 0
	if p.engine != nil {
		historyLen = len(p.engine.Latest())
	}

	p.mu.Lock()
	p.playerSummary = players
	p.historyLen = historyLen
	p.mu.Unlock()
}

// Poll runs one fetch and reconcile cycle. When ctx is cancelled while the
// fetch is in flight the result is discarded.
func (p *Poller) Poll(ctx context.Context) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()
	defer p.refreshSummary()

	p.restoreHistory()

	snap, err := p.src.FetchSnapshot(ctx)
	if ctx.Err() != nil {
		log.Debug().Str("source", p.src.Name()).Msg("Poll abandoned")
		return
	}

	p.mu.Lock()
	p.polls++
	p.lastPoll = p.clock.Now()
	if err != nil {
		p.lastErr = err.Error()
	} else {
		p.lastErr = ""
	}
	p.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("source", p.src.Name()).Msg("Failed to fetch snapshot")
		return
	}

	switch p.src.Kind() {
	case source.KindHistory:
		p.reconcileHistory(ctx, snap.History)
	default:
		p.reconcilePlayers(ctx, snap.Players)
	}
}

func (p *Poller) reconcilePlayers(ctx context.Context, players []source.PlayerStateData) {
	now := p.clock.Now()
	seen := make(map[string]bool, len(players))

	for _, data := range players {
		if err := data.Normalize(); err != nil {
			log.Warn().Err(err).Str("source", p.src.Name()).Msg("Ignoring malformed player snapshot")
			continue
		}
		key := data.Platform.String()
		st, ok := p.players[key]

		if data.Play == nil {
			// Nothing loaded: the session ends where it was last observed.
			if ok {
				p.evaluate(ctx, st.Expire())
				seen[key] = !st.IsStale(now, p.config.StaleAfter)
			}
			p.announce(data)
			continue
		}

		if !ok {
			if data.Status == player.StatusStopped {
				p.announce(data)
				continue
			}
			st = player.NewState(data.Platform,
				player.WithClock(p.clock),
				player.WithThresholds(p.config.Positions),
			)
			p.players[key] = st
			log.Debug().Str("source", p.src.Name()).Str("platform", key).Msg("New player")
		}
		seen[key] = true

		switch {
		case data.Status == player.StatusStopped:
			seen[key] = !st.IsStale(now, p.config.StaleAfter)
			if st.CurrentPlay() != nil {
				_, finished := st.SetPlay(*data.Play, data.Status)
				p.evaluate(ctx, finished)
				p.evaluate(ctx, st.Finish())
			}
		default:
			_, finished := st.SetPlay(*data.Play, data.Status)
			p.evaluate(ctx, finished)
			if data.Status != player.StatusPlaying && st.CurrentPlay() != nil && st.IsStale(now, p.config.StaleAfter) {
				log.Info().
					Str("source", p.src.Name()).
					Str("platform", key).
					Str("lastActive", humanize.Time(st.LastActivity())).
					Msg("Player paused too long, finishing session")
				p.evaluate(ctx, st.Expire())
			}
		}
		p.announce(data)
	}

	for key, st := range p.players {
		if seen[key] || !st.IsStale(now, p.config.StaleAfter) {
			continue
		}
		log.Info().
			Str("source", p.src.Name()).
			Str("platform", key).
			Str("lastActive", humanize.Time(st.LastActivity())).
			Msg("Player is stale, finishing session")
		p.evaluate(ctx, st.Expire())
		delete(p.players, key)
		delete(p.announced, key)
	}
}

// evaluate emits a finished play when it passes the scrobble threshold.
func (p *Poller) evaluate(ctx context.Context, finished *play.Play) {
	if finished != nil {
		p.evaluateFinished(ctx, *finished)
	}
}

func (p *Poller) evaluateFinished(ctx context.Context, pl play.Play) {
	res := play.TimePassesScrobbleThreshold(p.config.Scrobble, pl.Data.ListenedFor, pl.Data.Duration)
	if !res.Passes {
		log.Debug().
			Str("source", p.src.Name()).
			Str("play", pl.String()).
			Str("threshold", res.String()).
			Msg("Finished play did not pass scrobble threshold")
		return
	}

	log.Info().
		Str("source", p.src.Name()).
		Str("play", pl.String()).
		Float64("listenedFor", pl.Data.ListenedFor).
		Msg("Discovered play")
	pl.Meta.NewFromSource = true
	p.emit(ctx, pl)
}

func (p *Poller) announce(data source.PlayerStateData) {
	key := data.Platform.String()
	sig := string(data.Status)
	if data.Play != nil {
		sig += "|" + play.ContentKey(*data.Play)
	}
	if p.announced[key] == sig {
		return
	}
	p.announced[key] = sig
	p.notifier.NowPlaying(p.src.Name(), data)
}

func (p *Poller) reconcileHistory(ctx context.Context, list []play.Play) {
	valid := make([]play.Play, 0, len(list))
	for _, pl := range list {
		if err := pl.Normalize(); err != nil {
			log.Warn().Err(err).Str("source", p.src.Name()).Msg("Ignoring malformed history entry")
			continue
		}
		valid = append(valid, pl)
	}

	rev := p.engine.Revision()
	res := p.engine.Evaluate(valid)

	ev := log.Debug()
	if !res.Consistent {
		ev = log.Info()
	}
	ev.Str("source", p.src.Name()).
		Bool("consistent", res.Consistent).
		Str("diffType", string(res.DiffType)).
		Str("shape", string(res.Shape)).
		Int("discovered", len(res.Plays)).
		Str("reason", res.Reason).
		Msg("History evaluated")

	for _, pl := range res.Chronological() {
		p.emit(ctx, pl)
	}

	if p.engine.Revision() != rev {
		p.persistHistory()
	}
}

func (p *Poller) emit(ctx context.Context, pl play.Play) {
	p.mu.Lock()
	p.discovered++
	p.mu.Unlock()

	p.notifier.Discovered(p.src.Name(), pl)
	if p.handoff != nil {
		p.handoff(ctx, p.src.Name(), pl)
	}
}

func (p *Poller) historyKey() string {
	return "history/" + p.src.Name()
}

func (p *Poller) restoreHistory() {
	if p.restored || p.engine == nil {
		return
	}
	p.restored = true
	if p.store == nil {
		return
	}

	plays, err := p.store.LoadHistory(p.historyKey())
	if err != nil {
		log.Warn().Err(err).Str("source", p.src.Name()).Msg("Failed to restore history")
		return
	}
	if len(plays) == 0 {
		return
	}
	if o, ok := p.src.(source.HistoryOrder); ok && o.OldestFirst() {
		reverse(plays)
	}
	p.engine.Seed(plays)
	log.Info().Str("source", p.src.Name()).Int("plays", len(plays)).Msg("Restored history")
}

func (p *Poller) persistHistory() {
	if p.store == nil {
		return
	}
	if err := p.store.SaveHistory(p.historyKey(), p.engine.Latest()); err != nil {
		log.Warn().Err(err).Str("source", p.src.Name()).Msg("Failed to persist history")
	}
}

func reverse(plays []play.Play) {
	for i, j := 0, len(plays)-1; i < j; i, j = i+1, j-1 {
		plays[i], plays[j] = plays[j], plays[i]
	}
}

func sortedKeys(m map[string]*player.State) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
