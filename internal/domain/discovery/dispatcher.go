package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
)

// DispatcherConfig contains configuration for a dispatcher
type DispatcherConfig struct {
	QueueSize     int
	WindowSize    int
	WindowTTL     time.Duration
	FetchWindow   time.Duration // Upstream listens within this distance of a play are compared
	RetryInterval time.Duration
	RetryBatch    int
	MaxAttempts   int
	Accept        []play.TemporalAccuracy
	Temporal      play.TemporalOptions
}

// DefaultDispatcherConfig returns the default dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:     100,
		WindowSize:    200,
		WindowTTL:     24 * time.Hour,
		FetchWindow:   10 * time.Minute,
		RetryInterval: 5 * time.Minute,
		RetryBatch:    20,
		MaxAttempts:   10,
		Accept:        play.DefaultAccuracies,
		Temporal:      play.DefaultTemporalOptions(),
	}
}

// DispatcherOption is a functional option for configuring the dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherConfig replaces the whole configuration
func WithDispatcherConfig(c DispatcherConfig) DispatcherOption {
	return func(d *Dispatcher) {
		d.config = c
	}
}

// WithWindow sets the size and lifetime of the duplicate window
func WithWindow(size int, ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.config.WindowSize = size
		}
		if ttl > 0 {
			d.config.WindowTTL = ttl
		}
	}
}

// WithRetryInterval sets how often queued plays are retried
func WithRetryInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.config.RetryInterval = interval
		}
	}
}

// WithDispatcherClock sets the time source
func WithDispatcherClock(c play.Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = c
	}
}

// WithDispatcherStore sets the scrobble log and retry queue
func WithDispatcherStore(s Store) DispatcherOption {
	return func(d *Dispatcher) {
		d.store = s
	}
}

// WithDispatcherNotifier sets the receiver of scrobbled events
func WithDispatcherNotifier(n Notifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.notifier = n
	}
}

// DispatcherStatus is a snapshot of a dispatcher's counters.
type DispatcherStatus struct {
	Client     string `json:"client"`
	Running    bool   `json:"running"`
	Queued     int    `json:"queued"`
	Window     int    `json:"window"`
	Scrobbled  int    `json:"scrobbled"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	Deferred   int    `json:"deferred"`
}

// Dispatcher submits discovered plays to one client, skipping plays the client
// has already received.
type Dispatcher struct {
	client   Client
	fetcher  ListenFetcher
	store    Store
	notifier Notifier
	config   DispatcherConfig
	clock    play.Clock

	queue  chan play.Play
	window *expirable.LRU[string, play.Play]

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	scrobbled  int
	duplicates int
	failed     int
	deferred   int
}

// NewDispatcher creates a dispatcher for client. If the client implements
// ListenFetcher its upstream listens are consulted before each submission.
func NewDispatcher(client Client, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		client:   client,
		notifier: NopNotifier{},
		config:   DefaultDispatcherConfig(),
		clock:    play.SystemClock{},
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if f, ok := client.(ListenFetcher); ok {
		d.fetcher = f
	}
	if len(d.config.Accept) == 0 {
		d.config.Accept = play.DefaultAccuracies
	}
	if d.config.Temporal == (play.TemporalOptions{}) {
		d.config.Temporal = play.DefaultTemporalOptions()
	}

	d.queue = make(chan play.Play, d.config.QueueSize)
	d.window = expirable.NewLRU[string, play.Play](d.config.WindowSize, nil, d.config.WindowTTL)
	return d
}

// Name returns the client name.
func (d *Dispatcher) Name() string {
	return d.client.Name()
}

// Enqueue hands p to the dispatcher. It blocks while the queue is full until
// ctx is done.
func (d *Dispatcher) Enqueue(ctx context.Context, p play.Play) error {
	select {
	case d.queue <- p.Clone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue hands p to the dispatcher without blocking.
func (d *Dispatcher) TryEnqueue(p play.Play) error {
	select {
	case d.queue <- p.Clone():
		return nil
	default:
		return ErrQueueFull
	}
}

// Start processes queued plays and retries until ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.stopCh = make(chan struct{})
	stopCh := d.stopCh
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	log.Info().
		Str("client", d.client.Name()).
		Bool("listenFetcher", d.fetcher != nil).
		Dur("retryInterval", d.config.RetryInterval).
		Msg("Dispatcher started")

	ticker := time.NewTicker(d.config.RetryInterval)
	defer ticker.Stop()

	d.SeedWindow()
	d.RetryPending(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("client", d.client.Name()).Msg("Dispatcher stopping (context cancelled)")
			return
		case <-stopCh:
			log.Info().Str("client", d.client.Name()).Msg("Dispatcher stopping (stop requested)")
			return
		case p := <-d.queue:
			d.Handle(ctx, p)
		case <-ticker.C:
			d.RetryPending(ctx)
		}
	}
}

// Stop stops the dispatcher
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		close(d.stopCh)
		d.running = false
	}
}

// IsRunning returns whether the dispatcher is currently running
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Status returns the dispatcher's counters.
func (d *Dispatcher) Status() DispatcherStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DispatcherStatus{
		Client:     d.client.Name(),
		Running:    d.running,
		Queued:     len(d.queue),
		Window:     d.window.Len(),
		Scrobbled:  d.scrobbled,
		Duplicates: d.duplicates,
		Failed:     d.failed,
		Deferred:   d.deferred,
	}
}

// Handle submits a single play unless it is a duplicate.
func (d *Dispatcher) Handle(ctx context.Context, p play.Play) {
	if d.IsDuplicate(ctx, p) {
		d.count(&d.duplicates)
		log.Info().
			Str("client", d.client.Name()).
			Str("play", p.String()).
			Msg("Skipping duplicate play")
		return
	}

	err := d.client.Scrobble(ctx, p)
	if err == nil {
		d.accepted(p)
		return
	}

	if IsPermanentError(err) {
		d.count(&d.failed)
		log.Error().
			Err(err).
			Str("client", d.client.Name()).
			Str("play", p.String()).
			Msg("Scrobble rejected, dropping play")
		return
	}

	d.count(&d.deferred)
	log.Warn().
		Err(err).
		Str("client", d.client.Name()).
		Str("play", p.String()).
		Msg("Scrobble failed, queued for retry")
	if d.store != nil {
		if err := d.store.EnqueuePending(d.client.Name(), p, err); err != nil {
			log.Error().Err(err).Str("client", d.client.Name()).Msg("Failed to queue play for retry")
		}
	}
}

// IsDuplicate reports whether p matches a play already handled by this
// dispatcher or, when available, a listen the client already holds upstream.
func (d *Dispatcher) IsDuplicate(ctx context.Context, p play.Play) bool {
	for _, seen := range d.window.Values() {
		if play.GenericSourcePlayMatch(seen, p, d.config.Accept, &d.config.Temporal) {
			return true
		}
	}

	if d.fetcher == nil || !p.HasPlayDate() {
		return false
	}

	from := p.Data.PlayDate.Add(-d.config.FetchWindow)
	to := p.Data.PlayDate.Add(d.config.FetchWindow)
	listens, err := d.fetcher.RecentListens(ctx, from, to)
	if err != nil {
		log.Warn().Err(err).Str("client", d.client.Name()).Msg("Failed to fetch upstream listens for duplicate check")
		return false
	}
	for _, l := range listens {
		if play.GenericSourcePlayMatch(l, p, d.config.Accept, &d.config.Temporal) {
			d.window.Add(play.IdentityKey(l), l)
			return true
		}
	}
	return false
}

// RetryPending resubmits queued plays. Plays that fail permanently or exhaust
// their attempts are removed from the queue.
func (d *Dispatcher) RetryPending(ctx context.Context) {
	if d.store == nil {
		return
	}

	pending, err := d.store.ListPending(d.client.Name(), d.config.RetryBatch)
	if err != nil {
		log.Error().Err(err).Str("client", d.client.Name()).Msg("Failed to list pending scrobbles")
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Debug().Str("client", d.client.Name()).Int("count", len(pending)).Msg("Retrying pending scrobbles")

	for _, item := range pending {
		if ctx.Err() != nil {
			return
		}
		d.retry(ctx, item)
	}
}

func (d *Dispatcher) retry(ctx context.Context, item PendingPlay) {
	if d.IsDuplicate(ctx, item.Play) {
		d.count(&d.duplicates)
		d.deletePending(item.ID)
		return
	}

	err := d.client.Scrobble(ctx, item.Play)
	switch {
	case err == nil:
		d.deletePending(item.ID)
		d.accepted(item.Play)
	case IsPermanentError(err):
		d.count(&d.failed)
		log.Error().Err(err).Str("client", d.client.Name()).Str("play", item.Play.String()).Msg("Pending scrobble rejected, dropping")
		d.deletePending(item.ID)
	case item.Attempts+1 >= d.config.MaxAttempts:
		d.count(&d.failed)
		log.Warn().
			Err(err).
			Str("client", d.client.Name()).
			Int("attempts", item.Attempts+1).
			Str("play", item.Play.String()).
			Msg("Max retries exceeded, dropping pending scrobble")
		d.deletePending(item.ID)
	default:
		if err := d.store.MarkPendingFailed(item.ID, err); err != nil {
			log.Error().Err(err).Str("id", item.ID).Msg("Failed to update pending scrobble")
		}
	}
}

// SeedWindow fills the duplicate window from the scrobble log, so plays
// submitted before a restart are still recognised.
func (d *Dispatcher) SeedWindow() {
	if d.store == nil {
		return
	}
	plays, err := d.store.RecentScrobbles(d.client.Name(), d.clock.Now().Add(-d.config.WindowTTL), d.config.WindowSize)
	if err != nil {
		log.Warn().Err(err).Str("client", d.client.Name()).Msg("Failed to load scrobble log")
		return
	}
	// Oldest first so the newest survive eviction.
	for i := len(plays) - 1; i >= 0; i-- {
		d.window.Add(play.IdentityKey(plays[i]), plays[i])
	}
	if len(plays) > 0 {
		log.Debug().Str("client", d.client.Name()).Int("plays", len(plays)).Msg("Duplicate window restored")
	}
}

func (d *Dispatcher) accepted(p play.Play) {
	d.window.Add(play.IdentityKey(p), p)
	d.count(&d.scrobbled)

	log.Info().Str("client", d.client.Name()).Str("play", p.String()).Msg("Scrobbled")

	if d.store != nil {
		if err := d.store.RecordScrobble(d.client.Name(), p); err != nil {
			log.Warn().Err(err).Str("client", d.client.Name()).Msg("Failed to record scrobble")
		}
	}
	d.notifier.Scrobbled(d.client.Name(), p)
}

func (d *Dispatcher) deletePending(id string) {
	if err := d.store.DeletePending(id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete pending scrobble")
	}
}

func (d *Dispatcher) count(c *int) {
	d.mu.Lock()
	*c++
	d.mu.Unlock()
}
