package history

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/edumarques81/stellar-scrobbler/internal/domain/play"
)

// DiffType summarizes what Evaluate found.
type DiffType string

const (
	DiffNone  DiffType = "none"
	DiffAdded DiffType = "added"
	DiffBump  DiffType = "bump"
)

const (
	defaultSeenSnapshots = 10
	defaultDiscoveredCap = 500
)

// Result is the outcome of evaluating one fetched list.
type Result struct {
	// Plays are the newly discovered plays, in list order (newest first).
	Plays      []play.Play `json:"plays"`
	Consistent bool        `json:"consistent"`
	DiffType   DiffType    `json:"diffType"`
	Shape      Shape       `json:"shape"`
	Reason     string      `json:"reason,omitempty"`
	Changes    []Change    `json:"diffResults,omitempty"`
}

// Chronological returns the discovered plays oldest first.
func (r Result) Chronological() []play.Play {
	out := make([]play.Play, len(r.Plays))
	for i, p := range r.Plays {
		out[len(r.Plays)-1-i] = p
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for skip detection.
func WithClock(c play.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithOldestFirst declares that the source lists plays oldest first.
func WithOldestFirst(v bool) Option {
	return func(e *Engine) {
		e.oldestFirst = v
	}
}

// WithSkipDetection toggles excluding plays that could not have been listened to
// in the time since the previous evaluation.
func WithSkipDetection(v bool) Option {
	return func(e *Engine) {
		e.skipDetection = v
	}
}

// WithSeenSnapshots sets how many earlier known-good lists are remembered for
// stale data detection.
func WithSeenSnapshots(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.seenCap = n
		}
	}
}

// Engine tracks the last known-good history list of one source and classifies each
// newly fetched list against it. It is safe for concurrent use but expects calls to
// Evaluate in the order fetches completed.
type Engine struct {
	mu sync.Mutex

	clock         play.Clock
	oldestFirst   bool
	skipDetection bool
	seenCap       int

	hasBaseline   bool
	latest        []play.Play // Newest first
	latestFP      string
	lastEvaluated time.Time
	revision      int

	seen      []string // Fingerprints of earlier known-good lists, oldest first
	candidate string   // Fingerprint of an unexplained list awaiting confirmation

	discovered      map[string]struct{}
	discoveredOrder []string
}

// NewEngine creates an engine with no baseline.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:         play.SystemClock{},
		skipDetection: true,
		seenCap:       defaultSeenSnapshots,
		discovered:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Seed sets the known-good list without discovering anything, e.g. after
// restoring persisted state. Skip detection is off until the next evaluation.
func (e *Engine) Seed(list []play.Play) {
	e.mu.Lock()
	defer e.mu.Unlock()

	plays := e.ordered(list)
	e.hasBaseline = true
	e.latest = plays
	e.latestFP = fingerprint(plays)
	e.lastEvaluated = time.Time{}
	e.candidate = ""
	e.revision++
}

// Latest returns the known-good list, newest first.
func (e *Engine) Latest() []play.Play {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]play.Play, len(e.latest))
	for i, p := range e.latest {
		out[i] = p.Clone()
	}
	return out
}

// Revision increases every time the known-good list changes.
func (e *Engine) Revision() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revision
}

// Evaluate compares a freshly fetched list with the known-good one and returns the
// plays that are safe to treat as newly discovered.
func (e *Engine) Evaluate(list []play.Play) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	plays := e.ordered(list)
	fp := fingerprint(plays)

	// An empty list never replaces the known one, not even as the first baseline.
	if len(plays) == 0 {
		return Result{
			Consistent: false,
			DiffType:   DiffNone,
			Shape:      ShapeNone,
			Reason:     "upstream returned an empty list, keeping the known list",
		}
	}

	if !e.hasBaseline {
		e.hasBaseline = true
		e.adopt(plays, fp)
		e.lastEvaluated = now
		return Result{Consistent: true, DiffType: DiffNone, Shape: ShapeNone, Reason: "initial list"}
	}

	var gap time.Duration
	if !e.lastEvaluated.IsZero() {
		gap = now.Sub(e.lastEvaluated)
	}
	e.lastEvaluated = now

	if fp == e.latestFP {
		e.candidate = ""
		return Result{Consistent: true, DiffType: DiffNone, Shape: ShapeNone}
	}
	if e.isSeen(fp) {
		return Result{
			Consistent: false,
			DiffType:   DiffNone,
			Shape:      ShapeNone,
			Reason:     "list is identical to an earlier snapshot, upstream returned stale data",
		}
	}

	changes := Diff(contentKeys(e.latest), contentKeys(plays))
	class := Classify(changes, len(e.latest), len(plays))
	res := Result{
		Consistent: class.Consistent,
		DiffType:   diffTypeFor(class.Shape),
		Shape:      class.Shape,
		Reason:     class.Reason,
		Changes:    changes,
	}

	// A truncated list carries nothing new. Keep comparing against the longer one
	// so a later full list is not mistaken for stale data.
	if class.Consistent && class.Shape == ShapeNone && len(plays) < len(e.latest) {
		e.candidate = ""
		return res
	}

	if !class.Consistent {
		if e.candidate == fp {
			e.adopt(plays, fp)
			res.Consistent = true
			res.DiffType = DiffNone
			res.Reason = fmt.Sprintf("%s list seen twice in a row, accepted as the new baseline", class.Shape)
			return res
		}
		e.candidate = fp
		return res
	}

	var newestKnown time.Time
	if len(e.latest) > 0 {
		newestKnown = e.latest[0].Data.PlayDate
	}

	candidates := make([]play.Play, 0, len(class.Discover))
	for _, idx := range class.Discover {
		candidates = append(candidates, plays[idx])
	}
	res.Plays, res.Reason = e.filterDiscovered(candidates, newestKnown, gap, res.Reason)
	if res.DiffType == DiffBump && len(res.Plays) == 0 {
		res.DiffType = DiffNone
	}
	if res.DiffType == DiffAdded && len(res.Plays) == 0 {
		res.DiffType = DiffNone
	}

	e.adopt(plays, fp)
	return res
}

// filterDiscovered drops candidates that are older than the known-good list,
// already discovered, or could not have been played within gap. Candidates are
// newest first.
func (e *Engine) filterDiscovered(candidates []play.Play, newestKnown time.Time, gap time.Duration, reason string) ([]play.Play, string) {
	var dropped []string
	budget := gap.Seconds()
	out := make([]play.Play, 0, len(candidates))

	for i, p := range candidates {
		if p.HasPlayDate() && !newestKnown.IsZero() && p.Data.PlayDate.Before(newestKnown) {
			dropped = append(dropped, fmt.Sprintf("%q is older than the newest known play", p.Data.Track))
			continue
		}
		key := play.IdentityKey(p)
		if p.HasPlayDate() {
			if _, ok := e.discovered[key]; ok {
				dropped = append(dropped, fmt.Sprintf("%q was already discovered", p.Data.Track))
				continue
			}
		}
		if e.skipDetection && gap > 0 && i > 0 && p.HasDuration() {
			if p.Data.Duration > budget {
				dropped = append(dropped, fmt.Sprintf("%q (%.0fs) does not fit in the %.0fs since the last check", p.Data.Track, p.Data.Duration, gap.Seconds()))
				continue
			}
			budget -= p.Data.Duration
		}

		p.Meta.NewFromSource = true
		out = append(out, p)
		if p.HasPlayDate() {
			e.markDiscovered(key)
		}
	}

	if len(dropped) > 0 {
		if reason != "" {
			reason += "; "
		}
		reason += "excluded " + strings.Join(dropped, ", ")
	}
	return out, reason
}

func (e *Engine) adopt(plays []play.Play, fp string) {
	if e.latestFP != "" && e.latestFP != fp {
		e.seen = append(e.seen, e.latestFP)
		if len(e.seen) > e.seenCap {
			e.seen = e.seen[len(e.seen)-e.seenCap:]
		}
	}
	e.latest = plays
	e.latestFP = fp
	e.candidate = ""
	e.revision++
}

func (e *Engine) isSeen(fp string) bool {
	for _, s := range e.seen {
		if s == fp {
			return true
		}
	}
	return false
}

func (e *Engine) markDiscovered(key string) {
	if _, ok := e.discovered[key]; ok {
		return
	}
	e.discovered[key] = struct{}{}
	e.discoveredOrder = append(e.discoveredOrder, key)
	if len(e.discoveredOrder) > defaultDiscoveredCap {
		oldest := e.discoveredOrder[0]
		e.discoveredOrder = e.discoveredOrder[1:]
		delete(e.discovered, oldest)
	}
}

// ordered returns a newest-first copy of list.
func (e *Engine) ordered(list []play.Play) []play.Play {
	out := make([]play.Play, len(list))
	for i, p := range list {
		if e.oldestFirst {
			out[len(list)-1-i] = p.Clone()
		} else {
			out[i] = p.Clone()
		}
	}
	return out
}

func diffTypeFor(s Shape) DiffType {
	switch s {
	case ShapePrepend, ShapeAppend, ShapeInsert:
		return DiffAdded
	case ShapeBump:
		return DiffBump
	default:
		return DiffNone
	}
}

func contentKeys(plays []play.Play) []string {
	keys := make([]string, len(plays))
	for i, p := range plays {
		keys[i] = play.ContentKey(p)
	}
	return keys
}

func fingerprint(plays []play.Play) string {
	keys := make([]string, len(plays))
	for i, p := range plays {
		keys[i] = play.IdentityKey(p)
	}
	return strings.Join(keys, "\n")
}
