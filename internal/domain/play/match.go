package play

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rainycape/unidecode"
)

// TemporalAccuracy classifies how closely the dates of two plays align.
type TemporalAccuracy int

const (
	TemporalNone TemporalAccuracy = iota
	TemporalFuzzy
	TemporalClose
	TemporalExact
)

func (a TemporalAccuracy) String() string {
	switch a {
	case TemporalExact:
		return "exact"
	case TemporalClose:
		return "close"
	case TemporalFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// DefaultAccuracies is the set accepted by GenericSourcePlayMatch when the caller passes none.
var DefaultAccuracies = []TemporalAccuracy{TemporalExact, TemporalClose}

// TemporalOptions tunes CompareTemporalAccuracy.
type TemporalOptions struct {
	ExactSeconds float64 // Max difference for TemporalExact
	CloseSeconds float64 // Max difference for TemporalClose
	// UseDuration also compares one play's end (start+duration) against the other's
	// start, for sources that stamp plays when they finish. Off by default: with it
	// a back-to-back replay of the same track rates as close.
	UseDuration bool
}

// DefaultTemporalOptions returns the tolerances used when none are given.
func DefaultTemporalOptions() TemporalOptions {
	return TemporalOptions{ExactSeconds: 1, CloseSeconds: 10}
}

// CompareTemporalAccuracy classifies the play dates of a and b. Plays without a
// date never match temporally.
func CompareTemporalAccuracy(a, b Play, opts *TemporalOptions) TemporalAccuracy {
	if !a.HasPlayDate() || !b.HasPlayDate() {
		return TemporalNone
	}
	o := DefaultTemporalOptions()
	if opts != nil {
		o = *opts
	}

	aStart := a.Data.PlayDate
	bStart := b.Data.PlayDate
	diff := math.Abs(aStart.Sub(bStart).Seconds())
	if diff <= o.ExactSeconds {
		return TemporalExact
	}
	if diff <= o.CloseSeconds {
		return TemporalClose
	}

	if o.UseDuration {
		if a.HasDuration() {
			end := aStart.Add(secondsToDuration(a.Data.Duration))
			if math.Abs(end.Sub(bStart).Seconds()) <= o.CloseSeconds {
				return TemporalClose
			}
		}
		if b.HasDuration() {
			end := bStart.Add(secondsToDuration(b.Data.Duration))
			if math.Abs(end.Sub(aStart).Seconds()) <= o.CloseSeconds {
				return TemporalClose
			}
		}
	}

	// One play started while the other was playing.
	if a.HasDuration() {
		end := aStart.Add(secondsToDuration(a.Data.Duration))
		if !bStart.Before(aStart) && !bStart.After(end) {
			return TemporalFuzzy
		}
	}
	if b.HasDuration() {
		end := bStart.Add(secondsToDuration(b.Data.Duration))
		if !aStart.Before(bStart) && !aStart.After(end) {
			return TemporalFuzzy
		}
	}
	return TemporalNone
}

// ContentMatch reports whether a and b are the same recording, ignoring when they
// were played. Stable identifiers short-circuit the text comparison.
func ContentMatch(a, b Play) bool {
	if a.Meta.TrackID != "" && b.Meta.TrackID != "" && a.Meta.Source == b.Meta.Source {
		return a.Meta.TrackID == b.Meta.TrackID
	}
	if a.Meta.MBID.Recording != "" && b.Meta.MBID.Recording != "" {
		return strings.EqualFold(a.Meta.MBID.Recording, b.Meta.MBID.Recording)
	}

	if NormalizeText(a.Data.Track) != NormalizeText(b.Data.Track) {
		return false
	}
	// A source that reports no artists cannot contradict one that does.
	if len(a.Data.Artists) == 0 || len(b.Data.Artists) == 0 {
		return true
	}
	if artistKey(a.Data.Artists) == artistKey(b.Data.Artists) {
		return true
	}
	// Services that take a single artist string get "A, B" back for [A B].
	return NormalizeText(strings.Join(a.Data.Artists, " ")) == NormalizeText(strings.Join(b.Data.Artists, " "))
}

// GenericSourcePlayMatch reports whether a and b are the same listen: same content
// and a temporal accuracy within accept (DefaultAccuracies when empty).
func GenericSourcePlayMatch(a, b Play, accept []TemporalAccuracy, opts *TemporalOptions) bool {
	if !ContentMatch(a, b) {
		return false
	}
	if len(accept) == 0 {
		accept = DefaultAccuracies
	}
	acc := CompareTemporalAccuracy(a, b, opts)
	for _, want := range accept {
		if acc == want {
			return true
		}
	}
	return false
}

// ContentKey returns a normalized track and artists key for a play's content.
// Identifiers are left out so the key does not change when a source reports
// them on one fetch and omits them on the next.
func ContentKey(p Play) string {
	return NormalizeText(p.Data.Track) + "|" + artistKey(p.Data.Artists)
}

// IdentityKey returns a key for a specific listen: content plus play date.
func IdentityKey(p Play) string {
	key := NormalizeText(p.Data.Track) + "|" + artistKey(p.Data.Artists) + "|" + NormalizeText(p.Data.Album)
	if p.HasPlayDate() {
		key += "@" + strconv.FormatInt(p.Data.PlayDate.Unix(), 10)
	}
	return key
}

// NormalizeText folds s to lowercase ASCII with punctuation removed and whitespace collapsed.
func NormalizeText(s string) string {
	s = strings.ToLower(unidecode.Unidecode(s))
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func artistKey(artists []string) string {
	norm := make([]string, 0, len(artists))
	for _, a := range artists {
		if n := NormalizeText(a); n != "" {
			norm = append(norm, n)
		}
	}
	sort.Strings(norm)
	return strings.Join(norm, ",")
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
