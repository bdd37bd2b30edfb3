package play

import (
	"fmt"
)

// Default comparator thresholds.
const (
	DefaultCloseToStartSeconds = 10.0
	DefaultCloseToStartPercent = 15.0
	DefaultCloseToEndSeconds   = 10.0
	DefaultCloseToEndPercent   = 15.0
	DefaultRepeatSeconds       = 30.0
	DefaultRepeatPercent       = 50.0

	DefaultScrobbleSeconds = 30.0
	DefaultScrobblePercent = 50.0
)

// PositionThresholds configures the position comparators. Seconds are absolute
// elapsed times, percents are 0-100 of the track duration.
type PositionThresholds struct {
	CloseToStartSeconds float64 `koanf:"close_to_start_seconds"`
	CloseToStartPercent float64 `koanf:"close_to_start_percent"`
	CloseToEndSeconds   float64 `koanf:"close_to_end_seconds"`
	CloseToEndPercent   float64 `koanf:"close_to_end_percent"`
	RepeatSeconds       float64 `koanf:"repeat_seconds"`
	RepeatPercent       float64 `koanf:"repeat_percent"`
}

// DefaultPositionThresholds returns the built-in comparator thresholds.
func DefaultPositionThresholds() PositionThresholds {
	return PositionThresholds{
		CloseToStartSeconds: DefaultCloseToStartSeconds,
		CloseToStartPercent: DefaultCloseToStartPercent,
		CloseToEndSeconds:   DefaultCloseToEndSeconds,
		CloseToEndPercent:   DefaultCloseToEndPercent,
		RepeatSeconds:       DefaultRepeatSeconds,
		RepeatPercent:       DefaultRepeatPercent,
	}
}

// CloseToPlayStart reports whether elapsed is near the beginning of p.
// Without a known duration only the absolute rule applies.
func (t PositionThresholds) CloseToPlayStart(p Play, elapsed float64) (bool, string) {
	if elapsed <= t.CloseToStartSeconds {
		return true, fmt.Sprintf("elapsed %.1fs <= %.0fs", elapsed, t.CloseToStartSeconds)
	}
	if p.HasDuration() {
		pct := elapsed / p.Data.Duration * 100
		if pct <= t.CloseToStartPercent {
			return true, fmt.Sprintf("elapsed %.1f%% <= %.0f%%", pct, t.CloseToStartPercent)
		}
	}
	return false, ""
}

// CloseToPlayEnd reports whether elapsed is near the end of p. It is always false
// when the duration is unknown.
func (t PositionThresholds) CloseToPlayEnd(p Play, elapsed float64) (bool, string) {
	if !p.HasDuration() {
		return false, ""
	}
	remaining := p.Data.Duration - elapsed
	if remaining <= t.CloseToEndSeconds {
		return true, fmt.Sprintf("remaining %.1fs <= %.0fs", remaining, t.CloseToEndSeconds)
	}
	pct := elapsed / p.Data.Duration * 100
	if pct >= 100-t.CloseToEndPercent {
		return true, fmt.Sprintf("elapsed %.1f%% >= %.0f%%", pct, 100-t.CloseToEndPercent)
	}
	return false, ""
}

// RepeatDurationPlayed reports whether enough of p was played for a restart to
// count as a second listen.
func (t PositionThresholds) RepeatDurationPlayed(p Play, elapsed float64) (bool, string) {
	if elapsed >= t.RepeatSeconds {
		return true, fmt.Sprintf("elapsed %.1fs >= %.0fs", elapsed, t.RepeatSeconds)
	}
	if p.HasDuration() {
		pct := elapsed / p.Data.Duration * 100
		if pct >= t.RepeatPercent {
			return true, fmt.Sprintf("elapsed %.1f%% >= %.0f%%", pct, t.RepeatPercent)
		}
	}
	return false, ""
}

// ScrobbleThresholds are user overrides for the scrobble rule. A nil field uses the default.
type ScrobbleThresholds struct {
	Duration *float64 `json:"duration,omitempty" koanf:"duration"` // Seconds
	Percent  *float64 `json:"percent,omitempty" koanf:"percent"`   // 0-100
}

// Resolved returns the effective duration and percent thresholds.
func (t ScrobbleThresholds) Resolved() (duration, percent float64) {
	duration, percent = DefaultScrobbleSeconds, DefaultScrobblePercent
	if t.Duration != nil {
		duration = *t.Duration
	}
	if t.Percent != nil {
		percent = *t.Percent
	}
	return duration, percent
}

// ThresholdCheck is the outcome of one scrobble rule.
type ThresholdCheck struct {
	Threshold float64 `json:"threshold"`
	Value     float64 `json:"value"`
	Passes    bool    `json:"passes"`
}

// ThresholdResult is the outcome of TimePassesScrobbleThreshold.
type ThresholdResult struct {
	Passes   bool           `json:"passes"`
	Duration ThresholdCheck `json:"duration"`
	Percent  ThresholdCheck `json:"percent"`
}

// String describes which rules passed, for logs.
func (r ThresholdResult) String() string {
	return fmt.Sprintf("duration %.1fs/%.0fs (%t), percent %.1f%%/%.0f%% (%t)",
		r.Duration.Value, r.Duration.Threshold, r.Duration.Passes,
		r.Percent.Value, r.Percent.Threshold, r.Percent.Passes)
}

// TimePassesScrobbleThreshold decides whether elapsed seconds of listening count as
// a scrobble. duration is the track length in seconds; 0 means unknown, in which case
// the percent rule is skipped.
func TimePassesScrobbleThreshold(user ScrobbleThresholds, elapsed, duration float64) ThresholdResult {
	durThreshold, pctThreshold := user.Resolved()

	res := ThresholdResult{
		Duration: ThresholdCheck{
			Threshold: durThreshold,
			Value:     elapsed,
			Passes:    elapsed >= durThreshold,
		},
		Percent: ThresholdCheck{Threshold: pctThreshold},
	}
	if duration > 0 {
		pct := elapsed / duration * 100
		res.Percent.Value = pct
		res.Percent.Passes = pct >= pctThreshold
	}
	res.Passes = res.Duration.Passes || res.Percent.Passes
	return res
}
