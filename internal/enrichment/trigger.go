package enrichment

import "time"

// Reason says why TriggerPolicy fired, or why it did not.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonDebounced Reason = "debounced"
	ReasonMinWords  Reason = "min_words"
	ReasonPause     Reason = "pause"
	ReasonCeiling   Reason = "ceiling"
)

// TriggerPolicy decides when accumulated speech is worth analyzing.
type TriggerPolicy struct {
	MinWords        int
	MinInterval     time.Duration
	PauseThreshold  time.Duration
	MaxPendingWords int
}

// TriggerState is the per-session input to the policy.
type TriggerState struct {
	PendingWords int
	LastTrigger  time.Time
	LastAnalysis time.Time
	Analyses     int
}

// Evaluate applies the rules in priority order. The debounce interval is a hard
// gate checked before everything else.
func (p TriggerPolicy) Evaluate(now time.Time, s TriggerState) (bool, Reason) {
	if !s.LastTrigger.IsZero() && now.Sub(s.LastTrigger) < p.MinInterval {
		return false, ReasonDebounced
	}
	if s.PendingWords >= p.MinWords {
		return true, ReasonMinWords
	}
	if s.Analyses > 0 && s.PendingWords > 0 && now.Sub(s.LastAnalysis) > p.PauseThreshold {
		return true, ReasonPause
	}
	if p.MaxPendingWords > 0 && s.PendingWords >= p.MaxPendingWords {
		return true, ReasonCeiling
	}
	return false, ReasonNone
}
