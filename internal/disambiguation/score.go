package disambiguation

import (
	"strings"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
)

// Classification thresholds.
const (
	MatchThreshold   = 0.65
	PartialThreshold = 0.45
	MaxCandidates    = 3

	fuzzyFloor = 0.5
)

// Token weights. First-name hits outrank other positions.
const (
	exactFirstWeight  = 0.95
	exactOtherWeight  = 0.85
	prefixFirstWeight = 0.9
	prefixOtherWeight = 0.8
	fuzzyFirstWeight  = 0.85
	fuzzyOtherWeight  = 0.75
)

// Reason explains how a name matched a contact.
type Reason string

const (
	ReasonExact   Reason = "exact"
	ReasonFuzzy   Reason = "fuzzy"
	ReasonPartial Reason = "partial"
)

// Score rates how well a spoken name refers to c, in [0,1].
func Score(name string, c contacts.Contact) (float64, Reason) {
	n := Normalize(name)
	if n == "" {
		return 0, ReasonPartial
	}

	best, reason := 0.0, ReasonPartial
	for _, full := range contactNames(c) {
		if n == full {
			return 1, ReasonExact
		}
		if sim := Similarity(n, full); sim >= fuzzyFloor && sim > best {
			best, reason = sim, ReasonFuzzy
		}
	}

	if partial := partialScore(n, c); partial > best {
		best, reason = partial, ReasonPartial
	}
	return best, reason
}

// partialScore compares every token of the spoken name with every token of the contact's name.
func partialScore(name string, c contacts.Contact) float64 {
	first := Normalize(c.First())
	best := 0.0
	for _, nt := range strings.Fields(name) {
		for _, ct := range strings.Fields(Normalize(c.FullName())) {
			if s := tokenScore(nt, ct, ct == first); s > best {
				best = s
			}
		}
	}
	return best
}

func tokenScore(spoken, contact string, isFirst bool) float64 {
	if spoken == contact {
		return pick(isFirst, exactFirstWeight, exactOtherWeight)
	}

	short, long := spoken, contact
	if len([]rune(short)) > len([]rune(long)) {
		short, long = long, short
	}
	best := 0.0
	if strings.HasPrefix(long, short) {
		ratio := float64(len([]rune(short))) / float64(len([]rune(long)))
		best = ratio * pick(isFirst, prefixFirstWeight, prefixOtherWeight)
	}
	if sim := Similarity(spoken, contact); sim > fuzzyFloor {
		if s := sim * pick(isFirst, fuzzyFirstWeight, fuzzyOtherWeight); s > best {
			best = s
		}
	}
	return best
}

func contactNames(c contacts.Contact) []string {
	names := make([]string, 0, 2)
	if full := Normalize(c.FullName()); full != "" {
		names = append(names, full)
	}
	if d := Normalize(c.DisplayName); d != "" && (len(names) == 0 || d != names[0]) {
		names = append(names, d)
	}
	return names
}

func pick(first bool, a, b float64) float64 {
	if first {
		return a
	}
	return b
}
