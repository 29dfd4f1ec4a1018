// Package disambiguation resolves names spoken in a voice note to entries in the user's contact list.
package disambiguation

import (
	"context"
	"sort"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	"github.com/GriffinCanCode/voicenote/internal/trace"
)

// NameExtractor finds person names in free text.
type NameExtractor interface {
	ExtractNames(ctx context.Context, transcript string) ([]string, error)
}

// Match is one scored (name, contact) pairing.
type Match struct {
	Name    string           `json:"name"`
	Contact contacts.Contact `json:"contact"`
	Score   float64          `json:"score"`
	Reason  Reason           `json:"reason"`
}

// Result classifies every extracted name as matched, partially matched or unmatched.
type Result struct {
	Matches        []Match            `json:"matches"`
	PartialMatches map[string][]Match `json:"partial_matches"`
	UnmatchedNames []string           `json:"unmatched_names"`
}

// Contacts returns the confidently matched contacts, each once, in match order.
func (r Result) Contacts() []contacts.Contact {
	out := make([]contacts.Contact, 0, len(r.Matches))
	seen := make(map[string]bool, len(r.Matches))
	for _, m := range r.Matches {
		key := m.Contact.ID
		if key == "" {
			key = m.Contact.FullName()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m.Contact)
	}
	return out
}

// Service is safe for concurrent use.
type Service struct {
	names NameExtractor
}

// New creates a Service that extracts names with names.
func New(names NameExtractor) *Service {
	return &Service{names: names}
}

// IdentifyContactNames returns the names mentioned in transcript. Extraction
// failures are logged and produce an empty list.
func (s *Service) IdentifyContactNames(ctx context.Context, transcript string) []string {
	if s.names == nil || transcript == "" {
		return []string{}
	}
	names, err := s.names.ExtractNames(ctx, transcript)
	if err != nil {
		trace.Logger(ctx).Warn("name extraction failed", "error", err)
		return []string{}
	}
	return names
}

// MatchToContacts scores each name against every contact and classifies it.
func (s *Service) MatchToContacts(names []string, list []contacts.Contact) Result {
	return MatchToContacts(names, list)
}

// MatchToContacts is the stateless form of Service.MatchToContacts.
func MatchToContacts(names []string, list []contacts.Contact) Result {
	res := Result{
		Matches:        []Match{},
		PartialMatches: map[string][]Match{},
		UnmatchedNames: []string{},
	}

	for _, name := range names {
		scored := make([]Match, 0, len(list))
		for _, c := range list {
			score, reason := Score(name, c)
			scored = append(scored, Match{Name: name, Contact: c, Score: score, Reason: reason})
		}
		sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

		switch {
		case len(scored) > 0 && scored[0].Score >= MatchThreshold:
			res.Matches = append(res.Matches, scored[0])
		case len(scored) > 0 && scored[0].Score >= PartialThreshold:
			candidates := make([]Match, 0, MaxCandidates)
			for _, m := range scored {
				if m.Score < PartialThreshold || len(candidates) == MaxCandidates {
					break
				}
				candidates = append(candidates, m)
			}
			res.PartialMatches[name] = candidates
		default:
			res.UnmatchedNames = append(res.UnmatchedNames, name)
		}
	}
	return res
}

// Disambiguate returns only the contacts confidently referred to in transcript.
func (s *Service) Disambiguate(ctx context.Context, transcript string, list []contacts.Contact) []contacts.Contact {
	return s.DisambiguateDetailed(ctx, transcript, list).Contacts()
}

// DisambiguateDetailed extracts names from transcript and classifies each against list.
func (s *Service) DisambiguateDetailed(ctx context.Context, transcript string, list []contacts.Contact) Result {
	ctx, span := trace.StartSpan(ctx, "disambiguate")
	defer span.End()

	names := s.IdentifyContactNames(ctx, transcript)
	res := MatchToContacts(names, list)
	span.SetAttr("names", len(names))
	span.SetAttr("matches", len(res.Matches))
	return res
}
