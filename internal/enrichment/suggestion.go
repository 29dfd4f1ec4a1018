package enrichment

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/GriffinCanCode/voicenote/internal/llm"
)

// Type is the kind of contact attribute a suggestion proposes.
type Type string

const (
	TypeTag      Type = "tag"
	TypeNote     Type = "note"
	TypeInterest Type = "interest"
	TypeLocation Type = "location"
	TypePhone    Type = "phone"
	TypeEmail    Type = "email"
)

// Base confidences per type. The model does not score its own output, so
// structured facts it can quote verbatim rank above free-form notes.
var baseConfidence = map[Type]float64{
	TypePhone:    0.9,
	TypeEmail:    0.9,
	TypeLocation: 0.8,
	TypeInterest: 0.75,
	TypeTag:      0.7,
	TypeNote:     0.65,
}

// idNamespace scopes suggestion ids.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("voicenote:suggestion"))

// Suggestion is a proposed, not yet applied, update to a contact.
type Suggestion struct {
	ID          string  `json:"id"`
	Type        Type    `json:"type"`
	Value       string  `json:"value"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source,omitempty"`
	ContactHint string  `json:"contact_hint,omitempty"`
}

// NewSuggestion builds a suggestion with its stable id.
func NewSuggestion(t Type, value string, confidence float64, source, contactHint string) Suggestion {
	value = strings.TrimSpace(value)
	return Suggestion{
		ID:          SuggestionID(t, value, contactHint),
		Type:        t,
		Value:       value,
		Confidence:  confidence,
		Source:      source,
		ContactHint: contactHint,
	}
}

// SuggestionID derives the id from type, normalized value and contact hint, so the
// same fact found by two analyses gets the same id.
func SuggestionID(t Type, value, contactHint string) string {
	return uuid.NewSHA1(idNamespace, []byte(dedupKey(t, value, contactHint))).String()
}

// Key is the deduplication identity of s.
func (s Suggestion) Key() string {
	return dedupKey(s.Type, s.Value, s.ContactHint)
}

func dedupKey(t Type, value, contactHint string) string {
	return string(t) + "\x00" + normalize(value) + "\x00" + normalize(contactHint)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}

// fromEntities converts one extraction result into suggestions tagged with contactHint.
func fromEntities(e *llm.Entities, transcript, contactHint string) []Suggestion {
	if e == nil {
		return nil
	}
	var out []Suggestion
	add := func(t Type, v string) {
		if strings.TrimSpace(v) == "" {
			return
		}
		out = append(out, NewSuggestion(t, v, baseConfidence[t], excerpt(transcript, v), contactHint))
	}

	add(TypePhone, e.Fields.Phone)
	add(TypeEmail, e.Fields.Email)
	add(TypeLocation, e.Fields.Location)
	add(TypeNote, e.Fields.Notes)
	for _, v := range e.Fields.Interests {
		add(TypeInterest, v)
	}
	for _, v := range e.Tags {
		add(TypeTag, v)
	}
	return out
}

// dedupe keeps the highest-confidence suggestion per key.
func dedupe(in []Suggestion) map[string]Suggestion {
	out := make(map[string]Suggestion, len(in))
	for _, s := range in {
		mergeInto(out, s)
	}
	return out
}

func mergeInto(set map[string]Suggestion, s Suggestion) {
	if cur, ok := set[s.Key()]; !ok || s.Confidence > cur.Confidence {
		set[s.Key()] = s
	}
}

func sorted(set map[string]Suggestion) []Suggestion {
	out := make([]Suggestion, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContactHint != out[j].ContactHint {
			return out[i].ContactHint < out[j].ContactHint
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Value < out[j].Value
	})
	return out
}

const maxExcerpt = 160

// excerpt returns the sentence of transcript that mentions value, or its tail.
func excerpt(transcript, value string) string {
	lower, lv := strings.ToLower(transcript), strings.ToLower(value)
	if i := strings.Index(lower, lv); i >= 0 && lv != "" && len(lower) == len(transcript) {
		start := strings.LastIndexAny(transcript[:i], ".!?") + 1
		end := len(transcript)
		if j := strings.IndexAny(transcript[i+len(lv):], ".!?"); j >= 0 {
			end = i + len(lv) + j + 1
		}
		return clip(strings.TrimSpace(transcript[start:end]))
	}
	if r := []rune(transcript); len(r) > maxExcerpt {
		return strings.TrimSpace(string(r[len(r)-maxExcerpt:]))
	}
	return strings.TrimSpace(transcript)
}

func clip(s string) string {
	if r := []rune(s); len(r) > maxExcerpt {
		return string(r[:maxExcerpt])
	}
	return s
}
