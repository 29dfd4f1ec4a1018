package disambiguation

import (
	"context"
	"errors"
	"testing"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
)

type mockNames struct {
	names []string
	err   error
	calls int
}

func (m *mockNames) ExtractNames(_ context.Context, _ string) ([]string, error) {
	m.calls++
	return m.names, m.err
}

var (
	johnSmith = contacts.Contact{ID: "c1", FirstName: "John", LastName: "Smith"}
	janeDoe   = contacts.Contact{ID: "c2", FirstName: "Jane", LastName: "Doe"}
)

func TestMatchToContactsExample(t *testing.T) {
	res := MatchToContacts([]string{"Jon Smith", "Bob"}, []contacts.Contact{johnSmith, janeDoe})

	if len(res.Matches) != 1 {
		t.Fatalf("Matches = %+v, want one", res.Matches)
	}
	m := res.Matches[0]
	if m.Contact.ID != "c1" {
		t.Errorf("matched %q, want John Smith", m.Contact.FullName())
	}
	if m.Score <= MatchThreshold {
		t.Errorf("score = %v, want > %v", m.Score, MatchThreshold)
	}
	if m.Reason != ReasonFuzzy {
		t.Errorf("reason = %q, want fuzzy", m.Reason)
	}
	if len(res.UnmatchedNames) != 1 || res.UnmatchedNames[0] != "Bob" {
		t.Errorf("UnmatchedNames = %v, want [Bob]", res.UnmatchedNames)
	}
	if len(res.PartialMatches) != 0 {
		t.Errorf("PartialMatches = %v, want none", res.PartialMatches)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		spoken  string
		contact contacts.Contact
		want    float64
		reason  Reason
	}{
		{"exact ignores case", "JANE doe", janeDoe, 1, ReasonExact},
		{"exact ignores accents", "Jose Garcia", contacts.Contact{FirstName: "José", LastName: "García"}, 1, ReasonExact},
		{"first name token", "John", johnSmith, exactFirstWeight, ReasonPartial},
		{"last name token", "Smith", johnSmith, exactOtherWeight, ReasonPartial},
		{"prefix of first name", "Mich", contacts.Contact{FirstName: "Michael", LastName: "Brown"}, 4.0 / 7.0 * prefixFirstWeight, ReasonPartial},
		{"display name", "Grandma", contacts.Contact{DisplayName: "Grandma"}, 1, ReasonExact},
		{"empty spoken name", "  ", johnSmith, 0, ReasonPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Score(tt.spoken, tt.contact)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestFirstNameOutranksOtherPositions(t *testing.T) {
	first, _ := Score("John", johnSmith)
	other, _ := Score("John", contacts.Contact{FirstName: "Taylor", LastName: "John"})
	if first <= other {
		t.Errorf("first-name score %v should exceed other-position score %v", first, other)
	}
}

func TestPartialMatchCandidates(t *testing.T) {
	michael := contacts.Contact{ID: "m1", FirstName: "Michael", LastName: "Brown"}
	mitchell := contacts.Contact{ID: "m2", FirstName: "Mitchell", LastName: "Green"}

	res := MatchToContacts([]string{"Mich"}, []contacts.Contact{mitchell, michael})

	cands, ok := res.PartialMatches["Mich"]
	if !ok {
		t.Fatalf("Mich should be a partial match, got %+v", res)
	}
	if len(cands) != 1 || cands[0].Contact.ID != "m1" {
		t.Errorf("candidates = %+v, want only Michael Brown", cands)
	}
	if len(res.Matches) != 0 || len(res.UnmatchedNames) != 0 {
		t.Error("a name must receive exactly one outcome")
	}
}

func TestPartialMatchesCappedAndRanked(t *testing.T) {
	list := []contacts.Contact{
		{ID: "a1", FirstName: "Alexis", LastName: "Park"},
		{ID: "a2", FirstName: "Alexia", LastName: "Stone"},
		{ID: "a3", FirstName: "Alexei", LastName: "Volkov"},
		{ID: "a4", FirstName: "Alexus", LastName: "Reed"},
		{ID: "a5", FirstName: "Alexandra", LastName: "Ng"},
	}

	res := MatchToContacts([]string{"Alex"}, list)

	cands := res.PartialMatches["Alex"]
	if len(cands) != MaxCandidates {
		t.Fatalf("got %d candidates, want %d", len(cands), MaxCandidates)
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[i-1].Score {
			t.Errorf("candidates not ranked: %v", cands)
		}
	}
	for _, c := range cands {
		if c.Contact.ID == "a5" {
			t.Error("Alexandra scores below the partial threshold")
		}
	}
}

func TestEveryNameGetsOneOutcome(t *testing.T) {
	names := []string{"Jane", "Jo", "Zed", "Smith"}
	res := MatchToContacts(names, []contacts.Contact{johnSmith, janeDoe})

	total := len(res.Matches) + len(res.PartialMatches) + len(res.UnmatchedNames)
	if total != len(names) {
		t.Errorf("outcomes = %d, want %d: %+v", total, len(names), res)
	}
}

func TestMatchWithoutContacts(t *testing.T) {
	res := MatchToContacts([]string{"Jane"}, nil)
	if len(res.UnmatchedNames) != 1 {
		t.Errorf("UnmatchedNames = %v, want [Jane]", res.UnmatchedNames)
	}
}

func TestIdentifyContactNamesSwallowsErrors(t *testing.T) {
	svc := New(&mockNames{err: errors.New("model exploded")})

	got := svc.IdentifyContactNames(context.Background(), "talked to Jane")
	if got == nil || len(got) != 0 {
		t.Errorf("IdentifyContactNames() = %#v, want empty non-nil slice", got)
	}
}

func TestIdentifyContactNamesSkipsEmptyTranscript(t *testing.T) {
	m := &mockNames{names: []string{"Jane"}}
	if got := New(m).IdentifyContactNames(context.Background(), ""); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
	if m.calls != 0 {
		t.Error("empty transcript should not reach the model")
	}
}

func TestDisambiguate(t *testing.T) {
	svc := New(&mockNames{names: []string{"Jon Smith", "John", "Bob"}})

	got := svc.Disambiguate(context.Background(), "...", []contacts.Contact{johnSmith, janeDoe})
	if len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("Disambiguate() = %+v, want John Smith once", got)
	}

	detailed := svc.DisambiguateDetailed(context.Background(), "...", []contacts.Contact{johnSmith, janeDoe})
	if len(detailed.Matches) != 2 || len(detailed.UnmatchedNames) != 1 {
		t.Errorf("DisambiguateDetailed() = %+v", detailed)
	}
}
