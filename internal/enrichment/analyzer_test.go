package enrichment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	"github.com/GriffinCanCode/voicenote/internal/llm"
)

type mockExtractor struct {
	mu      sync.Mutex
	calls   int
	seen    []string // contact names, "" for contact-less
	results []*llm.Entities
	err     error
	block   chan struct{}
}

func (m *mockExtractor) ExtractEntities(_ context.Context, _ string, c *contacts.Contact) (*llm.Entities, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	name := ""
	if c != nil {
		name = c.FullName()
	}
	m.seen = append(m.seen, name)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return &llm.Entities{}, nil
	}
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	return m.results[i], nil
}

func (m *mockExtractor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockDisamb struct {
	matches []contacts.Contact
	calls   int
}

func (m *mockDisamb) Disambiguate(_ context.Context, _ string, _ []contacts.Contact) []contacts.Contact {
	m.calls++
	return m.matches
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("blah ", n))
}

func newTestAnalyzer(ex EntityExtractor, d Disambiguator, mode string) (*Analyzer, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.MergeMode = mode
	return NewAnalyzer(cfg, ex, d).WithClock(clock.now), clock
}

func TestProcessTranscriptThreshold(t *testing.T) {
	ex := &mockExtractor{}
	a, _ := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)
	ctx := context.Background()

	if a.ProcessTranscript(ctx, "s1", words(19), true, nil) {
		t.Fatal("19 words should not trigger")
	}
	if ex.count() != 0 {
		t.Fatal("extraction must not run below the threshold")
	}
	if !a.ProcessTranscript(ctx, "s1", "one", true, nil) {
		t.Fatal("reaching 20 words should trigger")
	}
	if ex.count() != 1 {
		t.Errorf("extraction calls = %d, want exactly 1", ex.count())
	}
	if a.PendingWords("s1") != 0 {
		t.Errorf("pending = %d, want 0 after analysis", a.PendingWords("s1"))
	}
}

func TestLongFinalResultTriggers(t *testing.T) {
	tests := []struct {
		name   string
		policy TriggerPolicy
	}{
		{"min words", DefaultConfig().Trigger},
		{"ceiling below min words", TriggerPolicy{MinWords: 500, MaxPendingWords: 100, PauseThreshold: time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &mockExtractor{}
			a := NewAnalyzer(Config{Trigger: tt.policy}, ex, &mockDisamb{})

			if !a.ProcessTranscript(context.Background(), "s1", words(150), true, nil) {
				t.Fatal("150 finalized words should trigger")
			}
			if ex.count() != 1 {
				t.Errorf("extraction calls = %d, want 1", ex.count())
			}
			if got := a.PendingWords("s1"); got != 0 {
				t.Errorf("pending = %d, want 0", got)
			}
		})
	}
}

func TestInterimTextIgnored(t *testing.T) {
	ex := &mockExtractor{}
	a, _ := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)

	if a.ProcessTranscript(context.Background(), "s1", words(50), false, nil) {
		t.Error("interim text must never trigger")
	}
	if a.PendingWords("s1") != 0 {
		t.Error("interim text must not accumulate")
	}
}

func TestDebounceGate(t *testing.T) {
	ex := &mockExtractor{}
	a, clock := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)
	ctx := context.Background()

	a.ProcessTranscript(ctx, "s1", words(20), true, nil)
	clock.advance(time.Second)
	if a.ProcessTranscript(ctx, "s1", words(200), true, nil) {
		t.Error("trigger inside the debounce window")
	}
	clock.advance(5 * time.Second)
	if !a.ProcessTranscript(ctx, "s1", "more", true, nil) {
		t.Error("pending words should trigger once the window elapses")
	}
	if ex.count() != 2 {
		t.Errorf("extraction calls = %d, want 2", ex.count())
	}
}

func TestPauseTriggerAfterQuietPeriod(t *testing.T) {
	ex := &mockExtractor{}
	a, clock := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)
	ctx := context.Background()

	if a.CheckPause(ctx, "unknown", nil) {
		t.Error("unknown session must not trigger")
	}

	a.ProcessTranscript(ctx, "s1", words(20), true, nil)
	clock.advance(time.Second)
	a.ProcessTranscript(ctx, "s1", "a few words", true, nil) // debounced
	if a.CheckPause(ctx, "s1", nil) {
		t.Fatal("still inside debounce window")
	}
	clock.advance(5 * time.Second)
	if !a.CheckPause(ctx, "s1", nil) {
		t.Fatal("pause after an analysis with pending text should trigger")
	}
	if ex.count() != 2 {
		t.Errorf("extraction calls = %d, want 2", ex.count())
	}
}

func TestPerContactExtraction(t *testing.T) {
	jane := contacts.Contact{ID: "c2", FirstName: "Jane", LastName: "Doe"}
	john := contacts.Contact{ID: "c1", FirstName: "John", LastName: "Smith"}
	ex := &mockExtractor{results: []*llm.Entities{
		{Fields: llm.Fields{Location: "Denver"}},
		{Tags: []string{"golf"}},
	}}
	d := &mockDisamb{matches: []contacts.Contact{jane, john}}
	a, _ := newTestAnalyzer(ex, d, MergeHighestConfidence)

	if !a.ProcessTranscript(context.Background(), "s1", words(25), true, []contacts.Contact{john, jane}) {
		t.Fatal("expected trigger")
	}
	if d.calls != 1 || ex.count() != 2 {
		t.Fatalf("disambiguate calls = %d, extraction calls = %d", d.calls, ex.count())
	}

	got := a.Suggestions("s1")
	if len(got) != 2 {
		t.Fatalf("suggestions = %+v", got)
	}
	hints := map[string]Type{}
	for _, s := range got {
		hints[s.ContactHint] = s.Type
	}
	if hints["Jane Doe"] != TypeLocation || hints["John Smith"] != TypeTag {
		t.Errorf("suggestions not tagged with their contact: %+v", got)
	}
}

func TestContactlessPath(t *testing.T) {
	ex := &mockExtractor{}
	d := &mockDisamb{}
	a, _ := newTestAnalyzer(ex, d, MergeHighestConfidence)

	a.ProcessTranscript(context.Background(), "s1", words(20), true, nil)
	if d.calls != 0 {
		t.Error("disambiguation should be skipped without contacts")
	}
	if len(ex.seen) != 1 || ex.seen[0] != "" {
		t.Errorf("seen = %v, want one contact-less call", ex.seen)
	}
}

func TestExtractionErrorsSwallowed(t *testing.T) {
	ex := &mockExtractor{results: []*llm.Entities{{Tags: []string{"work"}}}}
	a, clock := newTestAnalyzer(ex, &mockDisamb{}, ReplaceEachAnalysis)
	ctx := context.Background()

	a.ProcessTranscript(ctx, "s1", words(20), true, nil)
	ex.err = errors.New("model down")
	clock.advance(10 * time.Second)
	if !a.ProcessTranscript(ctx, "s1", words(20), true, nil) {
		t.Fatal("failed analyses still count as triggered")
	}
	if got := a.Suggestions("s1"); len(got) != 1 {
		t.Errorf("a failed pass must keep earlier suggestions, got %+v", got)
	}
}

func TestMergeModes(t *testing.T) {
	first := &llm.Entities{Tags: []string{"work"}, Fields: llm.Fields{Interests: []string{"jazz"}}}
	second := &llm.Entities{Tags: []string{"Work", "golf"}}

	tests := []struct {
		mode string
		want []string
	}{
		{MergeHighestConfidence, []string{"interest:jazz", "tag:golf", "tag:work"}},
		{ReplaceEachAnalysis, []string{"tag:Work", "tag:golf"}},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			ex := &mockExtractor{results: []*llm.Entities{first, second}}
			a, clock := newTestAnalyzer(ex, &mockDisamb{}, tt.mode)
			ctx := context.Background()

			a.ProcessTranscript(ctx, "s1", words(20), true, nil)
			clock.advance(10 * time.Second)
			a.ProcessTranscript(ctx, "s1", words(20), true, nil)

			var got []string
			for _, s := range a.Suggestions("s1") {
				got = append(got, string(s.Type)+":"+s.Value)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("suggestions = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNoOverlappingAnalyses(t *testing.T) {
	ex := &mockExtractor{block: make(chan struct{})}
	a, clock := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)
	ctx := context.Background()

	done := make(chan bool)
	go func() { done <- a.ProcessTranscript(ctx, "s1", words(20), true, nil) }()

	// Wait until the first analysis is in flight.
	deadline := time.Now().Add(time.Second)
	for {
		if st, ok := a.sessions.Load("s1"); ok {
			st.mu.Lock()
			busy := st.analyzing
			st.mu.Unlock()
			if busy {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("analysis never started")
		}
		time.Sleep(time.Millisecond)
	}

	clock.advance(time.Minute)
	if a.ProcessTranscript(ctx, "s1", words(30), true, nil) {
		t.Error("a second analysis started while one was in flight")
	}
	close(ex.block)
	if !<-done {
		t.Error("first call should report a trigger")
	}
	if a.PendingWords("s1") != 30 {
		t.Errorf("pending = %d, want the 30 words that arrived mid-analysis", a.PendingWords("s1"))
	}
}

func TestFinalizeFastPath(t *testing.T) {
	ex := &mockExtractor{results: []*llm.Entities{{Fields: llm.Fields{Phone: "555-0100"}, Groups: []string{"family"}}}}
	jane := contacts.Contact{ID: "c2", FirstName: "Jane", LastName: "Doe"}
	a, _ := newTestAnalyzer(ex, &mockDisamb{matches: []contacts.Contact{jane}}, MergeHighestConfidence)
	ctx := context.Background()

	a.ProcessTranscript(ctx, "s1", words(20), true, []contacts.Contact{jane})
	got := a.Finalize(ctx, "s1", "ignored", []contacts.Contact{jane})

	if ex.count() != 1 {
		t.Errorf("finalize should reuse incremental results, extraction calls = %d", ex.count())
	}
	if len(got) != 1 {
		t.Fatalf("entities = %+v", got)
	}
	ce := got[0]
	if ce.ContactID != "c2" || ce.ContactName != "Jane Doe" {
		t.Errorf("contact = %q/%q", ce.ContactID, ce.ContactName)
	}
	if ce.Entities.Fields.Phone != "555-0100" || len(ce.Entities.Groups) != 1 {
		t.Errorf("entities = %+v", ce.Entities)
	}
	if len(a.Suggestions("s1")) != 0 {
		t.Error("finalize must purge session state")
	}
}

func TestFinalizeReusesEmptyAnalysis(t *testing.T) {
	ex := &mockExtractor{}
	a, _ := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)
	ctx := context.Background()

	a.ProcessTranscript(ctx, "s1", words(20), true, nil)
	got := a.Finalize(ctx, "s1", "", nil)

	if ex.count() != 1 {
		t.Errorf("extraction calls = %d, want 1; nothing new to analyze at finalize", ex.count())
	}
	if len(got) != 0 {
		t.Errorf("entities = %+v, want none", got)
	}
}

func TestFinalizeFallbackPass(t *testing.T) {
	ex := &mockExtractor{results: []*llm.Entities{{Tags: []string{"gym"}}}}
	a, _ := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)

	got := a.Finalize(context.Background(), "s1", "met Sam at the gym", nil)
	if ex.count() != 1 {
		t.Fatalf("extraction calls = %d, want a full pass", ex.count())
	}
	if len(got) != 1 || len(got[0].Entities.Tags) != 1 || got[0].ContactName != "" {
		t.Errorf("entities = %+v", got)
	}
}

func TestFinalizeAnalyzesPendingText(t *testing.T) {
	ex := &mockExtractor{}
	a, _ := newTestAnalyzer(ex, &mockDisamb{}, MergeHighestConfidence)
	ctx := context.Background()

	a.ProcessTranscript(ctx, "s1", words(20), true, nil)
	a.ProcessTranscript(ctx, "s1", "trailing words", true, nil)
	a.Finalize(ctx, "s1", "", nil)

	if ex.count() != 2 {
		t.Errorf("extraction calls = %d, want 2 (pending text analyzed at finalize)", ex.count())
	}
}

func TestClearSession(t *testing.T) {
	a, _ := newTestAnalyzer(&mockExtractor{}, &mockDisamb{}, MergeHighestConfidence)
	a.ProcessTranscript(context.Background(), "s1", "hello", true, nil)
	a.ClearSession("s1")
	if a.PendingWords("s1") != 0 {
		t.Error("state survived ClearSession")
	}
}
