// Package enrichment analyzes a live transcript while the user is still speaking and
// accumulates contact-enrichment suggestions per session.
package enrichment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	"github.com/GriffinCanCode/voicenote/internal/llm"
	"github.com/GriffinCanCode/voicenote/internal/syncx"
	"github.com/GriffinCanCode/voicenote/internal/trace"
)

// Merge modes for successive analyses.
const (
	MergeHighestConfidence = "merge"
	ReplaceEachAnalysis    = "replace"
)

// EntityExtractor pulls attributes about one contact (or nobody in particular) from text.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, transcript string, contact *contacts.Contact) (*llm.Entities, error)
}

// Disambiguator resolves spoken names to contacts.
type Disambiguator interface {
	Disambiguate(ctx context.Context, transcript string, list []contacts.Contact) []contacts.Contact
}

// Config for the analyzer.
type Config struct {
	Trigger   TriggerPolicy
	MergeMode string
}

// DefaultConfig returns the production trigger thresholds.
func DefaultConfig() Config {
	return Config{
		Trigger: TriggerPolicy{
			MinWords:        20,
			MinInterval:     5 * time.Second,
			PauseThreshold:  3 * time.Second,
			MaxPendingWords: 100,
		},
		MergeMode: MergeHighestConfidence,
	}
}

// ContactEntities is the finalized extraction for one contact. ContactID and
// ContactName are empty for the contact-less path.
type ContactEntities struct {
	ContactID   string       `json:"contact_id,omitempty"`
	ContactName string       `json:"contact_name,omitempty"`
	Entities    llm.Entities `json:"entities"`
	Suggestions []Suggestion `json:"suggestions"`
}

type extras struct {
	contact         contacts.Contact
	groups          []string
	lastContactDate string
}

type sessionState struct {
	mu          sync.Mutex
	transcript  []string
	trigger     TriggerState // PendingWords counts finalized words not yet analyzed
	analyzing   bool
	suggestions map[string]Suggestion
	extras      map[string]*extras // by contact hint
}

func newSessionState() *sessionState {
	return &sessionState{suggestions: map[string]Suggestion{}, extras: map[string]*extras{}}
}

// Analyzer holds per-session analysis state. All methods are safe for concurrent use;
// analyses of one session never overlap.
type Analyzer struct {
	cfg      Config
	entities EntityExtractor
	disamb   Disambiguator
	now      func() time.Time
	sessions *syncx.Map[string, *sessionState]
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(cfg Config, entities EntityExtractor, disamb Disambiguator) *Analyzer {
	if cfg.MergeMode == "" {
		cfg.MergeMode = MergeHighestConfidence
	}
	return &Analyzer{
		cfg:      cfg,
		entities: entities,
		disamb:   disamb,
		now:      time.Now,
		sessions: syncx.NewMap[string, *sessionState](),
	}
}

// WithClock replaces the time source.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	a.now = now
	return a
}

// Config returns the analyzer configuration.
func (a *Analyzer) Config() Config { return a.cfg }

func (a *Analyzer) state(sessionID string) *sessionState {
	if st, ok := a.sessions.Load(sessionID); ok {
		return st
	}
	st, _ := a.sessions.LoadOrStore(sessionID, newSessionState())
	return st
}

// ProcessTranscript feeds new transcript text. Interim text is ignored. When the
// trigger policy fires, a full analysis runs before returning and the result is true.
func (a *Analyzer) ProcessTranscript(ctx context.Context, sessionID, text string, isFinal bool, list []contacts.Contact) bool {
	text = strings.TrimSpace(text)
	if !isFinal || text == "" {
		return false
	}

	st := a.state(sessionID)
	st.mu.Lock()
	st.transcript = append(st.transcript, text)
	st.trigger.PendingWords += len(strings.Fields(text))
	st.mu.Unlock()

	return a.maybeAnalyze(ctx, sessionID, st, list)
}

// CheckPause re-evaluates the trigger without new text, so a natural pause after the
// last final result can start an analysis.
func (a *Analyzer) CheckPause(ctx context.Context, sessionID string, list []contacts.Contact) bool {
	st, ok := a.sessions.Load(sessionID)
	if !ok {
		return false
	}
	return a.maybeAnalyze(ctx, sessionID, st, list)
}

func (a *Analyzer) maybeAnalyze(ctx context.Context, sessionID string, st *sessionState, list []contacts.Contact) bool {
	st.mu.Lock()
	if st.analyzing {
		st.mu.Unlock()
		return false
	}
	now := a.now()
	ok, reason := a.cfg.Trigger.Evaluate(now, st.trigger)
	if !ok {
		st.mu.Unlock()
		return false
	}
	st.trigger.LastTrigger = now
	st.analyzing = true
	transcript := strings.Join(st.transcript, " ")
	consumed := st.trigger.PendingWords
	st.mu.Unlock()

	trace.Logger(ctx).Debug("enrichment triggered", "session_id", sessionID, "reason", reason, "pending_words", consumed)
	a.analyze(ctx, st, transcript, consumed, list)
	return true
}

// analyze runs one pass over transcript and merges the result. Failures are logged
// and leave the previous suggestions untouched.
func (a *Analyzer) analyze(ctx context.Context, st *sessionState, transcript string, consumed int, list []contacts.Contact) {
	ctx, span := trace.StartSpan(ctx, "enrichment.analyze")
	defer span.End()
	span.SetAttr("words", len(strings.Fields(transcript)))

	found, ex, failed := a.extract(ctx, transcript, list)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.analyzing = false
	st.trigger.LastAnalysis = a.now()
	st.trigger.Analyses++
	st.trigger.PendingWords = max(st.trigger.PendingWords-consumed, 0)

	if failed && len(found) == 0 {
		span.SetAttr("error", "extraction failed")
		return
	}
	if a.cfg.MergeMode == ReplaceEachAnalysis {
		st.suggestions = dedupe(found)
	} else {
		for _, s := range found {
			mergeInto(st.suggestions, s)
		}
	}
	for hint, e := range ex {
		cur, ok := st.extras[hint]
		if !ok {
			st.extras[hint] = e
			continue
		}
		cur.groups = union(cur.groups, e.groups)
		if e.lastContactDate != "" {
			cur.lastContactDate = e.lastContactDate
		}
	}
	span.SetAttr("suggestions", len(st.suggestions))
}

// extract disambiguates contacts and extracts entities per contact, or runs the
// contact-less pass when the user has no contacts.
func (a *Analyzer) extract(ctx context.Context, transcript string, list []contacts.Contact) ([]Suggestion, map[string]*extras, bool) {
	log := trace.Logger(ctx)
	ex := map[string]*extras{}
	var found []Suggestion
	failed := false

	run := func(c *contacts.Contact) {
		hint := ""
		if c != nil {
			hint = c.FullName()
		}
		ents, err := a.entities.ExtractEntities(ctx, transcript, c)
		if err != nil {
			log.Warn("entity extraction failed", "contact", hint, "error", err)
			failed = true
			return
		}
		found = append(found, fromEntities(ents, transcript, hint)...)
		e := &extras{groups: ents.Groups, lastContactDate: ents.LastContactDate}
		if c != nil {
			e.contact = *c
		}
		ex[hint] = e
	}

	if len(list) == 0 {
		run(nil)
		return found, ex, failed
	}
	for _, c := range a.disamb.Disambiguate(ctx, transcript, list) {
		run(&c)
	}
	return found, ex, failed
}

// Suggestions returns the session's current suggestion set in a stable order.
func (a *Analyzer) Suggestions(sessionID string) []Suggestion {
	st, ok := a.sessions.Load(sessionID)
	if !ok {
		return []Suggestion{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return sorted(st.suggestions)
}

// PendingWords reports how many finalized words have not been analyzed yet.
func (a *Analyzer) PendingWords(sessionID string) int {
	st, ok := a.sessions.Load(sessionID)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.trigger.PendingWords
}

// Finalize analyzes whatever has not been analyzed, converts the suggestion set into
// per-contact entities and forgets the session. If the analyzer never saw any text,
// transcript is used instead. When an earlier analysis covered every word its
// result is reused, even if it found nothing, without another model call.
func (a *Analyzer) Finalize(ctx context.Context, sessionID, transcript string, list []contacts.Contact) []ContactEntities {
	st := a.state(sessionID)
	defer a.ClearSession(sessionID)

	st.mu.Lock()
	if len(st.transcript) == 0 && strings.TrimSpace(transcript) != "" {
		st.transcript = []string{strings.TrimSpace(transcript)}
		st.trigger.PendingWords = len(strings.Fields(transcript))
	}
	full := strings.Join(st.transcript, " ")
	consumed := st.trigger.PendingWords
	needPass := full != "" && (consumed > 0 || st.trigger.Analyses == 0)
	if needPass {
		st.analyzing = true
	}
	st.mu.Unlock()

	if needPass {
		trace.Logger(ctx).Debug("final enrichment pass", "session_id", sessionID, "pending_words", consumed)
		a.analyze(ctx, st, full, consumed, list)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return toEntities(st.suggestions, st.extras)
}

// ClearSession drops all state for sessionID.
func (a *Analyzer) ClearSession(sessionID string) {
	a.sessions.Delete(sessionID)
}

// toEntities groups suggestions by contact into the proposal input shape.
func toEntities(set map[string]Suggestion, ex map[string]*extras) []ContactEntities {
	byHint := map[string]*ContactEntities{}
	get := func(hint string) *ContactEntities {
		ce, ok := byHint[hint]
		if !ok {
			ce = &ContactEntities{ContactName: hint, Suggestions: []Suggestion{}}
			if e, ok := ex[hint]; ok {
				ce.ContactID = e.contact.ID
				ce.Entities.Groups = e.groups
				ce.Entities.LastContactDate = e.lastContactDate
			}
			byHint[hint] = ce
		}
		return ce
	}

	best := map[string]float64{}
	for _, s := range sorted(set) {
		ce := get(s.ContactHint)
		ce.Suggestions = append(ce.Suggestions, s)
		f := &ce.Entities.Fields
		single := func(dst *string) {
			k := s.ContactHint + "\x00" + string(s.Type)
			if s.Confidence > best[k] {
				*dst, best[k] = s.Value, s.Confidence
			}
		}
		switch s.Type {
		case TypePhone:
			single(&f.Phone)
		case TypeEmail:
			single(&f.Email)
		case TypeLocation:
			single(&f.Location)
		case TypeNote:
			if f.Notes != "" {
				f.Notes += "; "
			}
			f.Notes += s.Value
		case TypeInterest:
			f.Interests = append(f.Interests, s.Value)
		case TypeTag:
			ce.Entities.Tags = append(ce.Entities.Tags, s.Value)
		}
	}
	for hint, e := range ex {
		if len(e.groups) > 0 || e.lastContactDate != "" {
			get(hint)
		}
	}

	out := make([]ContactEntities, 0, len(byHint))
	for _, ce := range byHint {
		out = append(out, *ce)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContactName < out[j].ContactName })
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if k := normalize(v); k != "" && !seen[k] {
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}
