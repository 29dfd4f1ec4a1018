// Package transcript accumulates a session's transcript: append-only final segments
// plus at most one interim segment that is overwritten on every update.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Kind distinguishes text segments from non-text markers.
type Kind int

const (
	KindFinal Kind = iota
	KindPause
	KindBoundary
)

func (k Kind) String() string {
	return [...]string{"final", "pause", "boundary"}[k]
}

// Segment is one immutable entry of the transcript history.
type Segment struct {
	ID         int64     `json:"id"`
	Kind       Kind      `json:"kind"`
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConfidenceLevel buckets a confidence score for display.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Level returns the bucket for c. Each bucket includes its lower bound.
func Level(c float64) ConfidenceLevel {
	switch {
	case c >= 0.9:
		return ConfidenceHigh
	case c >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Level returns the confidence bucket of the segment.
func (s Segment) Level() ConfidenceLevel { return Level(s.Confidence) }

// Manager is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	segments []Segment
	interim  *Segment
	words    int
	nextID   int64
	now      func() time.Time
}

// NewManager creates an empty transcript.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// AddInterimText replaces the current interim segment.
func (m *Manager) AddInterimText(text string, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interim = &Segment{Kind: KindFinal, Text: text, Confidence: confidence, Timestamp: m.now()}
}

// FinalizeText appends an immutable segment and clears the interim segment.
func (m *Manager) FinalizeText(text string, confidence float64) Segment {
	m.mu.Lock()
	defer m.mu.Unlock()

	seg := m.appendLocked(KindFinal, strings.TrimSpace(text), confidence)
	m.words += len(strings.Fields(text))
	m.interim = nil
	return seg
}

// InsertPauseMarker records that the user paused.
func (m *Manager) InsertPauseMarker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(KindPause, "", 0)
}

// InsertSegmentBoundary records a long-recording segment boundary.
func (m *Manager) InsertSegmentBoundary() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendLocked(KindBoundary, "", 0)
}

func (m *Manager) appendLocked(kind Kind, text string, confidence float64) Segment {
	m.nextID++
	seg := Segment{ID: m.nextID, Kind: kind, Text: text, Confidence: confidence, Timestamp: m.now()}
	m.segments = append(m.segments, seg)
	return seg
}

// FinalTranscript joins the final segments. Markers and interim text are excluded.
func (m *Manager) FinalTranscript() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finalLocked()
}

func (m *Manager) finalLocked() string {
	parts := make([]string, 0, len(m.segments))
	for _, s := range m.segments {
		if s.Kind == KindFinal && s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

// FullTranscript is the final transcript followed by the current interim text.
func (m *Manager) FullTranscript() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	final := m.finalLocked()
	if m.interim == nil || m.interim.Text == "" {
		return final
	}
	if final == "" {
		return m.interim.Text
	}
	return final + " " + m.interim.Text
}

// Interim returns the current interim segment, if any.
func (m *Manager) Interim() (Segment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.interim == nil {
		return Segment{}, false
	}
	return *m.interim, true
}

// WordCount is the number of whitespace-separated words finalized so far.
func (m *Manager) WordCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.words
}

// Segments returns a copy of the segment history.
func (m *Manager) Segments() []Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Segment, len(m.segments))
	copy(result, m.segments)
	return result
}

// Clear empties the transcript.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = nil
	m.interim = nil
	m.words = 0
}
