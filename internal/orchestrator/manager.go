// Package orchestrator owns the registry of live voice-note sessions and routes
// session control to them.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/voicenote/internal/config"
	"github.com/GriffinCanCode/voicenote/internal/enrichment"
	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/session"
	"github.com/GriffinCanCode/voicenote/internal/speech"
	"github.com/GriffinCanCode/voicenote/internal/syncx"
	"github.com/GriffinCanCode/voicenote/internal/trace"
)

// Stats are registry counters since process start.
type Stats struct {
	Active    int `json:"active"`
	Started   int `json:"started"`
	Finalized int `json:"finalized"`
	Cancelled int `json:"cancelled"`
	Evicted   int `json:"evicted"`
	Errored   int `json:"errored"`
}

// Manager is the process-wide session registry.
type Manager struct {
	cfg      *config.Config
	deps     session.Deps
	now      func() time.Time
	sessions *syncx.Map[string, *session.Session]
	stats    *syncx.Value[Stats]

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a manager. deps are shared by every session.
func NewManager(cfg *config.Config, deps session.Deps) *Manager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		now:      now,
		sessions: syncx.NewMap[string, *session.Session](),
		stats:    syncx.NewValue(Stats{}),
		stopCh:   make(chan struct{}),
	}
}

// AnalyzerConfig maps configuration onto the analyzer's trigger policy.
func AnalyzerConfig(cfg *config.Config) enrichment.Config {
	return enrichment.Config{
		Trigger: enrichment.TriggerPolicy{
			MinWords:        cfg.Analyzer.MinWords,
			MinInterval:     cfg.Analyzer.MinInterval,
			PauseThreshold:  cfg.Analyzer.PauseThreshold,
			MaxPendingWords: cfg.Analyzer.MaxPendingWords,
		},
		MergeMode: cfg.Analyzer.MergeMode,
	}
}

// StreamConfig maps configuration onto a speech stream config.
func StreamConfig(cfg *config.Config, languageCode string) speech.Config {
	if languageCode == "" {
		languageCode = cfg.LanguageCode
	}
	return speech.Config{
		LanguageCode:        languageCode,
		SampleRate:          cfg.SampleRate,
		ReplayWindowSeconds: cfg.Stream.ReplayWindowSeconds,
		MaxRetries:          cfg.Stream.ReconnectMaxRetries,
		InitialDelay:        cfg.Stream.ReconnectInitialDelay,
		MaxDelay:            cfg.Stream.ReconnectMaxDelay,
		DrainTimeout:        StreamDrainTimeout,
	}
}

func (m *Manager) sessionConfig(userID, languageCode string) session.Config {
	stream := StreamConfig(m.cfg, languageCode)
	return session.Config{
		UserID:            userID,
		LanguageCode:      stream.LanguageCode,
		Stream:            stream,
		PauseTimeout:      m.cfg.Session.PauseTimeout,
		SegmentThreshold:  m.cfg.Session.SegmentThreshold,
		SegmentKeepChunks: m.cfg.Session.SegmentKeepChunks,
		EventBuffer:       m.cfg.Session.EventBuffer,
	}
}

// Start runs the idle sweeper until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	go m.sweepLoop(ctx)
}

// Stop cancels every live session and stops the sweeper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		for _, s := range m.sessions.Values() {
			if err := s.Cancel(); err == nil {
				m.count(func(st *Stats) { st.Cancelled++ })
			}
			m.sessions.Delete(s.ID())
		}
	})
}

// StartSession creates and registers a recording session.
func (m *Manager) StartSession(ctx context.Context, userID, languageCode string) (*session.Session, error) {
	if userID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "user id is required")
	}
	id := uuid.NewString()
	ctx, span := trace.StartSpan(trace.WithSession(ctx, id), "orchestrator.start_session")
	defer span.End()

	s, err := session.Start(ctx, id, m.sessionConfig(userID, languageCode), m.deps)
	if err != nil {
		span.SetAttr("error", err.Error())
		return nil, err
	}
	m.sessions.Store(id, s)
	m.count(func(st *Stats) { st.Started++ })
	return s, nil
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*session.Session, error) {
	s, ok := m.sessions.Load(id)
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "session %s not found", id)
	}
	return s, nil
}

// Pause pauses a session.
func (m *Manager) Pause(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Pause()
}

// Resume resumes a paused session.
func (m *Manager) Resume(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Resume()
}

// SubmitAudio forwards an audio chunk to a session.
func (m *Manager) SubmitAudio(id string, chunk []byte) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.SubmitAudio(chunk)
}

// Events returns a session's event channel.
func (m *Manager) Events(id string) (<-chan session.Event, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Events(), nil
}

// EndSession finalizes a session and removes it from the registry, whether or not
// finalization succeeds. State errors leave it registered.
func (m *Manager) EndSession(ctx context.Context, id string) (*session.Result, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	res, err := s.End(ctx)
	if apperrors.IsCode(err, apperrors.CodeInvalidState) {
		return nil, err
	}
	m.sessions.Delete(id)
	if err != nil {
		m.count(func(st *Stats) { st.Errored++ })
		return nil, err
	}
	m.count(func(st *Stats) { st.Finalized++ })
	return res, nil
}

// CancelSession cancels a session and removes it from the registry.
func (m *Manager) CancelSession(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Cancel(); err != nil {
		return err
	}
	m.sessions.Delete(id)
	m.count(func(st *Stats) { st.Cancelled++ })
	return nil
}

// Stats returns a snapshot of the registry counters.
func (m *Manager) Stats() Stats {
	st := m.stats.Load()
	st.Active = m.sessions.Len()
	return st
}

// Sweep cancels sessions idle longer than the idle timeout and drops sessions that
// already failed on their own. It returns how many sessions were removed.
func (m *Manager) Sweep(ctx context.Context) int {
	idle := m.cfg.Session.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	cutoff := m.now().Add(-idle)
	log := trace.Logger(ctx)

	removed := 0
	for _, s := range m.sessions.Values() {
		switch st := s.Status(); {
		case st.Terminal():
			if _, ok := m.sessions.LoadAndDelete(s.ID()); ok {
				removed++
				if st == session.StatusError {
					m.count(func(c *Stats) { c.Errored++ })
				}
			}
		case s.LastActivity().Before(cutoff):
			if err := s.Cancel(); err != nil {
				log.Debug("idle session changed state before eviction", "session_id", s.ID(), "error", err)
			}
			if _, ok := m.sessions.LoadAndDelete(s.ID()); ok {
				removed++
				m.count(func(c *Stats) { c.Evicted++ })
				log.Info("evicted idle session", "session_id", s.ID(), "user_id", s.UserID())
			}
		}
	}
	return removed
}

func (m *Manager) sweepLoop(ctx context.Context) {
	interval := m.cfg.Session.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

func (m *Manager) count(fn func(*Stats)) {
	m.stats.Update(fn)
}
