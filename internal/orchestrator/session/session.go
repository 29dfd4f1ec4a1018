// Package session implements one voice-note recording: its state machine, the
// live transcript, incremental enrichment and finalization into a proposal.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/voicenote/internal/contacts"
	"github.com/GriffinCanCode/voicenote/internal/enrichment"
	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/audio"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/debounce"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/transcript"
	"github.com/GriffinCanCode/voicenote/internal/proposal"
	"github.com/GriffinCanCode/voicenote/internal/speech"
	"github.com/GriffinCanCode/voicenote/internal/trace"
)

// pauseCheckSlack puts the pause re-check just past the analyzer's pause threshold.
const pauseCheckSlack = 50 * time.Millisecond

// Config for one session.
type Config struct {
	UserID            string
	LanguageCode      string
	Stream            speech.Config
	PauseTimeout      time.Duration
	SegmentThreshold  time.Duration
	SegmentKeepChunks int
	EventBuffer       int
}

func (c Config) withDefaults() Config {
	if c.PauseTimeout <= 0 {
		c.PauseTimeout = 5 * time.Minute
	}
	if c.SegmentThreshold <= 0 {
		c.SegmentThreshold = 10 * time.Minute
	}
	if c.SegmentKeepChunks <= 0 {
		c.SegmentKeepChunks = 50
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.LanguageCode != "" {
		c.Stream.LanguageCode = c.LanguageCode
	}
	return c
}

// ProposalBuilder turns finalized entities into a persisted proposal.
type ProposalBuilder interface {
	Build(ctx context.Context, in proposal.Input) (*proposal.Proposal, error)
}

// Deps are the services a session uses. Contacts may be nil.
type Deps struct {
	Speech    *speech.StreamManager
	Analyzer  *enrichment.Analyzer
	Proposals ProposalBuilder
	Contacts  contacts.Directory
	Now       func() time.Time
}

// Result is what a successfully ended session returns.
type Result struct {
	SessionID  string                       `json:"session_id"`
	Transcript string                       `json:"transcript"`
	Proposal   *proposal.Proposal           `json:"proposal"`
	Entities   []enrichment.ContactEntities `json:"entities"`
	ElapsedMS  int64                        `json:"elapsed_ms"`
}

// Info is a point-in-time view of a session.
type Info struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"user_id"`
	LanguageCode  string                  `json:"language_code"`
	Status        Status                  `json:"status"`
	StartedAt     time.Time               `json:"started_at"`
	ElapsedMS     int64                   `json:"elapsed_ms"`
	WordCount     int                     `json:"word_count"`
	Transcript    string                  `json:"transcript"`
	Interim       string                  `json:"interim,omitempty"`
	Suggestions   []enrichment.Suggestion `json:"suggestions"`
	DroppedEvents int                     `json:"dropped_events,omitempty"`
}

type job struct {
	text       string
	pauseCheck bool
	seq        uint64
}

// Session is one recording. Stream callbacks, timers and API calls all mutate it
// under mu; model calls run on the analysis worker without holding it.
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc

	contacts   []contacts.Contact
	transcript *transcript.Manager
	audio      *audio.Buffer
	wake       chan struct{}
	workerDone chan struct{}

	// sendMu keeps audio chunks in submission order on the stream.
	sendMu sync.Mutex

	mu             sync.Mutex
	status         Status
	startedAt      time.Time
	endedAt        time.Time
	lastActivity   time.Time
	pausedAt       time.Time
	pausedTotal    time.Duration
	lastBoundary   time.Duration
	pauseEpisode   uint64
	timeoutEpisode uint64
	pauseTimer     *debounce.Timer
	pauseCheck     *debounce.Timer
	stream         *speech.Handle
	streamErr      error
	queue          []job
	queueClosed    bool
	finalSeq       uint64
	emitted        map[string]struct{}
	final          []enrichment.Suggestion
	events         chan Event
	eventsClosed   bool
	dropped        int
}

// Start opens the speech stream and begins recording. The session outlives ctx;
// only trace values are taken from it.
func Start(ctx context.Context, id string, cfg Config, deps Deps) (*Session, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	cfg = cfg.withDefaults()
	sctx, cancel := context.WithCancel(trace.WithSession(context.WithoutCancel(ctx), id))
	now := deps.Now()

	s := &Session{
		id:           id,
		cfg:          cfg,
		deps:         deps,
		now:          deps.Now,
		ctx:          sctx,
		cancel:       cancel,
		transcript:   transcript.NewManager(),
		audio:        audio.NewBuffer(),
		wake:         make(chan struct{}, 1),
		workerDone:   make(chan struct{}),
		status:       StatusRecording,
		startedAt:    now,
		lastActivity: now,
		emitted:      map[string]struct{}{},
		events:       make(chan Event, cfg.EventBuffer),
	}
	threshold := deps.Analyzer.Config().Trigger.PauseThreshold
	s.pauseCheck = debounce.New(threshold+pauseCheckSlack, s.enqueuePauseCheck)
	s.contacts = s.loadContacts(sctx)

	stream, err := deps.Speech.StartStream(sctx, cfg.Stream, speech.Callbacks{
		OnInterim:      s.onInterim,
		OnFinal:        s.onFinal,
		OnError:        s.onStreamError,
		OnReconnecting: s.onReconnecting,
		OnReconnected:  s.onReconnected,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	s.mu.Lock()
	s.stream = stream
	s.emitLocked(Event{Type: EventStatus, Status: StatusRecording})
	s.mu.Unlock()

	go s.analysisLoop()
	trace.Logger(sctx).Info("session started", "user_id", cfg.UserID, "language", cfg.Stream.LanguageCode, "contacts", len(s.contacts))
	return s, nil
}

func (s *Session) loadContacts(ctx context.Context) []contacts.Contact {
	if s.deps.Contacts == nil || s.cfg.UserID == "" {
		return nil
	}
	list, err := s.deps.Contacts.ListContacts(ctx, s.cfg.UserID)
	if err != nil {
		trace.Logger(ctx).Warn("contact lookup failed, continuing without contacts", "error", err)
		return nil
	}
	return list
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.cfg.UserID }

// Events returns the session's event channel. It is closed once the session
// reaches a terminal state.
func (s *Session) Events() <-chan Event { return s.events }

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns when the session last received audio, a result or a command.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Elapsed returns recording time excluding pauses.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

// Info returns a snapshot for status queries.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:            s.id,
		UserID:        s.cfg.UserID,
		LanguageCode:  s.cfg.Stream.LanguageCode,
		Status:        s.status,
		StartedAt:     s.startedAt,
		ElapsedMS:     s.elapsedLocked().Milliseconds(),
		DroppedEvents: s.dropped,
		Suggestions:   s.final,
	}
	terminal := s.status.Terminal() || s.status == StatusExtracting
	s.mu.Unlock()

	info.WordCount = s.transcript.WordCount()
	info.Transcript = s.transcript.FinalTranscript()
	if seg, ok := s.transcript.Interim(); ok {
		info.Interim = seg.Text
	}
	if !terminal {
		info.Suggestions = s.deps.Analyzer.Suggestions(s.id)
	}
	if info.Suggestions == nil {
		info.Suggestions = []enrichment.Suggestion{}
	}
	return info
}

// Segments returns the transcript segments recorded so far.
func (s *Session) Segments() []transcript.Segment {
	return s.transcript.Segments()
}

// SubmitAudio forwards one PCM chunk to the speech stream.
func (s *Session) SubmitAudio(chunk []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.status != StatusRecording {
		st := s.status
		s.mu.Unlock()
		return invalidState("submit audio to", st)
	}
	s.audio.Append(chunk)
	s.touchLocked()
	s.maybeSegmentLocked()
	stream := s.stream
	s.mu.Unlock()

	return stream.SendAudioChunk(chunk)
}

// Pause stops accepting audio and arms the pause timeout.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRecording {
		return invalidState("pause", s.status)
	}
	s.pausedAt = s.now()
	s.setStatusLocked(StatusPaused)
	s.transcript.InsertPauseMarker()
	s.pauseCheck.Cancel()
	s.touchLocked()

	s.pauseEpisode++
	episode := s.pauseEpisode
	s.pauseTimer = debounce.New(s.cfg.PauseTimeout, func() { s.onPauseTimeout(episode) })
	s.pauseTimer.Arm()
	return nil
}

// Resume continues a paused recording.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusPaused {
		return invalidState("resume", s.status)
	}
	s.foldPauseLocked()
	s.setStatusLocked(StatusRecording)
	s.touchLocked()
	return nil
}

// End finalizes the session: it closes the stream, requires a transcript, runs the
// last enrichment pass and builds the proposal. Any failure moves the session to
// error and is returned.
func (s *Session) End(ctx context.Context) (*Result, error) {
	ctx, span := trace.StartSpan(trace.WithSession(ctx, s.id), "session.finalize")
	defer span.End()
	log := trace.Logger(ctx)

	s.mu.Lock()
	if s.status != StatusRecording && s.status != StatusPaused {
		st := s.status
		s.mu.Unlock()
		return nil, invalidState("end", st)
	}
	s.foldPauseLocked()
	s.stopTimersLocked()
	s.setStatusLocked(StatusTranscribing)
	s.touchLocked()
	stream := s.stream
	s.mu.Unlock()

	if err := stream.Close(); err != nil {
		log.Warn("closing speech stream failed", "error", err)
	}
	if err := s.streamError(); err != nil {
		log.Warn("speech stream ended with an error, finalizing what was received", "error", err)
	}

	text := strings.TrimSpace(s.transcript.FinalTranscript())
	if text == "" {
		text = s.transcribeRetained(ctx)
	}
	span.SetAttr("words", len(strings.Fields(text)))
	if text == "" {
		return nil, s.fail(apperrors.New(apperrors.CodeEmptyTranscript, "no speech was transcribed").
			WithMetadata("session_id", s.id))
	}

	s.mu.Lock()
	s.closeQueueLocked(false)
	s.mu.Unlock()
	select {
	case <-s.workerDone:
	case <-ctx.Done():
		return nil, s.fail(apperrors.Wrap(ctx.Err(), apperrors.CodeCancelled, "finalize interrupted"))
	}

	s.mu.Lock()
	ok := s.setStatusLocked(StatusExtracting)
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.New(apperrors.CodeCancelled, "session was cancelled during finalize")
	}

	entities := s.deps.Analyzer.Finalize(ctx, s.id, text, s.contacts)
	var all []enrichment.Suggestion
	for _, ce := range entities {
		all = append(all, ce.Suggestions...)
	}
	s.publishSuggestions(all)

	p, err := s.deps.Proposals.Build(ctx, proposal.Input{
		SessionID:  s.id,
		UserID:     s.cfg.UserID,
		Transcript: text,
		Entities:   entities,
	})
	if err != nil {
		span.SetAttr("error", err.Error())
		if !apperrors.IsCode(err, apperrors.CodeProposalFailed) {
			err = apperrors.Wrap(err, apperrors.CodeProposalFailed, "build enrichment proposal")
		}
		return nil, s.fail(err)
	}

	s.mu.Lock()
	s.final = all
	if !s.setStatusLocked(StatusReady) {
		s.mu.Unlock()
		return nil, apperrors.New(apperrors.CodeCancelled, "session was cancelled during finalize")
	}
	s.closeEventsLocked()
	res := &Result{
		SessionID:  s.id,
		Transcript: text,
		Proposal:   p,
		Entities:   entities,
		ElapsedMS:  s.elapsedLocked().Milliseconds(),
	}
	s.mu.Unlock()
	s.cancel()

	log.Info("session finalized", "words", len(strings.Fields(text)), "contacts", len(entities), "items", len(p.Items))
	return res, nil
}

// Cancel stops the session without persisting anything. The stream and all timers
// are stopped before it returns.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.status.Terminal() {
		st := s.status
		s.mu.Unlock()
		return invalidState("cancel", st)
	}
	s.stopTimersLocked()
	s.closeQueueLocked(true)
	s.setStatusLocked(StatusCancelled)
	s.closeEventsLocked()
	stream := s.stream
	s.mu.Unlock()

	stream.Abort()
	s.cancel()
	<-s.workerDone
	s.deps.Analyzer.ClearSession(s.id)
	trace.Logger(s.ctx).Info("session cancelled")
	return nil
}

// fail moves the session to error, emits the error and releases its resources.
// It returns err for the caller to propagate.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return err
	}
	s.stopTimersLocked()
	s.closeQueueLocked(true)
	s.emitLocked(Event{Type: EventError, Code: apperrors.CodeOf(err).String(), Error: err.Error()})
	s.setStatusLocked(StatusError)
	s.closeEventsLocked()
	s.mu.Unlock()

	s.cancel()
	<-s.workerDone
	s.deps.Analyzer.ClearSession(s.id)
	trace.Logger(s.ctx).Error("session failed", "error", err)
	return err
}

func (s *Session) transcribeRetained(ctx context.Context) string {
	pcm := s.audio.Bytes()
	if len(pcm) == 0 {
		return ""
	}
	r, err := s.deps.Speech.TranscribeAudioFile(ctx, s.cfg.Stream, pcm)
	if err != nil {
		trace.Logger(ctx).Warn("fallback transcription failed", "error", err)
		return ""
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return ""
	}

	s.mu.Lock()
	seg := s.transcript.FinalizeText(text, r.Confidence)
	s.emitLocked(Event{Type: EventFinal, Text: seg.Text, Confidence: seg.Confidence, Level: string(seg.Level())})
	s.mu.Unlock()
	return text
}

func (s *Session) streamError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

// Stream callbacks.

func (s *Session) onInterim(r speech.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() || s.status == StatusExtracting {
		return
	}
	s.transcript.AddInterimText(r.Text, r.Confidence)
	s.touchLocked()
	s.emitLocked(Event{Type: EventInterim, Text: r.Text, Confidence: r.Confidence})
}

func (s *Session) onFinal(r speech.Result) {
	text := strings.TrimSpace(r.Text)
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" || s.status.Terminal() || s.status == StatusExtracting {
		return
	}
	seg := s.transcript.FinalizeText(text, r.Confidence)
	s.touchLocked()
	s.emitLocked(Event{Type: EventFinal, Text: seg.Text, Confidence: seg.Confidence, Level: string(seg.Level())})
	s.enqueueLocked(job{text: text})
	if s.status == StatusRecording {
		s.pauseCheck.Arm()
	}
	s.maybeSegmentLocked()
}

func (s *Session) onStreamError(err error) {
	s.mu.Lock()
	if s.status == StatusTranscribing || s.status == StatusExtracting {
		s.streamErr = err
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	_ = s.fail(err)
}

func (s *Session) onReconnecting(attempt int, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(Event{Type: EventReconnecting, Attempt: attempt, DelayMS: delay.Milliseconds()})
}

func (s *Session) onReconnected(attempt int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(Event{Type: EventReconnected, Attempt: attempt})
}

// Timers.

func (s *Session) onPauseTimeout(episode uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused || episode != s.pauseEpisode || s.timeoutEpisode == episode {
		return
	}
	s.timeoutEpisode = episode
	paused := s.now().Sub(s.pausedAt)
	trace.Logger(s.ctx).Info("pause timeout", "paused", paused)
	s.emitLocked(Event{Type: EventPauseTimeout, PausedMS: paused.Milliseconds()})
}

func (s *Session) enqueuePauseCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRecording && s.status != StatusPaused {
		return
	}
	s.enqueueLocked(job{pauseCheck: true})
}

func (s *Session) stopTimersLocked() {
	s.pauseCheck.Stop()
	if s.pauseTimer != nil {
		s.pauseTimer.Stop()
	}
}

// Analysis worker.

func (s *Session) enqueueLocked(j job) {
	if s.queueClosed {
		return
	}
	if !j.pauseCheck {
		s.finalSeq++
	}
	j.seq = s.finalSeq
	s.queue = append(s.queue, j)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) closeQueueLocked(discard bool) {
	s.queueClosed = true
	if discard {
		s.queue = nil
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) nextJob() (job, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			j := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return j, true
		}
		closed := s.queueClosed
		s.mu.Unlock()
		if closed {
			return job{}, false
		}
		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return job{}, false
		}
	}
}

// analysisLoop feeds final text to the analyzer one job at a time, so analyses
// for this session never overlap.
func (s *Session) analysisLoop() {
	defer close(s.workerDone)
	for {
		j, ok := s.nextJob()
		if !ok {
			return
		}

		var triggered bool
		if j.pauseCheck {
			triggered = s.deps.Analyzer.CheckPause(s.ctx, s.id, s.contacts)
		} else {
			triggered = s.deps.Analyzer.ProcessTranscript(s.ctx, s.id, j.text, true, s.contacts)
		}
		if !triggered {
			continue
		}

		s.mu.Lock()
		if j.seq == s.finalSeq {
			s.pauseCheck.Cancel()
		}
		s.mu.Unlock()
		s.publishSuggestions(s.deps.Analyzer.Suggestions(s.id))
	}
}

// publishSuggestions emits one enrichment update per contact for suggestions not
// emitted before.
func (s *Session) publishSuggestions(list []enrichment.Suggestion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byHint := map[string][]enrichment.Suggestion{}
	var hints []string
	for _, sg := range list {
		if _, seen := s.emitted[sg.ID]; seen {
			continue
		}
		s.emitted[sg.ID] = struct{}{}
		if _, ok := byHint[sg.ContactHint]; !ok {
			hints = append(hints, sg.ContactHint)
		}
		byHint[sg.ContactHint] = append(byHint[sg.ContactHint], sg)
	}
	for _, h := range hints {
		s.emitLocked(Event{Type: EventEnrichment, ContactName: h, Suggestions: byHint[h]})
	}
}

// State helpers. All require mu.

func (s *Session) setStatusLocked(to Status) bool {
	if !CanTransition(s.status, to) {
		trace.Logger(s.ctx).Debug("ignoring status transition", "from", s.status, "to", to)
		return false
	}
	from := s.status
	s.status = to
	if to.Terminal() && s.endedAt.IsZero() {
		s.endedAt = s.now()
	}
	trace.Logger(s.ctx).Info("session status changed", "from", from, "to", to)
	s.emitLocked(Event{Type: EventStatus, Status: to})
	return true
}

func (s *Session) foldPauseLocked() {
	if s.pausedAt.IsZero() {
		return
	}
	s.pausedTotal += s.now().Sub(s.pausedAt)
	s.pausedAt = time.Time{}
	if s.pauseTimer != nil {
		s.pauseTimer.Stop()
	}
}

func (s *Session) elapsedLocked() time.Duration {
	end := s.now()
	if !s.endedAt.IsZero() {
		end = s.endedAt
	}
	paused := s.pausedTotal
	if !s.pausedAt.IsZero() {
		paused += end.Sub(s.pausedAt)
	}
	return max(end.Sub(s.startedAt)-paused, 0)
}

// maybeSegmentLocked marks a segment boundary once enough recording time has
// passed since the last one and releases old audio.
func (s *Session) maybeSegmentLocked() {
	elapsed := s.elapsedLocked()
	if elapsed-s.lastBoundary < s.cfg.SegmentThreshold {
		return
	}
	s.transcript.InsertSegmentBoundary()
	released := s.audio.Release(s.cfg.SegmentKeepChunks)
	s.lastBoundary = elapsed
	trace.Logger(s.ctx).Info("segment boundary", "elapsed", elapsed, "released_chunks", released)
}

func (s *Session) touchLocked() {
	s.lastActivity = s.now()
}

func (s *Session) emitLocked(ev Event) {
	if s.eventsClosed {
		return
	}
	ev.SessionID = s.id
	ev.Time = s.now()
	select {
	case s.events <- ev:
	default:
		s.dropped++
		trace.Logger(s.ctx).Warn("session event buffer full, dropping event", "type", ev.Type)
	}
}

func (s *Session) closeEventsLocked() {
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.events)
}

func invalidState(op string, st Status) error {
	return apperrors.Newf(apperrors.CodeInvalidState, "cannot %s a session that is %s", op, st).
		WithMetadata("status", string(st))
}
