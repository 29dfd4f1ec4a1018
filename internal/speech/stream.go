// Package speech manages streaming recognition sessions against the speech backend,
// including reconnection with replay of recently sent audio.
package speech

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/grpcclient"
	"github.com/GriffinCanCode/voicenote/internal/resilience"
	"github.com/GriffinCanCode/voicenote/internal/trace"
	"github.com/GriffinCanCode/voicenote/pkg/wire"
)

// Recognizer is the speech backend.
type Recognizer interface {
	OpenRecognizeStream(ctx context.Context, cfg wire.RecognitionConfig) (grpcclient.RecognizeStream, error)
	Recognize(ctx context.Context, cfg wire.RecognitionConfig, audio []byte) (*wire.RecognizeResponse, error)
}

// Config for one stream.
type Config struct {
	LanguageCode        string
	SampleRate          int
	ReplayWindowSeconds int
	MaxRetries          int
	InitialDelay        time.Duration
	MaxDelay            time.Duration
	DrainTimeout        time.Duration
}

// DefaultConfig returns production stream settings.
func DefaultConfig() Config {
	return Config{
		LanguageCode:        "en-US",
		SampleRate:          16000,
		ReplayWindowSeconds: 10,
		MaxRetries:          5,
		InitialDelay:        time.Second,
		MaxDelay:            30 * time.Second,
		DrainTimeout:        5 * time.Second,
	}
}

// ReplayBytes is the replay cap for PCM16 mono audio at the configured rate.
func (c Config) ReplayBytes() int {
	return c.SampleRate * 2 * c.ReplayWindowSeconds
}

func (c Config) wire() wire.RecognitionConfig {
	return wire.RecognitionConfig{
		LanguageCode:    c.LanguageCode,
		SampleRateHertz: int32(c.SampleRate),
		Encoding:        wire.EncodingLinear16,
		InterimResults:  true,
	}
}

// Result is one recognition result.
type Result struct {
	Text       string
	IsFinal    bool
	Confidence float64
}

// Callbacks receive stream events. They are called from the stream's receive
// goroutine, one at a time. Nil callbacks are skipped.
type Callbacks struct {
	OnInterim      func(Result)
	OnFinal        func(Result)
	OnError        func(error)
	OnReconnecting func(attempt int, delay time.Duration)
	OnReconnected  func(attempt int)
}

// StreamManager opens recognition streams. One manager serves all sessions.
type StreamManager struct {
	rec   Recognizer
	sleep func(ctx context.Context, d time.Duration) error
}

// NewStreamManager creates a manager over rec.
func NewStreamManager(rec Recognizer) *StreamManager {
	return &StreamManager{rec: rec, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StartStream opens a stream and starts delivering results to cb.
func (m *StreamManager) StartStream(ctx context.Context, cfg Config, cb Callbacks) (*Handle, error) {
	if cfg.ReplayWindowSeconds <= 0 {
		cfg.ReplayWindowSeconds = DefaultConfig().ReplayWindowSeconds
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := m.rec.OpenRecognizeStream(ctx, cfg.wire())
	if err != nil {
		cancel()
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "open speech stream")
	}

	h := &Handle{
		mgr:    m,
		cfg:    cfg,
		cb:     cb,
		ctx:    ctx,
		cancel: cancel,
		stream: stream,
		replay: NewReplayBuffer(cfg.ReplayBytes()),
		active: true,
		done:   make(chan struct{}),
	}
	go h.run()
	return h, nil
}

// TranscribeAudioFile recognizes a complete recording in one call, without reconnects.
func (m *StreamManager) TranscribeAudioFile(ctx context.Context, cfg Config, audio []byte) (Result, error) {
	ctx, span := trace.StartSpan(ctx, "speech.transcribe_file")
	defer span.End()
	span.SetAttr("bytes", len(audio))

	resp, err := m.rec.Recognize(ctx, cfg.wire(), audio)
	if err != nil {
		span.SetAttr("error", err.Error())
		return Result{}, apperrors.FromGRPCError(err)
	}
	return Result{Text: resp.Text, IsFinal: true, Confidence: float64(resp.Confidence)}, nil
}

// Handle is one open stream.
type Handle struct {
	mgr    *StreamManager
	cfg    Config
	cb     Callbacks
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu serializes sends, replay and stream swaps so replayed audio is never
	// interleaved with new chunks.
	mu           sync.Mutex
	stream       grpcclient.RecognizeStream
	replay       *ReplayBuffer
	active       bool
	closing      bool
	reconnecting bool
}

// SendAudioChunk forwards chunk and keeps it for replay. While reconnecting the
// chunk is only buffered; it is sent as part of the replay.
func (h *Handle) SendAudioChunk(chunk []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active || h.closing {
		return apperrors.New(apperrors.CodeInvalidState, "speech stream is not active")
	}
	h.replay.Add(chunk)
	if h.reconnecting {
		return nil
	}
	if err := h.stream.Send(chunk); err != nil {
		// The receive side reports the real status and drives the reconnect.
		trace.Logger(h.ctx).Debug("audio send failed", "error", err)
	}
	return nil
}

// Active reports whether the stream still accepts audio.
func (h *Handle) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active && !h.closing
}

// Done is closed when the receive goroutine exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Close half-closes the stream, waits up to the drain timeout for the backend's
// remaining final results, then tears the stream down.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		<-h.done
		return nil
	}
	h.closing = true
	stream, reconnecting := h.stream, h.reconnecting
	h.mu.Unlock()

	if !reconnecting {
		if err := stream.CloseSend(); err != nil {
			trace.Logger(h.ctx).Debug("close send failed", "error", err)
		}
		select {
		case <-h.done:
		case <-time.After(h.cfg.DrainTimeout):
			trace.Logger(h.ctx).Warn("speech stream did not drain in time")
		}
	}
	h.cancel()
	<-h.done
	return nil
}

// Abort tears the stream down immediately without waiting for pending results.
func (h *Handle) Abort() {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()
	h.cancel()
	<-h.done
}

func (h *Handle) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

func (h *Handle) current() grpcclient.RecognizeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stream
}

func (h *Handle) run() {
	defer close(h.done)
	defer h.deactivate()

	for {
		resp, err := h.current().Recv()
		if err == nil {
			h.deliver(resp)
			continue
		}
		if errors.Is(err, io.EOF) || h.isClosing() {
			return
		}
		if !resilience.IsTransientTransport(err) {
			h.fail(apperrors.FromGRPCError(err))
			return
		}
		if !h.reconnect(err) {
			return
		}
	}
}

func (h *Handle) deliver(resp *wire.RecognizeResponse) {
	r := Result{Text: resp.Text, IsFinal: resp.IsFinal, Confidence: float64(resp.Confidence)}
	switch {
	case r.IsFinal && h.cb.OnFinal != nil:
		h.cb.OnFinal(r)
	case !r.IsFinal && h.cb.OnInterim != nil:
		h.cb.OnInterim(r)
	}
}

// reconnect reopens the stream with bounded exponential backoff and replays the
// buffered audio. It returns false when the stream is finished.
func (h *Handle) reconnect(cause error) bool {
	ctx, span := trace.StartSpan(h.ctx, "speech.reconnect")
	defer span.End()
	log := trace.Logger(ctx)

	h.mu.Lock()
	h.reconnecting = true
	h.mu.Unlock()

	backoff := resilience.Backoff{Initial: h.cfg.InitialDelay, Max: h.cfg.MaxDelay}
	for attempt := 1; attempt <= h.cfg.MaxRetries; attempt++ {
		delay := backoff.Delay(attempt)
		log.Warn("speech stream lost, reconnecting", "attempt", attempt, "delay", delay, "error", cause)
		if h.cb.OnReconnecting != nil {
			h.cb.OnReconnecting(attempt, delay)
		}
		if err := h.mgr.sleep(h.ctx, delay); err != nil || h.isClosing() {
			return false
		}

		if err := h.reopen(ctx); err != nil {
			cause = err
			continue
		}
		span.SetAttr("attempt", attempt)
		log.Info("speech stream reconnected", "attempt", attempt)
		if h.cb.OnReconnected != nil {
			h.cb.OnReconnected(attempt)
		}
		return true
	}

	span.SetAttr("error", cause.Error())
	h.fail(apperrors.Wrapf(cause, apperrors.CodeStreamExhausted, "speech stream lost after %d reconnect attempts", h.cfg.MaxRetries).
		WithMetadata("attempts", strconv.Itoa(h.cfg.MaxRetries)))
	return false
}

// reopen opens a new stream and replays the buffer while holding the send lock.
func (h *Handle) reopen(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, err := h.mgr.rec.OpenRecognizeStream(h.ctx, h.cfg.wire())
	if err != nil {
		return err
	}
	chunks := h.replay.Chunks()
	for _, c := range chunks {
		if err := stream.Send(c); err != nil {
			_ = stream.CloseSend()
			return err
		}
	}
	trace.Logger(ctx).Debug("replayed buffered audio", "chunks", len(chunks), "bytes", h.replay.Size())
	h.stream = stream
	h.reconnecting = false
	return nil
}

func (h *Handle) fail(err error) {
	h.deactivate()
	trace.Logger(h.ctx).Error("speech stream failed", "error", err)
	if h.cb.OnError != nil {
		h.cb.OnError(err)
	}
}

func (h *Handle) deactivate() {
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
}
