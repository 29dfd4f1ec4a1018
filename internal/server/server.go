// Package server provides the HTTP and WebSocket surface for voice-note sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/voicenote/internal/config"
	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/audio"
	"github.com/GriffinCanCode/voicenote/internal/orchestrator/session"
	"github.com/GriffinCanCode/voicenote/internal/proposal"
	"github.com/GriffinCanCode/voicenote/internal/speech"
	"github.com/GriffinCanCode/voicenote/internal/trace"
)

// Sessions is the session registry the server drives.
type Sessions interface {
	StartSession(ctx context.Context, userID, languageCode string) (*session.Session, error)
	Get(id string) (*session.Session, error)
	Pause(id string) error
	Resume(id string) error
	SubmitAudio(id string, chunk []byte) error
	EndSession(ctx context.Context, id string) (*session.Result, error)
	CancelSession(id string) error
	Events(id string) (<-chan session.Event, error)
	Stats() orchestrator.Stats
}

// FileTranscriber runs one-shot recognition.
type FileTranscriber interface {
	TranscribeAudioFile(ctx context.Context, cfg speech.Config, audio []byte) (speech.Result, error)
}

// ProposalStore loads saved proposals.
type ProposalStore interface {
	GetProposal(ctx context.Context, id string) (*proposal.Proposal, error)
}

// StartRequest is the body of POST /api/sessions.
type StartRequest struct {
	UserID       string `json:"user_id"`
	LanguageCode string `json:"language_code,omitempty"`
}

// StartResponse is returned by POST /api/sessions.
type StartResponse struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
}

// StatusResponse is returned by pause, resume and cancel.
type StatusResponse struct {
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
}

// TranscribeResponse is returned by POST /api/transcribe.
type TranscribeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ControlMessage is a text frame sent by a WebSocket client.
type ControlMessage struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

// ServerMessage is every frame the server writes on a WebSocket: a session event,
// or the final result of an end request.
type ServerMessage struct {
	session.Event
	Result *session.Result `json:"result,omitempty"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	sessions  Sessions
	files     FileTranscriber
	proposals ProposalStore
	cfg       *config.Config
}

// New creates a new server. files and proposals may be nil, which disables their routes.
func New(sessions Sessions, files FileTranscriber, proposals ProposalStore, cfg *config.Config) *Server {
	return &Server{sessions: sessions, files: files, proposals: proposals, cfg: cfg}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	// Sessions
	mux.HandleFunc("POST /api/sessions", s.handleStart)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGet)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/sessions/{id}/audio", s.handleAudio)
	mux.HandleFunc("POST /api/sessions/{id}/end", s.handleEnd)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleCancel)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/proposals/{id}", s.handleProposal)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.Wrap(err, apperrors.CodeInternal, err.Error())
	}
	status := appErr.HTTPStatus()
	log := trace.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: appErr.Message, Code: appErr.Code.String(), Metadata: appErr.Metadata})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid JSON body"))
		return
	}
	sess, err := s.sessions.StartSession(r.Context(), req.UserID, req.LanguageCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartResponse{SessionID: sess.ID(), Status: sess.Status()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.sessions.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.control(w, r, s.sessions.Resume)
}

func (s *Server) control(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := r.PathValue("id")
	if err := op(id); err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{SessionID: id, Status: sess.Status()})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	chunk, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxAudioChunkBytes))
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "read audio chunk"))
		return
	}
	if len(chunk) == 0 {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "empty audio chunk"))
		return
	}
	if err := s.sessions.SubmitAudio(r.PathValue("id"), chunk); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	res, err := s.sessions.EndSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.CancelSession(id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{SessionID: id, Status: session.StatusCancelled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.Stats())
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	if s.proposals == nil {
		writeError(w, r, apperrors.New(apperrors.CodeUnavailable, "proposal storage is not configured"))
		return
	}
	p, err := s.proposals.GetProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeError(w, r, apperrors.New(apperrors.CodeUnavailable, "transcription is not configured"))
		return
	}
	ctx, span := trace.StartSpan(r.Context(), "server.transcribe")
	defer span.End()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxTranscribeBytes))
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "read audio"))
		return
	}
	cfg := orchestrator.StreamConfig(s.cfg, r.URL.Query().Get("language"))
	if audio.IsWAV(data) {
		wav, err := audio.ParseWAV(data)
		if err != nil {
			writeError(w, r, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "parse WAV"))
			return
		}
		if wav.Channels != 1 {
			writeError(w, r, apperrors.Newf(apperrors.CodeInvalidArgument, "expected mono audio, got %d channels", wav.Channels))
			return
		}
		cfg.SampleRate = wav.SampleRate
		data = wav.Data
	}
	if len(data) == 0 {
		writeError(w, r, apperrors.New(apperrors.CodeInvalidArgument, "empty audio"))
		return
	}
	span.SetAttr("bytes", len(data))

	res, err := s.files.TranscribeAudioFile(ctx, cfg, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TranscribeResponse{Text: res.Text, Confidence: res.Confidence})
}

// handleWebSocket attaches a client to one session. Binary frames are audio
// chunks, text frames are control messages, and every session event is written
// back as JSON. A session's events go to a single subscriber.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	events, err := s.sessions.Events(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	baseCtx := trace.WithSession(r.Context(), id)
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		s.forwardEvents(baseCtx, conn, events)
	}()

	rl := &rateLimiter{}
	for {
		typ, data, err := conn.Read(baseCtx)
		if err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if typ == websocket.MessageBinary {
			if err := s.sessions.SubmitAudio(id, data); err != nil {
				s.writeErr(baseCtx, conn, err)
			}
			continue
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			s.writeErr(baseCtx, conn, apperrors.New(apperrors.CodeUnavailable, "rate limit exceeded"))
			continue
		}

		var msg ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.writeErr(baseCtx, conn, apperrors.Wrap(err, apperrors.CodeInvalidArgument, "invalid control message"))
			continue
		}
		ctx := trace.FromMessage(baseCtx, data)

		if done := s.handleControl(ctx, conn, id, msg.Type, forwardDone); done {
			return
		}
	}
}

// handleControl runs one control message. It returns true when the connection
// should close.
func (s *Server) handleControl(ctx context.Context, conn *websocket.Conn, id, typ string, forwardDone <-chan struct{}) bool {
	log := trace.Logger(ctx)
	log.Debug("control message", "type", typ)

	switch typ {
	case ControlPause:
		if err := s.sessions.Pause(id); err != nil {
			s.writeErr(ctx, conn, err)
		}
	case ControlResume:
		if err := s.sessions.Resume(id); err != nil {
			s.writeErr(ctx, conn, err)
		}
	case ControlCancel:
		if err := s.sessions.CancelSession(id); err != nil {
			s.writeErr(ctx, conn, err)
			return false
		}
		<-forwardDone
		return true
	case ControlEnd:
		res, err := s.sessions.EndSession(ctx, id)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeInvalidState) {
				s.writeErr(ctx, conn, err)
				return false
			}
			// The session already emitted its error event.
			<-forwardDone
			return true
		}
		<-forwardDone
		msg := ServerMessage{Result: res}
		msg.Type = MessageResult
		msg.SessionID = id
		msg.Time = time.Now()
		if err := s.write(ctx, conn, msg); err != nil {
			log.Warn("writing result failed", "error", err)
		}
		return true
	default:
		s.writeErr(ctx, conn, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown control message %q", typ))
	}
	return false
}

func (s *Server) forwardEvents(ctx context.Context, conn *websocket.Conn, events <-chan session.Event) {
	for ev := range events {
		if err := s.write(ctx, conn, ServerMessage{Event: ev}); err != nil {
			trace.Logger(ctx).Debug("websocket write error", "error", err)
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg ServerMessage) error {
	ctx, cancel := context.WithTimeout(ctx, EventWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func (s *Server) writeErr(ctx context.Context, conn *websocket.Conn, err error) {
	var msg ServerMessage
	msg.Type = MessageError
	msg.Time = time.Now()
	msg.Error = err.Error()
	msg.Code = apperrors.CodeOf(err).String()
	if appErr, ok := apperrors.As(err); ok {
		msg.Error = appErr.Message
	}
	_ = s.write(ctx, conn, msg)
}
