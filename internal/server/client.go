package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	apperrors "github.com/GriffinCanCode/voicenote/internal/errors"
	"github.com/GriffinCanCode/voicenote/internal/trace"
)

// Client talks to a running server over HTTP and WebSocket.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at base, e.g. "http://localhost:8000".
func NewClient(base string) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: http.DefaultClient}
}

// StartSession opens a session for userID.
func (c *Client) StartSession(ctx context.Context, userID, languageCode string) (StartResponse, error) {
	body, err := json.Marshal(StartRequest{UserID: userID, LanguageCode: languageCode})
	if err != nil {
		return StartResponse{}, err
	}
	var out StartResponse
	err = c.do(ctx, http.MethodPost, "/api/sessions", "application/json", bytes.NewReader(body), &out)
	return out, err
}

// Transcribe sends a complete recording (WAV or raw PCM16) for one-shot recognition.
func (c *Client) Transcribe(ctx context.Context, audio []byte, languageCode string) (TranscribeResponse, error) {
	path := "/api/transcribe"
	if languageCode != "" {
		path += "?language=" + url.QueryEscape(languageCode)
	}
	var out TranscribeResponse
	err := c.do(ctx, http.MethodPost, path, "application/octet-stream", bytes.NewReader(audio), &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if tc, ok := trace.FromContext(ctx); ok {
		req.Header.Set(trace.TraceIDKey, tc.TraceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeUnavailable, "server unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Code == "" {
		return apperrors.Newf(apperrors.CodeUnknown, "unexpected status %d", resp.StatusCode)
	}
	e := apperrors.New(apperrors.ParseCode(er.Code), er.Error)
	e.Metadata = er.Metadata
	return e
}

// Conn is a WebSocket attached to one session.
type Conn struct {
	ws *websocket.Conn
}

// Connect attaches to sessionID's event stream.
func (c *Client) Connect(ctx context.Context, sessionID string) (*Conn, error) {
	u := "ws" + strings.TrimPrefix(c.base, "http") + "/ws?session_id=" + url.QueryEscape(sessionID)
	ws, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return nil, fmt.Errorf("connect session %s: status %d: %w", sessionID, resp.StatusCode, err)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "connect websocket")
	}
	ws.SetReadLimit(1 << 20)
	return &Conn{ws: ws}, nil
}

// SendAudio writes one PCM16 chunk.
func (c *Conn) SendAudio(ctx context.Context, chunk []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, chunk)
}

// Control sends a control message: pause, resume, end or cancel.
func (c *Conn) Control(ctx context.Context, typ string) error {
	msg := ControlMessage{Type: typ}
	if tc, ok := trace.FromContext(ctx); ok {
		msg.TraceID = tc.TraceID
	}
	return wsjson.Write(ctx, c.ws, msg)
}

// Next reads the next server message.
func (c *Conn) Next(ctx context.Context) (ServerMessage, error) {
	var msg ServerMessage
	err := wsjson.Read(ctx, c.ws, &msg)
	return msg, err
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
