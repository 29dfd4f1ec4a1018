package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding window for WebSocket control messages
	RateLimitMessages = 20
	RateLimitWindow   = time.Second

	// Request body limits
	MaxAudioChunkBytes = 1 << 20
	MaxTranscribeBytes = 50 << 20

	// EventWriteTimeout bounds one WebSocket write.
	EventWriteTimeout = 5 * time.Second
)

// Message types written by the server in addition to session event types.
const (
	MessageResult = "result"
	MessageError  = "error"
)

// Control message types accepted on the WebSocket.
const (
	ControlPause  = "pause"
	ControlResume = "resume"
	ControlEnd    = "end"
	ControlCancel = "cancel"
)
