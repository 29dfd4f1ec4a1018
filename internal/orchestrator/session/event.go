package session

import (
	"time"

	"github.com/GriffinCanCode/voicenote/internal/enrichment"
)

// EventType names an outbound session event.
type EventType string

const (
	EventInterim      EventType = "interim_transcript"
	EventFinal        EventType = "final_transcript"
	EventStatus       EventType = "status_change"
	EventError        EventType = "error"
	EventReconnecting EventType = "reconnecting"
	EventReconnected  EventType = "reconnected"
	EventPauseTimeout EventType = "pause_timeout"
	EventEnrichment   EventType = "enrichment_update"
)

// Event is one message on a session's event channel. Only the fields relevant
// to Type are set.
type Event struct {
	Type        EventType               `json:"type"`
	SessionID   string                  `json:"session_id"`
	Time        time.Time               `json:"time"`
	Text        string                  `json:"text,omitempty"`
	Confidence  float64                 `json:"confidence,omitempty"`
	Level       string                  `json:"level,omitempty"`
	Status      Status                  `json:"status,omitempty"`
	Code        string                  `json:"code,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Attempt     int                     `json:"attempt,omitempty"`
	DelayMS     int64                   `json:"delay_ms,omitempty"`
	PausedMS    int64                   `json:"paused_ms,omitempty"`
	ContactName string                  `json:"contact_name,omitempty"`
	Suggestions []enrichment.Suggestion `json:"suggestions,omitempty"`
}
