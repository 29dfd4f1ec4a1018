package session

import "slices"

// Status is a session's lifecycle state.
type Status string

const (
	StatusRecording    Status = "recording"
	StatusPaused       Status = "paused"
	StatusTranscribing Status = "transcribing"
	StatusExtracting   Status = "extracting"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusRecording:    {StatusPaused, StatusTranscribing, StatusError, StatusCancelled},
	StatusPaused:       {StatusRecording, StatusTranscribing, StatusError, StatusCancelled},
	StatusTranscribing: {StatusExtracting, StatusError, StatusCancelled},
	StatusExtracting:   {StatusReady, StatusError, StatusCancelled},
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError || s == StatusCancelled
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}
