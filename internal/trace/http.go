package trace

import (
	"context"
	"encoding/json"
	"net/http"
)

// Middleware continues the caller's trace from request headers, or starts one,
// and echoes the trace id so clients can quote it.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := FromMap(map[string]string{
			TraceIDKey:   r.Header.Get(TraceIDKey),
			SpanIDKey:    r.Header.Get(SpanIDKey),
			SessionIDKey: r.Header.Get(SessionIDKey),
		})
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// FromMessage continues the trace named by a JSON message's trace_id field.
// The session id already in ctx is kept unless the message names one.
// It returns ctx unchanged when the message carries no trace id.
func FromMessage(ctx context.Context, data []byte) context.Context {
	var msg struct {
		TraceID   string `json:"trace_id"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.TraceID == "" {
		return ctx
	}
	tc := FromMap(map[string]string{TraceIDKey: msg.TraceID})
	tc.SessionID = msg.SessionID
	if tc.SessionID == "" {
		tc.SessionID = SessionID(ctx)
	}
	return WithContext(ctx, tc)
}
