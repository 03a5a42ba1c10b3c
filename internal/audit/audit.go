// Package audit records authorization denials. Every denial is logged;
// when a broker backend is configured the event is also published for
// offline analysis. Publishing is best-effort and never fails the request.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event describes a denied authentication or authorization attempt.
type Event struct {
	Time        time.Time `json:"time"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason"`
	PrincipalID int       `json:"principal_id,omitempty"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role,omitempty"`
	TargetID    int       `json:"target_id,omitempty"`
}

// Backend publishes serialized audit events to a broker channel.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Recorder fans denial events out to the log and the configured backend.
type Recorder struct {
	backend Backend
	channel string
}

// NewRecorder constructs a Recorder. A nil backend means log-only.
func NewRecorder(backend Backend, channel string) *Recorder {
	return &Recorder{backend: backend, channel: channel}
}

// Denied records a denial event.
func (r *Recorder) Denied(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	slog.Warn("access denied",
		"action", event.Action,
		"reason", event.Reason,
		"principal_id", event.PrincipalID,
		"email", event.Email,
		"role", event.Role,
		"target_id", event.TargetID,
	)

	if r == nil || r.backend == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to encode audit event", "error", err)
		return
	}

	attrs := map[string]string{
		"action": event.Action,
		"reason": event.Reason,
	}
	if _, err := r.backend.Publish(ctx, r.channel, data, attrs); err != nil {
		slog.Error("failed to publish audit event", "error", err, "channel", r.channel)
	}
}

// Close closes the underlying backend, if any.
func (r *Recorder) Close() error {
	if r == nil || r.backend == nil {
		return nil
	}
	return r.backend.Close()
}
