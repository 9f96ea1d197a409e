package sessionauth

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/sessionauth/internal/audit"
)

// AuditEvent is a structured audit record emitted by the coordinator.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink writes events as structured log records.
type SlogSink = internalaudit.SlogSink

// Audit event types.
const (
	AuditLoginSuccess           = internalaudit.EventLoginSuccess
	AuditLoginFailure           = internalaudit.EventLoginFailure
	AuditLoginLockedOut         = internalaudit.EventLoginLockedOut
	AuditAutologin              = internalaudit.EventAutologin
	AuditLogout                 = internalaudit.EventLogout
	AuditForcedLogout           = internalaudit.EventForcedLogout
	AuditLockoutCleared         = internalaudit.EventLockoutCleared
	AuditFederatedLogin         = internalaudit.EventFederatedLogin
	AuditSessionIdleExpired     = internalaudit.EventSessionExpired
	AuditPasswordChangeRequired = internalaudit.EventPasswordRequired
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
