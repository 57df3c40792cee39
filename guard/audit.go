package guard

import "context"

// AuditSink receives one event per evaluated or resolved action.
type AuditSink interface {
	Emit(ctx context.Context, e AuditEvent) error
	Close() error
}

// NopAuditSink drops every event. Used when auditing is disabled.
type NopAuditSink struct{}

func (NopAuditSink) Emit(ctx context.Context, e AuditEvent) error { return nil }
func (NopAuditSink) Close() error                                 { return nil }
