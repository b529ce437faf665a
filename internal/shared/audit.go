package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// AuditOutcome classifies an audit entry.
type AuditOutcome string

const (
	// AuditAllowed marks a granted authorization without a state change.
	AuditAllowed AuditOutcome = "ALLOWED"
	// AuditDenied marks a refused authorization.
	AuditDenied AuditOutcome = "DENIED"
	// AuditRejected marks a transition refused by the state machine.
	AuditRejected AuditOutcome = "REJECTED"
	// AuditApplied marks a committed mutation.
	AuditApplied AuditOutcome = "APPLIED"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Outcome  AuditOutcome
	Reason   string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs, joining the transaction bound to ctx.
type AuditLogger struct {
	q   Querier
	now func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(q Querier) *AuditLogger {
	return &AuditLogger{q: q, now: time.Now}
}

// Validate checks the mandatory fields of an entry.
func (log AuditLog) Validate() error {
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	switch log.Outcome {
	case AuditAllowed, AuditDenied, AuditRejected, AuditApplied:
		return nil
	default:
		return errors.New("audit log requires a known outcome")
	}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.q == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = l.now().UTC()
	}
	if log.ActorID == 0 {
		log.ActorID = ActorFromContext(ctx)
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = QuerierFrom(ctx, l.q).Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, outcome, reason, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, log.ActorID, log.Action, log.Entity, log.EntityID, string(log.Outcome), log.Reason, metaJSON, log.At)
	return err
}
