package hipaa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// ErrAuditUnavailable means no sink accepted an audit record.
var ErrAuditUnavailable = errors.New("audit trail unavailable")

// AuditLevel governs how much detail an audit record carries and how long it
// is retained.
type AuditLevel string

const (
	AuditStandard      AuditLevel = "Standard"
	AuditComprehensive AuditLevel = "Comprehensive"
)

// Outcome is the terminal state of one voice command.
type Outcome string

const (
	OutcomeExecuted Outcome = "Executed"
	OutcomeDeclined Outcome = "Declined"
	OutcomeDenied   Outcome = "Denied"
	OutcomeFailed   Outcome = "Failed"
)

// AuditDecision is the compliance verdict as recorded on the audit trail.
type AuditDecision struct {
	Approved                 bool       `json:"approved"`
	Reason                   string     `json:"reason"`
	AuditLevel               AuditLevel `json:"audit_level"`
	RequiresElevatedApproval bool       `json:"requires_elevated_approval"`
}

// AuditRecord is the single audit entry written for every voice command.
// Records are append-only.
type AuditRecord struct {
	ExecutionID         uuid.UUID      `json:"execution_id"`
	RequestID           string         `json:"request_id,omitempty"`
	CallerID            string         `json:"caller_id"`
	Timestamp           time.Time      `json:"timestamp_utc"`
	Operation           string         `json:"operation"`
	TargetEntity        string         `json:"target_entity,omitempty"`
	TemplateID          string         `json:"statement_template_id,omitempty"`
	BoundParameterCount int            `json:"bound_parameter_count"`
	SuspectParameters   int            `json:"suspect_parameters"`
	Decision            *AuditDecision `json:"decision,omitempty"`
	Outcome             Outcome        `json:"outcome"`
	Reason              string         `json:"reason,omitempty"`
	RowsAffected        *int64         `json:"rows_affected,omitempty"`
	AuditLevel          AuditLevel     `json:"audit_level"`
	RetainUntil         time.Time      `json:"retain_until"`
	// Detail holds internal error text. It never leaves the audit trail.
	Detail string `json:"detail,omitempty"`
}

// MarshalZerologObject writes the record as flat log fields.
func (r *AuditRecord) MarshalZerologObject(e *zerolog.Event) {
	e.Str("execution_id", r.ExecutionID.String()).
		Str("caller_id", r.CallerID).
		Time("timestamp_utc", r.Timestamp).
		Str("operation", r.Operation).
		Str("outcome", string(r.Outcome)).
		Str("audit_level", string(r.AuditLevel)).
		Int("bound_parameter_count", r.BoundParameterCount).
		Time("retain_until", r.RetainUntil)
	if r.RequestID != "" {
		e.Str("request_id", r.RequestID)
	}
	if r.TargetEntity != "" {
		e.Str("target_entity", r.TargetEntity)
	}
	if r.TemplateID != "" {
		e.Str("statement_template_id", r.TemplateID)
	}
	if r.SuspectParameters > 0 {
		e.Int("suspect_parameters", r.SuspectParameters)
	}
	if r.Decision != nil {
		e.Bool("approved", r.Decision.Approved).
			Str("decision_reason", r.Decision.Reason).
			Bool("requires_elevated_approval", r.Decision.RequiresElevatedApproval)
	}
	if r.Reason != "" {
		e.Str("reason", r.Reason)
	}
	if r.RowsAffected != nil {
		e.Int64("rows_affected", *r.RowsAffected)
	}
	if r.Detail != "" {
		e.Str("detail", r.Detail)
	}
}

// AuditSink appends audit records. Implementations must be safe for
// concurrent use.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
}

// Execer is the subset of a pgx pool the audit sink needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGAuditSink writes audit records to the voice_command_audit table.
type PGAuditSink struct {
	db Execer
}

// NewPGAuditSink creates a sink backed by the given pool or connection.
func NewPGAuditSink(db Execer) *PGAuditSink {
	return &PGAuditSink{db: db}
}

// Append inserts one audit record.
func (s *PGAuditSink) Append(ctx context.Context, rec *AuditRecord) error {
	const query = `
		INSERT INTO voice_command_audit (
			execution_id, request_id, caller_id, recorded_at, operation,
			target_entity, statement_template_id, bound_parameter_count, suspect_parameters,
			decision_approved, decision_reason, requires_elevated_approval,
			outcome, reason, rows_affected, audit_level, retain_until, detail
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
		)`

	var (
		approved, elevated *bool
		decisionReason     *string
	)
	if rec.Decision != nil {
		approved = &rec.Decision.Approved
		elevated = &rec.Decision.RequiresElevatedApproval
		decisionReason = &rec.Decision.Reason
	}

	args := []any{
		rec.ExecutionID, nullable(rec.RequestID), rec.CallerID, rec.Timestamp, rec.Operation,
		nullable(rec.TargetEntity), nullable(rec.TemplateID), rec.BoundParameterCount, rec.SuspectParameters,
		approved, decisionReason, elevated,
		string(rec.Outcome), nullable(rec.Reason), rec.RowsAffected, string(rec.AuditLevel), rec.RetainUntil,
		nullable(rec.Detail),
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("hipaa audit: insert %s: %w", rec.ExecutionID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
