package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/ehr/voicedb/internal/domain/command"
	"github.com/ehr/voicedb/internal/domain/compliance"
	"github.com/ehr/voicedb/internal/domain/schema"
	"github.com/ehr/voicedb/internal/domain/statement"
	"github.com/ehr/voicedb/internal/platform/hipaa"
)

// defaultEntityRetention applies when a request never resolved an entity.
const defaultEntityRetention = 365 * 24 * time.Hour

// DefaultAuditTimeout bounds a single audit append.
const DefaultAuditTimeout = 5 * time.Second

// Executor runs approved statements and writes the audit record that ends
// every request. finish is the only place a Result is produced, and it
// always appends the record first.
type Executor struct {
	storage      Storage
	sink         hipaa.AuditSink
	retention    *hipaa.RetentionService
	reg          *schema.Registry
	auditTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(storage Storage, sink hipaa.AuditSink, reg *schema.Registry, retention *hipaa.RetentionService, auditTimeout time.Duration, logger zerolog.Logger) *Executor {
	if auditTimeout <= 0 {
		auditTimeout = DefaultAuditTimeout
	}
	return &Executor{
		storage:      storage,
		sink:         sink,
		retention:    retention,
		reg:          reg,
		auditTimeout: auditTimeout,
		now:          time.Now,
		logger:       logger.With().Str("component", "voice-executor").Logger(),
	}
}

// decline ends a request the synthesizer could not turn into a statement.
func (e *Executor) decline(ctx context.Context, r *run, d *statement.Declined) *Result {
	if err := r.advance(StateDeclined); err != nil {
		return e.fail(ctx, r, ReasonInternal, err)
	}
	return e.finish(ctx, r, hipaa.OutcomeDeclined, d.Reason, "", nil, nil)
}

// execute applies the gate's decision and, when approved, hands the
// statement to storage.
func (e *Executor) execute(ctx context.Context, r *run, d compliance.Decision) *Result {
	r.decision = &d
	if !d.Approved {
		if err := r.advance(StateDenied); err != nil {
			return e.fail(ctx, r, ReasonInternal, err)
		}
		return e.finish(ctx, r, hipaa.OutcomeDenied, d.Reason, "", nil, nil)
	}
	if err := r.advance(StateApproved); err != nil {
		return e.fail(ctx, r, ReasonInternal, err)
	}

	if err := ctx.Err(); err != nil {
		return e.fail(ctx, r, ReasonCancelled, err)
	}

	if len(r.stmt.SuspectParameters) > 0 {
		e.logger.Warn().
			Str("execution_id", r.id.String()).
			Str("statement_template_id", r.stmt.TemplateID).
			Ints("positions", r.stmt.SuspectParameters).
			Msg("injection-shaped parameter values bound")
	}

	res, err := e.storage.Execute(ctx, r.stmt.TemplateID, r.stmt.BoundParameters)
	if err != nil {
		return e.fail(ctx, r, storageReason(err), err)
	}
	if res == nil {
		res = &StorageResult{}
	}
	if err := r.advance(StateExecuted); err != nil {
		return e.fail(ctx, r, ReasonInternal, err)
	}

	rows := res.RowsAffected
	var data []map[string]any
	if r.stmt.ReturnsRows {
		data = res.Rows
		if data == nil {
			data = []map[string]any{}
		}
	}
	return e.finish(ctx, r, hipaa.OutcomeExecuted, "", "", &rows, data)
}

// fail ends a request with an internal error. The caller sees only reason.
func (e *Executor) fail(ctx context.Context, r *run, reason string, err error) *Result {
	if !r.state.Terminal() {
		r.state = StateFailed
	}
	return e.finish(ctx, r, hipaa.OutcomeFailed, reason, err.Error(), nil, nil)
}

func storageReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err):
		return ReasonStorageTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	default:
		return ReasonStorageFailure
	}
}

// finish writes the audit record and builds the caller's result. A second
// call for the same request returns the first result unchanged.
func (e *Executor) finish(ctx context.Context, r *run, outcome hipaa.Outcome, reason, detail string, rows *int64, data []map[string]any) *Result {
	if r.recorded {
		return r.result
	}

	rec := e.record(r, outcome, reason, detail, rows)
	res := &Result{
		ExecutionID:  r.id,
		Outcome:      outcome,
		Operation:    rec.Operation,
		RowsAffected: rows,
		Data:         data,
	}
	if rec.TargetEntity != "" {
		entity := rec.TargetEntity
		res.TargetEntity = &entity
	}
	if outcome != hipaa.OutcomeExecuted && reason != "" {
		res.Reason = &reason
	}

	// The record is written even when the caller has gone away.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.auditTimeout)
	defer cancel()
	if err := e.appendRecord(auditCtx, rec); err != nil {
		e.logger.Error().Err(err).EmbedObject(rec).Msg("audit record could not be stored")
		lost := ReasonAuditUnavailable
		res.Outcome = hipaa.OutcomeFailed
		res.Reason = &lost
		res.RowsAffected = nil
		res.Data = nil
	}

	r.recorded = true
	r.result = res

	evt := e.logger.Info()
	if res.Outcome == hipaa.OutcomeFailed {
		evt = e.logger.Error()
	}
	evt.Str("type", "voice_command_audit").EmbedObject(rec).Msg("voice command finished")
	return res
}

// appendRecord shields the pipeline from a panicking sink.
func (e *Executor) appendRecord(ctx context.Context, rec *hipaa.AuditRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: audit sink panic: %v", hipaa.ErrAuditUnavailable, p)
		}
	}()
	return e.sink.Append(ctx, rec)
}

func (e *Executor) record(r *run, outcome hipaa.Outcome, reason, detail string, rows *int64) *hipaa.AuditRecord {
	now := e.now().UTC()
	rec := &hipaa.AuditRecord{
		ExecutionID:  r.id,
		RequestID:    r.req.RequestID,
		CallerID:     anonymousCaller,
		Timestamp:    now,
		Operation:    command.OpUnknown.String(),
		Outcome:      outcome,
		Reason:       reason,
		RowsAffected: rows,
		Detail:       detail,
	}
	if r.req.Caller.Authenticated() {
		rec.CallerID = r.req.Caller.ID
	}

	var (
		entity schema.EntityName
		phi    bool
	)
	if r.cmd != nil {
		rec.Operation = r.cmd.Operation.String()
		entity = r.cmd.PrimaryEntity
		phi = r.cmd.IsPhiContext
	}
	if r.stmt != nil {
		rec.Operation = r.stmt.Operation.String()
		entity = r.stmt.TargetEntity
		phi = r.stmt.TouchesPhi
		rec.TemplateID = r.stmt.TemplateID
		rec.BoundParameterCount = len(r.stmt.BoundParameters)
		rec.SuspectParameters = len(r.stmt.SuspectParameters)
	}
	rec.TargetEntity = string(entity)

	rec.AuditLevel = compliance.LevelFor(phi)
	if r.decision != nil {
		rec.AuditLevel = r.decision.AuditLevel
		rec.Decision = &hipaa.AuditDecision{
			Approved:                 r.decision.Approved,
			Reason:                   r.decision.Reason,
			AuditLevel:               r.decision.AuditLevel,
			RequiresElevatedApproval: r.decision.RequiresElevatedApproval,
		}
	}

	keep := defaultEntityRetention
	if entity != "" {
		if es, err := e.reg.Lookup(entity); err == nil {
			keep = es.DefaultAuditRetention
		}
	}
	rec.RetainUntil = e.retention.RetainUntil(rec.AuditLevel, keep, now)
	return rec
}
