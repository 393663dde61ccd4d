package hipaa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// FileAuditSink appends audit records as JSON lines to a local file. It is
// the durable fallback when the database sink is unreachable.
type FileAuditSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *errWriter
	line zerolog.Logger
}

// errWriter remembers the last write error so Append can report it.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}

// OpenFileAuditSink opens (or creates) path in append-only mode.
func OpenFileAuditSink(path string) (*FileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file %s: %w", path, err)
	}
	w := &errWriter{w: f}
	return &FileAuditSink{
		f:    f,
		w:    w,
		line: zerolog.New(w).With().Str("type", "voice_command_audit").Logger(),
	}, nil
}

// Append writes one record and syncs it to disk.
func (s *FileAuditSink) Append(_ context.Context, rec *AuditRecord) error {
	return s.write(rec, nil)
}

// AppendFallback writes a record the primary sink refused. The line carries
// fallback=true and the primary error. When the primary failed on a deadline
// its insert may still have committed, so the line is also marked
// possible_duplicate and readers reconcile by execution_id.
func (s *FileAuditSink) AppendFallback(_ context.Context, rec *AuditRecord, cause error) error {
	return s.write(rec, func(e *zerolog.Event) {
		e.Bool("fallback", true)
		if cause != nil {
			e.Str("primary_error", cause.Error())
		}
		if primaryMayHaveCommitted(cause) {
			e.Bool("possible_duplicate", true)
		}
	})
}

func (s *FileAuditSink) write(rec *AuditRecord, extra func(*zerolog.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return errors.New("hipaa audit file: closed")
	}
	s.w.err = nil
	evt := s.line.Log().EmbedObject(rec)
	if extra != nil {
		extra(evt)
	}
	evt.Send()
	if s.w.err != nil {
		return fmt.Errorf("hipaa audit file: write %s: %w", rec.ExecutionID, s.w.err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("hipaa audit file: sync: %w", err)
	}
	return nil
}

// Close releases the file.
func (s *FileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// primaryMayHaveCommitted reports whether a primary failure leaves the
// insert's fate unknown: the client gave up but the server may have finished.
func primaryMayHaveCommitted(err error) bool {
	return err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err))
}

// fallbackAppender is implemented by sinks that can mark a record as
// written on behalf of a failed primary.
type fallbackAppender interface {
	AppendFallback(ctx context.Context, rec *AuditRecord, cause error) error
}

// FallbackSink tries the primary sink first and the secondary sink when the
// primary fails. Only when both fail is the record lost, and the error then
// wraps ErrAuditUnavailable.
type FallbackSink struct {
	primary   AuditSink
	secondary AuditSink
	logger    zerolog.Logger
}

// NewFallbackSink composes two sinks.
func NewFallbackSink(primary, secondary AuditSink, logger zerolog.Logger) *FallbackSink {
	return &FallbackSink{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With().Str("component", "audit-sink").Logger(),
	}
}

// Append implements AuditSink.
func (s *FallbackSink) Append(ctx context.Context, rec *AuditRecord) error {
	perr := s.primary.Append(ctx, rec)
	if perr == nil {
		return nil
	}
	s.logger.Warn().Err(perr).
		Str("execution_id", rec.ExecutionID.String()).
		Msg("primary audit sink failed, writing fallback")

	if s.secondary == nil {
		return fmt.Errorf("%w: %w", ErrAuditUnavailable, perr)
	}
	var serr error
	if fa, ok := s.secondary.(fallbackAppender); ok {
		serr = fa.AppendFallback(ctx, rec, perr)
	} else {
		serr = s.secondary.Append(ctx, rec)
	}
	if serr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrAuditUnavailable, errors.Join(perr, serr))
}
