package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/voicedb/internal/domain/statement"
)

// Querier is the subset of pgxpool.Pool the storage needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStorage executes catalog templates against PostgreSQL.
type PGStorage struct {
	db      Querier
	catalog *statement.Catalog
	timeout time.Duration
}

// NewPGStorage creates a storage backend. A zero timeout leaves the
// caller's deadline in charge.
func NewPGStorage(db Querier, catalog *statement.Catalog, timeout time.Duration) *PGStorage {
	return &PGStorage{db: db, catalog: catalog, timeout: timeout}
}

// Execute looks up the template body by id and runs it with params bound
// positionally.
func (s *PGStorage) Execute(ctx context.Context, templateID string, params []any) (*StorageResult, error) {
	tmpl, ok := s.catalog.ByID(templateID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	if err := statement.CheckBinding(tmpl.Body, params); err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if !tmpl.ReturnsRows {
		tag, err := s.db.Exec(ctx, tmpl.Body, params...)
		if err != nil {
			return nil, fmt.Errorf("exec %s: %w", templateID, err)
		}
		return &StorageResult{RowsAffected: tag.RowsAffected()}, nil
	}

	rows, err := s.db.Query(ctx, tmpl.Body, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", templateID, err)
	}
	data, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", templateID, err)
	}
	for _, row := range data {
		for k, v := range row {
			row[k] = jsonValue(v)
		}
	}
	return &StorageResult{RowsAffected: int64(len(data)), Rows: data}, nil
}

// jsonValue converts driver values without a useful JSON form.
func jsonValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	default:
		return v
	}
}
