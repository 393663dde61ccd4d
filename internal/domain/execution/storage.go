package execution

import (
	"context"
	"errors"
)

// ErrUnknownTemplate is returned by storage for a template id it cannot
// resolve.
var ErrUnknownTemplate = errors.New("unknown statement template")

// StorageResult is what a storage backend reports for one statement.
type StorageResult struct {
	RowsAffected int64
	Rows         []map[string]any
}

// Storage runs pre-authored statements identified by template id. Retries
// and timeouts are the implementation's concern.
type Storage interface {
	Execute(ctx context.Context, templateID string, params []any) (*StorageResult, error)
}
