package repository

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/domain"
)

// FormStore is the durable mapping from an opaque form key to a StoredDocument.
type FormStore interface {
	// Write persists payload under key and records a history entry for it. Payloads are stored as
	// JSON: Read returns what payload.Clone() returns, so numbers come back as float64 and typed
	// slices or maps as []any and map[string]any.
	Write(ctx context.Context, key string, payload domain.FormPayload) (string, error)
	// WriteDraft persists payload under key without touching the history index.
	WriteDraft(ctx context.Context, key string, payload domain.FormPayload) (string, error)
	// Read returns nil, nil when key has never been written.
	Read(ctx context.Context, key string) (*domain.StoredDocument, error)
	ReadMany(ctx context.Context, keys []string) (map[string]domain.StoredDocument, error)
	// Delete removes the document and any history entries for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns the materialized history index.
	List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryRecord, error)
}

// HistoryIndex stores summaries of finalized saves, decoupled from payload storage.
type HistoryIndex interface {
	Append(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error)
	RemoveWhere(ctx context.Context, pred func(domain.HistoryEntry) bool) (int, error)
	RemoveByFormID(ctx context.Context, formID string) (int, error)
	// List returns matching entries newest first.
	List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error)
}

// StorageError reports a failed operation against the underlying storage medium.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// StoreOption customizes store and index construction.
type StoreOption func(*storeOptions)

type storeOptions struct {
	clock         clock.Clock
	logger        *log.Logger
	atomicHistory bool
}

// WithClock overrides the clock used for savedAt stamps.
func WithClock(c clock.Clock) StoreOption {
	return func(o *storeOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger routes store logging to logger.
func WithLogger(logger *log.Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAtomicHistory makes Write insert the document and its history entry in one transaction.
// Only backends with transactions honor it.
func WithAtomicHistory(enabled bool) StoreOption {
	return func(o *storeOptions) {
		o.atomicHistory = enabled
	}
}

func newStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{
		clock:  clock.SystemUTC{},
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	return o
}
