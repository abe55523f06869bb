package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/formkeep/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgHistoryIndex struct {
	pool *pgxpool.Pool
	opts storeOptions
}

// NewPGHistoryIndex wires a history index backed by the form_history table.
func NewPGHistoryIndex(pool *pgxpool.Pool, opts ...StoreOption) HistoryIndex {
	return &pgHistoryIndex{pool: pool, opts: newStoreOptions(opts)}
}

func (r *pgHistoryIndex) Append(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	if r.pool == nil {
		return domain.HistoryEntry{}, errors.New("history index not initialized")
	}
	entry = r.prepare(entry)
	if err := insertHistoryEntry(ctx, r.pool, entry); err != nil {
		return domain.HistoryEntry{}, r.fail("append", entry.Meta.FormID, err)
	}
	return entry, nil
}

func (r *pgHistoryIndex) prepare(entry domain.HistoryEntry) domain.HistoryEntry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.SavedAt == 0 {
		entry.SavedAt = domain.MillisFrom(r.opts.clock.NowUTC())
	}
	return entry
}

func insertHistoryEntry(ctx context.Context, q querier, entry domain.HistoryEntry) error {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("failed to marshal history meta: %w", err)
	}
	var date any
	if entry.Date != nil {
		date = *entry.Date
	}
	_, err = q.Exec(
		ctx,
		`INSERT INTO form_history (id, form_id, form_type, title, entry_date, saved_at, meta)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)`,
		entry.ID.String(),
		entry.Meta.FormID,
		entry.Meta.FormType,
		entry.Title,
		date,
		int64(entry.SavedAt),
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

func (r *pgHistoryIndex) RemoveWhere(ctx context.Context, pred func(domain.HistoryEntry) bool) (int, error) {
	if pred == nil {
		return 0, errors.New("predicate is required")
	}
	entries, err := r.List(ctx, domain.HistoryFilter{})
	if err != nil {
		return 0, err
	}
	ids := []string{}
	for _, entry := range entries {
		if pred(entry) {
			ids = append(ids, entry.ID.String())
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM form_history WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return 0, r.fail("remove", "", fmt.Errorf("failed to delete history entries: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgHistoryIndex) RemoveByFormID(ctx context.Context, formID string) (int, error) {
	if r.pool == nil {
		return 0, errors.New("history index not initialized")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM form_history WHERE form_id = $1`, formID)
	if err != nil {
		return 0, r.fail("remove", formID, fmt.Errorf("failed to delete history entries: %w", err))
	}
	return int(tag.RowsAffected()), nil
}

func (r *pgHistoryIndex) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	if r.pool == nil {
		return nil, errors.New("history index not initialized")
	}

	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT id, title, entry_date, saved_at, meta
		 FROM form_history
		 WHERE ($1 = '' OR lower(form_type) = lower($1))
		   AND ($2 = '' OR form_id = $2)
		   AND ($3 = ''
		        OR title ILIKE '%' || $3 || '%'
		        OR form_type ILIKE '%' || $3 || '%'
		        OR form_id ILIKE '%' || $3 || '%'
		        OR coalesce(entry_date, '') ILIKE '%' || $3 || '%')
		 ORDER BY saved_at DESC, seq DESC
		 LIMIT $4 OFFSET $5`,
		filter.FormType,
		filter.FormID,
		filter.TextSearch,
		limit,
		offset,
	)
	if err != nil {
		return nil, r.fail("list", "", fmt.Errorf("failed to list history: %w", err))
	}
	defer rows.Close()

	entries := []domain.HistoryEntry{}
	for rows.Next() {
		var (
			entry   domain.HistoryEntry
			date    pgtype.Text
			savedAt int64
			meta    []byte
		)
		if scanErr := rows.Scan(&entry.ID, &entry.Title, &date, &savedAt, &meta); scanErr != nil {
			return nil, r.fail("list", "", fmt.Errorf("failed to scan history entry: %w", scanErr))
		}
		if date.Valid {
			value := date.String
			entry.Date = &value
		}
		entry.SavedAt = domain.Millis(savedAt)
		if err := json.Unmarshal(meta, &entry.Meta); err != nil {
			return nil, r.fail("list", "", fmt.Errorf("failed to decode history meta: %w", err))
		}
		entries = append(entries, entry)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, r.fail("list", "", fmt.Errorf("failed to iterate history: %w", rowsErr))
	}
	return entries, nil
}

func (r *pgHistoryIndex) fail(op, key string, err error) error {
	r.opts.logger.Printf("[HISTORY] %s failed (formId=%s): %v", op, key, err)
	return &StorageError{Op: "history " + op, Key: key, Err: err}
}
