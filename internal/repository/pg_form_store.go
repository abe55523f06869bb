package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/formkeep/internal/db"
	"github.com/rpattn/formkeep/internal/domain"
)

type pgFormStore struct {
	conn    *db.Connection
	history HistoryIndex
	opts    storeOptions
}

// NewPGFormStore wires a FormStore backed by the form_documents table.
// WithAtomicHistory requires history to be the Postgres index on the same database.
func NewPGFormStore(conn *db.Connection, history HistoryIndex, opts ...StoreOption) (FormStore, error) {
	if conn == nil || conn.Pool == nil {
		return nil, errors.New("database connection is required")
	}
	if history == nil {
		return nil, errors.New("history index is required")
	}
	o := newStoreOptions(opts)
	if o.atomicHistory {
		if _, ok := history.(*pgHistoryIndex); !ok {
			return nil, errors.New("atomic history requires the postgres history index")
		}
	}
	return &pgFormStore{conn: conn, history: history, opts: o}, nil
}

func documentLocation(key string) string {
	return "form_documents/" + key
}

const upsertDocumentSQL = `INSERT INTO form_documents (form_key, payload, saved_at)
	 VALUES ($1, $2::jsonb, $3)
	 ON CONFLICT (form_key) DO UPDATE SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`

func (s *pgFormStore) Write(ctx context.Context, key string, payload domain.FormPayload) (string, error) {
	data, doc, err := s.encode("write", key, payload)
	if err != nil {
		return "", err
	}
	location := documentLocation(key)

	if s.opts.atomicHistory {
		index := s.history.(*pgHistoryIndex)
		entry := index.prepare(domain.NewHistoryEntry(key, location, doc.Payload, doc.SavedAt))
		err := s.conn.WithTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, upsertDocumentSQL, key, string(data), int64(doc.SavedAt)); err != nil {
				return fmt.Errorf("failed to upsert document: %w", err)
			}
			return insertHistoryEntry(ctx, tx, entry)
		})
		if err != nil {
			return "", s.fail("write", key, err)
		}
		return location, nil
	}

	if _, err := s.conn.Pool.Exec(ctx, upsertDocumentSQL, key, string(data), int64(doc.SavedAt)); err != nil {
		return "", s.fail("write", key, fmt.Errorf("failed to upsert document: %w", err))
	}
	if _, err := s.history.Append(ctx, domain.NewHistoryEntry(key, location, doc.Payload, doc.SavedAt)); err != nil {
		s.opts.logger.Printf("[STORE] history append for %s failed, document kept: %v", key, err)
	}
	return location, nil
}

func (s *pgFormStore) WriteDraft(ctx context.Context, key string, payload domain.FormPayload) (string, error) {
	data, doc, err := s.encode("write draft", key, payload)
	if err != nil {
		return "", err
	}
	if _, err := s.conn.Pool.Exec(ctx, upsertDocumentSQL, key, string(data), int64(doc.SavedAt)); err != nil {
		return "", s.fail("write draft", key, fmt.Errorf("failed to upsert document: %w", err))
	}
	return documentLocation(key), nil
}

func (s *pgFormStore) encode(op, key string, payload domain.FormPayload) ([]byte, domain.StoredDocument, error) {
	if err := domain.ValidateKey(key); err != nil {
		return nil, domain.StoredDocument{}, s.fail(op, key, err)
	}
	data, doc, err := encodeDocument(payload, domain.MillisFrom(s.opts.clock.NowUTC()))
	if err != nil {
		return nil, domain.StoredDocument{}, s.fail(op, key, err)
	}
	return data, doc, nil
}

func (s *pgFormStore) Read(ctx context.Context, key string) (*domain.StoredDocument, error) {
	var raw []byte
	err := s.conn.Pool.QueryRow(ctx, `SELECT payload FROM form_documents WHERE form_key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, s.fail("read", key, fmt.Errorf("failed to read document: %w", err))
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, s.fail("read", key, err)
	}
	return &doc, nil
}

func (s *pgFormStore) ReadMany(ctx context.Context, keys []string) (map[string]domain.StoredDocument, error) {
	docs := make(map[string]domain.StoredDocument, len(keys))
	if len(keys) == 0 {
		return docs, nil
	}
	rows, err := s.conn.Pool.Query(ctx, `SELECT form_key, payload FROM form_documents WHERE form_key = ANY($1)`, keys)
	if err != nil {
		return nil, s.fail("read many", "", fmt.Errorf("failed to read documents: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key string
			raw []byte
		)
		if scanErr := rows.Scan(&key, &raw); scanErr != nil {
			return nil, s.fail("read many", "", fmt.Errorf("failed to scan document: %w", scanErr))
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, s.fail("read many", key, err)
		}
		docs[key] = doc
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, s.fail("read many", "", fmt.Errorf("failed to iterate documents: %w", rowsErr))
	}
	return docs, nil
}

func (s *pgFormStore) Delete(ctx context.Context, key string) (bool, error) {
	tag, err := s.conn.Pool.Exec(ctx, `DELETE FROM form_documents WHERE form_key = $1`, key)
	if err != nil {
		return false, s.fail("delete", key, fmt.Errorf("failed to delete document: %w", err))
	}
	existed := tag.RowsAffected() > 0
	if _, err := s.history.RemoveByFormID(ctx, key); err != nil {
		return existed, s.fail("delete", key, fmt.Errorf("failed to remove history entries: %w", err))
	}
	return existed, nil
}

func (s *pgFormStore) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryRecord, error) {
	entries, err := s.history.List(ctx, filter)
	if err != nil {
		return nil, s.fail("list", "", err)
	}
	records := make([]domain.HistoryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, entry.Record())
	}
	return records, nil
}

func (s *pgFormStore) fail(op, key string, err error) error {
	s.opts.logger.Printf("[STORE] %s %s failed (postgres): %v", op, key, err)
	return &StorageError{Op: op, Key: key, Err: err}
}
