package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpattn/formkeep/internal/domain"
)

const documentFileName = "form.json"

// fsFormStore persists one JSON document per key:
//
//	<root>/forms/<key>/form.json
//
// History entries live in a separate HistoryIndex.
type fsFormStore struct {
	root    string
	history HistoryIndex
	opts    storeOptions
}

// NewFSFormStore returns a FormStore rooted at root. history receives entries for finalized writes.
func NewFSFormStore(root string, history HistoryIndex, opts ...StoreOption) (FormStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage root is required")
	}
	if history == nil {
		return nil, errors.New("history index is required")
	}
	return &fsFormStore{root: filepath.Clean(root), history: history, opts: newStoreOptions(opts)}, nil
}

func (s *fsFormStore) formDir(key string) string {
	return filepath.Join(s.root, "forms", key)
}

func (s *fsFormStore) documentPath(key string) string {
	return filepath.Join(s.formDir(key), documentFileName)
}

func (s *fsFormStore) Write(ctx context.Context, key string, payload domain.FormPayload) (string, error) {
	location, doc, err := s.persist(ctx, "write", key, payload)
	if err != nil {
		return "", err
	}
	entry := domain.NewHistoryEntry(key, location, doc.Payload, doc.SavedAt)
	if _, err := s.history.Append(ctx, entry); err != nil {
		// The document is durable; the index is a projection and may lag behind.
		s.opts.logger.Printf("[STORE] history append for %s failed, document kept at %s: %v", key, location, err)
	}
	return location, nil
}

func (s *fsFormStore) WriteDraft(ctx context.Context, key string, payload domain.FormPayload) (string, error) {
	location, _, err := s.persist(ctx, "write draft", key, payload)
	return location, err
}

func (s *fsFormStore) persist(ctx context.Context, op, key string, payload domain.FormPayload) (string, domain.StoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.StoredDocument{}, s.fail(op, key, err)
	}
	if err := domain.ValidateKey(key); err != nil {
		return "", domain.StoredDocument{}, s.fail(op, key, err)
	}
	data, doc, err := encodeDocument(payload, domain.MillisFrom(s.opts.clock.NowUTC()))
	if err != nil {
		return "", domain.StoredDocument{}, s.fail(op, key, err)
	}
	location := s.documentPath(key)
	if err := writeFileAtomicDurable(location, data, 0o644); err != nil {
		return "", domain.StoredDocument{}, s.fail(op, key, err)
	}
	return location, doc, nil
}

func (s *fsFormStore) Read(ctx context.Context, key string) (*domain.StoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, s.fail("read", key, err)
	}
	if err := domain.ValidateKey(key); err != nil {
		return nil, s.fail("read", key, err)
	}
	data, err := os.ReadFile(s.documentPath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, s.fail("read", key, err)
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, s.fail("read", key, err)
	}
	return &doc, nil
}

func (s *fsFormStore) ReadMany(ctx context.Context, keys []string) (map[string]domain.StoredDocument, error) {
	docs := make(map[string]domain.StoredDocument, len(keys))
	for _, key := range keys {
		doc, err := s.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			docs[key] = *doc
		}
	}
	return docs, nil
}

func (s *fsFormStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, s.fail("delete", key, err)
	}
	if err := domain.ValidateKey(key); err != nil {
		return false, s.fail("delete", key, err)
	}

	existed := true
	if _, err := os.Stat(s.documentPath(key)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, s.fail("delete", key, err)
		}
		existed = false
	}
	if existed {
		if err := os.RemoveAll(s.formDir(key)); err != nil {
			return false, s.fail("delete", key, err)
		}
	}

	if _, err := s.history.RemoveByFormID(ctx, key); err != nil {
		return existed, s.fail("delete", key, fmt.Errorf("failed to remove history entries: %w", err))
	}
	return existed, nil
}

func (s *fsFormStore) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryRecord, error) {
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

func (s *fsFormStore) fail(op, key string, err error) error {
	s.opts.logger.Printf("[STORE] %s %s failed (root=%s): %v", op, key, s.root, err)
	return &StorageError{Op: op, Key: key, Err: err}
}
