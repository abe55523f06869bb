package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/rpattn/formkeep/internal/domain"
)

const historySnapshotVersion = 1

type historySnapshot struct {
	Version   int                   `json:"version"`
	UpdatedAt string                `json:"updatedAt,omitempty"`
	Entries   []domain.HistoryEntry `json:"entries"`
}

// fileHistoryIndex keeps the whole index in a single JSON document.
// Every mutation is a locked read-modify-write followed by an atomic replace.
type fileHistoryIndex struct {
	path string
	opts storeOptions
	mu   sync.Mutex
}

// NewFileHistoryIndex returns a history index persisted at path.
func NewFileHistoryIndex(path string, opts ...StoreOption) (HistoryIndex, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	return &fileHistoryIndex{path: path, opts: newStoreOptions(opts)}, nil
}

func (h *fileHistoryIndex) Append(ctx context.Context, entry domain.HistoryEntry) (domain.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return domain.HistoryEntry{}, err
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.SavedAt == 0 {
		entry.SavedAt = domain.MillisFrom(h.opts.clock.NowUTC())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load()
	if err != nil {
		return domain.HistoryEntry{}, h.fail("append", entry.Meta.FormID, err)
	}
	entries = append(entries, entry)
	if err := h.save(entries); err != nil {
		return domain.HistoryEntry{}, h.fail("append", entry.Meta.FormID, err)
	}
	return entry, nil
}

func (h *fileHistoryIndex) RemoveWhere(ctx context.Context, pred func(domain.HistoryEntry) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if pred == nil {
		return 0, errors.New("predicate is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries, err := h.load()
	if err != nil {
		return 0, h.fail("remove", "", err)
	}
	kept := entries[:0]
	removed := 0
	for _, entry := range entries {
		if pred(entry) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := h.save(kept); err != nil {
		return 0, h.fail("remove", "", err)
	}
	return removed, nil
}

func (h *fileHistoryIndex) RemoveByFormID(ctx context.Context, formID string) (int, error) {
	return h.RemoveWhere(ctx, func(entry domain.HistoryEntry) bool {
		return entry.Meta.FormID == formID
	})
}

func (h *fileHistoryIndex) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	entries, err := h.load()
	h.mu.Unlock()
	if err != nil {
		return nil, h.fail("list", "", err)
	}

	// Walk backwards so entries sharing a savedAt still come out newest first.
	matched := make([]domain.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if filter.Matches(entries[i]) {
			matched = append(matched, entries[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].SavedAt > matched[j].SavedAt
	})
	return filter.Page(matched), nil
}

func (h *fileHistoryIndex) load() ([]domain.HistoryEntry, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.HistoryEntry{}, nil
		}
		return nil, err
	}
	var snap historySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode history snapshot: %w", err)
	}
	if snap.Version != 0 && snap.Version != historySnapshotVersion {
		return nil, fmt.Errorf("unsupported history snapshot version %d", snap.Version)
	}
	if snap.Entries == nil {
		snap.Entries = []domain.HistoryEntry{}
	}
	return snap.Entries, nil
}

func (h *fileHistoryIndex) save(entries []domain.HistoryEntry) error {
	snap := historySnapshot{
		Version:   historySnapshotVersion,
		UpdatedAt: h.opts.clock.NowUTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Entries:   entries,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history snapshot: %w", err)
	}
	return writeFileAtomicDurable(h.path, append(data, '\n'), 0o644)
}

func (h *fileHistoryIndex) fail(op, key string, err error) error {
	h.opts.logger.Printf("[HISTORY] %s failed (path=%s, formId=%s): %v", op, h.path, key, err)
	return &StorageError{Op: "history " + op, Key: key, Err: err}
}
