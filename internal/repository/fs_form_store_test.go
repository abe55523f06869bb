package repository

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/pkg/validator"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// steppingClock advances by one second on every read so savedAt stamps are distinct.
func steppingClock() clock.Clock {
	var tick atomic.Int64
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	return clock.Func(func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	})
}

func newTestStore(t *testing.T) (FormStore, HistoryIndex, string) {
	t.Helper()
	root := t.TempDir()
	opts := []StoreOption{WithLogger(quietLogger()), WithClock(steppingClock())}
	history, err := NewFileHistoryIndex(filepath.Join(root, "history.json"), opts...)
	if err != nil {
		t.Fatalf("NewFileHistoryIndex: %v", err)
	}
	store, err := NewFSFormStore(root, history, opts...)
	if err != nil {
		t.Fatalf("NewFSFormStore: %v", err)
	}
	return store, history, root
}

func checklistPayload(status domain.FormStatus) domain.FormPayload {
	return domain.FormPayload{
		FormType:        "cooling_log",
		TemplateVersion: "2.1",
		Title:           "Cooling Log",
		Metadata:        map[string]any{"date": "2026-10-15", "supervisor": "Ana", "signed": true},
		FormData: []any{
			map[string]any{"item": "Chicken stock", "start": "63C", "after2h": "20C", "ok": true},
			map[string]any{"item": "Rice", "start": "70C", "after2h": "", "ok": false},
		},
		Assets:  map[string]any{"signature": "data:image/png;base64,AAAA"},
		Status:  status,
		SavedAt: 1760518800000,
	}
}

func TestFSFormStore_WriteThenReadReturnsEqualPayload(t *testing.T) {
	store, _, root := newTestStore(t)
	ctx := context.Background()
	payload := checklistPayload(domain.FormStatusSubmitted)

	location, err := store.Write(ctx, "cooling_log_1", payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if location != filepath.Join(root, "forms", "cooling_log_1", "form.json") {
		t.Fatalf("unexpected location %q", location)
	}

	doc, err := store.Read(ctx, "cooling_log_1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc == nil {
		t.Fatalf("expected document, got nil")
	}
	if !reflect.DeepEqual(doc.Payload, payload) {
		t.Fatalf("payload mismatch:\nwant %#v\ngot  %#v", payload, doc.Payload)
	}
	if doc.SavedAt == 0 || doc.SavedAt == payload.SavedAt {
		t.Fatalf("expected store to stamp its own savedAt, got %d", doc.SavedAt)
	}
}

func TestFSFormStore_ReadReturnsClonedShapeOfTypedPayload(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	payload := domain.FormPayload{
		FormType: "cooling_log",
		Title:    "Cooling Log",
		Metadata: map[string]any{"shift": 2, "ambientC": 4.5},
		FormData: []map[string]any{{"item": "Rice", "tempC": 63}},
		Status:   domain.FormStatusSubmitted,
		SavedAt:  1760518800000,
	}

	if _, err := store.Write(ctx, "cooling_log_2", payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	doc, err := store.Read(ctx, "cooling_log_2")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want, err := payload.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if !reflect.DeepEqual(doc.Payload, want) {
		t.Fatalf("read payload %#v does not match clone %#v", doc.Payload, want)
	}
	rows, ok := doc.Payload.FormData.([]any)
	if !ok || len(rows) != 1 {
		t.Fatalf("expected one []any row, got %#v", doc.Payload.FormData)
	}
	if temp := rows[0].(map[string]any)["tempC"]; temp != float64(63) {
		t.Fatalf("expected tempC float64(63), got %#v", temp)
	}

	// A normalized payload survives the store unchanged.
	if _, err := store.Write(ctx, "cooling_log_3", want); err != nil {
		t.Fatalf("Write normalized: %v", err)
	}
	again, err := store.Read(ctx, "cooling_log_3")
	if err != nil {
		t.Fatalf("Read normalized: %v", err)
	}
	if !reflect.DeepEqual(again.Payload, want) {
		t.Fatalf("normalized payload changed on round trip: %#v", again.Payload)
	}
}

func TestFSFormStore_CallerMutationsDoNotLeakIntoStore(t *testing.T) {
	store, history, _ := newTestStore(t)
	ctx := context.Background()
	payload := checklistPayload(domain.FormStatusSubmitted)

	if _, err := store.Write(ctx, "cooling_log_1", payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	payload.Metadata["supervisor"] = "Changed"

	doc, err := store.Read(ctx, "cooling_log_1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.Payload.Metadata["supervisor"] != "Ana" {
		t.Fatalf("stored document was mutated through caller map: %v", doc.Payload.Metadata)
	}

	entries, err := history.List(ctx, domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if entries[0].Meta.Payload.Metadata["supervisor"] != "Ana" {
		t.Fatalf("history snapshot was mutated through caller map")
	}
}

func TestFSFormStore_ReadMissingReturnsNil(t *testing.T) {
	store, _, _ := newTestStore(t)

	doc, err := store.Read(context.Background(), "never_written")
	if err != nil {
		t.Fatalf("expected nil error for missing key, got %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %+v", doc)
	}
}

func TestFSFormStore_WriteRegistersHistoryButDraftDoesNot(t *testing.T) {
	store, history, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.WriteDraft(ctx, "cooling_log_draft", checklistPayload(domain.FormStatusDraft)); err != nil {
			t.Fatalf("WriteDraft: %v", err)
		}
	}
	entries, err := history.List(ctx, domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected draft writes to leave history empty, got %d entries", len(entries))
	}

	location, err := store.Write(ctx, "cooling_log_42", checklistPayload(domain.FormStatusSubmitted))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	records, err := store.List(ctx, domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}
	entry := records[0].Value
	if records[0].ID != entry.ID.String() {
		t.Fatalf("record id %q does not match entry id %s", records[0].ID, entry.ID)
	}
	if entry.Meta.FormID != "cooling_log_42" || entry.Meta.FilePath != location {
		t.Fatalf("unexpected meta: %+v", entry.Meta)
	}
	if entry.Title != "Cooling Log" || entry.Date == nil || *entry.Date != "2026-10-15" {
		t.Fatalf("unexpected title/date: %q %v", entry.Title, entry.Date)
	}
	if entry.Meta.Payload == nil || entry.Meta.Payload.Status != domain.FormStatusSubmitted {
		t.Fatalf("expected payload snapshot in meta, got %+v", entry.Meta.Payload)
	}
}

func TestFSFormStore_DeleteRemovesDocumentAndHistory(t *testing.T) {
	store, history, root := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Write(ctx, "cooling_log_7", checklistPayload(domain.FormStatusSubmitted)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.Write(ctx, "cooling_log_8", checklistPayload(domain.FormStatusSubmitted)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	existed, err := store.Delete(ctx, "cooling_log_7")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Fatalf("expected Delete to report existing document")
	}
	if _, err := os.Stat(filepath.Join(root, "forms", "cooling_log_7")); !os.IsNotExist(err) {
		t.Fatalf("expected form directory to be removed, stat err: %v", err)
	}
	doc, err := store.Read(ctx, "cooling_log_7")
	if err != nil || doc != nil {
		t.Fatalf("expected deleted key to read as nil, got %+v, %v", doc, err)
	}

	entries, err := history.List(ctx, domain.HistoryFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].Meta.FormID != "cooling_log_8" {
		t.Fatalf("expected only cooling_log_8 to remain in history, got %+v", entries)
	}

	existed, err = store.Delete(ctx, "cooling_log_7")
	if err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
	if existed {
		t.Fatalf("expected second delete to report missing document")
	}
}

func TestFSFormStore_RejectsInvalidKeysAndPayloads(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "../escape", checklistPayload(domain.FormStatusSubmitted))
	var storageErr *StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %T %v", err, err)
	}
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}

	bad := checklistPayload(domain.FormStatusSubmitted)
	bad.FormType = ""
	_, err = store.WriteDraft(ctx, "cooling_log_draft", bad)
	if !errors.Is(err, validator.ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
	if doc, _ := store.Read(ctx, "cooling_log_draft"); doc != nil {
		t.Fatalf("invalid payload must not be persisted")
	}
}

func TestFSFormStore_WriteFailsWhenRootIsNotWritable(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(root, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	history, err := NewFileHistoryIndex(filepath.Join(t.TempDir(), "history.json"), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewFileHistoryIndex: %v", err)
	}
	store, err := NewFSFormStore(root, history, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewFSFormStore: %v", err)
	}

	_, err = store.Write(context.Background(), "cooling_log_1", checklistPayload(domain.FormStatusSubmitted))
	var storageErr *StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "write" {
		t.Fatalf("expected write StorageError, got %v", err)
	}
	entries, _ := history.List(context.Background(), domain.HistoryFilter{})
	if len(entries) != 0 {
		t.Fatalf("failed write must not register history, got %d entries", len(entries))
	}
}

func TestFSFormStore_ReadMany(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a_1", "b_2"} {
		if _, err := store.Write(ctx, key, checklistPayload(domain.FormStatusSubmitted)); err != nil {
			t.Fatalf("Write %s: %v", key, err)
		}
	}
	docs, err := store.ReadMany(ctx, []string{"a_1", "missing", "b_2"})
	if err != nil {
		t.Fatalf("ReadMany: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if _, ok := docs["missing"]; ok {
		t.Fatalf("missing key should be absent from result")
	}
}

func TestFSFormStore_CancelledContext(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Write(ctx, "cooling_log_1", checklistPayload(domain.FormStatusSubmitted)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
