package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/internal/repository"
)

func newFixture(t *testing.T, count int) (repository.FormStore, repository.HistoryIndex) {
	t.Helper()
	root := t.TempDir()
	base := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	tick := 0
	opts := []repository.StoreOption{
		repository.WithLogger(log.New(io.Discard, "", 0)),
		repository.WithClock(clock.Func(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		})),
	}
	history, err := repository.NewFileHistoryIndex(filepath.Join(root, "history.json"), opts...)
	if err != nil {
		t.Fatalf("NewFileHistoryIndex: %v", err)
	}
	store, err := repository.NewFSFormStore(root, history, opts...)
	if err != nil {
		t.Fatalf("NewFSFormStore: %v", err)
	}
	for i := 1; i <= count; i++ {
		payload := domain.FormPayload{
			FormType: "cooling_log",
			Title:    fmt.Sprintf("Cooling Log %d", i),
			Metadata: map[string]any{"date": "2026-10-15"},
			FormData: []any{map[string]any{"item": "Rice", "ok": true}},
			Status:   domain.FormStatusSubmitted,
			SavedAt:  domain.MillisFrom(base.Add(time.Duration(i) * time.Minute)),
		}
		if _, err := store.Write(context.Background(), fmt.Sprintf("cooling_log_%d", i), payload); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	return store, history
}

func TestService_WriteXLSX(t *testing.T) {
	store, history := newFixture(t, 3)
	service := NewService(history, store, WithPageSize(2))

	var buf bytes.Buffer
	rows, err := service.Write(context.Background(), &buf, Request{Format: FormatXLSX, IncludeData: true})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rows != 3 {
		t.Fatalf("expected 3 rows, got %d", rows)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() { _ = f.Close() }()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != HistorySheet {
		t.Fatalf("unexpected sheets %v", sheets)
	}
	got, err := f.GetRows(HistorySheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(got))
	}
	if got[0][0] != "Key" || got[0][len(got[0])-1] != "Form Data" {
		t.Fatalf("unexpected header %v", got[0])
	}
	if got[1][0] != "cooling_log_3" || got[3][0] != "cooling_log_1" {
		t.Fatalf("expected newest first, got %s then %s", got[1][0], got[3][0])
	}
	if got[1][4] != "2026-10-15" {
		t.Fatalf("unexpected date cell %q", got[1][4])
	}
	if !strings.Contains(got[1][len(got[1])-1], `"item":"Rice"`) {
		t.Fatalf("unexpected form data cell %q", got[1][len(got[1])-1])
	}
}

func TestService_WriteCSVRespectsLimitAndFilter(t *testing.T) {
	store, history := newFixture(t, 5)
	service := NewService(history, store, WithPageSize(2))

	var buf bytes.Buffer
	req := Request{Format: FormatCSV, Filter: domain.HistoryFilter{FormType: "COOLING_LOG", Limit: 3}}
	rows, err := service.Write(context.Background(), &buf, req)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rows != 3 {
		t.Fatalf("expected 3 rows, got %d", rows)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(records) != 4 || len(records[0]) != len(baseHeaders) {
		t.Fatalf("unexpected csv shape %v", records)
	}

	buf.Reset()
	rows, err = service.Write(context.Background(), &buf, Request{Format: FormatCSV, Filter: domain.HistoryFilter{FormType: "temp_check"}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if rows != 0 {
		t.Fatalf("expected no rows for other form type, got %d", rows)
	}
}

func TestService_FileName(t *testing.T) {
	fixed := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	service := NewService(nil, nil, WithClock(clock.Func(func() time.Time { return fixed })))

	name := service.FileName(Request{Filter: domain.HistoryFilter{FormType: "Cooling Log"}})
	if name != "formkeep-history-cooling-log-20261015T093000Z.xlsx" {
		t.Fatalf("unexpected file name %q", name)
	}
	if _, err := service.Write(context.Background(), io.Discard, Request{}); err == nil {
		t.Fatalf("expected error without history index")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatXLSX {
		t.Fatalf("expected xlsx default, got %q %v", f, err)
	}
	if f, err := ParseFormat("CSV"); err != nil || f != FormatCSV {
		t.Fatalf("expected csv, got %q %v", f, err)
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Fatalf("expected error for pdf")
	}
}

func TestHandler_ServesAttachment(t *testing.T) {
	store, history := newFixture(t, 2)
	handler := NewHTTPHandler(NewService(history, store))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/export?format=csv&formType=cooling_log", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Export-Rows"); got != "2" {
		t.Fatalf("expected 2 rows header, got %q", got)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Disposition"), `attachment; filename="formkeep-history-cooling_log-`) {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/export?limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}
