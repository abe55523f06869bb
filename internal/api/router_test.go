package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/formkeep/internal/autosave"
	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/export"
	"github.com/rpattn/formkeep/internal/repository"
)

type testServer struct {
	handler  http.Handler
	sessions *Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	logger := log.New(io.Discard, "", 0)
	opts := []repository.StoreOption{repository.WithLogger(logger)}

	history, err := repository.NewFileHistoryIndex(filepath.Join(root, "history.json"), opts...)
	require.NoError(t, err)
	store, err := repository.NewFSFormStore(root, history, opts...)
	require.NoError(t, err)

	sessions := NewRegistry(store, history, clock.SystemUTC{},
		autosave.WithLogger(logger),
		autosave.WithTimings(autosave.Timings{
			AutoSaveDelay:     20 * time.Millisecond,
			PollInterval:      5 * time.Millisecond,
			InFlightWait:      200 * time.Millisecond,
			SubmitRace:        100 * time.Millisecond,
			SubmitCeiling:     500 * time.Millisecond,
			NotificationGrace: 10 * time.Millisecond,
		}),
	)
	t.Cleanup(sessions.Close)

	h := NewHandler(store, history, sessions)
	return &testServer{
		handler:  NewRouter(h, export.NewService(history, store), []string{"http://localhost:3000"}),
		sessions: sessions,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func coolingPayload(note string) map[string]any {
	return map[string]any{
		"formType":        "cooling_log",
		"templateVersion": "2.1",
		"title":           "Cooling Log",
		"metadata":        map[string]any{"date": "2026-10-15"},
		"formData":        []any{map[string]any{"item": "Rice", "note": note}},
	}
}

func TestPutPayload_AutosavesDraftWithoutHistory(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", coolingPayload("first"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	snap := decode[sessionSnapshot](t, rec)
	assert.Equal(t, "cooling_log_draft", snap.DraftKey)
	assert.Equal(t, autosave.StatePendingAutoSave, snap.State)

	require.Eventually(t, func() bool {
		rec := srv.do(t, http.MethodGet, "/api/v1/sessions/cooling_log", nil)
		return decode[sessionSnapshot](t, rec).Draft != nil
	}, 2*time.Second, 10*time.Millisecond)

	rec = srv.do(t, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[historyResponse](t, rec).Count)
}

func TestRegistryShutdown_FlushesPendingAutosave(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", coolingPayload("closing"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NoError(t, srv.sessions.Shutdown(context.Background()))

	form, err := srv.sessions.Open("cooling_log")
	require.NoError(t, err)
	assert.False(t, form.session.InFlight())
	draft, err := form.session.LoadDraft(context.Background())
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "Cooling Log", draft.Payload.Title)
}

func TestSubmit_PersistsAndCleansUpDraft(t *testing.T) {
	srv := newTestServer(t)

	require.Equal(t, http.StatusAccepted, srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", coolingPayload("final")).Code)

	rec := srv.do(t, http.MethodPost, "/api/v1/sessions/cooling_log/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[autosave.SubmitResult](t, rec)
	assert.True(t, result.Confirmed)
	assert.Equal(t, autosave.MessageSubmitted, result.Notification.Message)
	assert.Regexp(t, `^cooling_log_\d+$`, result.Key)

	rec = srv.do(t, http.MethodGet, "/api/v1/forms/"+result.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status": "submitted"`)

	rec = srv.do(t, http.MethodGet, "/api/v1/history?include=document&formType=cooling_log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[historyResponse](t, rec)
	require.Equal(t, 1, history.Count)
	assert.Equal(t, result.Key, history.Items[0].Value.Meta.FormID)
	require.NotNil(t, history.Items[0].Document)
	assert.Equal(t, "Cooling Log", history.Items[0].Document.Payload.Title)

	rec = srv.do(t, http.MethodGet, "/api/v1/sessions/cooling_log", nil)
	snap := decode[sessionSnapshot](t, rec)
	assert.Nil(t, snap.Draft)
	assert.False(t, snap.HasPayload)
	assert.False(t, snap.IsSaving)
	assert.True(t, snap.Notification.Visible)
}

func TestSubmit_WithoutPayloadReportsFailure(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/v1/sessions/temp_check/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), autosave.MessageSubmitFailed)
}

func TestSaveDraft_CreatesHistoryEntryAndCanBeDeleted(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusAccepted, srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", coolingPayload("checkpoint")).Code)

	rec := srv.do(t, http.MethodPost, "/api/v1/sessions/cooling_log/draft", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	draft := decode[autosave.DraftResult](t, rec)
	require.False(t, draft.Skipped)

	rec = srv.do(t, http.MethodGet, "/api/v1/history?q=cooling", nil)
	require.Equal(t, 1, decode[historyResponse](t, rec).Count)

	rec = srv.do(t, http.MethodDelete, "/api/v1/forms/"+draft.Key, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["deleted"])

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/api/v1/forms/"+draft.Key, nil).Code)
	rec = srv.do(t, http.MethodGet, "/api/v1/history", nil)
	assert.Zero(t, decode[historyResponse](t, rec).Count)
}

func TestPutPayload_RejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	bad := coolingPayload("x")
	bad["formData"] = "not a record"
	assert.Equal(t, http.StatusUnprocessableEntity, srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", bad).Code)

	mismatched := coolingPayload("x")
	mismatched["formType"] = "temp_check"
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", mismatched).Code)

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/api/v1/sessions/-bad", nil).Code)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/api/v1/history?limit=zero", nil).Code)
}

func TestDiscardDraft_RemovesAutosave(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusAccepted, srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", coolingPayload("scratch")).Code)
	require.Eventually(t, func() bool {
		rec := srv.do(t, http.MethodGet, "/api/v1/sessions/cooling_log", nil)
		return decode[sessionSnapshot](t, rec).Draft != nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, "/api/v1/sessions/cooling_log", nil).Code)
	rec := srv.do(t, http.MethodGet, "/api/v1/sessions/cooling_log", nil)
	assert.Nil(t, decode[sessionSnapshot](t, rec).Draft)
}

func TestExportEndpoint_ReturnsWorkbook(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusAccepted, srv.do(t, http.MethodPut, "/api/v1/sessions/cooling_log/payload", coolingPayload("export")).Code)
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/api/v1/sessions/cooling_log/draft", nil).Code)

	rec := srv.do(t, http.MethodGet, "/api/v1/history/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.FormatXLSX.ContentType(), rec.Header().Get("Content-Type"))
	assert.Equal(t, "1", rec.Header().Get("X-Export-Rows"))
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/history", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
