package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rpattn/formkeep/internal/autosave"
	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/internal/formloader"
	"github.com/rpattn/formkeep/internal/middleware"
	"github.com/rpattn/formkeep/internal/repository"
	"github.com/rpattn/formkeep/pkg/validator"
)

const maxPayloadBytes = 8 << 20

// Handler serves the form, history and session endpoints.
type Handler struct {
	store     repository.FormStore
	history   repository.HistoryIndex
	sessions  *Registry
	validator *validator.PayloadValidator
}

func NewHandler(store repository.FormStore, history repository.HistoryIndex, sessions *Registry) *Handler {
	return &Handler{
		store:     store,
		history:   history,
		sessions:  sessions,
		validator: validator.NewPayloadValidator(),
	}
}

type historyItem struct {
	domain.HistoryRecord
	Document *domain.StoredDocument `json:"document,omitempty"`
}

type historyResponse struct {
	Items []historyItem `json:"items"`
	Count int           `json:"count"`
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.history.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]historyItem, len(entries))
	for i, entry := range entries {
		items[i] = historyItem{HistoryRecord: entry.Record()}
	}
	if strings.EqualFold(r.URL.Query().Get("include"), "document") && len(entries) > 0 {
		keys := make([]string, len(entries))
		for i, entry := range entries {
			keys[i] = entry.Meta.FormID
		}
		docs, err := h.loader(r).LoadMany(r.Context(), keys)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for i := range items {
			items[i].Document = docs[i]
		}
	}
	writeJSON(w, http.StatusOK, historyResponse{Items: items, Count: len(items)})
}

func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := domain.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := h.loader(r).Load(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("form %s not found", key))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) DeleteForm(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := domain.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	deleted, err := h.store.Delete(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": deleted})
}

type sessionSnapshot struct {
	FormType     string                 `json:"formType"`
	DraftKey     string                 `json:"draftKey"`
	State        autosave.State         `json:"state"`
	IsSaving     bool                   `json:"isSaving"`
	InFlight     bool                   `json:"inFlight"`
	HasPayload   bool                   `json:"hasPayload"`
	Notification autosave.Notification  `json:"notification"`
	Draft        *domain.StoredDocument `json:"draft,omitempty"`
}

func (h *Handler) snapshot(r *http.Request, form *LiveForm, withDraft bool) (sessionSnapshot, error) {
	s := form.session
	snap := sessionSnapshot{
		FormType:     form.formType,
		DraftKey:     s.DraftKey(),
		State:        s.State(),
		IsSaving:     s.IsSaving(),
		InFlight:     s.InFlight(),
		HasPayload:   form.hasPayload(),
		Notification: s.Notification(),
	}
	if withDraft {
		draft, err := s.LoadDraft(r.Context())
		if err != nil {
			return sessionSnapshot{}, err
		}
		snap.Draft = draft
	}
	return snap, nil
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	form, ok := h.openSession(w, r)
	if !ok {
		return
	}
	snap, err := h.snapshot(r, form, true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PutPayload records the client's latest field values and (re)arms the autosave debounce.
func (h *Handler) PutPayload(w http.ResponseWriter, r *http.Request) {
	form, ok := h.openSession(w, r)
	if !ok {
		return
	}
	var payload domain.FormPayload
	if err := readJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid payload: %v", err))
		return
	}
	if payload.FormType == "" {
		payload.FormType = form.formType
	}
	if payload.FormType != form.formType {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("formType %q does not match session %q", payload.FormType, form.formType))
		return
	}
	payload.Status = domain.FormStatusDraft
	if err := h.validator.ValidatePayload(payload).Err(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	form.setPayload(payload)
	form.session.ScheduleAutoSave(0)

	snap, err := h.snapshot(r, form, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	form, ok := h.openSession(w, r)
	if !ok {
		return
	}
	result, err := form.session.SaveDraft(r.Context())
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	form, ok := h.openSession(w, r)
	if !ok {
		return
	}
	result, err := form.session.Submit(r.Context(), nil)
	if err != nil {
		if errors.Is(err, autosave.ErrSubmitInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, statusForError(err), map[string]any{
			"error":        err.Error(),
			"notification": result.Notification,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	form, ok := h.openSession(w, r)
	if !ok {
		return
	}
	if err := form.session.DiscardDraft(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) (*LiveForm, bool) {
	form, err := h.sessions.Open(chi.URLParam(r, "formType"))
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return nil, false
	}
	return form, true
}

// loader prefers the request-scoped loader installed by the middleware.
func (h *Handler) loader(r *http.Request) *formloader.FormLoader {
	if l := middleware.FormLoaderFromContext(r.Context()); l != nil {
		return l
	}
	return formloader.NewFormLoader(h.store)
}

func parseHistoryFilter(r *http.Request) (domain.HistoryFilter, error) {
	query := r.URL.Query()
	filter := domain.HistoryFilter{
		FormType:   strings.TrimSpace(query.Get("formType")),
		FormID:     strings.TrimSpace(query.Get("formId")),
		TextSearch: strings.TrimSpace(query.Get("q")),
		Limit:      50,
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return domain.HistoryFilter{}, errors.New("invalid limit")
		}
		filter.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return domain.HistoryFilter{}, errors.New("invalid offset")
		}
		filter.Offset = parsed
	}
	return filter, nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, validator.ErrInvalidPayload):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoPayload):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		log.Printf("[HTTP] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
