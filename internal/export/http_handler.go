package export

import (
	"bytes"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/formkeep/internal/domain"
)

type Handler struct {
	service *Service
}

// NewHTTPHandler serves GET requests with the history export as an attachment.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	req, err := parseRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	rows, err := h.service.Write(r.Context(), &buf, req)
	if err != nil {
		log.Printf("[EXPORT] history export failed: %v", err)
		http.Error(w, fmt.Sprintf("export failed: %v", err), http.StatusInternalServerError)
		return
	}

	filename := h.service.FileName(req)
	w.Header().Set("Content-Type", req.Format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Export-Rows", strconv.Itoa(rows))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func parseRequest(r *http.Request) (Request, error) {
	query := r.URL.Query()
	format, err := ParseFormat(query.Get("format"))
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Format: format,
		Filter: domain.HistoryFilter{
			FormType:   strings.TrimSpace(query.Get("formType")),
			TextSearch: strings.TrimSpace(query.Get("q")),
		},
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return Request{}, fmt.Errorf("invalid limit")
		}
		req.Filter.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("includeData")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return Request{}, fmt.Errorf("invalid includeData: %v", err)
		}
		req.IncludeData = include
	}
	return req, nil
}
