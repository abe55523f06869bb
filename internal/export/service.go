package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/formkeep/internal/clock"
	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/internal/formloader"
	"github.com/rpattn/formkeep/internal/repository"
)

// HistorySheet is the worksheet holding exported history rows.
const HistorySheet = "History"

// Format selects the encoding of an export.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ParseFormat maps user input to a Format; empty input selects XLSX.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", value)
	}
}

func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

type Service struct {
	history  repository.HistoryIndex
	store    repository.FormStore
	pageSize int
	clock    clock.Clock
}

type Option func(*Service)

func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewService builds an exporter over the history index. store is only read when documents are included.
func NewService(history repository.HistoryIndex, store repository.FormStore, opts ...Option) *Service {
	service := &Service{
		history:  history,
		store:    store,
		pageSize: 500,
		clock:    clock.SystemUTC{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Request describes one export. Filter.Limit caps the number of rows; zero exports everything.
type Request struct {
	Filter      domain.HistoryFilter
	Format      Format
	IncludeData bool
}

var baseHeaders = []string{"Key", "Title", "Form Type", "Status", "Date", "Saved At", "Location"}

func headers(includeData bool) []string {
	out := append([]string(nil), baseHeaders...)
	if includeData {
		out = append(out, "Metadata", "Form Data")
	}
	return out
}

// Write encodes matching history entries to w and returns the number of data rows written.
func (s *Service) Write(ctx context.Context, w io.Writer, req Request) (int, error) {
	if s.history == nil {
		return 0, errors.New("history index is required")
	}
	if req.IncludeData && s.store == nil {
		return 0, errors.New("form store is required to include form data")
	}
	switch req.Format {
	case FormatCSV:
		return s.writeCSV(ctx, w, req)
	case FormatXLSX, "":
		return s.writeXLSX(ctx, w, req)
	default:
		return 0, fmt.Errorf("unsupported export format %q", req.Format)
	}
}

// FileName returns a download name such as "formkeep-history-cooling_log-20261015T090000Z.xlsx".
func (s *Service) FileName(req Request) string {
	format := req.Format
	if format == "" {
		format = FormatXLSX
	}
	parts := []string{"formkeep-history"}
	if component := sanitizeFileComponent(req.Filter.FormType); component != "" {
		parts = append(parts, component)
	}
	parts = append(parts, s.clock.NowUTC().Format("20060102T150405Z"))
	return strings.Join(parts, "-") + "." + string(format)
}

func (s *Service) writeXLSX(ctx context.Context, w io.Writer, req Request) (int, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), HistorySheet); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return 0, fmt.Errorf("create header style: %w", err)
	}
	sw, err := f.NewStreamWriter(HistorySheet)
	if err != nil {
		return 0, fmt.Errorf("open stream writer: %w", err)
	}
	cols := headers(req.IncludeData)
	if err := sw.SetColWidth(1, len(cols), 22); err != nil {
		return 0, fmt.Errorf("set column width: %w", err)
	}

	headerCells := make([]interface{}, len(cols))
	for i, h := range cols {
		headerCells[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", headerCells, excelize.RowOpts{StyleID: headerStyle}); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rowIndex := 2
	exported, err := s.eachRow(ctx, req, func(values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowIndex)
		if err != nil {
			return err
		}
		row := make([]interface{}, len(values))
		for i, v := range values {
			row[i] = v
		}
		rowIndex++
		return sw.SetRow(cell, row)
	})
	if err != nil {
		return exported, err
	}
	if err := sw.Flush(); err != nil {
		return exported, fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.Write(w); err != nil {
		return exported, fmt.Errorf("write workbook: %w", err)
	}
	return exported, nil
}

func (s *Service) writeCSV(ctx context.Context, w io.Writer, req Request) (int, error) {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(headers(req.IncludeData)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	exported, err := s.eachRow(ctx, req, csvWriter.Write)
	if err != nil {
		return exported, err
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return exported, fmt.Errorf("flush csv: %w", err)
	}
	return exported, nil
}

// eachRow pages through the history index and hands each formatted row to emit.
func (s *Service) eachRow(ctx context.Context, req Request, emit func([]string) error) (int, error) {
	var loader *formloader.FormLoader
	if req.IncludeData {
		loader = formloader.NewFormLoader(s.store)
	}

	target := req.Filter.Limit
	offset := req.Filter.Offset
	exported := 0
	for {
		if ctx.Err() != nil {
			return exported, ctx.Err()
		}
		pageSize := s.pageSize
		if target > 0 && target-exported < pageSize {
			pageSize = target - exported
		}
		filter := req.Filter
		filter.Limit = pageSize
		filter.Offset = offset

		entries, err := s.history.List(ctx, filter)
		if err != nil {
			return exported, fmt.Errorf("list history: %w", err)
		}

		var docs []*domain.StoredDocument
		if loader != nil && len(entries) > 0 {
			keys := make([]string, len(entries))
			for i, entry := range entries {
				keys[i] = entry.Meta.FormID
			}
			docs, err = loader.LoadMany(ctx, keys)
			if err != nil {
				return exported, fmt.Errorf("load documents: %w", err)
			}
		}

		for i, entry := range entries {
			values := entryRow(entry)
			if loader != nil {
				values = append(values, documentColumns(docs[i])...)
			}
			if err := emit(values); err != nil {
				return exported, fmt.Errorf("write row %d: %w", exported+1, err)
			}
			exported++
		}

		if len(entries) < pageSize || (target > 0 && exported >= target) {
			return exported, nil
		}
		offset += len(entries)
	}
}

func entryRow(entry domain.HistoryEntry) []string {
	date := ""
	if entry.Date != nil {
		date = *entry.Date
	}
	savedAt := ""
	if entry.SavedAt > 0 {
		savedAt = entry.SavedAt.Time().UTC().Format(time.RFC3339)
	}
	return []string{
		entry.Meta.FormID,
		entry.Title,
		entry.Meta.FormType,
		string(entry.Meta.Status),
		date,
		savedAt,
		entry.Meta.FilePath,
	}
}

// documentColumns renders the metadata and formData of a stored document. A missing document yields blanks.
func documentColumns(doc *domain.StoredDocument) []string {
	if doc == nil {
		return []string{"", ""}
	}
	metadata := ""
	if len(doc.Payload.Metadata) > 0 {
		metadata = formatValue(doc.Payload.Metadata)
	}
	return []string{metadata, formatValue(doc.Payload.FormData)}
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-")
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case map[string]any, []any, []map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
