package domain

import "strings"

// HistoryFilter represents filtering options for listing history entries.
type HistoryFilter struct {
	FormType   string
	FormID     string
	TextSearch string
	Limit      int
	Offset     int
}

// Matches reports whether an entry passes the non-paging parts of the filter.
func (f HistoryFilter) Matches(entry HistoryEntry) bool {
	if f.FormType != "" && !strings.EqualFold(entry.Meta.FormType, f.FormType) {
		return false
	}
	if f.FormID != "" && entry.Meta.FormID != f.FormID {
		return false
	}
	search := strings.ToLower(strings.TrimSpace(f.TextSearch))
	if search == "" {
		return true
	}
	candidates := []string{entry.Title, entry.Meta.FormType, entry.Meta.FormID}
	if entry.Date != nil {
		candidates = append(candidates, *entry.Date)
	}
	for _, candidate := range candidates {
		if strings.Contains(strings.ToLower(candidate), search) {
			return true
		}
	}
	return false
}

// Page applies Offset and Limit to an already filtered slice.
func (f HistoryFilter) Page(entries []HistoryEntry) []HistoryEntry {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []HistoryEntry{}
	}
	entries = entries[offset:]
	if f.Limit > 0 && f.Limit < len(entries) {
		entries = entries[:f.Limit]
	}
	return entries
}
