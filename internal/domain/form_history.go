package domain

import (
	"github.com/google/uuid"
)

// HistoryMeta links a history entry back to the stored document it summarizes.
type HistoryMeta struct {
	FormID   string       `json:"formId"`
	FilePath string       `json:"filePath"`
	FormType string       `json:"formType,omitempty"`
	Status   FormStatus   `json:"status,omitempty"`
	Payload  *FormPayload `json:"payload,omitempty"`
}

// HistoryEntry is a lightweight summary of a finalized save, used for listings.
type HistoryEntry struct {
	ID      uuid.UUID   `json:"id"`
	Title   string      `json:"title"`
	Date    *string     `json:"date"`
	SavedAt Millis      `json:"savedAt"`
	Meta    HistoryMeta `json:"meta"`
}

// HistoryRecord pairs a history entry with its identifier for listing.
type HistoryRecord struct {
	ID    string       `json:"id"`
	Value HistoryEntry `json:"value"`
}

// NewHistoryEntry builds the entry recorded for a finalized write of payload under key.
func NewHistoryEntry(key, location string, payload FormPayload, savedAt Millis) HistoryEntry {
	snapshot := payload
	return HistoryEntry{
		ID:      uuid.New(),
		Title:   payload.Title,
		Date:    payload.DateField(),
		SavedAt: savedAt,
		Meta: HistoryMeta{
			FormID:   key,
			FilePath: location,
			FormType: payload.FormType,
			Status:   payload.Status,
			Payload:  &snapshot,
		},
	}
}

// Record wraps the entry as an id/value pair.
func (e HistoryEntry) Record() HistoryRecord {
	return HistoryRecord{ID: e.ID.String(), Value: e}
}
