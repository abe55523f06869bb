package domain

import (
	"encoding/json"
	"time"
)

// FormStatus marks whether a payload is an in-progress draft or a final submission.
type FormStatus string

const (
	FormStatusDraft     FormStatus = "draft"
	FormStatusSubmitted FormStatus = "submitted"
)

// Valid reports whether the status is one of the known values.
func (s FormStatus) Valid() bool {
	return s == FormStatusDraft || s == FormStatusSubmitted
}

// Millis is a unix timestamp in milliseconds. It is the on-disk representation of every savedAt.
type Millis int64

// MillisFrom converts a time to Millis.
func MillisFrom(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

// Time converts Millis back to a UTC time.
func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

// FormPayload is the serializable snapshot of a form produced on demand by a screen.
type FormPayload struct {
	FormType        string         `json:"formType"`
	TemplateVersion string         `json:"templateVersion"`
	Title           string         `json:"title"`
	Metadata        map[string]any `json:"metadata"`
	// FormData holds either a sequence of row records or a single structured record.
	FormData any            `json:"formData"`
	Assets   map[string]any `json:"assets,omitempty"`
	Status   FormStatus     `json:"status"`
	SavedAt  Millis         `json:"savedAt"`
}

// DateField returns metadata["date"] when it is a non-empty string.
func (p FormPayload) DateField() *string {
	if p.Metadata == nil {
		return nil
	}
	value, ok := p.Metadata["date"].(string)
	if !ok || value == "" {
		return nil
	}
	return &value
}

// Clone returns a deep copy of the payload by round-tripping it through JSON.
// The copy holds only JSON-native values, the same shape a store returns on Read.
func (p FormPayload) Clone() (FormPayload, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return FormPayload{}, err
	}
	var out FormPayload
	if err := json.Unmarshal(data, &out); err != nil {
		return FormPayload{}, err
	}
	return out, nil
}

// StoredDocument is the unit persisted under a form key.
type StoredDocument struct {
	Payload FormPayload `json:"payload"`
	SavedAt Millis      `json:"savedAt"`
}
