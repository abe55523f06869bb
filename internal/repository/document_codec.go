package repository

import (
	"encoding/json"
	"fmt"

	"github.com/rpattn/formkeep/internal/domain"
	"github.com/rpattn/formkeep/pkg/validator"
)

var payloadValidator = validator.NewPayloadValidator()

// encodeDocument validates payload and wraps it in a new StoredDocument stamped at savedAt.
// The returned document is decoded from the encoded bytes so it shares no maps with the caller.
func encodeDocument(payload domain.FormPayload, savedAt domain.Millis) ([]byte, domain.StoredDocument, error) {
	if err := payloadValidator.ValidatePayload(payload).Err(); err != nil {
		return nil, domain.StoredDocument{}, err
	}
	data, err := json.MarshalIndent(domain.StoredDocument{Payload: payload, SavedAt: savedAt}, "", "  ")
	if err != nil {
		return nil, domain.StoredDocument{}, fmt.Errorf("failed to marshal document: %w", err)
	}
	data = append(data, '\n')

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, domain.StoredDocument{}, err
	}
	return data, doc, nil
}

func decodeDocument(data []byte) (domain.StoredDocument, error) {
	var doc domain.StoredDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.StoredDocument{}, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}
