package forage

import (
	"encoding/json"
	"fmt"
)

// Document is the normalized unit of fetched content: the primary text
// plus an open metadata mapping carrying every other source field.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// FetchOutput is the normalized result of a provider fetch. Documents is
// never nil on success; zero results yield an empty slice.
type FetchOutput struct {
	Documents []Document `json:"documents"`
}

// normalizeItems maps raw provider items to Documents, promoting
// contentField to Document.Content and copying the remaining fields
// into Metadata. The raw payload may be a JSON array of objects or a
// single object treated as a one-item array.
func normalizeItems(provider Provider, raw json.RawMessage, contentField string) (FetchOutput, error) {
	items, err := decodeRawItems(provider, raw)
	if err != nil {
		return FetchOutput{}, err
	}

	docs := make([]Document, 0, len(items))
	for i, item := range items {
		value, ok := item[contentField]
		if !ok {
			return FetchOutput{}, newNormalizationError(provider, contentField, ErrCodeMissingContent,
				"item %d is missing the %q field", i, contentField)
		}
		content, ok := value.(string)
		if !ok {
			return FetchOutput{}, newNormalizationError(provider, contentField, ErrCodeMissingContent,
				"item %d field %q is %T, want string", i, contentField, value)
		}

		metadata := make(map[string]any, len(item)-1)
		for key, val := range item {
			if key == contentField {
				continue
			}
			metadata[key] = val
		}
		docs = append(docs, Document{Content: content, Metadata: metadata})
	}
	return FetchOutput{Documents: docs}, nil
}

func decodeRawItems(provider Provider, raw json.RawMessage) ([]map[string]any, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err == nil {
		return items, nil
	}

	var single map[string]any
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, &NormalizationError{
			Provider:  provider,
			FieldCode: ErrCodeMalformedResponse,
			Message:   fmt.Sprintf("response is neither an object nor an array of objects: %v", err),
			Cause:     err,
		}
	}
	return []map[string]any{single}, nil
}
