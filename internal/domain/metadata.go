package domain

import (
	"encoding/json"
	"fmt"
)

// EncodeMetadata serializes metadata to compact JSON text. A nil map encodes
// as "{}".
func EncodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("%w: encode metadata: %w", ErrDeserialization, err)
	}
	return string(b), nil
}

// DecodeMetadata parses metadata stored as JSON text. Empty input yields an
// empty map.
func DecodeMetadata(raw []byte) (map[string]any, error) {
	metadata := make(map[string]any)
	if len(raw) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return make(map[string]any), err
	}
	if metadata == nil {
		// the literal "null"
		metadata = make(map[string]any)
	}
	return metadata, nil
}
