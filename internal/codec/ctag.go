// Package codec encodes and decodes the extension values taskbridge keeps in
// the provider schema: collection version tokens, unknown (X-) properties and
// parent relations.
//
// The decoders are strict and return ErrMalformed for data they cannot
// understand. Callers in the adapter treat malformed data as absent.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed is returned when stored extension data cannot be parsed.
var ErrMalformed = errors.New("malformed extension data")

// versionEnvelope is the JSON object the sync adapter writes to sync_version.
type versionEnvelope struct {
	Value *string `json:"value"`
}

// DecodeVersionToken unwraps the collection version (ctag) from its JSON
// envelope, e.g. {"value":"v3"} -> "v3".
//
// A nil, empty or JSON null token means the collection was never synced and
// decodes to (nil, nil).
func DecodeVersionToken(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var env versionEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, fmt.Errorf("%w: version token %q: %v", ErrMalformed, trimmed, err)
	}
	if env.Value == nil {
		return nil, fmt.Errorf("%w: version token %q has no value", ErrMalformed, trimmed)
	}
	return env.Value, nil
}

// EncodeVersionToken wraps a raw collection version in the JSON envelope.
func EncodeVersionToken(value string) (string, error) {
	data, err := json.Marshal(versionEnvelope{Value: &value})
	if err != nil {
		return "", fmt.Errorf("failed to encode version token: %w", err)
	}
	return string(data), nil
}
