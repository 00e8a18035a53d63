package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AppleSortOrder is the X-property name used for manual task ordering.
const AppleSortOrder = "X-APPLE-SORT-ORDER"

// UnknownProperty is an iCalendar property the provider schema has no column
// for. It is stored as a JSON array: [name, value] or [name, value, {params}].
type UnknownProperty struct {
	Name   string
	Value  string
	Params map[string]string
}

// DecodeUnknownProperty parses the JSON representation of an unknown property.
func DecodeUnknownProperty(data string) (UnknownProperty, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(data), &parts); err != nil {
		return UnknownProperty{}, fmt.Errorf("%w: unknown property %q: %v", ErrMalformed, data, err)
	}
	if len(parts) < 2 || len(parts) > 3 {
		return UnknownProperty{}, fmt.Errorf("%w: unknown property %q: expected 2 or 3 elements, got %d", ErrMalformed, data, len(parts))
	}

	var prop UnknownProperty
	if err := json.Unmarshal(parts[0], &prop.Name); err != nil {
		return UnknownProperty{}, fmt.Errorf("%w: unknown property name: %v", ErrMalformed, err)
	}
	if err := json.Unmarshal(parts[1], &prop.Value); err != nil {
		return UnknownProperty{}, fmt.Errorf("%w: unknown property value: %v", ErrMalformed, err)
	}
	if len(parts) == 3 && !bytes.Equal(bytes.TrimSpace(parts[2]), []byte("null")) {
		if err := json.Unmarshal(parts[2], &prop.Params); err != nil {
			return UnknownProperty{}, fmt.Errorf("%w: unknown property params: %v", ErrMalformed, err)
		}
	}
	if prop.Name == "" {
		return UnknownProperty{}, fmt.Errorf("%w: unknown property has empty name", ErrMalformed)
	}
	return prop, nil
}

// Encode returns the JSON representation stored in the provider.
func (p UnknownProperty) Encode() (string, error) {
	parts := []any{p.Name, p.Value}
	if len(p.Params) > 0 {
		parts = append(parts, p.Params)
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("failed to encode unknown property %s: %w", p.Name, err)
	}
	return string(data), nil
}

// IsOrder reports whether the property carries the sort order extension.
func (p UnknownProperty) IsOrder() bool {
	return strings.EqualFold(p.Name, AppleSortOrder)
}

// DecodeOrder extracts the sort order from a stored unknown property.
//
// Returns (nil, nil) when the blob is a well-formed property with a different
// name. The storage layer prefilters with a substring match, so a property
// whose value merely mentions the sentinel must not be mistaken for it.
func DecodeOrder(data string) (*int64, error) {
	prop, err := DecodeUnknownProperty(data)
	if err != nil {
		return nil, err
	}
	if !prop.IsOrder() {
		return nil, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(prop.Value), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: sort order %q: %v", ErrMalformed, prop.Value, err)
	}
	return &v, nil
}

// EncodeOrder builds the stored form of a sort order value.
func EncodeOrder(order int64) (string, error) {
	return UnknownProperty{
		Name:  AppleSortOrder,
		Value: strconv.FormatInt(order, 10),
	}.Encode()
}

// OrderPattern is the LIKE pattern used to prefilter candidate order blobs.
func OrderPattern() string {
	return "%" + AppleSortOrder + "%"
}
