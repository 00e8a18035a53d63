package codec

import (
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestDecodeVersionToken(t *testing.T) {
	got, err := DecodeVersionToken(strPtr(`{"value":"v3"}`))
	if err != nil {
		t.Fatalf("DecodeVersionToken() failed: %v", err)
	}
	if got == nil || *got != "v3" {
		t.Errorf("ctag = %v, want v3", got)
	}
}

func TestDecodeVersionToken_Absent(t *testing.T) {
	for _, raw := range []*string{nil, strPtr(""), strPtr("null"), strPtr("  ")} {
		got, err := DecodeVersionToken(raw)
		if err != nil {
			t.Errorf("DecodeVersionToken(%v) unexpected error: %v", raw, err)
		}
		if got != nil {
			t.Errorf("DecodeVersionToken(%v) = %q, want nil", raw, *got)
		}
	}
}

func TestDecodeVersionToken_Malformed(t *testing.T) {
	for _, raw := range []string{"not-json", `{"other":"x"}`, `{"value":3}`, `["v3"]`} {
		got, err := DecodeVersionToken(&raw)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("DecodeVersionToken(%q) error = %v, want ErrMalformed", raw, err)
		}
		if got != nil {
			t.Errorf("DecodeVersionToken(%q) = %q, want nil", raw, *got)
		}
	}
}

func TestEncodeVersionToken(t *testing.T) {
	encoded, err := EncodeVersionToken("abc-123")
	if err != nil {
		t.Fatalf("EncodeVersionToken() failed: %v", err)
	}
	if encoded != `{"value":"abc-123"}` {
		t.Errorf("encoded = %s", encoded)
	}

	decoded, err := DecodeVersionToken(&encoded)
	if err != nil || decoded == nil || *decoded != "abc-123" {
		t.Errorf("decoded = %v, %v", decoded, err)
	}
}

func TestDecodeOrder(t *testing.T) {
	got, err := DecodeOrder(`["X-APPLE-SORT-ORDER","-42"]`)
	if err != nil {
		t.Fatalf("DecodeOrder() failed: %v", err)
	}
	if got == nil || *got != -42 {
		t.Errorf("order = %v, want -42", got)
	}
}

func TestDecodeOrder_CaseInsensitiveName(t *testing.T) {
	got, err := DecodeOrder(`["x-apple-sort-order","7",{"X-PARAM":"1"}]`)
	if err != nil {
		t.Fatalf("DecodeOrder() failed: %v", err)
	}
	if got == nil || *got != 7 {
		t.Errorf("order = %v, want 7", got)
	}
}

func TestDecodeOrder_OtherProperty(t *testing.T) {
	// The value mentions the sentinel, so the LIKE prefilter would match it.
	got, err := DecodeOrder(`["X-NOTE","see X-APPLE-SORT-ORDER"]`)
	if err != nil {
		t.Fatalf("DecodeOrder() failed: %v", err)
	}
	if got != nil {
		t.Errorf("order = %d, want nil", *got)
	}
}

func TestDecodeOrder_Malformed(t *testing.T) {
	cases := []string{
		`not-json`,
		`["X-APPLE-SORT-ORDER"]`,
		`["X-APPLE-SORT-ORDER","twelve"]`,
		`["X-APPLE-SORT-ORDER","99999999999999999999"]`,
		`["","1"]`,
	}
	for _, data := range cases {
		if _, err := DecodeOrder(data); !errors.Is(err, ErrMalformed) {
			t.Errorf("DecodeOrder(%s) error = %v, want ErrMalformed", data, err)
		}
	}
}

func TestEncodeOrder(t *testing.T) {
	encoded, err := EncodeOrder(1234567890123)
	if err != nil {
		t.Fatalf("EncodeOrder() failed: %v", err)
	}
	if encoded != `["X-APPLE-SORT-ORDER","1234567890123"]` {
		t.Errorf("encoded = %s", encoded)
	}
	got, err := DecodeOrder(encoded)
	if err != nil || got == nil || *got != 1234567890123 {
		t.Errorf("decoded = %v, %v", got, err)
	}
}

func TestUnknownPropertyParams(t *testing.T) {
	prop := UnknownProperty{Name: "X-TEST", Value: "v", Params: map[string]string{"LANG": "en"}}
	encoded, err := prop.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	decoded, err := DecodeUnknownProperty(encoded)
	if err != nil {
		t.Fatalf("DecodeUnknownProperty() failed: %v", err)
	}
	if decoded.Name != "X-TEST" || decoded.Value != "v" || decoded.Params["LANG"] != "en" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.IsOrder() {
		t.Error("X-TEST should not be treated as order")
	}
}

func TestParentRelation(t *testing.T) {
	if _, ok := ParentRelation("   ", nil); ok {
		t.Error("blank parent uid should not produce a relation")
	}

	id := int64(9)
	rel, ok := ParentRelation("parent-uid", &id)
	if !ok {
		t.Fatal("expected relation for non-blank parent uid")
	}
	if rel.Type != RelTypeParent || rel.RelatedUID != "parent-uid" || *rel.RelatedID != 9 {
		t.Errorf("relation = %+v", rel)
	}
}

func TestParseRelationType(t *testing.T) {
	rt, err := ParseRelationType(0)
	if err != nil || rt != RelTypeParent {
		t.Errorf("ParseRelationType(0) = %v, %v", rt, err)
	}
	if _, err := ParseRelationType(7); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseRelationType(7) error = %v", err)
	}
	if RelTypeChild.String() != "child" {
		t.Errorf("String() = %s", RelTypeChild.String())
	}
}
