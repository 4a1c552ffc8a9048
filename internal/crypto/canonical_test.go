package crypto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanonicalizeOrdersAndStripsNulls(t *testing.T) {
	input := map[string]any{
		"b": "value",
		"a": 1,
		"c": nil,
		"d": map[string]any{
			"z": nil,
			"y": true,
		},
	}

	got, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	want := `{"a":1,"b":"value","d":{"y":true}}`
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}
}

func TestCanonicalizeRejectsFloat(t *testing.T) {
	_, err := Canonicalize(1.25)
	if err != ErrFloatNotAllowed {
		t.Fatalf("expected ErrFloatNotAllowed, got %v", err)
	}
}

func TestCanonicalizeJSONNumberIntegerOnly(t *testing.T) {
	_, err := Canonicalize(json.Number("1.25"))
	if err != ErrFloatNotAllowed {
		t.Fatalf("expected ErrFloatNotAllowed, got %v", err)
	}

	got, err := Canonicalize(json.Number("42"))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	if string(got) != "42" {
		t.Fatalf("unexpected canonical json: %s", got)
	}
}

func TestCanonicalizeNormalizesNFC(t *testing.T) {
	input := map[string]any{
		"text": "e\u0301",
	}

	got, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	want := "{\"text\":\"\u00e9\"}"
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}
}

func TestCanonicalizeMapKeyCollision(t *testing.T) {
	input := map[string]any{
		"e\u0301": 1,
		"\u00e9":  2,
	}

	_, err := Canonicalize(input)
	if err != ErrKeyCollision {
		t.Fatalf("expected ErrKeyCollision, got %v", err)
	}
}

func TestCanonicalizeNonStringMapKey(t *testing.T) {
	input := map[int]any{1: "a"}
	_, err := Canonicalize(input)
	if err != ErrNonStringMapKey {
		t.Fatalf("expected ErrNonStringMapKey, got %v", err)
	}
}

func TestCanonicalizeUnsupportedType(t *testing.T) {
	_, err := Canonicalize(make(chan int))
	if err != ErrUnsupportedType {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestCanonicalizeStructUsesJSONTags(t *testing.T) {
	type body struct {
		Zeta    string  `json:"zeta"`
		Alpha   string  `json:"alpha"`
		Skipped string  `json:"skipped,omitempty"`
		Nested  *string `json:"nested"`
		Count   int     `json:"count"`
	}

	got, err := Canonicalize(body{Zeta: "z", Alpha: "a", Count: 3})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"alpha":"a","count":3,"zeta":"z"}`
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}

	type withFloat struct {
		Ratio float64 `json:"ratio"`
	}
	if _, err := Canonicalize(withFloat{Ratio: 0.5}); err != ErrFloatNotAllowed {
		t.Fatalf("expected ErrFloatNotAllowed, got %v", err)
	}
}

func TestCanonicalizeDecimalAndTime(t *testing.T) {
	at := time.Date(2026, 4, 5, 6, 7, 8, 9, time.FixedZone("x", 3600))
	input := map[string]any{
		"amount": decimal.RequireFromString("180.50"),
		"at":     at,
	}
	got, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want := `{"amount":"180.5","at":"2026-04-05T05:07:08.000000009Z"}`
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n%s\nwant:\n%s", got, want)
	}
}

func TestCanonicalizeSlices(t *testing.T) {
	input := []any{1, nil, "a"}
	got, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	if string(got) != `[1,null,"a"]` {
		t.Fatalf("unexpected canonical json: %s", got)
	}

	var nilSlice []any
	got, err = Canonicalize(nilSlice)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	if string(got) != "null" {
		t.Fatalf("unexpected canonical json: %s", got)
	}
}
