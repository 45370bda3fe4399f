package delivery_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/delivery"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorted keys", `{"b":1,"a":2}`, `{"a": 2, "b": 1}`},
		{"nested", `{"z":{"y":[1,2],"x":null}}`, `{"z": {"x": null, "y": [1, 2]}}`},
		{"non ascii escaped", `{"name":"Bière"}`, `{"name": "Bi\u00e8re"}`},
		{"astral plane pair", `{"e":"🍺"}`, `{"e": "\ud83c\udf7a"}`},
		{"control chars", `{"s":"a\nb\u0001"}`, `{"s": "a\nb\u0001"}`},
		{"booleans", `[true,false]`, `[true, false]`},
		{"number kept verbatim", `{"n":1.50}`, `{"n": 1.50}`},
		{"empty containers", `{"a":[],"b":{}}`, `{"a": [], "b": {}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := delivery.Canonical(json.RawMessage(tt.in))
			if err != nil {
				t.Fatalf("Canonical: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Canonical(%s) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalRejectsInvalid(t *testing.T) {
	if _, err := delivery.Canonical(json.RawMessage(`{`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildPayload(t *testing.T) {
	created := time.Date(2024, 3, 2, 8, 30, 15, 123456000, time.UTC)
	b := &batch.Batch{
		Codes:     []string{"K1", "K2", "K3"},
		Label:     "L-7",
		BeerType:  "IPA",
		CreatedAt: created,
		FilledAt:  created.Add(-time.Hour),
	}
	p := delivery.BuildPayload(b, "mac", time.Now())

	if p.KegCount != 3 || len(p.KegIDs) != 3 {
		t.Errorf("keg count = %d, ids = %v", p.KegCount, p.KegIDs)
	}
	if p.Timestamp != "2024-03-02T08:30:15.123456" {
		t.Errorf("Timestamp = %q", p.Timestamp)
	}
	if p.FillingDate != "2024-03-02T07:30:15.123456" {
		t.Errorf("FillingDate = %q", p.FillingDate)
	}
	if p.Batch != "L-7" || p.BeerType != "IPA" || p.MacID != "mac" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestBuildPayloadEmptyCodes(t *testing.T) {
	p := delivery.BuildPayload(&batch.Batch{}, "mac", time.Now())
	doc, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		t.Fatal(err)
	}
	if ids, ok := m["kegIds"].([]any); !ok || len(ids) != 0 {
		t.Errorf("kegIds = %v, want empty list", m["kegIds"])
	}
}

func TestSignAndVerify(t *testing.T) {
	doc := json.RawMessage(`{"macId":"m","kegIds":["a"],"kegCount":1}`)
	signed, err := delivery.Sign(doc)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !delivery.Verify(signed) {
		t.Fatal("signed document did not verify")
	}
	if delivery.Verify(doc) {
		t.Error("unsigned document verified")
	}

	var m map[string]any
	_ = json.Unmarshal(signed, &m)
	m["kegCount"] = 2
	tampered, _ := json.Marshal(m)
	if delivery.Verify(tampered) {
		t.Error("tampered document verified")
	}

	again, err := delivery.Sign(signed)
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(signed) {
		t.Errorf("re-signing changed document:\n%s\n%s", signed, again)
	}
}

func TestSignKnownDigest(t *testing.T) {
	// sha256 of `{"a": 1}`
	const want = "f9d86028c6e0d64e225186f96acb69338b2c59764df79162107f5c4bb34d1310"
	signed, err := delivery.Sign(json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	var m struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(signed, &m); err != nil {
		t.Fatal(err)
	}
	if m.Hash != want {
		t.Errorf("hash = %s, want %s", m.Hash, want)
	}
}
