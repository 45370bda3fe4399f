package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/kegsync/batch"
)

// Payload is the outbound wire record of one batch.
type Payload struct {
	MacID       string   `json:"macId"`
	KegIDs      []string `json:"kegIds"`
	KegCount    int      `json:"kegCount"`
	Batch       string   `json:"batch"`
	BeerType    string   `json:"beerType"`
	FillingDate string   `json:"fillingDate"`
	Timestamp   string   `json:"timestamp"`
	Hash        string   `json:"hash,omitempty"`
}

// timeLayout matches the ISO-8601 form the cloud parses (microseconds,
// no zone designator for local station time).
const timeLayout = "2006-01-02T15:04:05.000000"

// BuildPayload assembles the wire record for b. The request timestamp is
// the batch creation time; now is used when that is unset.
func BuildPayload(b *batch.Batch, macID string, now time.Time) Payload {
	codes := b.Codes
	if codes == nil {
		codes = []string{}
	}
	ts := b.CreatedAt
	if ts.IsZero() {
		ts = now
	}
	filled := b.FilledAt
	if filled.IsZero() {
		filled = now
	}
	return Payload{
		MacID:       macID,
		KegIDs:      codes,
		KegCount:    len(codes),
		Batch:       b.Label,
		BeerType:    b.BeerType,
		FillingDate: filled.Format(timeLayout),
		Timestamp:   ts.Format(timeLayout),
	}
}

// Encode marshals the payload.
func (p Payload) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("delivery: encode payload: %w", err)
	}
	return data, nil
}

// Sign returns doc with a "hash" field added: the hex SHA-256 of the
// canonical encoding of every other field. An existing hash is replaced.
func Sign(doc json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("delivery: sign: %w", err)
	}
	delete(fields, "hash")

	unsigned, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("delivery: sign: %w", err)
	}
	canon, err := Canonical(unsigned)
	if err != nil {
		return nil, fmt.Errorf("delivery: sign: %w", err)
	}
	sum := sha256.Sum256(canon)

	hash, err := json.Marshal(hex.EncodeToString(sum[:]))
	if err != nil {
		return nil, fmt.Errorf("delivery: sign: %w", err)
	}
	fields["hash"] = hash
	signed, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("delivery: sign: %w", err)
	}
	return signed, nil
}

// Verify reports whether doc carries a hash matching its other fields.
func Verify(doc json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false
	}
	var got string
	if raw, ok := fields["hash"]; !ok || json.Unmarshal(raw, &got) != nil {
		return false
	}
	signed, err := Sign(doc)
	if err != nil {
		return false
	}
	var want struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(signed, &want); err != nil {
		return false
	}
	return got == want.Hash
}
