// Package fingerprint derives the identity key of a complete pallet from
// its decoded QR codes. Detection returns codes in a non-deterministic
// order, so identity is computed over the sorted set.
package fingerprint

import (
	"encoding/json"
	"slices"
	"strings"
)

// Fingerprint is the canonical identity of a complete code set: the JSON
// array of the codes in lexicographic order.
type Fingerprint string

// Compute returns the fingerprint of codes when exactly expected codes are
// present. A partial (or over-full) pallet has no identity and yields
// ("", false).
func Compute(codes []string, expected int) (Fingerprint, bool) {
	if expected <= 0 || len(codes) != expected {
		return "", false
	}

	sorted := slices.Clone(codes)
	slices.Sort(sorted)

	data, err := json.Marshal(sorted)
	if err != nil {
		// A []string always marshals.
		return "", false
	}
	return Fingerprint(data), true
}

// Normalize trims whitespace, drops empty codes and removes duplicates,
// keeping the first occurrence of each code.
func Normalize(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string { return string(f) }
