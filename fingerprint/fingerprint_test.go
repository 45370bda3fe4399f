package fingerprint_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/xraph/kegsync/fingerprint"
)

func TestCompute_PermutationInvariant(t *testing.T) {
	codes := []string{"KEG-0006", "KEG-0001", "KEG-0004", "KEG-0002", "KEG-0005", "KEG-0003"}
	want, ok := fingerprint.Compute(codes, len(codes))
	if !ok {
		t.Fatal("expected a fingerprint for a complete set")
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		perm := slices.Clone(codes)
		rng.Shuffle(len(perm), func(a, b int) { perm[a], perm[b] = perm[b], perm[a] })

		got, ok := fingerprint.Compute(perm, len(perm))
		if !ok {
			t.Fatalf("permutation %v: no fingerprint", perm)
		}
		if got != want {
			t.Fatalf("permutation %v: got %s, want %s", perm, got, want)
		}
	}
}

func TestCompute_Format(t *testing.T) {
	got, ok := fingerprint.Compute([]string{"b", "a", "c"}, 3)
	if !ok {
		t.Fatal("expected fingerprint")
	}
	if want := `["a","b","c"]`; got.String() != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCompute_DoesNotMutateInput(t *testing.T) {
	codes := []string{"z", "y", "x"}
	fingerprint.Compute(codes, 3)
	if !slices.Equal(codes, []string{"z", "y", "x"}) {
		t.Errorf("input mutated: %v", codes)
	}
}

func TestCompute_NoIdentityOnCountMismatch(t *testing.T) {
	tests := []struct {
		name     string
		codes    []string
		expected int
	}{
		{"short", []string{"a", "b", "c", "d", "e"}, 6},
		{"long", []string{"a", "b", "c", "d", "e", "f", "g"}, 6},
		{"empty", nil, 6},
		{"zero target", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if fp, ok := fingerprint.Compute(tt.codes, tt.expected); ok || fp != "" {
				t.Errorf("Compute = (%q, %v), want no identity", fp, ok)
			}
		})
	}
}

func TestCompute_DistinctSets(t *testing.T) {
	a, _ := fingerprint.Compute([]string{"a", "b"}, 2)
	b, _ := fingerprint.Compute([]string{"a", "c"}, 2)
	if a == b {
		t.Errorf("distinct sets share fingerprint %s", a)
	}
}

func TestNormalize(t *testing.T) {
	got := fingerprint.Normalize([]string{" a ", "b", "", "a", "  ", "c", "b"})
	want := []string{"a", "b", "c"}
	if !slices.Equal(got, want) {
		t.Errorf("Normalize = %v, want %v", got, want)
	}
}
