package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{name: "identical", a: "export controlled data", b: "export controlled data", want: 1.0},
		{name: "both empty", a: "", b: "", want: 1.0},
		{name: "one empty", a: "abc", b: "", want: 0.0},
		{name: "disjoint", a: "aaaa", b: "bbbb", want: 0.0},
		// longest common block "bcd" (3 runes), 2*3/(4+4).
		{name: "overlap", a: "abcd", b: "bcde", want: 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, similarityRatio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilarityRatio_Bounds(t *testing.T) {
	pairs := [][2]string{
		{"pricing is confidential", "the pricing sheet must stay internal"},
		{"short", "a much longer unrelated sentence about something else"},
		{"répétition", "repetition"},
	}

	for _, pair := range pairs {
		got := similarityRatio(pair[0], pair[1])
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestSimilarityRatio_Deterministic(t *testing.T) {
	a := "all customer data must be encrypted at rest"
	b := "customer data should be encrypted at rest and in transit"

	first := similarityRatio(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, similarityRatio(a, b))
	}
}
