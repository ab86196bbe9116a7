package textutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"both empty", "", "", 1},
		{"one empty", "abc", "", 0},
		{"identical", "One Piece", "One Piece", 1},
		{"case folded", "ONE PIECE", "one piece", 1},
		{"disjoint", "abc", "xyz", 0},
		// difflib.SequenceMatcher(None, "abcd", "bcde").ratio() == 0.75
		{"shifted", "abcd", "bcde", 0.75},
		// difflib.SequenceMatcher(None, "re:zero", "re:zero ex").ratio() == 14/17
		{"prefix", "Re:Zero", "Re:ZERO Ex", 14.0 / 17.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Ratio(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRatioSymmetricForDistinctChars(t *testing.T) {
	ab := Ratio("spice and wolf", "spice & wolf")
	ba := Ratio("spice & wolf", "spice and wolf")
	assert.InDelta(t, ab, ba, 1e-9)
	assert.Greater(t, ab, 0.7)
	assert.Less(t, ab, 1.0)
}

func TestRatioLongInputStaysBounded(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "abcd "
	}
	got := Ratio(long, long+"tail")
	assert.False(t, math.IsNaN(got))
	assert.Greater(t, got, 0.9)
	assert.LessOrEqual(t, got, 1.0)
}

func TestEqualFold(t *testing.T) {
	assert.True(t, EqualFold(" Demo Title ", "demo title"))
	assert.False(t, EqualFold("Demo", "Demo Title"))
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, "re zero ex", NormalizeKey("Re:ZERO -- Ex!"))
	assert.Equal(t, "", NormalizeKey("  ...  "))
}

func TestAppendIfMissing(t *testing.T) {
	got := AppendIfMissing([]string{"a"}, "a")
	got = AppendIfMissing(got, "b")
	assert.Equal(t, []string{"a", "b"}, got)
}
