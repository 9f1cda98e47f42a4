package version

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.9", "1.10", -1},
		{"1.010", "1.10", 0},
		{"1.0", "1.0.1", -1},
		{"1.0a", "1.0", 1},
		{"1.0~rc1", "1.0", -1},
		{"1.0~rc1", "1.0~rc2", -1},
		{"1.0~~", "1.0~", -1},
		{"1:1.0", "2.0", 1},
		{"0:1.0", "1.0", 0},
		{"1.0-2", "1.0.1-1", -1},
		{"1.0-1", "1.0-2", -1},
		{"1.0-10", "1.0-9", 1},
		{"1.a", "1.1", -1},
		{"abc", "abd", -1},
		{"99999999999999999999", "100000000000000000000", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, sign(Compare(tt.a, tt.b)))
			assert.Equal(t, -tt.want, sign(Compare(tt.b, tt.a)), "comparison must be antisymmetric")
		})
	}
}

func TestCompareSortIsPermutationIndependent(t *testing.T) {
	versions := []string{"1.0", "1.0~beta", "1:0.5", "2.0", "1.10", "1.9", "1.0-1", "1.0-2"}
	want := slices.Clone(versions)
	slices.SortStableFunc(want, Compare)

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		got := slices.Clone(versions)
		r.Shuffle(len(got), func(i, j int) { got[i], got[j] = got[j], got[i] })
		slices.SortStableFunc(got, Compare)
		require.Equal(t, want, got)
	}
	assert.Equal(t, "1:0.5", want[len(want)-1])
}

func TestCompareSemantic(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0", 0},
		{"1.0.0.0", "1.0.0", 0},
		{"1.0.0-beta", "1.0.0", -1},
		{"1.0.0-alpha", "1.0.0-beta", -1},
		{"1.0.0-Beta", "1.0.0-beta", 0},
		{"1.0.0-alpha.1", "1.0.0-alpha", 1},
		{"1.0.0-1", "1.0.0-alpha", -1},
		{"1.0.0-2", "1.0.0-10", -1},
		{"1.0.0+build", "1.0.0", 0},
		{"2.0.0", "10.0.0", -1},
		{"1.2.3.4", "1.2.3.5", -1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, sign(CompareSemantic(tt.a, tt.b)))
		})
	}
}

func TestCompareSemanticFallsBackForInvalidInput(t *testing.T) {
	assert.Equal(t, -1, sign(CompareSemantic("not-a-version", "zzz")))
}

func TestNormalizeSemantic(t *testing.T) {
	tests := map[string]string{
		"1.0":             "1.0.0",
		"01.02.03":        "1.2.3",
		"1.0.0.0":         "1.0.0",
		"1.0.0.4":         "1.0.0.4",
		"1.0.0-beta+sha":  "1.0.0-beta",
		"bogus":           "bogus",
		"3.1.0-rc.1+meta": "3.1.0-rc.1",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeSemantic(in), in)
	}
}

func TestSemanticFlags(t *testing.T) {
	s, ok := ParseSemantic("1.0.0-rc.1")
	require.True(t, ok)
	assert.True(t, s.IsPrerelease())
	assert.True(t, s.IsSemVer2())

	s, ok = ParseSemantic("1.0.0")
	require.True(t, ok)
	assert.False(t, s.IsPrerelease())
	assert.False(t, s.IsSemVer2())
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
