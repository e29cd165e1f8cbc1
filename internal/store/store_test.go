package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFloat64Coercion(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
		want float64
	}{
		{"float64", 1.5, 1.5},
		{"float32", float32(2.5), 2.5},
		{"int", 3, 3.0},
		{"int32", int32(4), 4.0},
		{"int64", int64(5), 5.0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := toFloat64(c.in)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestToFloat64RejectsUnsupported(t *testing.T) {
	_, err := toFloat64("not a number")
	assert.Error(t, err)
}

func TestBuildTagFilterEmpty(t *testing.T) {
	assert.Equal(t, "", buildTagFilter(nil))
	assert.Equal(t, "", buildTagFilter(map[string]string{}))
}

func TestBuildTagFilterDeterministicOrder(t *testing.T) {
	filter := map[string]string{"provider": "ree", "tariff_period": "P3"}
	got := buildTagFilter(filter)
	assert.Contains(t, got, `r.provider == "ree"`)
	assert.Contains(t, got, `r.tariff_period == "P3"`)
	// provider sorts before tariff_period alphabetically
	assert.True(t, indexOf(got, "provider") < indexOf(got, "tariff_period"))
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestToCount(t *testing.T) {
	n, ok := toCount(int64(42))
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = toCount(float64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = toCount("nope")
	assert.False(t, ok)
}
