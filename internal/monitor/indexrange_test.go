package monitor

import (
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumericRange(t *testing.T) {
	tests := []struct {
		in      string
		dims    []dimension
		wantErr bool
	}{
		{"", nil, false},
		{"3", []dimension{{3, 3}}, false},
		{"1:4", []dimension{{1, 4}}, false},
		{"0:2,1", []dimension{{0, 2}, {1, 1}}, false},
		{"4:1", nil, true},
		{"-1", nil, true},
		{"a:b", nil, true},
		{"1:2:3", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			nr, err := parseNumericRange(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dims, nr.dims)
		})
	}
}

func TestNumericRangeOverlaps(t *testing.T) {
	full, _ := parseNumericRange("")
	low, _ := parseNumericRange("0:2")
	high, _ := parseNumericRange("5:9")
	mid, _ := parseNumericRange("2:6")

	assert.True(t, full.overlaps(low))
	assert.True(t, low.overlaps(full))
	assert.True(t, low.overlaps(mid))
	assert.True(t, mid.overlaps(high))
	assert.False(t, low.overlaps(high))
}

func TestNumericRangeApplyNarrowsArrays(t *testing.T) {
	nr, _ := parseNumericRange("1:2")
	v := ua.MustVariant([]float64{10, 20, 30, 40})

	out, ok := nr.apply(v)
	require.True(t, ok)
	assert.Equal(t, []float64{20, 30}, out.Value())
}

func TestNumericRangeApplyClipsAtBounds(t *testing.T) {
	nr, _ := parseNumericRange("2:9")
	v := ua.MustVariant([]float64{1, 2, 3, 4})

	out, ok := nr.apply(v)
	require.True(t, ok)
	assert.Equal(t, []float64{3, 4}, out.Value())
}

func TestNumericRangeApplyBeyondArray(t *testing.T) {
	nr, _ := parseNumericRange("10:12")
	v := ua.MustVariant([]float64{1, 2, 3})

	_, ok := nr.apply(v)
	assert.False(t, ok)
}

func TestNumericRangeFullPassesThrough(t *testing.T) {
	nr, _ := parseNumericRange("")
	v := ua.MustVariant([]float64{1, 2, 3})

	out, ok := nr.apply(v)
	require.True(t, ok)
	assert.Same(t, v, out)
}
