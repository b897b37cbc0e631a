package monitor

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gopcua/opcua/ua"
)

// dimension is one bound of a numeric range: a single index when low ==
// high, otherwise the inclusive span [low, high].
type dimension struct {
	low  int
	high int
}

// numericRange is a parsed OPC UA NumericRange string such as "3",
// "1:4", or "0:2,1". An empty range matches the whole value.
type numericRange struct {
	dims []dimension
}

// parseNumericRange parses the NumericRange syntax. The empty string is
// the full range.
func parseNumericRange(s string) (numericRange, error) {
	if s == "" {
		return numericRange{}, nil
	}

	var nr numericRange
	for _, part := range strings.Split(s, ",") {
		bounds := strings.Split(part, ":")
		switch len(bounds) {
		case 1:
			i, err := strconv.Atoi(bounds[0])
			if err != nil || i < 0 {
				return numericRange{}, fmt.Errorf("invalid index range %q", s)
			}
			nr.dims = append(nr.dims, dimension{low: i, high: i})
		case 2:
			lo, err1 := strconv.Atoi(bounds[0])
			hi, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || lo < 0 || hi < lo {
				return numericRange{}, fmt.Errorf("invalid index range %q", s)
			}
			nr.dims = append(nr.dims, dimension{low: lo, high: hi})
		default:
			return numericRange{}, fmt.Errorf("invalid index range %q", s)
		}
	}
	return nr, nil
}

// isFull reports whether the range covers the entire value.
func (r numericRange) isFull() bool { return len(r.dims) == 0 }

// overlaps reports whether two ranges can address any common element.
// A full range overlaps everything.
func (r numericRange) overlaps(other numericRange) bool {
	if r.isFull() || other.isFull() {
		return true
	}
	n := len(r.dims)
	if len(other.dims) < n {
		n = len(other.dims)
	}
	for i := 0; i < n; i++ {
		if r.dims[i].high < other.dims[i].low || other.dims[i].high < r.dims[i].low {
			return false
		}
	}
	return true
}

// apply narrows an array variant to the range's first dimension. Full
// ranges pass through untouched; a scalar passes through untouched when
// the first dimension starts at index 0 and is rejected otherwise. A span
// beyond the array bounds is clipped, and an empty intersection is
// reported as ok == false.
func (r numericRange) apply(v *ua.Variant) (*ua.Variant, bool) {
	if r.isFull() || v == nil {
		return v, true
	}

	rv := reflect.ValueOf(v.Value())
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		// A scalar is addressable only by a range starting at index 0.
		return v, r.dims[0].low == 0
	}

	d := r.dims[0]
	if d.low >= rv.Len() {
		return nil, false
	}
	hi := d.high
	if hi >= rv.Len() {
		hi = rv.Len() - 1
	}

	sliced := reflect.MakeSlice(rv.Type(), 0, hi-d.low+1)
	for i := d.low; i <= hi; i++ {
		sliced = reflect.Append(sliced, rv.Index(i))
	}

	out, err := ua.NewVariant(sliced.Interface())
	if err != nil {
		return nil, false
	}
	return out, true
}
