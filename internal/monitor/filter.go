package monitor

import (
	"math"
	"reflect"

	"github.com/gopcua/opcua/ua"
)

// reportable decides whether newDV is a reportable change relative to
// the baseline oldDV under the configured filter. euRange is the node's
// engineering-unit range, consulted only for percent deadband; filter
// validity was established at create/modify time.
func reportable(newDV, oldDV *ua.DataValue, f *ua.DataChangeFilter, euRange *ua.Range) bool {
	statusChanged := newDV.Status != oldDV.Status

	if f == nil {
		return statusChanged || valueChanged(newDV.Value, oldDV.Value, ua.DeadbandTypeNone, 0, nil)
	}

	switch f.Trigger {
	case ua.DataChangeTriggerStatus:
		return statusChanged
	case ua.DataChangeTriggerStatusValueTimestamp:
		if !newDV.SourceTimestamp.Equal(oldDV.SourceTimestamp) {
			return true
		}
		fallthrough
	default: // StatusValue is the standard's default trigger.
		return statusChanged ||
			valueChanged(newDV.Value, oldDV.Value, ua.DeadbandType(f.DeadbandType), f.DeadbandValue, euRange)
	}
}

// valueChanged applies the deadband to a pair of variants. Arrays are
// compared element-wise and the whole array reports when any element
// trips. Non-numeric payloads fall back to deep equality.
func valueChanged(newV, oldV *ua.Variant, db ua.DeadbandType, dbValue float64, euRange *ua.Range) bool {
	if newV == nil || oldV == nil {
		return newV != oldV
	}

	threshold := 0.0
	switch db {
	case ua.DeadbandTypeAbsolute:
		threshold = dbValue
	case ua.DeadbandTypePercent:
		if euRange == nil {
			return true
		}
		threshold = dbValue / 100 * (euRange.High - euRange.Low)
	}

	// 64-bit integers are compared as (high, low) word pairs so a large
	// difference never wraps into the deadband.
	if t := newV.Type(); t == oldV.Type() && (t == ua.TypeIDInt64 || t == ua.TypeIDUint64) {
		if newV.ArrayLength() == 0 && oldV.ArrayLength() == 0 {
			return wordPairChanged(newV.Value(), oldV.Value(), threshold)
		}
	}

	a, aNumeric := numericSlice(newV.Value())
	b, bNumeric := numericSlice(oldV.Value())

	if !aNumeric || !bNumeric {
		return !reflect.DeepEqual(newV.Value(), oldV.Value())
	}
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > threshold {
			return true
		}
	}
	return false
}

// wordPairChanged compares 64-bit integers as (high, low) 32-bit words:
// the low-word distance is measured against the deadband only when the
// high words agree; otherwise the reading changed.
func wordPairChanged(newVal, oldVal interface{}, threshold float64) bool {
	var a, b uint64
	switch v := newVal.(type) {
	case int64:
		a = uint64(v)
		b = uint64(oldVal.(int64))
	case uint64:
		a = v
		b = oldVal.(uint64)
	default:
		return !reflect.DeepEqual(newVal, oldVal)
	}

	if uint32(a>>32) != uint32(b>>32) {
		return a != b
	}
	diff := math.Abs(float64(int64(uint32(a))) - float64(int64(uint32(b))))
	return diff > threshold
}

// numericSlice flattens a scalar or one-dimensional numeric payload into
// float64s. The second result is false for non-numeric payloads.
func numericSlice(val interface{}) ([]float64, bool) {
	rv := reflect.ValueOf(val)

	toFloat := func(e reflect.Value) (float64, bool) {
		switch e.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return float64(e.Int()), true
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return float64(e.Uint()), true
		case reflect.Float32, reflect.Float64:
			return e.Float(), true
		case reflect.Bool:
			if e.Bool() {
				return 1, true
			}
			return 0, true
		default:
			return 0, false
		}
	}

	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]float64, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			f, ok := toFloat(rv.Index(i))
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}

	f, ok := toFloat(rv)
	if !ok {
		return nil, false
	}
	return []float64{f}, true
}
