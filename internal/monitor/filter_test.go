package monitor

import (
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
)

func readingAt(value interface{}, status ua.StatusCode, source time.Time) *ua.DataValue {
	return addrspace.NewDataValue(ua.MustVariant(value), status, source, time.Now())
}

func TestNoFilterReportsStatusOrValueChange(t *testing.T) {
	base := time.Now()
	old := readingAt(10.0, ua.StatusOK, base)

	tests := []struct {
		name     string
		next     *ua.DataValue
		expected bool
	}{
		{"identical", readingAt(10.0, ua.StatusOK, base.Add(time.Second)), false},
		{"value changed", readingAt(10.1, ua.StatusOK, base), true},
		{"status changed", readingAt(10.0, ua.StatusBadOutOfRange, base), true},
		{"both changed", readingAt(99.0, ua.StatusBadOutOfRange, base), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, reportable(tt.next, old, nil, nil))
		})
	}
}

func TestStatusTriggerIgnoresValue(t *testing.T) {
	f := &ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatus}
	old := readingAt(10.0, ua.StatusOK, time.Now())

	assert.False(t, reportable(readingAt(99.0, ua.StatusOK, time.Now()), old, f, nil))
	assert.True(t, reportable(readingAt(10.0, ua.StatusBadOutOfRange, time.Now()), old, f, nil))
}

func TestStatusValueTimestampTrigger(t *testing.T) {
	base := time.Now()
	f := &ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValueTimestamp}
	old := readingAt(10.0, ua.StatusOK, base)

	// Same value and status, different source timestamp.
	assert.True(t, reportable(readingAt(10.0, ua.StatusOK, base.Add(time.Millisecond)), old, f, nil))
	// Everything identical.
	assert.False(t, reportable(readingAt(10.0, ua.StatusOK, base), old, f, nil))
}

func TestAbsoluteDeadband(t *testing.T) {
	base := time.Now()
	f := &ua.DataChangeFilter{
		Trigger:       ua.DataChangeTriggerStatusValue,
		DeadbandType:  uint32(ua.DeadbandTypeAbsolute),
		DeadbandValue: 2.0,
	}

	old := readingAt(10.0, ua.StatusOK, base)
	assert.False(t, reportable(readingAt(11.0, ua.StatusOK, base), old, f, nil))
	assert.True(t, reportable(readingAt(12.5, ua.StatusOK, base), old, f, nil))

	old = readingAt(12.5, ua.StatusOK, base)
	assert.False(t, reportable(readingAt(12.5, ua.StatusOK, base), old, f, nil))
}

func TestPercentDeadbandAgainstEURange(t *testing.T) {
	base := time.Now()
	eu := &ua.Range{Low: 0, High: 200}
	f := &ua.DataChangeFilter{
		Trigger:       ua.DataChangeTriggerStatusValue,
		DeadbandType:  uint32(ua.DeadbandTypePercent),
		DeadbandValue: 10, // 20.0 absolute over [0, 200]
	}

	old := readingAt(100.0, ua.StatusOK, base)
	assert.False(t, reportable(readingAt(115.0, ua.StatusOK, base), old, f, eu))
	assert.True(t, reportable(readingAt(125.0, ua.StatusOK, base), old, f, eu))
}

func TestDeadbandOnArraysReportsWholeArray(t *testing.T) {
	base := time.Now()
	f := &ua.DataChangeFilter{
		Trigger:       ua.DataChangeTriggerStatusValue,
		DeadbandType:  uint32(ua.DeadbandTypeAbsolute),
		DeadbandValue: 2.0,
	}

	old := readingAt([]float64{10, 20, 30}, ua.StatusOK, base)

	// All elements inside the deadband.
	assert.False(t, reportable(readingAt([]float64{11, 21, 31}, ua.StatusOK, base), old, f, nil))
	// One element outside trips the whole array.
	assert.True(t, reportable(readingAt([]float64{11, 21, 35}, ua.StatusOK, base), old, f, nil))
	// Length change is always a change.
	assert.True(t, reportable(readingAt([]float64{10, 20}, ua.StatusOK, base), old, f, nil))
}

func TestInt64WordPairComparison(t *testing.T) {
	base := time.Now()
	f := &ua.DataChangeFilter{
		Trigger:       ua.DataChangeTriggerStatusValue,
		DeadbandType:  uint32(ua.DeadbandTypeAbsolute),
		DeadbandValue: 5,
	}

	// Equal high words: the low-word distance decides.
	old := readingAt(int64(0x100000010), ua.StatusOK, base)
	assert.False(t, reportable(readingAt(int64(0x100000012), ua.StatusOK, base), old, f, nil))
	assert.True(t, reportable(readingAt(int64(0x100000020), ua.StatusOK, base), old, f, nil))

	// Differing high words always report, even with matching low words.
	assert.True(t, reportable(readingAt(int64(0x200000010), ua.StatusOK, base), old, f, nil))
}

func TestUint64WordPairComparison(t *testing.T) {
	base := time.Now()
	f := &ua.DataChangeFilter{
		Trigger:       ua.DataChangeTriggerStatusValue,
		DeadbandType:  uint32(ua.DeadbandTypeAbsolute),
		DeadbandValue: 5,
	}

	old := readingAt(uint64(42), ua.StatusOK, base)
	assert.False(t, reportable(readingAt(uint64(44), ua.StatusOK, base), old, f, nil))
	assert.True(t, reportable(readingAt(uint64(50), ua.StatusOK, base), old, f, nil))
}

func TestNonNumericValuesFallBackToEquality(t *testing.T) {
	base := time.Now()

	old := readingAt("running", ua.StatusOK, base)
	assert.False(t, reportable(readingAt("running", ua.StatusOK, base), old, nil, nil))
	assert.True(t, reportable(readingAt("stopped", ua.StatusOK, base), old, nil, nil))
}

func TestNoneDeadbandAnyDifferenceReports(t *testing.T) {
	base := time.Now()
	f := &ua.DataChangeFilter{
		Trigger:      ua.DataChangeTriggerStatusValue,
		DeadbandType: uint32(ua.DeadbandTypeNone),
	}

	old := readingAt(10.0, ua.StatusOK, base)
	assert.True(t, reportable(readingAt(10.0001, ua.StatusOK, base), old, f, nil))
	assert.False(t, reportable(readingAt(10.0, ua.StatusOK, base), old, f, nil))
}
