package monitor

import (
	"math"

	"github.com/gopcua/opcua/ua"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
)

// Limits are the server-wide bounds applied to requested monitoring
// parameters. The host configuration may override the defaults.
type Limits struct {
	// MinSamplingInterval is the shortest periodic sampling interval in
	// milliseconds. Requests below it are clamped up. Zero requests are
	// preserved (exception-based).
	MinSamplingInterval float64

	// MaxSamplingInterval is the longest periodic sampling interval in
	// milliseconds.
	MaxSamplingInterval float64

	// DefaultSamplingInterval is applied when the client requests a
	// negative interval, which by convention means "server default".
	DefaultSamplingInterval float64

	// MaxQueueSize bounds the notification queue capacity.
	MaxQueueSize uint32
}

// DefaultLimits returns the server defaults: 50 ms to 1 hour sampling,
// 1500 ms default, queues up to 5000 readings.
func DefaultLimits() Limits {
	return Limits{
		MinSamplingInterval:     50,
		MaxSamplingInterval:     3_600_000,
		DefaultSamplingInterval: 1500,
		MaxQueueSize:            5000,
	}
}

// normalizeSamplingInterval clamps a requested interval into the server
// bounds. Zero means exception-based and is preserved; negative means
// "use the server default". Items on non-Value attributes are always
// exception-based, regardless of the request.
func (l Limits) normalizeSamplingInterval(requested float64, attr ua.AttributeID) float64 {
	if attr != ua.AttributeIDValue {
		return 0
	}
	if requested == 0 {
		return 0
	}
	if requested < 0 || math.IsNaN(requested) {
		requested = l.DefaultSamplingInterval
	}
	if requested < l.MinSamplingInterval {
		return l.MinSamplingInterval
	}
	if requested > l.MaxSamplingInterval {
		return l.MaxSamplingInterval
	}
	return requested
}

// normalizeQueueSize clamps a requested queue size into [1, MaxQueueSize].
func (l Limits) normalizeQueueSize(requested uint32) uint32 {
	if requested < 1 {
		return 1
	}
	if requested > l.MaxQueueSize {
		return l.MaxQueueSize
	}
	return requested
}

// validateFilter checks a data-change filter against the target node.
// Percent deadband is only valid on analog nodes carrying an EURange and
// with a deadband value inside [0, 100]; violations surface
// BadDeadbandFilterInvalid at create/modify time, never at sampling time.
func validateFilter(f *ua.DataChangeFilter, node *addrspace.Node) ua.StatusCode {
	if f == nil {
		return ua.StatusOK
	}

	switch f.Trigger {
	case ua.DataChangeTriggerStatus, ua.DataChangeTriggerStatusValue, ua.DataChangeTriggerStatusValueTimestamp:
	default:
		return ua.StatusBadFilterNotAllowed
	}

	switch ua.DeadbandType(f.DeadbandType) {
	case ua.DeadbandTypeNone:
		return ua.StatusOK
	case ua.DeadbandTypeAbsolute:
		if f.DeadbandValue < 0 || math.IsNaN(f.DeadbandValue) {
			return ua.StatusBadDeadbandFilterInvalid
		}
		return ua.StatusOK
	case ua.DeadbandTypePercent:
		if f.DeadbandValue < 0 || f.DeadbandValue > 100 || math.IsNaN(f.DeadbandValue) {
			return ua.StatusBadDeadbandFilterInvalid
		}
		if _, ok := node.EURange(); !ok {
			return ua.StatusBadDeadbandFilterInvalid
		}
		return ua.StatusOK
	default:
		return ua.StatusBadDeadbandFilterInvalid
	}
}
