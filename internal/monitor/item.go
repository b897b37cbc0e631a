package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
)

// MonitoringModeInvalid is the internal pre-activation sentinel. An item
// stays in it from creation until the first SetMonitoringMode call; it
// is never a valid target.
const MonitoringModeInvalid = ua.MonitoringMode(0xFFFFFFFF)

// Params carries the client-requested monitoring parameters for a new
// item. A monitoring mode is deliberately absent: items are created in
// the invalid sentinel mode and activated exclusively through
// SetMonitoringMode, so enable-time effects (sampler bind, initial
// sample) have a single code path.
type Params struct {
	// ID is the server-assigned monitored item id, unique within the
	// owning subscription.
	ID uint32

	// ClientHandle is the opaque client correlation id echoed back in
	// every notification.
	ClientHandle uint32

	// ItemToMonitor names the node, attribute, optional index range and
	// optional data encoding under observation.
	ItemToMonitor *ua.ReadValueID

	// SamplingInterval in milliseconds. Zero selects exception-based
	// sampling; negative selects the server default.
	SamplingInterval float64

	// QueueSize is the requested notification queue capacity.
	QueueSize uint32

	// DiscardOldest selects the queue overflow policy.
	DiscardOldest bool

	// Filter is the optional data-change filter.
	Filter *ua.DataChangeFilter

	// TimestampsToReturn selects which timestamps notifications carry.
	TimestampsToReturn ua.TimestampsToReturn

	// SamplingFunc overrides how timed samples are produced. Defaults to
	// reading the node's current value.
	SamplingFunc SamplingFunc
}

// Item is a server-side monitored item: one observer of a (node,
// attribute, index range) triple, owned by a subscription.
type Item struct {
	id            uint32
	node          *addrspace.Node
	itemToMonitor *ua.ReadValueID
	monitoredRng  numericRange
	limits        Limits
	logger        zerolog.Logger

	mu               sync.Mutex
	clientHandle     uint32
	mode             ua.MonitoringMode
	samplingInterval float64
	queueSize        uint32
	discardOldest    bool
	filter           *ua.DataChangeFilter
	timestamps       ua.TimestampsToReturn
	queue            *notificationQueue
	oldReading       *ua.DataValue
	samplingFn       SamplingFunc
	sampler          *samplerBinding
	forceNextSample  bool
	terminated       bool
	registered       bool

	// at-most-one outstanding timed sample
	sampling atomic.Bool
}

// New creates a monitored item bound to the given node. The item starts
// in the invalid sentinel mode with no sampler and an empty queue; the
// baseline reading is a synthetic BadDataUnavailable so filters always
// have something to compare against.
func New(node *addrspace.Node, p Params, limits Limits, logger zerolog.Logger) (*Item, error) {
	if node == nil || p.ItemToMonitor == nil {
		return nil, ua.StatusBadNodeIDUnknown
	}

	rng, err := parseNumericRange(p.ItemToMonitor.IndexRange)
	if err != nil {
		return nil, ua.StatusBadIndexRangeInvalid
	}

	if status := validateFilter(p.Filter, node); status != ua.StatusOK {
		return nil, status
	}

	interval := limits.normalizeSamplingInterval(p.SamplingInterval, p.ItemToMonitor.AttributeID)
	queueSize := limits.normalizeQueueSize(p.QueueSize)

	it := &Item{
		id:            p.ID,
		node:          node,
		itemToMonitor: p.ItemToMonitor,
		monitoredRng:  rng,
		limits:        limits,
		logger: logger.With().
			Str("component", "monitored-item").
			Uint32("monitored_item_id", p.ID).
			Logger(),
		clientHandle:     p.ClientHandle,
		mode:             MonitoringModeInvalid,
		samplingInterval: interval,
		queueSize:        queueSize,
		discardOldest:    p.DiscardOldest,
		filter:           p.Filter,
		timestamps:       p.TimestampsToReturn,
		queue:            newNotificationQueue(queueSize, p.DiscardOldest),
		oldReading:       addrspace.NewDataValue(nil, ua.StatusBadDataUnavailable, time.Time{}, time.Time{}),
		samplingFn:       p.SamplingFunc,
	}

	if it.samplingFn == nil {
		it.samplingFn = func(_ *ua.DataValue, deliver func(*ua.DataValue)) {
			deliver(node.Value())
		}
	}

	return it, nil
}

// ID returns the server-assigned monitored item id.
func (it *Item) ID() uint32 { return it.id }

// ClientHandle returns the client correlation id.
func (it *Item) ClientHandle() uint32 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.clientHandle
}

// Node returns the observed node.
func (it *Item) Node() *addrspace.Node { return it.node }

// MonitoringMode returns the current mode; MonitoringModeInvalid until
// the item has been activated.
func (it *Item) MonitoringMode() ua.MonitoringMode {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.mode
}

// IsSampling reports whether a sampler is currently bound.
func (it *Item) IsSampling() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.sampler != nil
}

// QueueLength returns the number of buffered readings.
func (it *Item) QueueLength() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.queue.len()
}

// Overflow reports whether the queue has dropped data since the last
// extraction.
func (it *Item) Overflow() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.queue.overflow()
}

// SamplingInterval returns the revised sampling interval in milliseconds.
func (it *Item) SamplingInterval() float64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.samplingInterval
}

// QueueSize returns the revised queue capacity.
func (it *Item) QueueSize() uint32 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.queueSize
}

// SetMonitoringMode drives the item's state machine.
//
// Enabling from the invalid sentinel or Disabled binds the sampler and
// records an initial sample that bypasses the filter. Switching between
// Sampling and Reporting touches neither sampler nor queue; only
// Reporting lets ExtractNotifications drain. Disabling unbinds the
// sampler and clears the queue. Same-mode transitions are no-ops.
func (it *Item) SetMonitoringMode(mode ua.MonitoringMode) error {
	switch mode {
	case ua.MonitoringModeDisabled, ua.MonitoringModeSampling, ua.MonitoringModeReporting:
	default:
		return ua.StatusBadMonitoringModeInvalid
	}

	it.mu.Lock()
	defer it.mu.Unlock()

	if it.terminated {
		return ua.StatusBadMonitoredItemIDInvalid
	}
	if mode == it.mode {
		return nil
	}

	prev := it.mode
	it.mode = mode

	switch {
	case mode == ua.MonitoringModeDisabled:
		it.unbindSamplerLocked()
		it.queue.clear()
	case prev == MonitoringModeInvalid || prev == ua.MonitoringModeDisabled:
		it.bindSamplerLocked(true)
	}

	it.logger.Debug().
		Uint32("from", uint32(prev)).
		Uint32("to", uint32(mode)).
		Msg("Monitoring mode changed")

	return nil
}

// Modify atomically applies new monitoring parameters: the normaliser
// revises interval and queue size, the queue is resized under the new
// discard policy, and a bound timer is restarted when the interval
// changed. The result carries the revised values; a DataChangeFilter has
// no filter result structure.
func (it *Item) Modify(ts ua.TimestampsToReturn, params *ua.MonitoringParameters) (*ua.MonitoredItemModifyResult, error) {
	if params == nil {
		return nil, ua.StatusBadInvalidArgument
	}

	filter, err := UnwrapDataChangeFilter(params.Filter)
	if err != nil {
		return nil, err
	}
	if status := validateFilter(filter, it.node); status != ua.StatusOK {
		return nil, status
	}

	it.mu.Lock()
	defer it.mu.Unlock()

	if it.terminated {
		return nil, ua.StatusBadMonitoredItemIDInvalid
	}

	interval := it.limits.normalizeSamplingInterval(params.SamplingInterval, it.itemToMonitor.AttributeID)
	queueSize := it.limits.normalizeQueueSize(params.QueueSize)
	intervalChanged := interval != it.samplingInterval

	it.clientHandle = params.ClientHandle
	it.timestamps = ts
	it.filter = filter
	it.samplingInterval = interval
	it.queueSize = queueSize
	it.discardOldest = params.DiscardOldest
	it.queue.resize(queueSize, params.DiscardOldest)

	if it.sampler != nil && intervalChanged {
		// A changed interval can also flip the strategy between timed
		// and exception-based; rebinding covers both without recording
		// another initial sample.
		it.unbindSamplerLocked()
		it.bindSamplerLocked(false)
	}

	return &ua.MonitoredItemModifyResult{
		StatusCode:              ua.StatusOK,
		RevisedSamplingInterval: interval,
		RevisedQueueSize:        queueSize,
	}, nil
}

// RecordValue is the single ingestion path from any sampler. indexRange
// is the range the producing write covered; readings that do not overlap
// the monitored range are discarded silently, overlapping readings are
// narrowed to the monitored range before filtering and enqueueing.
// Errors never propagate out: malformed readings are logged and dropped
// and the baseline stays authoritative.
func (it *Item) RecordValue(dv *ua.DataValue, indexRange string) {
	src, err := parseNumericRange(indexRange)
	if err != nil {
		it.logger.Warn().
			Str("index_range", indexRange).
			Msg("Dropping reading with malformed index range")
		return
	}

	it.mu.Lock()
	defer it.mu.Unlock()
	it.recordLocked(dv, src)
}

// recordLocked runs narrowing, filtering and enqueueing. Caller holds
// it.mu.
func (it *Item) recordLocked(dv *ua.DataValue, src numericRange) {
	if it.terminated {
		return
	}
	if it.mode != ua.MonitoringModeSampling && it.mode != ua.MonitoringModeReporting {
		return
	}
	if dv == nil {
		it.logger.Warn().Msg("Dropping nil reading from sampler")
		return
	}

	if !src.overlaps(it.monitoredRng) {
		return
	}

	narrowed := dv
	if !it.monitoredRng.isFull() {
		value, ok := it.monitoredRng.apply(dv.Value)
		if !ok {
			return
		}
		if value != dv.Value {
			clone := *dv
			clone.Value = value
			narrowed = &clone
		}
	}

	if !it.forceNextSample {
		var euRange *ua.Range
		if r, ok := it.node.EURange(); ok {
			euRange = r
		}
		if !reportable(narrowed, it.oldReading, it.filter, euRange) {
			return
		}
	}
	it.forceNextSample = false

	it.queue.enqueue(narrowed)
	it.oldReading = narrowed

	it.logger.Debug().
		Int("queue_length", it.queue.len()).
		Bool("overflow", it.queue.overflow()).
		Msg("Reading enqueued")
}

// ExtractNotifications drains the queue into notifications with
// timestamps normalised per the item's TimestampsToReturn. Outside
// Reporting mode it returns nothing and leaves the queue untouched.
func (it *Item) ExtractNotifications() []*ua.MonitoredItemNotification {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.mode != ua.MonitoringModeReporting {
		return nil
	}

	readings := it.queue.drain()
	if len(readings) == 0 {
		return nil
	}

	notifs := make([]*ua.MonitoredItemNotification, 0, len(readings))
	for _, dv := range readings {
		notifs = append(notifs, &ua.MonitoredItemNotification{
			ClientHandle: it.clientHandle,
			Value:        normalizeTimestamps(dv, it.timestamps),
		})
	}
	return notifs
}

// Terminate releases the sampler and detaches the item from its node.
// Idempotent and infallible; the queue may retain readings but is no
// longer fed, and late async samples are dropped.
func (it *Item) Terminate() {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.terminated {
		return
	}
	it.terminated = true
	it.unbindSamplerLocked()

	it.logger.Debug().Msg("Monitored item terminated")
}

// UnwrapDataChangeFilter extracts the data-change filter from a request
// extension object. Event filters are out of scope and rejected.
func UnwrapDataChangeFilter(eo *ua.ExtensionObject) (*ua.DataChangeFilter, error) {
	if eo == nil || eo.Value == nil {
		return nil, nil
	}
	f, ok := eo.Value.(*ua.DataChangeFilter)
	if !ok {
		return nil, ua.StatusBadFilterNotAllowed
	}
	return f, nil
}

// normalizeTimestamps returns a copy of dv carrying only the timestamps
// the client asked for.
func normalizeTimestamps(dv *ua.DataValue, ts ua.TimestampsToReturn) *ua.DataValue {
	out := *dv
	switch ts {
	case ua.TimestampsToReturnSource:
		out.ServerTimestamp = time.Time{}
		out.ServerPicoseconds = 0
		out.EncodingMask &^= addrspace.EncodingServerTimestamp | addrspace.EncodingServerPicoseconds
	case ua.TimestampsToReturnServer:
		out.SourceTimestamp = time.Time{}
		out.SourcePicoseconds = 0
		out.EncodingMask &^= addrspace.EncodingSourceTimestamp | addrspace.EncodingSourcePicoseconds
	case ua.TimestampsToReturnNeither:
		out.SourceTimestamp = time.Time{}
		out.SourcePicoseconds = 0
		out.ServerTimestamp = time.Time{}
		out.ServerPicoseconds = 0
		out.EncodingMask &^= addrspace.EncodingSourceTimestamp | addrspace.EncodingSourcePicoseconds |
			addrspace.EncodingServerTimestamp | addrspace.EncodingServerPicoseconds
	}
	return &out
}
