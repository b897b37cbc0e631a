package monitor

import (
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
)

// SamplingFunc produces one reading per invocation. The engine passes
// the item's baseline reading and a deliver callback; implementations
// must call deliver exactly once, with nil when the read failed. The
// owning subscription supplies it, normally "read the current value".
type SamplingFunc func(last *ua.DataValue, deliver func(*ua.DataValue))

type samplerKind int

const (
	samplerNone samplerKind = iota
	samplerTimer
	samplerAttributeEvent
	samplerValueEvent
)

// samplerBinding is the item's single live sampling strategy: a periodic
// timer, a per-attribute change listener, or a value-change listener.
type samplerBinding struct {
	kind  samplerKind
	stop  chan struct{}
	event string
	token uint64
}

// desiredSamplerKind picks the strategy for the item's current
// parameters: non-Value attributes and zero intervals are
// exception-based, everything else is timed.
func desiredSamplerKind(attr ua.AttributeID, samplingInterval float64) samplerKind {
	switch {
	case attr != ua.AttributeIDValue:
		return samplerAttributeEvent
	case samplingInterval == 0:
		return samplerValueEvent
	default:
		return samplerTimer
	}
}

// bindSamplerLocked installs the sampler for the item's current
// parameters. recordInitial requests the immediate first sample the
// standard mandates on enable; that sample bypasses the filter.
// Caller holds it.mu.
func (it *Item) bindSamplerLocked(recordInitial bool) {
	attr := it.itemToMonitor.AttributeID

	switch desiredSamplerKind(attr, it.samplingInterval) {
	case samplerAttributeEvent:
		event := addrspace.AttributeEventName(attr)
		token := it.node.On(event, func(dv *ua.DataValue) { it.RecordValue(dv, "") })
		it.sampler = &samplerBinding{kind: samplerAttributeEvent, event: event, token: token}
		if recordInitial {
			it.forceNextSample = true
			it.recordLocked(it.node.ReadAttribute(attr), numericRange{})
		}

	case samplerValueEvent:
		token := it.node.On(addrspace.EventValueChanged, func(dv *ua.DataValue) { it.RecordValue(dv, "") })
		it.sampler = &samplerBinding{kind: samplerValueEvent, event: addrspace.EventValueChanged, token: token}
		if recordInitial {
			it.forceNextSample = true
			it.node.ReadValueAsync(func(dv *ua.DataValue) { it.RecordValue(dv, "") })
		}

	case samplerTimer:
		it.forceNextSample = recordInitial
		it.sampler = it.startTimerLocked(it.samplingInterval, true)
	}

	it.register()
}

// unbindSamplerLocked releases the current sampler binding. Safe to
// reach from inside a sampler callback: the timer goroutine observes the
// closed stop channel only after the current invocation completes, and
// event handlers are dispatched from a snapshot. Caller holds it.mu.
func (it *Item) unbindSamplerLocked() {
	s := it.sampler
	it.sampler = nil
	it.unregister()
	if s == nil {
		return
	}

	switch s.kind {
	case samplerTimer:
		close(s.stop)
	case samplerAttributeEvent, samplerValueEvent:
		it.node.Off(s.event, s.token)
	}
}

// startTimerLocked launches the periodic sampling goroutine. Caller
// holds it.mu; the goroutine takes the lock itself, so the first fire
// lands after the caller releases it.
func (it *Item) startTimerLocked(intervalMS float64, initialFire bool) *samplerBinding {
	stop := make(chan struct{})
	interval := time.Duration(intervalMS * float64(time.Millisecond))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if initialFire {
			it.sample()
		}

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				it.sample()
			}
		}
	}()

	return &samplerBinding{kind: samplerTimer, stop: stop}
}

// sample runs one timed sampling cycle. The isSampling guard keeps at
// most one sample in flight; an overlapping tick is skipped, not queued.
func (it *Item) sample() {
	if !it.sampling.CompareAndSwap(false, true) {
		it.logger.Warn().Msg("Sampling tick overlaps in-flight sample, skipping")
		return
	}

	it.mu.Lock()
	if it.terminated || it.sampler == nil || it.sampler.kind != samplerTimer {
		it.mu.Unlock()
		it.sampling.Store(false)
		return
	}
	fn := it.samplingFn
	last := it.oldReading
	it.mu.Unlock()

	fn(last, func(dv *ua.DataValue) {
		if dv == nil {
			it.logger.Debug().Msg("Sampling function delivered no reading")
		} else {
			it.RecordValue(dv, "")
		}
		it.sampling.Store(false)
	})
}
