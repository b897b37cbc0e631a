package monitor

import (
	"github.com/gopcua/opcua/ua"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
)

// notificationQueue is the bounded FIFO behind a monitored item. The
// item's lock serializes access; the queue itself is not goroutine-safe.
type notificationQueue struct {
	readings      []*ua.DataValue
	size          uint32
	discardOldest bool
	overflowed    bool
}

func newNotificationQueue(size uint32, discardOldest bool) *notificationQueue {
	return &notificationQueue{
		readings:      make([]*ua.DataValue, 0, size),
		size:          size,
		discardOldest: discardOldest,
	}
}

func (q *notificationQueue) len() int       { return len(q.readings) }
func (q *notificationQueue) overflow() bool { return q.overflowed }

// enqueue appends a reading, applying the configured discard policy when
// the queue is full. Single-slot queues always hold the most recent
// reading and never carry the overflow marker.
func (q *notificationQueue) enqueue(dv *ua.DataValue) {
	if q.size == 1 {
		if len(q.readings) == 0 {
			q.readings = append(q.readings, dv)
		} else {
			q.readings[0] = dv
		}
		return
	}

	if uint32(len(q.readings)) < q.size {
		q.readings = append(q.readings, dv)
		return
	}

	if q.discardOldest {
		// Drop the front; the surviving front carries the overflow marker.
		copy(q.readings, q.readings[1:])
		q.readings[len(q.readings)-1] = dv
		q.readings[0] = withStatus(q.readings[0], setOverflowBit(q.readings[0].Status))
	} else {
		// Replace the back; the replacement carries the overflow marker.
		q.readings[len(q.readings)-1] = withStatus(dv, setOverflowBit(dv.Status))
	}
	q.overflowed = true
}

// drain empties the queue and clears the overflow flag.
func (q *notificationQueue) drain() []*ua.DataValue {
	out := q.readings
	q.readings = make([]*ua.DataValue, 0, q.size)
	q.overflowed = false
	return out
}

// clear discards the queue contents and overflow state.
func (q *notificationQueue) clear() {
	q.readings = q.readings[:0]
	q.overflowed = false
}

// resize applies new capacity and discard policy. When shrinking below
// the current length, discard-oldest drops from the front; discard-newest
// truncates from the back but keeps the most recent reading as the last
// survivor. A single-slot queue cannot be in overflow.
func (q *notificationQueue) resize(size uint32, discardOldest bool) {
	q.discardOldest = discardOldest

	if uint32(len(q.readings)) > size {
		if discardOldest {
			q.readings = append(q.readings[:0:0], q.readings[uint32(len(q.readings))-size:]...)
		} else {
			newest := q.readings[len(q.readings)-1]
			q.readings = append(q.readings[:0:0], q.readings[:size-1]...)
			q.readings = append(q.readings, newest)
		}
	}
	q.size = size

	if size == 1 {
		q.overflowed = false
		if len(q.readings) == 1 && hasOverflowBit(q.readings[0].Status) {
			q.readings[0] = withStatus(q.readings[0], clearOverflowBit(q.readings[0].Status))
		}
	} else {
		q.overflowed = q.anyOverflowBit()
	}
}

func (q *notificationQueue) anyOverflowBit() bool {
	for _, dv := range q.readings {
		if hasOverflowBit(dv.Status) {
			return true
		}
	}
	return false
}

// newest returns the most recent reading, or nil when empty.
func (q *notificationQueue) newest() *ua.DataValue {
	if len(q.readings) == 0 {
		return nil
	}
	return q.readings[len(q.readings)-1]
}

// withStatus returns a shallow copy of dv carrying the given status.
// Queue entries are shared with the item's baseline reading, so status
// markers are never applied in place.
func withStatus(dv *ua.DataValue, status ua.StatusCode) *ua.DataValue {
	out := *dv
	out.Status = status
	out.EncodingMask |= addrspace.EncodingStatusCode
	return &out
}
