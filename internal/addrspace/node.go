// Package addrspace holds the server-side node store the monitored-item
// engine observes. Nodes carry attribute values, engineering-unit and
// instrument ranges, and fan out change events to registered listeners.
package addrspace

import (
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"
)

// EventValueChanged is emitted after every accepted or rejected write to
// a node's Value attribute.
const EventValueChanged = "value_changed"

// AttributeEventName returns the event identifier for changes to a
// non-Value attribute.
func AttributeEventName(attr ua.AttributeID) string {
	return fmt.Sprintf("attribute_changed/%d", attr)
}

// DataValue encoding mask bits (the gopcua constants are unexported).
const (
	EncodingValue             = 0x01
	EncodingStatusCode        = 0x02
	EncodingSourceTimestamp   = 0x04
	EncodingServerTimestamp   = 0x08
	EncodingSourcePicoseconds = 0x10
	EncodingServerPicoseconds = 0x20
)

// NewDataValue builds a DataValue with the encoding mask matching the
// populated fields. Zero timestamps are treated as absent.
func NewDataValue(v *ua.Variant, status ua.StatusCode, source, server time.Time) *ua.DataValue {
	dv := &ua.DataValue{
		Value:           v,
		Status:          status,
		SourceTimestamp: source,
		ServerTimestamp: server,
		EncodingMask:    EncodingStatusCode,
	}
	if v != nil {
		dv.EncodingMask |= EncodingValue
	}
	if !source.IsZero() {
		dv.EncodingMask |= EncodingSourceTimestamp
	}
	if !server.IsZero() {
		dv.EncodingMask |= EncodingServerTimestamp
	}
	return dv
}

// EventHandler receives the reading produced by a node event.
type EventHandler func(*ua.DataValue)

// CloneHook runs after a node is cloned, re-installing any event wiring
// that keeps derived state in sync on the copy.
type CloneHook func(clone *Node)

type listener struct {
	token   uint64
	handler EventHandler
}

// Node is a single entry in the address space. The monitored-item engine
// holds a back-reference to it; the address space owns its lifetime.
type Node struct {
	id         *ua.NodeID
	browseName string

	mu              sync.RWMutex
	value           *ua.DataValue
	attributes      map[ua.AttributeID]*ua.DataValue
	euRange         *ua.Range
	instrumentRange *ua.Range

	nextToken  uint64
	listeners  map[string][]listener
	cloneHooks []CloneHook
}

// NewNode creates a node with the given id and an initial Value reading
// of BadWaitingForInitialData.
func NewNode(id *ua.NodeID, browseName string) *Node {
	now := time.Now()
	return &Node{
		id:         id,
		browseName: browseName,
		value:      NewDataValue(nil, ua.StatusBadWaitingForInitialData, now, now),
		attributes: make(map[ua.AttributeID]*ua.DataValue),
		listeners:  make(map[string][]listener),
	}
}

// ID returns the node id.
func (n *Node) ID() *ua.NodeID { return n.id }

// BrowseName returns the node's browse name.
func (n *Node) BrowseName() string { return n.browseName }

// SetEURange sets the engineering-unit range property used by
// percent-deadband filtering.
func (n *Node) SetEURange(r *ua.Range) {
	n.mu.Lock()
	n.euRange = r
	n.mu.Unlock()
}

// EURange returns the engineering-unit range property, if configured.
func (n *Node) EURange() (*ua.Range, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.euRange, n.euRange != nil
}

// SetInstrumentRange sets the instrument range checked on writes.
func (n *Node) SetInstrumentRange(r *ua.Range) {
	n.mu.Lock()
	n.instrumentRange = r
	n.mu.Unlock()
}

// Value returns the current Value reading.
func (n *Node) Value() *ua.DataValue {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.value
}

// ReadAttribute returns the current reading for the given attribute.
// The Value attribute resolves to the node's value; attributes that were
// never written resolve to a BadAttributeIDInvalid reading.
func (n *Node) ReadAttribute(attr ua.AttributeID) *ua.DataValue {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if attr == ua.AttributeIDValue {
		return n.value
	}
	if dv, ok := n.attributes[attr]; ok {
		return dv
	}
	return NewDataValue(nil, ua.StatusBadAttributeIDInvalid, time.Time{}, time.Now())
}

// ReadValueAsync reads the current Value reading on the caller's
// goroutine and delivers it to cb on a new goroutine, so cb never runs
// on the caller's stack.
func (n *Node) ReadValueAsync(cb func(*ua.DataValue)) {
	go cb(n.Value())
}

// SetValue installs a new Value reading, emits value_changed, and
// returns the stored reading. Writes outside the instrument range are
// stored and emitted with BadOutOfRange so observers see the rejection.
func (n *Node) SetValue(dv *ua.DataValue) *ua.DataValue {
	if dv == nil {
		return nil
	}
	if dv.ServerTimestamp.IsZero() {
		dv.ServerTimestamp = time.Now()
		dv.EncodingMask |= EncodingServerTimestamp
	}
	if dv.SourceTimestamp.IsZero() {
		dv.SourceTimestamp = dv.ServerTimestamp
		dv.EncodingMask |= EncodingSourceTimestamp
	}

	n.mu.Lock()
	if out := n.outOfInstrumentRange(dv.Value); out {
		dv = NewDataValue(dv.Value, ua.StatusBadOutOfRange, dv.SourceTimestamp, dv.ServerTimestamp)
	}
	n.value = dv
	n.mu.Unlock()

	n.emit(EventValueChanged, dv)
	return dv
}

// SetAttribute installs a reading for a non-Value attribute and emits the
// matching attribute change event.
func (n *Node) SetAttribute(attr ua.AttributeID, dv *ua.DataValue) {
	if attr == ua.AttributeIDValue {
		n.SetValue(dv)
		return
	}
	if dv.ServerTimestamp.IsZero() {
		dv.ServerTimestamp = time.Now()
		dv.EncodingMask |= EncodingServerTimestamp
	}

	n.mu.Lock()
	n.attributes[attr] = dv
	n.mu.Unlock()

	n.emit(AttributeEventName(attr), dv)
}

func (n *Node) outOfInstrumentRange(v *ua.Variant) bool {
	if n.instrumentRange == nil || v == nil {
		return false
	}
	switch v.Value().(type) {
	case float32, float64, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		f := v.Float()
		return f < n.instrumentRange.Low || f > n.instrumentRange.High
	default:
		return false
	}
}

// On registers a handler for the named event and returns a token for Off.
func (n *Node) On(event string, handler EventHandler) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextToken++
	n.listeners[event] = append(n.listeners[event], listener{token: n.nextToken, handler: handler})
	return n.nextToken
}

// Off removes a previously registered handler. Unknown tokens are ignored,
// so releasing twice is safe.
func (n *Node) Off(event string, token uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ls := n.listeners[event]
	for i, l := range ls {
		if l.token == token {
			n.listeners[event] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// emit dispatches to a snapshot of the registered handlers. The node lock
// is not held during dispatch, so handlers may call back into the node or
// unregister themselves.
func (n *Node) emit(event string, dv *ua.DataValue) {
	n.mu.RLock()
	ls := make([]listener, len(n.listeners[event]))
	copy(ls, n.listeners[event])
	n.mu.RUnlock()

	for _, l := range ls {
		l.handler(dv)
	}
}

// OnClone registers a hook invoked on every clone of this node.
func (n *Node) OnClone(hook CloneHook) {
	n.mu.Lock()
	n.cloneHooks = append(n.cloneHooks, hook)
	n.mu.Unlock()
}

// Clone copies the node under a new id. Event listeners are not carried
// over; registered clone hooks run on the copy so derived wiring (such as
// text mirrors for enumerated values) is re-installed.
func (n *Node) Clone(id *ua.NodeID) *Node {
	n.mu.RLock()
	clone := &Node{
		id:              id,
		browseName:      n.browseName,
		value:           n.value,
		attributes:      make(map[ua.AttributeID]*ua.DataValue, len(n.attributes)),
		listeners:       make(map[string][]listener),
		euRange:         n.euRange,
		instrumentRange: n.instrumentRange,
		cloneHooks:      append([]CloneHook(nil), n.cloneHooks...),
	}
	for attr, dv := range n.attributes {
		clone.attributes[attr] = dv
	}
	n.mu.RUnlock()

	for _, hook := range clone.cloneHooks {
		hook(clone)
	}
	return clone
}
