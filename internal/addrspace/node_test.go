package addrspace

import (
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testValue(v interface{}) *ua.DataValue {
	now := time.Now()
	return NewDataValue(ua.MustVariant(v), ua.StatusOK, now, now)
}

func TestNewDataValueEncodingMask(t *testing.T) {
	now := time.Now()

	dv := NewDataValue(ua.MustVariant(1.0), ua.StatusOK, now, now)
	assert.EqualValues(t,
		EncodingValue|EncodingStatusCode|EncodingSourceTimestamp|EncodingServerTimestamp,
		dv.EncodingMask)

	dv = NewDataValue(nil, ua.StatusBadDataUnavailable, time.Time{}, time.Time{})
	assert.EqualValues(t, EncodingStatusCode, dv.EncodingMask)
}

func TestSetValueEmitsValueChanged(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")

	var got []*ua.DataValue
	node.On(EventValueChanged, func(dv *ua.DataValue) {
		got = append(got, dv)
	})

	node.SetValue(testValue(1.0))
	node.SetValue(testValue(2.0))

	require.Len(t, got, 2)
	assert.Equal(t, 2.0, got[1].Value.Float())
	assert.Equal(t, 2.0, node.Value().Value.Float())
}

func TestOffStopsDelivery(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")

	count := 0
	token := node.On(EventValueChanged, func(*ua.DataValue) { count++ })

	node.SetValue(testValue(1.0))
	node.Off(EventValueChanged, token)
	node.Off(EventValueChanged, token) // double release is harmless
	node.SetValue(testValue(2.0))

	assert.Equal(t, 1, count)
}

func TestHandlerMayUnregisterItself(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")

	var token uint64
	count := 0
	token = node.On(EventValueChanged, func(*ua.DataValue) {
		count++
		node.Off(EventValueChanged, token)
	})

	node.SetValue(testValue(1.0))
	node.SetValue(testValue(2.0))

	assert.Equal(t, 1, count)
}

func TestSetAttributeEmitsAttributeEvent(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")

	var got *ua.DataValue
	node.On(AttributeEventName(ua.AttributeIDDescription), func(dv *ua.DataValue) {
		got = dv
	})

	now := time.Now()
	node.SetAttribute(ua.AttributeIDDescription,
		NewDataValue(ua.MustVariant("pump"), ua.StatusOK, now, now))

	require.NotNil(t, got)
	assert.Equal(t, "pump", node.ReadAttribute(ua.AttributeIDDescription).Value.Value())
}

func TestReadUnsetAttribute(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")

	dv := node.ReadAttribute(ua.AttributeIDDisplayName)
	assert.Equal(t, ua.StatusBadAttributeIDInvalid, dv.Status)
}

func TestInstrumentRangeRejectsWrites(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")
	node.SetInstrumentRange(&ua.Range{Low: -100, High: 200})

	stored := node.SetValue(testValue(-1000.0))

	require.NotNil(t, stored)
	assert.Equal(t, ua.StatusBadOutOfRange, stored.Status)
	assert.Equal(t, ua.StatusBadOutOfRange, node.Value().Status)

	stored = node.SetValue(testValue(50.0))
	assert.Equal(t, ua.StatusOK, stored.Status)
}

func TestReadValueAsyncDeliversCurrentValue(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")
	node.SetValue(testValue(42.0))

	done := make(chan *ua.DataValue, 1)
	node.ReadValueAsync(func(dv *ua.DataValue) { done <- dv })

	select {
	case dv := <-done:
		assert.Equal(t, 42.0, dv.Value.Float())
	case <-time.After(time.Second):
		t.Fatal("async read did not complete")
	}
}

func TestCloneRunsHooks(t *testing.T) {
	node := NewNode(ua.NewStringNodeID(1, "type"), "Type")
	node.SetEURange(&ua.Range{Low: 0, High: 10})
	node.SetValue(testValue(5.0))

	// The hook mirrors the numeric value into a text attribute, the kind
	// of derived wiring instance nodes need re-installed after cloning.
	hookRuns := 0
	node.OnClone(func(clone *Node) {
		hookRuns++
		clone.On(EventValueChanged, func(dv *ua.DataValue) {
			now := time.Now()
			clone.SetAttribute(ua.AttributeIDDescription,
				NewDataValue(ua.MustVariant("changed"), ua.StatusOK, now, now))
		})
	})

	clone := node.Clone(ua.NewStringNodeID(1, "instance"))
	require.Equal(t, 1, hookRuns)
	assert.Equal(t, 5.0, clone.Value().Value.Float())

	eu, ok := clone.EURange()
	require.True(t, ok)
	assert.Equal(t, 10.0, eu.High)

	// The re-installed wiring is live on the clone, not on the original.
	clone.SetValue(testValue(6.0))
	assert.Equal(t, "changed", clone.ReadAttribute(ua.AttributeIDDescription).Value.Value())
	assert.Equal(t, ua.StatusBadAttributeIDInvalid, node.ReadAttribute(ua.AttributeIDDescription).Status)

	// Hooks carry forward to clones of clones.
	second := clone.Clone(ua.NewStringNodeID(1, "instance2"))
	assert.Equal(t, 2, hookRuns)
	_ = second
}

func TestAddressSpaceLookup(t *testing.T) {
	space := New()
	node := NewNode(ua.NewStringNodeID(1, "n"), "N")
	space.Add(node)

	got, ok := space.Get(ua.NewStringNodeID(1, "n"))
	require.True(t, ok)
	assert.Same(t, node, got)

	space.Remove(node.ID())
	_, ok = space.Get(node.ID())
	assert.False(t, ok)
}
