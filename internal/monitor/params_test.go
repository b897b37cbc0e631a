package monitor

import (
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
)

func TestNormalizeSamplingInterval(t *testing.T) {
	l := DefaultLimits()

	tests := []struct {
		name      string
		requested float64
		attr      ua.AttributeID
		expected  float64
	}{
		{"zero preserved for exception-based", 0, ua.AttributeIDValue, 0},
		{"below minimum clamps up", 10, ua.AttributeIDValue, 50},
		{"within bounds preserved", 500, ua.AttributeIDValue, 500},
		{"above maximum clamps down", 10_000_000, ua.AttributeIDValue, 3_600_000},
		{"negative selects the default", -1, ua.AttributeIDValue, 1500},
		{"non-value attribute forces exception-based", 500, ua.AttributeIDDescription, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, l.normalizeSamplingInterval(tt.requested, tt.attr))
		})
	}
}

func TestNormalizeQueueSize(t *testing.T) {
	l := DefaultLimits()

	assert.Equal(t, uint32(1), l.normalizeQueueSize(0))
	assert.Equal(t, uint32(1), l.normalizeQueueSize(1))
	assert.Equal(t, uint32(10), l.normalizeQueueSize(10))
	assert.Equal(t, uint32(5000), l.normalizeQueueSize(100_000))
}

func TestValidateFilter(t *testing.T) {
	analog := addrspace.NewNode(ua.NewStringNodeID(1, "analog"), "Analog")
	analog.SetEURange(&ua.Range{Low: 0, High: 100})
	plain := addrspace.NewNode(ua.NewStringNodeID(1, "plain"), "Plain")

	tests := []struct {
		name     string
		filter   *ua.DataChangeFilter
		node     *addrspace.Node
		expected ua.StatusCode
	}{
		{"nil filter", nil, plain, ua.StatusOK},
		{
			"none deadband",
			&ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValue},
			plain,
			ua.StatusOK,
		},
		{
			"absolute",
			&ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValue, DeadbandType: uint32(ua.DeadbandTypeAbsolute), DeadbandValue: 1},
			plain,
			ua.StatusOK,
		},
		{
			"negative absolute deadband",
			&ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValue, DeadbandType: uint32(ua.DeadbandTypeAbsolute), DeadbandValue: -1},
			plain,
			ua.StatusBadDeadbandFilterInvalid,
		},
		{
			"percent on analog node",
			&ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValue, DeadbandType: uint32(ua.DeadbandTypePercent), DeadbandValue: 10},
			analog,
			ua.StatusOK,
		},
		{
			"percent without EURange",
			&ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValue, DeadbandType: uint32(ua.DeadbandTypePercent), DeadbandValue: 10},
			plain,
			ua.StatusBadDeadbandFilterInvalid,
		},
		{
			"percent above 100",
			&ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValue, DeadbandType: uint32(ua.DeadbandTypePercent), DeadbandValue: 101},
			analog,
			ua.StatusBadDeadbandFilterInvalid,
		},
		{
			"unknown deadband type",
			&ua.DataChangeFilter{Trigger: ua.DataChangeTriggerStatusValue, DeadbandType: 7, DeadbandValue: 1},
			plain,
			ua.StatusBadDeadbandFilterInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, validateFilter(tt.filter, tt.node))
		})
	}
}
