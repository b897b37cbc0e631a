package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodesFixture = `
nodes:
  - node_id: "ns=1;s=plant1/line3/temperature"
    browse_name: Temperature
    data_type: double
    initial_value: 20.5
    eu_range: { low: 0, high: 200 }
    instrument_range: { low: -100, high: 200 }

  - node_id: "ns=1;s=plant1/line3/motor_running"
    browse_name: ${MOTOR_BROWSE_NAME:MotorRunning}
    data_type: bool
    initial_value: false
`

func writeNodesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadNodes(t *testing.T) {
	space, err := LoadNodes(writeNodesFile(t, nodesFixture))
	require.NoError(t, err)
	require.Equal(t, 2, space.Len())

	temp, ok := space.Get(ua.NewStringNodeID(1, "plant1/line3/temperature"))
	require.True(t, ok)
	assert.Equal(t, "Temperature", temp.BrowseName())
	assert.Equal(t, 20.5, temp.Value().Value.Float())
	assert.Equal(t, ua.StatusOK, temp.Value().Status)

	eu, ok := temp.EURange()
	require.True(t, ok)
	assert.Equal(t, 0.0, eu.Low)
	assert.Equal(t, 200.0, eu.High)

	motor, ok := space.Get(ua.NewStringNodeID(1, "plant1/line3/motor_running"))
	require.True(t, ok)
	// The ${VAR:default} pattern expands to its default when unset.
	assert.Equal(t, "MotorRunning", motor.BrowseName())
	assert.Equal(t, false, motor.Value().Value.Bool())
}

func TestLoadNodesEnvOverride(t *testing.T) {
	t.Setenv("MOTOR_BROWSE_NAME", "MainDrive")

	space, err := LoadNodes(writeNodesFile(t, nodesFixture))
	require.NoError(t, err)

	motor, ok := space.Get(ua.NewStringNodeID(1, "plant1/line3/motor_running"))
	require.True(t, ok)
	assert.Equal(t, "MainDrive", motor.BrowseName())
}

func TestLoadNodesRejectsBadNodeID(t *testing.T) {
	_, err := LoadNodes(writeNodesFile(t, `
nodes:
  - node_id: "not a node id"
    data_type: double
    initial_value: 1
`))
	assert.Error(t, err)
}

func TestLoadNodesRejectsBadDataType(t *testing.T) {
	_, err := LoadNodes(writeNodesFile(t, `
nodes:
  - node_id: "ns=1;s=x"
    data_type: quaternion
    initial_value: 1
`))
	assert.Error(t, err)
}

func TestLoadNodesMissingFile(t *testing.T) {
	_, err := LoadNodes(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
