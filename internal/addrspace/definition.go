package addrspace

import (
	"fmt"
	"strings"
	"time"

	"github.com/gopcua/opcua/ua"
)

// RangeDefinition is the YAML form of a low/high range property.
type RangeDefinition struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// NodeDefinition is the YAML form of a node in the node-set file.
type NodeDefinition struct {
	// NodeID is the OPC UA node id, e.g. "ns=1;s=plant1/line3/temperature"
	NodeID string `yaml:"node_id"`

	// BrowseName is the human-readable name of the node
	BrowseName string `yaml:"browse_name"`

	// DataType selects the initial value's type: bool, int32, int64,
	// uint32, uint64, float, double, string
	DataType string `yaml:"data_type"`

	// InitialValue seeds the Value attribute
	InitialValue interface{} `yaml:"initial_value,omitempty"`

	// EURange is the engineering-unit range used by percent deadband
	EURange *RangeDefinition `yaml:"eu_range,omitempty"`

	// InstrumentRange bounds accepted writes
	InstrumentRange *RangeDefinition `yaml:"instrument_range,omitempty"`
}

// Build constructs a node from its definition.
func (d *NodeDefinition) Build() (*Node, error) {
	if d.NodeID == "" {
		return nil, fmt.Errorf("node definition is missing node_id")
	}

	// ParseNodeID accepts text without an identifier-type prefix as a
	// string id; the node-set file needs an explicit i=, s=, g= or b=.
	idPart := d.NodeID
	if strings.HasPrefix(idPart, "ns=") {
		if i := strings.Index(idPart, ";"); i >= 0 {
			idPart = idPart[i+1:]
		}
	}
	if len(idPart) < 2 || idPart[1] != '=' || !strings.ContainsAny(idPart[:1], "isgb") {
		return nil, fmt.Errorf("invalid node_id %q: missing identifier type", d.NodeID)
	}

	id, err := ua.ParseNodeID(d.NodeID)
	if err != nil {
		return nil, fmt.Errorf("invalid node_id %q: %w", d.NodeID, err)
	}

	node := NewNode(id, d.BrowseName)
	if d.EURange != nil {
		node.SetEURange(&ua.Range{Low: d.EURange.Low, High: d.EURange.High})
	}
	if d.InstrumentRange != nil {
		node.SetInstrumentRange(&ua.Range{Low: d.InstrumentRange.Low, High: d.InstrumentRange.High})
	}

	if d.InitialValue != nil {
		v, err := coerceValue(d.DataType, d.InitialValue)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", d.NodeID, err)
		}
		variant, err := ua.NewVariant(v)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", d.NodeID, err)
		}
		now := time.Now()
		node.SetValue(NewDataValue(variant, ua.StatusOK, now, now))
	}

	return node, nil
}

// coerceValue converts the loosely typed YAML value into the declared
// data type. YAML decodes numbers as int or float64.
func coerceValue(dataType string, raw interface{}) (interface{}, error) {
	asFloat := func() (float64, error) {
		switch v := raw.(type) {
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		default:
			return 0, fmt.Errorf("initial_value %v is not numeric", raw)
		}
	}

	switch dataType {
	case "bool", "boolean":
		v, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("initial_value %v is not a boolean", raw)
		}
		return v, nil
	case "int32":
		f, err := asFloat()
		return int32(f), err
	case "int64":
		f, err := asFloat()
		return int64(f), err
	case "uint32":
		f, err := asFloat()
		return uint32(f), err
	case "uint64":
		f, err := asFloat()
		return uint64(f), err
	case "float":
		f, err := asFloat()
		return float32(f), err
	case "double", "":
		return asFloat()
	case "string":
		v, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("initial_value %v is not a string", raw)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported data_type %q", dataType)
	}
}
