package service

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/opcua-server/internal/addrspace"
	"github.com/nexus-edge/opcua-server/internal/metrics"
)

// CommandConfig holds configuration for the write-command handler.
type CommandConfig struct {
	// CommandTopic is the MQTT topic write commands arrive on
	CommandTopic string

	// ResponseTopic is the MQTT topic responses are published to
	ResponseTopic string

	// QoS is the MQTT QoS level for command messages
	QoS byte

	// EnableAcknowledgement determines if responses should be published
	EnableAcknowledgement bool
}

// DefaultCommandConfig returns sensible defaults for command handling.
func DefaultCommandConfig() CommandConfig {
	return CommandConfig{
		CommandTopic:          "$nexus/opcua/cmd/write",
		ResponseTopic:         "$nexus/opcua/cmd/response",
		QoS:                   1,
		EnableAcknowledgement: true,
	}
}

// CommandStats tracks command handling statistics.
type CommandStats struct {
	CommandsReceived  atomic.Uint64
	CommandsSucceeded atomic.Uint64
	CommandsFailed    atomic.Uint64
	CommandsRejected  atomic.Uint64
}

// WriteCommand is a node write request received via MQTT. Writes land in
// the address space, so exception-based monitored items observe them on
// the value-changed path.
type WriteCommand struct {
	// RequestID is a unique identifier for the command (for correlation)
	RequestID string `json:"request_id,omitempty"`

	// NodeID is the target node id, e.g. "ns=1;s=plant1/line3/temperature"
	NodeID string `json:"node_id"`

	// Value is the value to write
	Value interface{} `json:"value"`

	// Timestamp is when the command was issued
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// WriteResponse is the response to a write command.
type WriteResponse struct {
	RequestID string    `json:"request_id,omitempty"`
	NodeID    string    `json:"node_id"`
	Success   bool      `json:"success"`
	Status    uint32    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandHandler applies MQTT write commands to address-space nodes.
type CommandHandler struct {
	mqttClient mqtt.Client
	space      *addrspace.AddressSpace
	logger     zerolog.Logger
	metrics    *metrics.Registry
	config     CommandConfig
	stats      *CommandStats
	running    atomic.Bool
	wg         sync.WaitGroup
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(
	mqttClient mqtt.Client,
	space *addrspace.AddressSpace,
	config CommandConfig,
	logger zerolog.Logger,
	metricsReg *metrics.Registry,
) *CommandHandler {
	return &CommandHandler{
		mqttClient: mqttClient,
		space:      space,
		logger:     logger.With().Str("component", "command-handler").Logger(),
		metrics:    metricsReg,
		config:     config,
		stats:      &CommandStats{},
	}
}

// Start subscribes to the command topic.
func (h *CommandHandler) Start() error {
	if h.running.Load() {
		return nil
	}

	token := h.mqttClient.Subscribe(h.config.CommandTopic, h.config.QoS, h.handleWriteCommand)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", h.config.CommandTopic, token.Error())
	}

	h.running.Store(true)
	h.logger.Info().
		Str("topic", h.config.CommandTopic).
		Msg("Command handler started")

	return nil
}

// Stop unsubscribes from the command topic.
func (h *CommandHandler) Stop() error {
	if !h.running.Load() {
		return nil
	}

	h.mqttClient.Unsubscribe(h.config.CommandTopic)
	h.wg.Wait()
	h.running.Store(false)

	h.logger.Info().Msg("Command handler stopped")
	return nil
}

// handleWriteCommand parses and dispatches one write command.
func (h *CommandHandler) handleWriteCommand(client mqtt.Client, msg mqtt.Message) {
	h.stats.CommandsReceived.Add(1)
	if h.metrics != nil {
		h.metrics.IncCommandsReceived()
	}

	var cmd WriteCommand
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.logger.Warn().
			Err(err).
			Str("topic", msg.Topic()).
			Msg("Failed to parse write command")
		h.stats.CommandsRejected.Add(1)
		return
	}

	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.processWriteCommand(cmd)
	}()
}

// processWriteCommand writes the value into the address space. Writes
// outside the node's instrument range are accepted as readings carrying
// BadOutOfRange; the response reflects the stored status.
func (h *CommandHandler) processWriteCommand(cmd WriteCommand) {
	id, err := ua.ParseNodeID(cmd.NodeID)
	if err != nil {
		h.respond(cmd, ua.StatusBadNodeIDInvalid, fmt.Sprintf("invalid node id: %v", err))
		h.stats.CommandsFailed.Add(1)
		if h.metrics != nil {
			h.metrics.IncCommandErrors()
		}
		return
	}

	node, ok := h.space.Get(id)
	if !ok {
		h.respond(cmd, ua.StatusBadNodeIDUnknown, "node not found")
		h.stats.CommandsFailed.Add(1)
		if h.metrics != nil {
			h.metrics.IncCommandErrors()
		}
		return
	}

	variant, err := ua.NewVariant(normalizeJSONValue(cmd.Value))
	if err != nil {
		h.respond(cmd, ua.StatusBadTypeMismatch, fmt.Sprintf("unsupported value: %v", err))
		h.stats.CommandsFailed.Add(1)
		if h.metrics != nil {
			h.metrics.IncCommandErrors()
		}
		return
	}

	now := time.Now()
	stored := node.SetValue(addrspace.NewDataValue(variant, ua.StatusOK, now, now))

	if stored != nil && stored.Status == ua.StatusOK {
		h.respond(cmd, ua.StatusOK, "")
		h.stats.CommandsSucceeded.Add(1)
		h.logger.Debug().
			Str("node_id", cmd.NodeID).
			Interface("value", cmd.Value).
			Msg("Write command applied")
		return
	}

	status := ua.StatusBadInternalError
	if stored != nil {
		status = stored.Status
	}
	h.respond(cmd, status, status.Error())
	h.stats.CommandsFailed.Add(1)
	if h.metrics != nil {
		h.metrics.IncCommandErrors()
	}
}

// respond publishes the command outcome when acknowledgement is enabled.
func (h *CommandHandler) respond(cmd WriteCommand, status ua.StatusCode, errMsg string) {
	if !h.config.EnableAcknowledgement {
		return
	}

	response := WriteResponse{
		RequestID: cmd.RequestID,
		NodeID:    cmd.NodeID,
		Success:   status == ua.StatusOK,
		Status:    uint32(status),
		Error:     errMsg,
		Timestamp: time.Now(),
	}

	payload, err := json.Marshal(response)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal response")
		return
	}

	token := h.mqttClient.Publish(h.config.ResponseTopic, h.config.QoS, false, payload)
	if token.Wait() && token.Error() != nil {
		h.logger.Error().Err(token.Error()).Msg("Failed to publish response")
	}
}

// GetStats returns the command statistics.
func (h *CommandHandler) GetStats() map[string]uint64 {
	return map[string]uint64{
		"commands_received":  h.stats.CommandsReceived.Load(),
		"commands_succeeded": h.stats.CommandsSucceeded.Load(),
		"commands_failed":    h.stats.CommandsFailed.Load(),
		"commands_rejected":  h.stats.CommandsRejected.Load(),
	}
}

// normalizeJSONValue maps JSON-decoded payload values onto variant-friendly
// Go types. JSON numbers decode as float64; integral values are narrowed
// so integer nodes keep their type.
func normalizeJSONValue(v interface{}) interface{} {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	if f == float64(int64(f)) {
		return int64(f)
	}
	return f
}
