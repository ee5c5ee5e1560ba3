package flyport

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nerrad567/gray-logic-flyport/internal/infrastructure/mqtt"
)

var topics mqtt.Topics

// StateTopic is where the event for one line is published.
func StateTopic(address string) string { return topics.BridgeState(Protocol, address) }

// CommandTopic is where a command for one line may be sent.
func CommandTopic(address string) string { return topics.BridgeCommand(Protocol, address) }

// CommandSubscribeTopic matches every inbound Flyport command.
func CommandSubscribeTopic() string { return topics.AllBridgeCommands(Protocol) }

// AckTopic is where the acknowledgement for a command is published.
func AckTopic(address string) string { return topics.BridgeAck(Protocol, address) }

// HealthTopic carries the retained health message.
func HealthTopic() string { return topics.BridgeHealth(Protocol) }

// CommandMessage is an inbound command.
// Topic: graylogic/command/flyport/{address}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. Generated when empty.
	ID string `json:"id"`

	Timestamp time.Time `json:"timestamp"`

	// Address is host, port and line joined by the bridge delimiter.
	// When empty the last topic level is used.
	Address string `json:"address"`

	// Command is the operation name, e.g. "RELAY".
	Command string `json:"command"`

	// ExpectedReply is compared with the first reply line. A mismatch is
	// reported in the ack but does not fail the command.
	ExpectedReply string `json:"expected_reply,omitempty"`

	Properties map[string]string `json:"properties,omitempty"`

	// Source indicates where the command originated ("mqtt", "api").
	Source string `json:"source,omitempty"`
}

// ToCommand flattens the message into the executor's property map.
// Explicit fields win over same-named properties.
func (m CommandMessage) ToCommand() Command {
	cmd := make(Command, len(m.Properties)+3)
	for k, v := range m.Properties {
		cmd[k] = v
	}
	if m.Address != "" {
		cmd[KeyAddress] = m.Address
	}
	if m.Command != "" {
		cmd[KeyCommand] = m.Command
	}
	if m.ExpectedReply != "" {
		cmd[KeyExpectedReply] = m.ExpectedReply
	}
	return cmd
}

func (m *CommandMessage) normalize(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now.UTC()
	}
}

// AckStatus is the outcome of a command.
type AckStatus string

const (
	// AckAccepted means the command was written to the board.
	AckAccepted AckStatus = "accepted"

	// AckFailed means the command was rejected or could not be delivered.
	AckFailed AckStatus = "failed"
)

// Error codes carried in failed acknowledgements.
const (
	ErrCodeAddressFormat     = "ADDRESS_FORMAT"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeExecutionFailed   = "EXECUTION_FAILED"
	ErrCodeBridgeStopping    = "BRIDGE_STOPPING"
)

// AckMessage reports the outcome of a command.
// Topic: graylogic/ack/flyport/{address}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`

	// Reply is the first line the board sent back, if any.
	Reply        string `json:"reply,omitempty"`
	ReplyMatched bool   `json:"reply_matched"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Accepted reports whether the command reached the board.
func (a AckMessage) Accepted() bool { return a.Status == AckAccepted }

func newAck(msg CommandMessage, res Result, err error, now time.Time) AckMessage {
	ack := AckMessage{
		CommandID:    msg.ID,
		Timestamp:    now.UTC(),
		Status:       AckAccepted,
		Protocol:     Protocol,
		Address:      msg.Address,
		Reply:        res.Reply,
		ReplyMatched: res.Matched,
	}
	if err != nil {
		ack.Status = AckFailed
		ack.ReplyMatched = false
		ack.Error = &AckError{Code: ErrorCode(err), Message: err.Error()}
	}
	return ack
}

// ErrorCode maps a command error to its ack code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAddressFormat):
		return ErrCodeAddressFormat
	case errors.Is(err, ErrUnknownOperation):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrConnectFailed):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrStopping):
		return ErrCodeBridgeStopping
	default:
		return ErrCodeExecutionFailed
	}
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the bridge.
// Topic: graylogic/health/flyport (QoS 1, retained)
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// Polling is the poller state ("running", "stopped", "stopping").
	Polling string `json:"polling"`

	// Description is the bridge-level polling description.
	Description string `json:"description,omitempty"`

	BoardsManaged   int `json:"boards_managed"`
	BoardsSuspended int `json:"boards_suspended"`

	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains a degraded or unhealthy status.
	Reason string `json:"reason,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	Polls            uint64 `json:"polls"`
	PollFailures     uint64 `json:"poll_failures"`
	EventsEmitted    uint64 `json:"events_emitted"`
	EventsDropped    uint64 `json:"events_dropped"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsFailed   uint64 `json:"commands_failed"`
	ConnectionsOpen  int64  `json:"connections_open"`
}
