package flyport

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Protocol is the protocol name carried by every event and used in topics.
const Protocol = "flyport"

// Event property keys.
const (
	PropIsOn      = "isOn"
	PropBoardIP   = "boardIP"
	PropBoardPort = "boardPort"
	PropRelayLine = "relayLine"
)

// Event is the normalized notification for one changed line.
// Topic: graylogic/state/flyport/{address}
type Event struct {
	// ID is unique per emitted event.
	ID string `json:"id"`

	// Protocol is always "flyport".
	Protocol string `json:"protocol"`

	// Address is the object address, host:port:line.
	Address string `json:"address"`

	// Board is host:port.
	Board string `json:"board"`

	Alias    string    `json:"alias"`
	LineKind string    `json:"line_kind"`
	Line     int       `json:"line"`
	Value    Value     `json:"value"`
	Time     time.Time `json:"timestamp"`

	// Properties hold isOn ("true"/"false"), boardIP, boardPort and relayLine.
	Properties map[string]string `json:"properties"`
}

// NewEvent builds the notification for change c on board b.
func NewEvent(b Board, c Change, now time.Time) Event {
	isOn := "false"
	if b.Kind().IsOn(c.New) {
		isOn = "true"
	}
	return Event{
		ID:       uuid.NewString(),
		Protocol: Protocol,
		Address:  b.LineAddress(c.Line),
		Board:    b.Address(),
		Alias:    b.Alias(),
		LineKind: b.Kind().String(),
		Line:     c.Line,
		Value:    c.New,
		Time:     now.UTC(),
		Properties: map[string]string{
			PropIsOn:      isOn,
			PropBoardIP:   b.Host(),
			PropBoardPort: strconv.Itoa(b.Port()),
			PropRelayLine: strconv.Itoa(c.Line),
		},
	}
}

// ObjectID identifies the automation object the event refers to,
// e.g. "flyport:192.168.0.115:80:2".
func (e Event) ObjectID() string {
	return e.Protocol + ":" + e.Address
}

// IsOn reports the collapsed boolean state.
func (e Event) IsOn() bool {
	return e.Properties[PropIsOn] == "true"
}
