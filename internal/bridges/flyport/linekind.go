package flyport

import (
	"fmt"
	"strconv"
	"strings"
)

// LineKind selects which family of lines a board is polled for. It carries
// the status tag prefix, the value parser and the on/off rule, so no code
// branches on the kind name after the descriptor is built.
type LineKind struct {
	name   string
	prefix string
	parse  func(raw string) (Value, error)
	isOn   func(v Value) bool
}

// The three line families a Flyport board reports.
var (
	Led           = LineKind{name: "led", prefix: "led", parse: parseBinary, isOn: nonZero}
	Button        = LineKind{name: "btn", prefix: "btn", parse: parseBinary, isOn: nonZero}
	Potentiometer = LineKind{name: "pot", prefix: "pot", parse: parseLevel, isOn: nonZero}
)

// ParseLineKind accepts led, btn, pot and the long forms button and
// potentiometer, case-insensitively.
func ParseLineKind(s string) (LineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "led":
		return Led, nil
	case "btn", "button":
		return Button, nil
	case "pot", "potentiometer":
		return Potentiometer, nil
	default:
		return LineKind{}, fmt.Errorf("%w: unknown line kind %q", ErrConfiguration, s)
	}
}

// String returns the short kind name used in addresses and descriptions.
func (k LineKind) String() string {
	return k.name
}

// IsZero reports whether k is the zero LineKind.
func (k LineKind) IsZero() bool {
	return k.name == ""
}

// Tag returns the status.xml element name for a line: the prefix followed
// by the index in lowercase hexadecimal, e.g. led0, led9, leda, led10.
func (k LineKind) Tag(line int) string {
	return k.prefix + strconv.FormatInt(int64(line), 16)
}

// Parse converts the element text for one line into a Value.
func (k LineKind) Parse(raw string) (Value, error) {
	return k.parse(strings.TrimSpace(raw))
}

// IsOn collapses a value to the boolean reported in change events.
// A zero reading is off; every other reading, including any non-zero
// potentiometer level, is on.
func (k LineKind) IsOn(v Value) bool {
	return k.isOn(v)
}

// parseBinary maps "0" to 0 and any other non-empty token to 1. Boards
// report on-states with free-form tokens such as "1", "up" or "on".
func parseBinary(raw string) (Value, error) {
	switch raw {
	case "":
		return Unknown, fmt.Errorf("%w: empty value", ErrLineParse)
	case "0":
		return 0, nil
	default:
		return 1, nil
	}
}

// parseLevel reads a non-negative decimal reading.
func parseLevel(raw string) (Value, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return Unknown, fmt.Errorf("%w: %q is not a number", ErrLineParse, raw)
	}
	if n < 0 {
		return Unknown, fmt.Errorf("%w: negative reading %d", ErrLineParse, n)
	}
	return Value(n), nil
}

func nonZero(v Value) bool {
	return v != 0
}
