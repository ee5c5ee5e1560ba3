package flyport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
)

// Command property keys.
const (
	KeyAddress       = "address"
	KeyCommand       = "command"
	KeyExpectedReply = "expected-reply"
)

// DefaultAddressDelimiter separates host, port and line in a command address.
const DefaultAddressDelimiter = ":"

// LinePlaceholder is replaced by the hex line index in a command template.
const LinePlaceholder = "{line}"

// DefaultCommands maps operation names to request paths.
var DefaultCommands = map[string]string{
	"RELAY": "leds.cgi?led=" + LinePlaceholder,
}

// Command is an inbound command as a property map. It carries at least
// "address" and "command"; "expected-reply" is optional.
type Command map[string]string

// Address returns the composite address property.
func (c Command) Address() string { return c[KeyAddress] }

// Operation returns the operation name.
func (c Command) Operation() string { return c[KeyCommand] }

// ExpectedReply returns the reply the caller expects, or "".
func (c Command) ExpectedReply() string { return c[KeyExpectedReply] }

// Target is a parsed command address.
type Target struct {
	Host string
	Port int
	Line int
}

// ParseAddress splits addr by delim into host, port and line. Anything but
// exactly three parts with a non-empty host, a port in 1..65535 and a
// non-negative line fails with ErrAddressFormat.
func ParseAddress(addr, delim string) (Target, error) {
	if delim == "" {
		delim = DefaultAddressDelimiter
	}
	parts := strings.Split(addr, delim)
	if len(parts) != 3 {
		return Target{}, fmt.Errorf("%w: %q: want host%sport%sline", ErrAddressFormat, addr, delim, delim)
	}

	host := strings.TrimSpace(parts[0])
	if host == "" {
		return Target{}, fmt.Errorf("%w: %q: empty host", ErrAddressFormat, addr)
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("%w: %q: invalid port %q", ErrAddressFormat, addr, parts[1])
	}
	line, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil || line < 0 {
		return Target{}, fmt.Errorf("%w: %q: invalid line %q", ErrAddressFormat, addr, parts[2])
	}
	return Target{Host: host, Port: port, Line: line}, nil
}

// Result describes a command that reached the board.
type Result struct {
	Target  Target
	Message string

	// Reply is the first reply line; Replied is false when the board sent
	// nothing before the timeout or closed the socket.
	Reply   string
	Replied bool

	Expected string

	// Matched is true when no reply was expected or the reply equals it.
	Matched bool
}

// ExecutorStats counts command outcomes.
type ExecutorStats struct {
	Accepted uint64
	Failed   uint64
}

// Executor sends commands to boards. Each call uses its own connection,
// so calls may overlap freely.
type Executor struct {
	conns     *ConnectionManager
	delimiter string
	templates map[string]string

	accepted atomic.Uint64
	failed   atomic.Uint64

	logHolder
}

// NewExecutor returns an executor. Empty templates fall back to
// DefaultCommands.
func NewExecutor(conns *ConnectionManager, delimiter string, templates map[string]string) *Executor {
	if delimiter == "" {
		delimiter = DefaultAddressDelimiter
	}
	if len(templates) == 0 {
		templates = DefaultCommands
	}
	return &Executor{
		conns:     conns,
		delimiter: delimiter,
		templates: maps.Clone(templates),
	}
}

// BuildMessage returns the wire request for op on line.
//
//	BuildMessage("RELAY", 10) // "GET /leds.cgi?led=a HTTP 1.1\r\n\r\n"
func (e *Executor) BuildMessage(op string, line int) (string, error) {
	tmpl, ok := e.templates[op]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	path := strings.ReplaceAll(tmpl, LinePlaceholder, strconv.FormatInt(int64(line), 16))
	return "GET /" + strings.TrimPrefix(path, "/") + " HTTP 1.1\r\n\r\n", nil
}

// Execute parses the address, opens a connection, writes the request and
// reads at most one reply line. The connection is closed on every path.
// A missing or unexpected reply is reported in Result, not as an error.
func (e *Executor) Execute(ctx context.Context, cmd Command) (Result, error) {
	res, err := e.execute(ctx, cmd)
	if err != nil {
		e.failed.Add(1)
		return res, err
	}
	e.accepted.Add(1)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, cmd Command) (Result, error) {
	target, err := ParseAddress(cmd.Address(), e.delimiter)
	if err != nil {
		return Result{}, err
	}
	msg, err := e.BuildMessage(cmd.Operation(), target.Line)
	if err != nil {
		return Result{}, err
	}

	res := Result{Target: target, Message: msg, Expected: cmd.ExpectedReply()}

	err = e.conns.WithConnection(ctx, target.Host, target.Port, func(conn *Connection) error {
		if _, err := io.WriteString(conn, msg); err != nil {
			return fmt.Errorf("%w: sending to %s: %w", ErrExecutionFailed, conn.Addr(), err)
		}

		reply, err := conn.ReadLine()
		switch {
		case err == nil:
			res.Reply = reply
			res.Replied = true
		case IsTimeout(err), errors.Is(err, io.EOF):
			// the board is not required to answer
		default:
			return fmt.Errorf("%w: reading from %s: %w", ErrExecutionFailed, conn.Addr(), err)
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	res.Matched = res.Expected == "" || (res.Replied && res.Reply == res.Expected)
	if !res.Matched {
		e.logWarn("unexpected command reply",
			"address", cmd.Address(),
			"command", cmd.Operation(),
			"expected", res.Expected,
			"reply", res.Reply,
			"replied", res.Replied,
		)
	}
	return res, nil
}

// Operations returns the configured operation names.
func (e *Executor) Operations() []string {
	return slices.Sorted(maps.Keys(e.templates))
}

// Stats returns lifetime counters.
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{Accepted: e.accepted.Load(), Failed: e.failed.Load()}
}
