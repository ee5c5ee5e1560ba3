package flyport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Value is a single line reading. Legal readings are >= 0.
type Value int

// Unknown marks a line that has not been read yet. It differs from every
// legal reading, so the first successful poll always reports a change.
const Unknown Value = -1

// Credentials enable HTTP basic authentication on status requests.
type Credentials struct {
	Username string
	Password string
}

// String redacts the password.
func (c Credentials) String() string {
	return fmt.Sprintf("{Username:%s Password:[REDACTED]}", c.Username)
}

// BoardOptions are the inputs to NewBoard.
type BoardOptions struct {
	Host  string
	Port  int
	Alias string
	Kind  LineKind
	Start int // first monitored line index
	Count int // number of monitored lines
	Auth  *Credentials
}

// Board is the immutable descriptor of one polled board. It is built once
// from configuration when the bridge starts and is safe to share.
//
// The monitored lines are the half-open range [Start, Start+Count).
type Board struct {
	host  string
	port  int
	alias string
	kind  LineKind
	start int
	count int
	auth  *Credentials
}

// NewBoard validates opts and returns the descriptor. Every failure wraps
// ErrConfiguration.
func NewBoard(opts BoardOptions) (Board, error) {
	host := strings.TrimSpace(opts.Host)
	switch {
	case host == "":
		return Board{}, fmt.Errorf("%w: board host is required", ErrConfiguration)
	case opts.Port < 1 || opts.Port > 65535:
		return Board{}, fmt.Errorf("%w: board %s port %d out of range", ErrConfiguration, host, opts.Port)
	case opts.Kind.IsZero():
		return Board{}, fmt.Errorf("%w: board %s has no line kind", ErrConfiguration, host)
	case opts.Start < 0:
		return Board{}, fmt.Errorf("%w: board %s starting line %d is negative", ErrConfiguration, host, opts.Start)
	case opts.Count < 0:
		return Board{}, fmt.Errorf("%w: board %s line count %d is negative", ErrConfiguration, host, opts.Count)
	}

	b := Board{
		host:  host,
		port:  opts.Port,
		alias: strings.TrimSpace(opts.Alias),
		kind:  opts.Kind,
		start: opts.Start,
		count: opts.Count,
	}
	if opts.Auth != nil {
		auth := *opts.Auth
		b.auth = &auth
	}
	if b.alias == "" {
		b.alias = b.Summary()
	}
	return b, nil
}

// Host returns the board host name or IP.
func (b Board) Host() string { return b.host }

// Port returns the board TCP port.
func (b Board) Port() int { return b.port }

// Alias returns the configured alias, or host:port:kind when none was set.
func (b Board) Alias() string { return b.alias }

// Kind returns the monitored line family.
func (b Board) Kind() LineKind { return b.kind }

// Start returns the first monitored line index.
func (b Board) Start() int { return b.start }

// Count returns the number of monitored lines.
func (b Board) Count() int { return b.count }

// Auth returns a copy of the credentials, or nil when none are configured.
func (b Board) Auth() *Credentials {
	if b.auth == nil {
		return nil
	}
	c := *b.auth
	return &c
}

// Address returns host:port.
func (b Board) Address() string {
	return net.JoinHostPort(b.host, strconv.Itoa(b.port))
}

// LineAddress returns the object address of one line, host:port:line.
// Events and command addresses both use this form.
func (b Board) LineAddress(line int) string {
	return b.host + ":" + strconv.Itoa(b.port) + ":" + strconv.Itoa(line)
}

// StatusURL returns the URL of the board status document.
func (b Board) StatusURL() string {
	return "http://" + b.Address() + "/status.xml"
}

// Contains reports whether line is in the monitored range.
func (b Board) Contains(line int) bool {
	return line >= b.start && line < b.start+b.count
}

// Lines returns the monitored line indices in ascending order.
func (b Board) Lines() []int {
	lines := make([]int, b.count)
	for i := range lines {
		lines[i] = b.start + i
	}
	return lines
}

// Summary is the fragment used in the bridge description,
// e.g. "192.168.0.115:80:led".
func (b Board) Summary() string {
	return b.host + ":" + strconv.Itoa(b.port) + ":" + b.kind.String()
}
