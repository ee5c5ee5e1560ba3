package flyport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultSocketTimeout bounds every dial, read and write on a board socket.
const DefaultSocketTimeout = time.Second

// Dialer opens raw connections. *net.Dialer satisfies it; tests substitute
// in-memory pipes.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ConnStats counts socket lifecycle events.
type ConnStats struct {
	Opened uint64
	Closed uint64
	Failed uint64
}

// ConnectionManager opens and closes timed TCP connections to boards. It
// holds no connection itself; every caller gets its own.
type ConnectionManager struct {
	timeout time.Duration
	dialer  Dialer

	opened atomic.Uint64
	closed atomic.Uint64
	failed atomic.Uint64
}

// NewConnectionManager returns a manager using timeout for every socket
// operation. A nil dialer uses net.Dialer; a non-positive timeout uses
// DefaultSocketTimeout.
func NewConnectionManager(timeout time.Duration, dialer Dialer) *ConnectionManager {
	if timeout <= 0 {
		timeout = DefaultSocketTimeout
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &ConnectionManager{timeout: timeout, dialer: dialer}
}

// Timeout returns the per-operation socket timeout.
func (m *ConnectionManager) Timeout() time.Duration {
	return m.timeout
}

// Open dials host:port within the timeout. Failures wrap ErrConnectFailed
// together with the dial error, so IsTimeout can tell a silent board from
// a refused connection.
func (m *ConnectionManager) Open(ctx context.Context, host string, port int) (*Connection, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		m.failed.Add(1)
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectFailed, addr, err)
	}
	m.opened.Add(1)

	c := &Connection{conn: raw, addr: addr, timeout: m.timeout, onClose: func() { m.closed.Add(1) }}
	c.reader = bufio.NewReader(c)
	return c, nil
}

// Close releases conn. It tolerates nil and already-closed connections and
// never reports an error: teardown is best effort.
func (m *ConnectionManager) Close(conn *Connection) {
	if conn == nil {
		return
	}
	conn.Close() //nolint:errcheck // best-effort teardown
}

// WithConnection opens a connection, runs fn and closes the connection on
// every exit path, including a panic in fn. It returns fn's error.
func (m *ConnectionManager) WithConnection(ctx context.Context, host string, port int, fn func(*Connection) error) error {
	conn, err := m.Open(ctx, host, port)
	if err != nil {
		return err
	}
	defer m.Close(conn)
	return fn(conn)
}

// Stats returns lifetime counters.
func (m *ConnectionManager) Stats() ConnStats {
	return ConnStats{
		Opened: m.opened.Load(),
		Closed: m.closed.Load(),
		Failed: m.failed.Load(),
	}
}

// Connection is one board socket. Every Read and Write is bounded by the
// manager's timeout. Close is idempotent.
type Connection struct {
	conn    net.Conn
	addr    string
	timeout time.Duration
	reader  *bufio.Reader

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

// Addr returns host:port of the remote board.
func (c *Connection) Addr() string {
	return c.addr
}

// Read implements io.Reader with a per-call deadline.
func (c *Connection) Read(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.conn.Read(p)
}

// Write implements io.Writer with a per-call deadline.
func (c *Connection) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.conn.Write(p)
}

// Reader returns the buffered reader over the connection. Use it for
// everything read after the first ReadLine.
func (c *Connection) Reader() *bufio.Reader {
	return c.reader
}

// ReadLine reads one line and strips the trailing CR/LF. A final line
// without a terminator is returned without error.
func (c *Connection) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close closes the socket once. Later calls return the first result.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return c.closeErr
}

// IsTimeout reports whether err was caused by a socket or context deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
