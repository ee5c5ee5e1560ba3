package flyport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	publishErr    error
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

// PublishedTo returns the payloads published on topics with prefix.
func (m *MockMQTTClient) PublishedTo(prefix string) []mockPublish {
	var out []mockPublish
	for _, p := range m.GetPublished() {
		if len(p.Topic) >= len(prefix) && p.Topic[:len(prefix)] == prefix {
			out = append(out, p)
		}
	}
	return out
}

// SimulateMessage delivers a message to the handler subscribed on pattern.
func (m *MockMQTTClient) SimulateMessage(pattern, topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// recordingEmitter captures every emitted change.
type recordingEmitter struct {
	mu      sync.Mutex
	changes []emitted
}

type emitted struct {
	Board  Board
	Change Change
}

func (r *recordingEmitter) Emit(b Board, c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, emitted{Board: b, Change: c})
	r.mu.Unlock()
}

func (r *recordingEmitter) Changes() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.changes...)
}

// scriptedFetcher returns one scripted result per call and board.
type scriptedFetcher struct {
	mu      sync.Mutex
	results map[string][]fetchResult
	calls   map[string]int
	notify  chan string
}

type fetchResult struct {
	snap Snapshot
	err  error
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{
		results: make(map[string][]fetchResult),
		calls:   make(map[string]int),
		notify:  make(chan string, 64),
	}
}

func (f *scriptedFetcher) Script(alias string, results ...fetchResult) {
	f.mu.Lock()
	f.results[alias] = append(f.results[alias], results...)
	f.mu.Unlock()
}

// Fetch returns the next scripted result; the last one repeats.
func (f *scriptedFetcher) Fetch(_ context.Context, b Board) (Snapshot, error) {
	f.mu.Lock()
	n := f.calls[b.Alias()]
	f.calls[b.Alias()]++
	rs := f.results[b.Alias()]
	f.mu.Unlock()

	defer func() {
		select {
		case f.notify <- b.Alias():
		default:
		}
	}()

	if len(rs) == 0 {
		return Snapshot{}, nil
	}
	if n >= len(rs) {
		n = len(rs) - 1
	}
	return rs[n].snap, rs[n].err
}

func (f *scriptedFetcher) Calls(alias string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[alias]
}

// countingDialer hands out fake connections and counts dial attempts.
type countingDialer struct {
	mu    sync.Mutex
	dials int
	err   error
	conns []*fakeConn
	newFn func() *fakeConn
}

func (d *countingDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{}
	if d.newFn != nil {
		c = d.newFn()
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *countingDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeConn is a net.Conn that records writes and closes.
type fakeConn struct {
	mu       sync.Mutex
	written  []byte
	reply    []byte
	writeErr error
	readErr  error
	closes   int
}

var errFakeWrite = errors.New("fake write failure")

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	if len(c.reply) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.reply)
	c.reply = c.reply[n:]
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.written)
}

func (c *fakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) LocalAddr() net.Addr { return &net.TCPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }
func (c *fakeConn) SetDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

// mustBoard builds a board or fails the test.
func mustBoard(t interface {
	Helper()
	Fatalf(string, ...any)
}, opts BoardOptions) Board {
	t.Helper()
	b, err := NewBoard(opts)
	if err != nil {
		t.Fatalf("NewBoard(%+v) error = %v", opts, err)
	}
	return b
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t interface {
	Helper()
	Fatalf(string, ...any)
}, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var testTime = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func itoa(n int) string { return strconv.Itoa(n) }
