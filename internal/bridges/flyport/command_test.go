package flyport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		delim   string
		want    Target
		wantErr bool
	}{
		{"valid", "10.0.0.5:80:2", ":", Target{"10.0.0.5", 80, 2}, false},
		{"custom delimiter", "10.0.0.5|8080|11", "|", Target{"10.0.0.5", 8080, 11}, false},
		{"default delimiter", "h:80:0", "", Target{"h", 80, 0}, false},
		{"host only", "192.168.0.5", ":", Target{}, true},
		{"missing line", "192.168.0.5:80", ":", Target{}, true},
		{"too many parts", "a:80:1:2", ":", Target{}, true},
		{"empty host", ":80:1", ":", Target{}, true},
		{"port not numeric", "h:http:1", ":", Target{}, true},
		{"port zero", "h:0:1", ":", Target{}, true},
		{"port too big", "h:65536:1", ":", Target{}, true},
		{"negative line", "h:80:-1", ":", Target{}, true},
		{"line not numeric", "h:80:x", ":", Target{}, true},
		{"empty", "", ":", Target{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddress(tt.addr, tt.delim)
			if tt.wantErr {
				if !errors.Is(err, ErrAddressFormat) {
					t.Fatalf("ParseAddress(%q) error = %v, want ErrAddressFormat", tt.addr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error = %v", tt.addr, err)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %+v, want %+v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestBuildMessage(t *testing.T) {
	e := NewExecutor(NewConnectionManager(time.Second, nil), ":", nil)

	tests := []struct {
		line int
		want string
	}{
		{2, "GET /leds.cgi?led=2 HTTP 1.1\r\n\r\n"},
		{10, "GET /leds.cgi?led=a HTTP 1.1\r\n\r\n"},
		{31, "GET /leds.cgi?led=1f HTTP 1.1\r\n\r\n"},
	}
	for _, tt := range tests {
		got, err := e.BuildMessage("RELAY", tt.line)
		if err != nil {
			t.Fatalf("BuildMessage(RELAY, %d) error = %v", tt.line, err)
		}
		if got != tt.want {
			t.Errorf("BuildMessage(RELAY, %d) = %q, want %q", tt.line, got, tt.want)
		}
	}

	if _, err := e.BuildMessage("DIM", 1); !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("BuildMessage(DIM) error = %v, want ErrUnknownOperation", err)
	}
}

func TestBuildMessageCustomTemplate(t *testing.T) {
	e := NewExecutor(NewConnectionManager(time.Second, nil), ":", map[string]string{
		"PULSE": "/pulse.cgi?out={line}&ms=500",
	})
	got, err := e.BuildMessage("PULSE", 12)
	if err != nil {
		t.Fatalf("BuildMessage() error = %v", err)
	}
	if got != "GET /pulse.cgi?out=c&ms=500 HTTP 1.1\r\n\r\n" {
		t.Errorf("BuildMessage() = %q", got)
	}
	if ops := e.Operations(); len(ops) != 1 || ops[0] != "PULSE" {
		t.Errorf("Operations() = %v", ops)
	}
}

func TestExecuteMalformedAddressNeverDials(t *testing.T) {
	dialer := &countingDialer{}
	e := NewExecutor(NewConnectionManager(time.Second, dialer), ":", nil)

	_, err := e.Execute(context.Background(), Command{KeyAddress: "192.168.0.5", KeyCommand: "RELAY"})
	if !errors.Is(err, ErrAddressFormat) {
		t.Fatalf("Execute() error = %v, want ErrAddressFormat", err)
	}
	if dialer.Dials() != 0 {
		t.Errorf("dialed %d times for a malformed address", dialer.Dials())
	}
	if s := e.Stats(); s.Failed != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestExecuteUnknownOperationNeverDials(t *testing.T) {
	dialer := &countingDialer{}
	e := NewExecutor(NewConnectionManager(time.Second, dialer), ":", nil)

	_, err := e.Execute(context.Background(), Command{KeyAddress: "h:80:1", KeyCommand: "EXPLODE"})
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("Execute() error = %v, want ErrUnknownOperation", err)
	}
	if dialer.Dials() != 0 {
		t.Error("dialed for an unknown operation")
	}
}

func TestExecuteScenario(t *testing.T) {
	dialer := &countingDialer{}
	e := NewExecutor(NewConnectionManager(time.Second, dialer), ":", nil)

	res, err := e.Execute(context.Background(), Command{KeyAddress: "10.0.0.5:80:2", KeyCommand: "RELAY"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	conn := dialer.conns[0]
	if !strings.Contains(conn.Written(), "leds.cgi?led=2") {
		t.Errorf("wire message %q does not carry line 2", conn.Written())
	}
	if conn.Closes() != 1 {
		t.Errorf("connection closed %d times, want 1", conn.Closes())
	}
	if res.Replied || !res.Matched {
		t.Errorf("Result = %+v, want no reply and nothing expected", res)
	}
	if res.Target != (Target{"10.0.0.5", 80, 2}) {
		t.Errorf("Target = %+v", res.Target)
	}
}

func TestExecuteSendErrorClosesOnce(t *testing.T) {
	dialer := &countingDialer{newFn: func() *fakeConn { return &fakeConn{writeErr: errFakeWrite} }}
	e := NewExecutor(NewConnectionManager(time.Second, dialer), ":", nil)

	_, err := e.Execute(context.Background(), Command{KeyAddress: "10.0.0.5:80:2", KeyCommand: "RELAY"})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("Execute() error = %v, want ErrExecutionFailed", err)
	}
	if !errors.Is(err, errFakeWrite) {
		t.Errorf("error %v does not carry the write failure", err)
	}
	if got := dialer.conns[0].Closes(); got != 1 {
		t.Errorf("connection closed %d times, want exactly 1", got)
	}
}

func TestExecuteReadErrorFails(t *testing.T) {
	readErr := errors.New("connection reset")
	dialer := &countingDialer{newFn: func() *fakeConn { return &fakeConn{readErr: readErr} }}
	e := NewExecutor(NewConnectionManager(time.Second, dialer), ":", nil)

	_, err := e.Execute(context.Background(), Command{KeyAddress: "h:80:1", KeyCommand: "RELAY"})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("Execute() error = %v, want ErrExecutionFailed", err)
	}
	if dialer.conns[0].Closes() != 1 {
		t.Error("connection not closed after a read failure")
	}
}

func TestExecuteReplyTimeoutIsNotFailure(t *testing.T) {
	dialer := &countingDialer{newFn: func() *fakeConn { return &fakeConn{readErr: os.ErrDeadlineExceeded} }}
	e := NewExecutor(NewConnectionManager(time.Second, dialer), ":", nil)

	res, err := e.Execute(context.Background(), Command{
		KeyAddress:       "h:80:1",
		KeyCommand:       "RELAY",
		KeyExpectedReply: "OK",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want success without reply", err)
	}
	if res.Replied || res.Matched {
		t.Errorf("Result = %+v, want no reply and no match", res)
	}
}

func TestExecuteReplyMatching(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		expected string
		matched  bool
	}{
		{"match", "OK\r\n", "OK", true},
		{"mismatch", "ERR\r\n", "OK", false},
		{"nothing expected", "whatever\r\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &countingDialer{newFn: func() *fakeConn { return &fakeConn{reply: []byte(tt.reply)} }}
			e := NewExecutor(NewConnectionManager(time.Second, dialer), ":", nil)

			cmd := Command{KeyAddress: "h:80:1", KeyCommand: "RELAY"}
			if tt.expected != "" {
				cmd[KeyExpectedReply] = tt.expected
			}
			res, err := e.Execute(context.Background(), cmd)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !res.Replied || res.Reply != strings.TrimRight(tt.reply, "\r\n") {
				t.Errorf("Reply = %q (replied=%v)", res.Reply, res.Replied)
			}
			if res.Matched != tt.matched {
				t.Errorf("Matched = %v, want %v", res.Matched, tt.matched)
			}
		})
	}
}

func TestExecuteConnectFailure(t *testing.T) {
	e := NewExecutor(NewConnectionManager(time.Second, &countingDialer{err: errors.New("no route")}), ":", nil)
	_, err := e.Execute(context.Background(), Command{KeyAddress: "h:80:1", KeyCommand: "RELAY"})
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Execute() error = %v, want ErrConnectFailed", err)
	}
	if ErrorCode(err) != ErrCodeDeviceUnreachable {
		t.Errorf("ErrorCode() = %s", ErrorCode(err))
	}
}

func TestExecuteOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		line, _ := bufio.NewReader(c).ReadString('\n')
		received <- line
		c.Write([]byte("OK\r\n")) //nolint:errcheck
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	e := NewExecutor(NewConnectionManager(time.Second, nil), ":", nil)
	res, err := e.Execute(context.Background(), Command{
		KeyAddress:       "127.0.0.1:" + itoa(port) + ":3",
		KeyCommand:       "RELAY",
		KeyExpectedReply: "OK",
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := <-received; got != "GET /leds.cgi?led=3 HTTP 1.1\r\n" {
		t.Errorf("board received %q", got)
	}
	if !res.Matched || res.Reply != "OK" {
		t.Errorf("Result = %+v", res)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrAddressFormat, ErrCodeAddressFormat},
		{ErrUnknownOperation, ErrCodeInvalidCommand},
		{ErrConnectFailed, ErrCodeDeviceUnreachable},
		{ErrExecutionFailed, ErrCodeExecutionFailed},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.want {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
