package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-flyport/internal/infrastructure/config"
)

// fakeInflux answers /ping and records bodies posted to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
	srv    *httptest.Server
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(http.StatusNoContent)
		case strings.HasSuffix(r.URL.Path, "/api/v2/write"):
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "graylogic",
		Bucket:        "flyport",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := Connect(cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := Connect(testConfig(url)); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_HealthCheckAndClose(t *testing.T) {
	fake := newFakeInflux(t)

	client, err := Connect(testConfig(fake.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
	// Second close and post-close writes are no-ops.
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	client.WriteLineChange(LineSample{Board: "b", Line: 1})
	client.Flush()
}

func TestWriteLineChange_ReachesServer(t *testing.T) {
	fake := newFakeInflux(t)

	client, err := Connect(testConfig(fake.srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteLineChange(LineSample{
		Board: "192.168.0.115:80",
		Alias: "hall",
		Line:  2,
		Kind:  "led",
		IsOn:  true,
		Time:  time.Unix(1700000000, 0),
	})
	client.Flush()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(fake.body(), LineMeasurement) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	body := fake.body()
	for _, want := range []string{"flyport_line", "board=192.168.0.115:80", "line=2", "is_on=true"} {
		if !strings.Contains(body, want) {
			t.Errorf("written body %q missing %q", body, want)
		}
	}
}

func TestLinePoint(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	got := write.PointToLineProtocol(linePoint(LineSample{
		Board: "10.0.0.5:80",
		Alias: "garage",
		Line:  11,
		Kind:  "btn",
		IsOn:  false,
		Time:  ts,
	}), time.Second)

	if !strings.HasPrefix(got, "flyport_line,") {
		t.Errorf("line protocol %q should start with the measurement", got)
	}
	for _, want := range []string{"alias=garage", "board=10.0.0.5:80", "kind=btn", "line=11"} {
		if !strings.Contains(got, want) {
			t.Errorf("line protocol %q missing tag %q", got, want)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(got), "is_on=false 1700000000") {
		t.Errorf("line protocol %q should end with field and timestamp", got)
	}
}

func TestLinePoint_NoAliasTag(t *testing.T) {
	got := write.PointToLineProtocol(linePoint(LineSample{Board: "b:1", Line: 0, Kind: "pot", IsOn: true}), time.Second)
	if strings.Contains(got, "alias=") {
		t.Errorf("empty alias should not be tagged: %q", got)
	}
}
