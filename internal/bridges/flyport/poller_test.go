package flyport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

const testInterval = 10 * time.Millisecond

func newTestPoller(f Fetcher, e ChangeEmitter) *Poller {
	return NewPoller(PollerConfig{Fetcher: f, Emitter: e})
}

func TestPollerScenario(t *testing.T) {
	fetcher := newScriptedFetcher()
	emitter := &recordingEmitter{}
	p := newTestPoller(fetcher, emitter)

	b := mustBoard(t, BoardOptions{Host: "10.0.0.5", Port: 80, Kind: Led, Start: 0, Count: 3})
	fetcher.Script(b.Alias(),
		fetchResult{snap: Snapshot{0: 0, 1: 1}},
		fetchResult{snap: Snapshot{0: 0, 1: 0}},
	)

	if err := p.Start([]Board{b}, testInterval); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "three fetches", func() bool { return fetcher.Calls(b.Alias()) >= 3 })
	p.Stop()

	got := emitter.Changes()
	want := []Change{
		{Line: 0, Old: Unknown, New: 0},
		{Line: 1, Old: Unknown, New: 1},
		{Line: 1, Old: 1, New: 0},
	}
	if len(got) != len(want) {
		t.Fatalf("emitted %d changes, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Change != want[i] {
			t.Errorf("change %d = %+v, want %+v", i, got[i].Change, want[i])
		}
		if got[i].Board.Alias() != b.Alias() {
			t.Errorf("change %d board = %s", i, got[i].Board.Alias())
		}
	}
}

func TestPollerLifecycle(t *testing.T) {
	p := newTestPoller(newScriptedFetcher(), &recordingEmitter{})

	if p.State() != Stopped || p.Interval() != NoPolling {
		t.Fatalf("new poller state=%s interval=%s", p.State(), p.Interval())
	}
	if p.Description() != DefaultPollDescription {
		t.Errorf("Description() = %q", p.Description())
	}

	b := mustBoard(t, BoardOptions{Host: "10.0.0.5", Port: 80, Kind: Led, Count: 1})
	if err := p.Start([]Board{b}, testInterval); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p.State() != Running || p.Interval() != testInterval {
		t.Errorf("running poller state=%s interval=%s", p.State(), p.Interval())
	}
	if want := "Reading status changes from 10.0.0.5:80:led"; p.Description() != want {
		t.Errorf("Description() = %q, want %q", p.Description(), want)
	}
	if err := p.Start([]Board{b}, testInterval); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	p.Stop()
	p.Stop()

	if p.State() != Stopped || p.Interval() != NoPolling {
		t.Errorf("stopped poller state=%s interval=%s", p.State(), p.Interval())
	}
	if len(p.Statuses()) != 0 {
		t.Error("Stop() must drop the registry")
	}
	if p.Description() != DefaultPollDescription {
		t.Errorf("Description() after Stop = %q", p.Description())
	}
}

func TestPollerStartRejectsBadInterval(t *testing.T) {
	p := newTestPoller(newScriptedFetcher(), &recordingEmitter{})
	for _, d := range []time.Duration{0, NoPolling} {
		if err := p.Start(nil, d); !errors.Is(err, ErrConfiguration) {
			t.Errorf("Start(interval=%s) error = %v, want ErrConfiguration", d, err)
		}
	}
	if p.State() != Stopped {
		t.Errorf("State() = %s after rejected start", p.State())
	}
}

func TestPollerRestartUsesFreshState(t *testing.T) {
	fetcher := newScriptedFetcher()
	emitter := &recordingEmitter{}
	p := newTestPoller(fetcher, emitter)

	b := mustBoard(t, BoardOptions{Host: "h", Port: 80, Kind: Led, Count: 1})
	fetcher.Script(b.Alias(), fetchResult{snap: Snapshot{0: 1}})

	for run := 1; run <= 2; run++ {
		if err := p.Start([]Board{b}, testInterval); err != nil {
			t.Fatalf("run %d: Start() error = %v", run, err)
		}
		waitFor(t, "one change", func() bool { return len(emitter.Changes()) >= run })
		p.Stop()
	}

	// Each run starts from Unknown, so the unchanged line is reported again.
	if got := len(emitter.Changes()); got != 2 {
		t.Errorf("emitted %d changes over two runs, want 2", got)
	}
}

func TestPollerSuspendsFailingBoard(t *testing.T) {
	fetcher := newScriptedFetcher()
	emitter := &recordingEmitter{}
	p := newTestPoller(fetcher, emitter)

	bad := mustBoard(t, BoardOptions{Host: "10.0.0.9", Port: 80, Alias: "bad", Kind: Led, Count: 1})
	good := mustBoard(t, BoardOptions{Host: "10.0.0.5", Port: 80, Alias: "good", Kind: Led, Count: 1})
	fetcher.Script("bad",
		fetchResult{err: fmt.Errorf("%w: refused", ErrConnectFailed)},
		fetchResult{snap: Snapshot{0: 1}},
	)
	fetcher.Script("good", fetchResult{snap: Snapshot{0: 0}})

	if err := p.Start([]Board{bad, good}, testInterval); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	waitFor(t, "several cycles", func() bool { return fetcher.Calls("good") >= 4 })

	if n := fetcher.Calls("bad"); n != 1 {
		t.Errorf("suspended board fetched %d times, want 1", n)
	}
	st, ok := p.Status("bad")
	if !ok || !st.Suspended {
		t.Fatalf("Status(bad) = %+v, want suspended", st)
	}
	if want := "Unable to connect to http://10.0.0.9:80/status.xml"; st.Description != want {
		t.Errorf("Description = %q, want %q", st.Description, want)
	}
	if st.Failures != 1 || st.LastError == "" {
		t.Errorf("Status(bad) counters = %+v", st)
	}
	if gs, _ := p.Status("good"); gs.Suspended || gs.Polls < 4 {
		t.Errorf("Status(good) = %+v", gs)
	}

	if err := p.Resume("bad"); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	waitFor(t, "resumed fetch", func() bool { return fetcher.Calls("bad") >= 2 })
	waitFor(t, "resumed status", func() bool {
		s, _ := p.Status("bad")
		return !s.Suspended
	})

	found := false
	for _, e := range emitter.Changes() {
		if e.Board.Alias() == "bad" {
			found = true
		}
	}
	if !found {
		t.Error("resumed board emitted no change")
	}
}

func TestPollerFailureDescriptions(t *testing.T) {
	b := mustBoard(t, BoardOptions{Host: "10.0.0.5", Port: 8080, Kind: Led, Count: 1})
	url := "http://10.0.0.5:8080/status.xml"

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", fmt.Errorf("%w: %w", ErrConnectFailed, os.ErrDeadlineExceeded), "Connection timed out, no reply from the board at " + url},
		{"refused", fmt.Errorf("%w: refused", ErrConnectFailed), "Unable to connect to " + url},
		{"bad document", fmt.Errorf("%w: malformed", ErrFetchFailed), "Unable to read status from " + url},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureDescription(b, tt.err); got != tt.want {
				t.Errorf("failureDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPollerAutoRetry(t *testing.T) {
	fetcher := newScriptedFetcher()
	p := NewPoller(PollerConfig{Fetcher: fetcher, Emitter: &recordingEmitter{}, SuspendRetry: time.Millisecond})

	b := mustBoard(t, BoardOptions{Host: "h", Port: 80, Alias: "flaky", Kind: Led, Count: 1})
	fetcher.Script("flaky",
		fetchResult{err: fmt.Errorf("%w: bad", ErrFetchFailed)},
		fetchResult{snap: Snapshot{0: 1}},
	)

	if err := p.Start([]Board{b}, testInterval); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	waitFor(t, "automatic retry", func() bool {
		s, _ := p.Status("flaky")
		return fetcher.Calls("flaky") >= 2 && !s.Suspended
	})
}

func TestPollerFailedRetryRestartsDelay(t *testing.T) {
	fetcher := newScriptedFetcher()
	p := NewPoller(PollerConfig{Fetcher: fetcher, Emitter: &recordingEmitter{}, SuspendRetry: 200 * time.Millisecond})

	b := mustBoard(t, BoardOptions{Host: "h", Port: 80, Alias: "dead", Kind: Led, Count: 1})
	fetcher.Script("dead", fetchResult{err: fmt.Errorf("%w: refused", ErrConnectFailed)})

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }
	p.statuses = []BoardStatus{{Alias: "dead"}}
	entry := registryEntry{board: b, state: NewLineState(b.Start(), b.Count())}

	// One second of 10ms cycles against a board that never answers.
	for range 100 {
		p.poll(0, &entry)
		clock = clock.Add(testInterval)
	}

	// The first failure plus one retry per elapsed delay.
	if got, limit := fetcher.Calls("dead"), 6; got > limit {
		t.Errorf("fetch calls = %d, want at most %d", got, limit)
	}
	if got := fetcher.Calls("dead"); got < 5 {
		t.Errorf("fetch calls = %d, want at least 5 retries", got)
	}
	if !entry.suspended {
		t.Error("board should still be suspended")
	}
	if s := p.statuses[0]; !s.SuspendedAt.Equal(entry.suspendedAt) {
		t.Errorf("status SuspendedAt = %v, want %v", s.SuspendedAt, entry.suspendedAt)
	}
}

func TestPollerResumeErrors(t *testing.T) {
	p := newTestPoller(newScriptedFetcher(), &recordingEmitter{})
	if err := p.Resume("x"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Resume() on stopped poller error = %v, want ErrNotRunning", err)
	}

	b := mustBoard(t, BoardOptions{Host: "h", Port: 80, Alias: "known", Kind: Led, Count: 1})
	if err := p.Start([]Board{b}, testInterval); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if err := p.Resume("unknown"); !errors.Is(err, ErrUnknownBoard) {
		t.Errorf("Resume(unknown) error = %v, want ErrUnknownBoard", err)
	}
	if err := p.Resume("known"); err != nil {
		t.Errorf("Resume(known) on a healthy board error = %v", err)
	}
}

// blockingFetcher holds every fetch until released.
type blockingFetcher struct {
	entered chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(context.Context, Board) (Snapshot, error) {
	select {
	case f.entered <- struct{}{}:
	default:
	}
	<-f.release
	return Snapshot{0: 1}, nil
}

func TestPollerStopWaitsForFetch(t *testing.T) {
	fetcher := &blockingFetcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	emitter := &recordingEmitter{}
	p := newTestPoller(fetcher, emitter)

	boards := []Board{
		mustBoard(t, BoardOptions{Host: "a", Port: 80, Kind: Led, Count: 1}),
		mustBoard(t, BoardOptions{Host: "b", Port: 80, Kind: Led, Count: 1}),
	}
	if err := p.Start(boards, testInterval); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-fetcher.entered

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	waitFor(t, "stopping state", func() bool { return p.State() == Stopping })
	select {
	case <-stopped:
		t.Fatal("Stop() returned while a fetch was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(fetcher.release)
	<-stopped

	// The in-flight fetch completes; the second board is never polled.
	changes := emitter.Changes()
	if len(changes) != 1 || !strings.HasPrefix(changes[0].Board.Alias(), "a:") {
		t.Errorf("changes after stop = %+v, want only board a", changes)
	}
}
