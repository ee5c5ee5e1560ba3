package flyport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PollState is the lifecycle state of a Poller.
type PollState int32

const (
	Stopped PollState = iota
	Running
	Stopping
)

func (s PollState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("PollState(%d)", int32(s))
	}
}

// NoPolling is the interval reported while the poller is not running.
const NoPolling time.Duration = -1

// DefaultPollDescription describes a poller that is not running.
const DefaultPollDescription = "Flyport status polling is not running"

// Fetcher reads the current line snapshot of a board.
type Fetcher interface {
	Fetch(ctx context.Context, b Board) (Snapshot, error)
}

// ChangeEmitter receives every detected line change. Emit must not block.
type ChangeEmitter interface {
	Emit(b Board, c Change)
}

// BoardStatus is the externally visible state of one registered board.
type BoardStatus struct {
	Alias       string    `json:"alias"`
	Address     string    `json:"address"`
	Kind        string    `json:"line_kind"`
	Lines       []int     `json:"lines"`
	Suspended   bool      `json:"suspended"`
	Description string    `json:"description"`
	LastPoll    time.Time `json:"last_poll,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	SuspendedAt time.Time `json:"suspended_at,omitzero"`
	Polls       uint64    `json:"polls"`
	Failures    uint64    `json:"failures"`
	Changes     uint64    `json:"changes"`
}

// PollerStats counts polling activity since the process started.
type PollerStats struct {
	Cycles   uint64
	Polls    uint64
	Failures uint64
	Changes  uint64
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Fetcher Fetcher
	Emitter ChangeEmitter

	// SuspendRetry re-polls a suspended board after this delay. Zero keeps
	// it suspended until Resume.
	SuspendRetry time.Duration

	// Description is reported while the poller is stopped.
	Description string
}

// registryEntry is the runtime record of one board. Only the polling
// goroutine touches it.
type registryEntry struct {
	board       Board
	state       *LineState
	suspended   bool
	suspendedAt time.Time
}

// Poller polls every registered board once per interval, diffs the
// readings and emits changes. A board whose fetch fails is suspended with
// a description of the failure until it is resumed.
//
// The registry and line states are created by Start, owned by the single
// polling goroutine and dropped by Stop. Other goroutines only see copies
// of the board status.
type Poller struct {
	fetcher      Fetcher
	emitter      ChangeEmitter
	suspendRetry time.Duration
	defaultDesc  string

	mu          sync.Mutex
	state       PollState
	interval    time.Duration
	description string
	stop        chan struct{}
	done        chan struct{}

	statusMu sync.RWMutex
	statuses []BoardStatus
	byAlias  map[string]int
	resumes  map[string]struct{}

	cycles   atomic.Uint64
	polls    atomic.Uint64
	failures atomic.Uint64
	changes  atomic.Uint64

	now func() time.Time
	logHolder
}

// NewPoller returns a stopped poller.
func NewPoller(cfg PollerConfig) *Poller {
	desc := cfg.Description
	if desc == "" {
		desc = DefaultPollDescription
	}
	return &Poller{
		fetcher:      cfg.Fetcher,
		emitter:      cfg.Emitter,
		suspendRetry: cfg.SuspendRetry,
		defaultDesc:  desc,
		state:        Stopped,
		interval:     NoPolling,
		description:  desc,
		now:          time.Now,
	}
}

// Start registers boards and begins polling them every interval.
func (p *Poller) Start(boards []Board, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: polling interval must be positive, got %s", ErrConfiguration, interval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Stopped {
		return ErrAlreadyRunning
	}

	entries := make([]registryEntry, len(boards))
	statuses := make([]BoardStatus, len(boards))
	byAlias := make(map[string]int, len(boards))
	summaries := make([]string, len(boards))
	for i, b := range boards {
		entries[i] = registryEntry{board: b, state: NewLineState(b.Start(), b.Count())}
		statuses[i] = BoardStatus{
			Alias:   b.Alias(),
			Address: b.Address(),
			Kind:    b.Kind().String(),
			Lines:   b.Lines(),
		}
		byAlias[b.Alias()] = i
		summaries[i] = b.Summary()
	}

	p.statusMu.Lock()
	p.statuses = statuses
	p.byAlias = byAlias
	p.resumes = make(map[string]struct{})
	p.statusMu.Unlock()

	p.state = Running
	p.interval = interval
	if len(boards) == 0 {
		p.description = "No boards to poll"
	} else {
		p.description = "Reading status changes from " + strings.Join(summaries, "; ")
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go p.run(entries, interval, p.stop, p.done)

	p.logInfo("polling started", "boards", len(boards), "interval", interval)
	return nil
}

// Stop signals the polling goroutine and waits for it to leave at the next
// board boundary or during its sleep. A fetch in progress is completed.
// The registry is dropped and the interval returns to NoPolling. Stop on a
// stopped poller does nothing.
func (p *Poller) Stop() {
	p.mu.Lock()
	switch p.state {
	case Stopped:
		p.mu.Unlock()
		return
	case Running:
		p.state = Stopping
		close(p.stop)
	}
	done := p.done
	p.mu.Unlock()

	<-done

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Stopping {
		return
	}
	p.state = Stopped
	p.interval = NoPolling
	p.description = p.defaultDesc
	p.stop = nil
	p.done = nil

	p.statusMu.Lock()
	p.statuses = nil
	p.byAlias = nil
	p.resumes = nil
	p.statusMu.Unlock()

	p.logInfo("polling stopped")
}

// Resume clears the suspension of the board with alias. It takes effect at
// the start of the next cycle.
func (p *Poller) Resume(alias string) error {
	p.mu.Lock()
	running := p.state == Running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if _, ok := p.byAlias[alias]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBoard, alias)
	}
	p.resumes[alias] = struct{}{}
	return nil
}

// State returns the lifecycle state.
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Interval returns the polling interval, or NoPolling when not running.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Running {
		return NoPolling
	}
	return p.interval
}

// Description returns the bridge-level polling description.
func (p *Poller) Description() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.description
}

// Statuses returns a copy of every board status in registration order.
func (p *Poller) Statuses() []BoardStatus {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	out := make([]BoardStatus, len(p.statuses))
	for i, s := range p.statuses {
		s.Lines = append([]int(nil), s.Lines...)
		out[i] = s
	}
	return out
}

// Status returns a copy of the status of the board with alias.
func (p *Poller) Status(alias string) (BoardStatus, bool) {
	p.statusMu.RLock()
	defer p.statusMu.RUnlock()
	i, ok := p.byAlias[alias]
	if !ok {
		return BoardStatus{}, false
	}
	s := p.statuses[i]
	s.Lines = append([]int(nil), s.Lines...)
	return s, true
}

// Stats returns lifetime counters.
func (p *Poller) Stats() PollerStats {
	return PollerStats{
		Cycles:   p.cycles.Load(),
		Polls:    p.polls.Load(),
		Failures: p.failures.Load(),
		Changes:  p.changes.Load(),
	}
}

func (p *Poller) run(entries []registryEntry, interval time.Duration, stop, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for {
		p.applyResumes(entries)

		for i := range entries {
			select {
			case <-stop:
				return
			default:
			}
			p.poll(i, &entries[i])
		}
		p.cycles.Add(1)

		timer.Reset(interval)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// poll fetches one board and emits its changes, or suspends it.
func (p *Poller) poll(i int, e *registryEntry) {
	now := p.now()

	if e.suspended {
		if p.suspendRetry <= 0 || now.Sub(e.suspendedAt) < p.suspendRetry {
			return
		}
		p.logInfo("retrying suspended board", "board", e.board.Alias())
	}

	// Fetches are never cancelled by Stop; the socket timeout bounds them.
	snap, err := p.fetcher.Fetch(context.Background(), e.board)
	p.polls.Add(1)

	if err != nil {
		p.failures.Add(1)
		desc := failureDescription(e.board, err)
		// A failed retry restarts the delay.
		e.suspendedAt = now
		e.suspended = true
		p.updateStatus(i, func(s *BoardStatus) {
			s.Polls++
			s.Failures++
			s.LastPoll = now
			s.LastError = err.Error()
			s.Suspended = true
			s.SuspendedAt = e.suspendedAt
			s.Description = desc
		})
		p.logWarn("board polling suspended", "board", e.board.Alias(), "reason", desc, "error", err)
		return
	}

	if e.suspended {
		e.suspended = false
		e.suspendedAt = time.Time{}
	}

	changes := Diff(e.state, snap)
	for _, c := range changes {
		p.emitter.Emit(e.board, c)
	}
	p.changes.Add(uint64(len(changes)))

	p.updateStatus(i, func(s *BoardStatus) {
		s.Polls++
		s.Changes += uint64(len(changes))
		s.LastPoll = now
		s.LastError = ""
		s.Suspended = false
		s.SuspendedAt = time.Time{}
		s.Description = "Reading " + e.board.Summary()
	})
}

// applyResumes clears the suspension of every board with a pending resume.
func (p *Poller) applyResumes(entries []registryEntry) {
	p.statusMu.Lock()
	defer p.statusMu.Unlock()
	if len(p.resumes) == 0 {
		return
	}
	for i := range entries {
		e := &entries[i]
		if _, ok := p.resumes[e.board.Alias()]; !ok || !e.suspended {
			continue
		}
		e.suspended = false
		e.suspendedAt = time.Time{}
		s := &p.statuses[i]
		s.Suspended = false
		s.SuspendedAt = time.Time{}
		s.Description = "Resumed " + e.board.Summary()
		p.logInfo("board polling resumed", "board", e.board.Alias())
	}
	clear(p.resumes)
}

func (p *Poller) updateStatus(i int, fn func(*BoardStatus)) {
	p.statusMu.Lock()
	if i < len(p.statuses) {
		fn(&p.statuses[i])
	}
	p.statusMu.Unlock()
}

// failureDescription is the human-readable reason a board was suspended.
func failureDescription(b Board, err error) string {
	url := b.StatusURL()
	switch {
	case IsTimeout(err):
		return "Connection timed out, no reply from the board at " + url
	case errors.Is(err, ErrConnectFailed):
		return "Unable to connect to " + url
	default:
		return "Unable to read status from " + url
	}
}
