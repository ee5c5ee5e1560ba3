package flyport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultHealthInterval is how often the health message is republished.
const DefaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages. The MQTT client satisfies it.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HealthSource supplies the values reported in each health message.
type HealthSource interface {
	PollState() PollState
	PollDescription() string
	Statuses() []BoardStatus
	Statistics() BridgeStatistics
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID  string
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher
	Source    HealthSource
}

// HealthReporter publishes a retained health message at a fixed interval.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    HealthSource

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logHolder
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "bridge stopping")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.Evaluate()
	return h.publishStatus(status, reason)
}

// Evaluate derives the bridge status from the bus connection and the
// board suspensions. Without a publisher only the boards are considered.
func (h *HealthReporter) Evaluate() (HealthStatus, string) {
	if h.publisher != nil && !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.source == nil {
		return HealthHealthy, ""
	}
	if h.source.PollState() != Running {
		return HealthDegraded, "polling " + h.source.PollState().String()
	}

	statuses := h.source.Statuses()
	if len(statuses) == 0 {
		return HealthDegraded, "no boards registered"
	}
	suspended := countSuspended(statuses)
	switch {
	case suspended == len(statuses):
		return HealthUnhealthy, "all boards suspended"
	case suspended > 0:
		return HealthDegraded, fmt.Sprintf("%d of %d boards suspended", suspended, len(statuses))
	}
	return HealthHealthy, ""
}

// Message builds the health message for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.source != nil {
		statuses := h.source.Statuses()
		stats := h.source.Statistics()
		msg.Polling = h.source.PollState().String()
		msg.Description = h.source.PollDescription()
		msg.BoardsManaged = len(statuses)
		msg.BoardsSuspended = countSuspended(statuses)
		msg.Statistics = &stats
	}
	return msg
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func countSuspended(statuses []BoardStatus) int {
	n := 0
	for _, s := range statuses {
		if s.Suspended {
			n++
		}
	}
	return n
}
