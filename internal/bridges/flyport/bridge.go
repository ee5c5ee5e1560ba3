package flyport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// commandRecordTimeout bounds writing one command to the history store.
const commandRecordTimeout = 5 * time.Second

// MQTTClient is the subset of the MQTT client the bridge needs.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// CommandRecord is one executed command as kept in the history store.
type CommandRecord struct {
	CommandID    string
	Address      string
	Command      string
	Source       string
	Status       AckStatus
	ErrorCode    string
	ErrorMessage string
	Reply        string
	ReplyMatched bool
	Time         time.Time
}

// CommandRecorder persists executed commands. Optional.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded bridge configuration.
	Config *Config

	// MQTTClient carries events, commands, acks and health. When nil the
	// bridge polls and executes commands without a bus.
	MQTTClient MQTTClient

	// Observers receive every line change event.
	Observers []EventObserver

	// Recorder stores executed commands. Optional.
	Recorder CommandRecorder

	// Dialer opens board sockets. Defaults to net.Dialer.
	Dialer Dialer

	Version string
	Logger  Logger
}

// Bridge connects Flyport boards to the message bus. It polls the
// configured boards, publishes line changes and executes inbound
// commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg      *Config
	mqtt     MQTTClient
	recorder CommandRecorder

	conns    *ConnectionManager
	fetcher  *StatusFetcher
	emitter  *Emitter
	poller   *Poller
	executor *Executor
	health   *HealthReporter

	boards    []Board
	boardErrs []error

	// mu guards started and stopping. Command goroutines are added to wg
	// under mu so Stop never races a late Add.
	mu       sync.Mutex
	started  bool
	stopping bool
	wg       sync.WaitGroup
	stopOnce sync.Once

	now func() time.Time
	logHolder
}

// NewBridge builds the bridge and its components. Board tuples are turned
// into descriptors here; invalid tuples are kept aside and logged on Start.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := opts.Config

	b := &Bridge{
		cfg:      cfg,
		mqtt:     opts.MQTTClient,
		recorder: opts.Recorder,
		now:      time.Now,
	}

	var publisher EventPublisher
	var healthPublisher HealthPublisher
	if opts.MQTTClient != nil {
		publisher = opts.MQTTClient
		healthPublisher = opts.MQTTClient
	}

	b.conns = NewConnectionManager(cfg.SocketTimeout(), opts.Dialer)
	b.fetcher = NewStatusFetcher(b.conns)
	b.emitter = NewEmitter(EmitterConfig{
		Publisher: publisher,
		QueueSize: cfg.Bridge.EventQueueSize,
		Observers: opts.Observers,
	})
	b.poller = NewPoller(PollerConfig{
		Fetcher:      b.fetcher,
		Emitter:      b.emitter,
		SuspendRetry: cfg.SuspendRetry(),
		Description:  cfg.Bridge.Description,
	})
	b.executor = NewExecutor(b.conns, cfg.Bridge.AddressDelimiter, cfg.Commands)
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   opts.Version,
		Interval:  cfg.HealthInterval(),
		Publisher: healthPublisher,
		Source:    b,
	})

	b.boards, b.boardErrs = cfg.BuildBoards()

	if opts.Logger != nil {
		b.SetLogger(opts.Logger)
	}
	return b, nil
}

// Start registers the boards, starts polling, subscribes to commands and
// starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.started = true
	b.mu.Unlock()

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	for _, err := range b.boardErrs {
		b.logWarn("board not registered", "error", err)
	}

	b.emitter.Start()
	if err := b.poller.Start(b.boards, b.cfg.PollingInterval()); err != nil {
		b.emitter.Stop()
		return fmt.Errorf("start polling: %w", err)
	}

	if b.mqtt != nil {
		topic := CommandSubscribeTopic()
		if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
			b.poller.Stop()
			b.emitter.Stop()
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", topic)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"boards", len(b.boards),
		"rejected", len(b.boardErrs),
		"interval", b.cfg.PollingInterval())
	return nil
}

// Stop stops polling at the next board boundary, waits for in-flight
// commands to finish, drains the event queue and publishes a final
// "stopping" health status. Commands are never cancelled.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopping = true
		b.mu.Unlock()

		b.poller.Stop()
		b.wg.Wait()
		b.emitter.Stop()
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// ExecuteCommand runs msg against its board, publishes the ack and
// records the outcome. It blocks until the command completes. Cancelling
// ctx does not abort the command, and Stop waits for it. Once Stop has
// begun the command is refused with ErrStopping.
func (b *Bridge) ExecuteCommand(ctx context.Context, msg CommandMessage) AckMessage {
	if !b.beginCommand() {
		msg.normalize(b.now())
		msg.Address = msg.ToCommand().Address()
		b.logWarn("command refused, bridge stopping", "command_id", msg.ID, "address", msg.Address)
		return newAck(msg, Result{}, ErrStopping, b.now())
	}
	defer b.wg.Done()

	return b.execute(context.WithoutCancel(ctx), msg)
}

// beginCommand adds a command to wg unless the bridge is stopping.
func (b *Bridge) beginCommand() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bridge) execute(ctx context.Context, msg CommandMessage) AckMessage {
	msg.normalize(b.now())
	cmd := msg.ToCommand()
	msg.Address = cmd.Address()

	res, err := b.executor.Execute(ctx, cmd)
	ack := newAck(msg, res, err, b.now())

	if err != nil {
		b.logWarn("command failed",
			"command_id", msg.ID,
			"address", msg.Address,
			"command", cmd.Operation(),
			"code", ack.Error.Code,
			"error", err)
	} else {
		b.logInfo("command executed",
			"command_id", msg.ID,
			"address", msg.Address,
			"command", cmd.Operation(),
			"replied", res.Replied,
			"reply_matched", res.Matched)
	}

	b.publishAck(ack)
	b.record(msg, cmd, ack)
	return ack
}

// handleMQTTMessage runs an inbound command on its own goroutine.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	if !b.beginCommand() {
		b.logWarn("command ignored, bridge stopping", "topic", topic)
		return
	}

	go func() {
		defer b.wg.Done()
		b.handleCommand(topic, payload)
	}()
}

func (b *Bridge) handleCommand(topic string, payload []byte) {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logError("failed to parse command", err, "topic", topic)
		return
	}
	if msg.Address == "" && msg.Properties[KeyAddress] == "" {
		msg.Address = topicAddress(topic)
	}
	if msg.Source == "" {
		msg.Source = "mqtt"
	}

	b.logDebug("received command", "command_id", msg.ID, "address", msg.Address, "command", msg.Command)

	// Commands outlive Stop; the socket timeout bounds them.
	b.execute(context.Background(), msg)
}

// topicAddress returns the address level of a command topic.
func topicAddress(topic string) string {
	prefix := strings.TrimSuffix(CommandSubscribeTopic(), "#")
	if !strings.HasPrefix(topic, prefix) {
		return ""
	}
	return strings.TrimPrefix(topic, prefix)
}

func (b *Bridge) publishAck(ack AckMessage) {
	if b.mqtt == nil {
		return
	}
	address := ack.Address
	if address == "" {
		address = "unknown"
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(address), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err, "command_id", ack.CommandID)
	}
}

func (b *Bridge) record(msg CommandMessage, cmd Command, ack AckMessage) {
	if b.recorder == nil {
		return
	}
	rec := CommandRecord{
		CommandID:    msg.ID,
		Address:      msg.Address,
		Command:      cmd.Operation(),
		Source:       msg.Source,
		Status:       ack.Status,
		Reply:        ack.Reply,
		ReplyMatched: ack.ReplyMatched,
		Time:         ack.Timestamp,
	}
	if ack.Error != nil {
		rec.ErrorCode = ack.Error.Code
		rec.ErrorMessage = ack.Error.Message
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandRecordTimeout)
	defer cancel()
	if err := b.recorder.RecordCommand(ctx, rec); err != nil {
		b.logError("failed to record command", err, "command_id", msg.ID)
	}
}

// AddObserver registers o for line change events.
func (b *Bridge) AddObserver(o EventObserver) {
	b.emitter.AddObserver(o)
}

// Resume clears the suspension of the board with alias.
func (b *Bridge) Resume(alias string) error {
	return b.poller.Resume(alias)
}

// Boards returns the registered board descriptors.
func (b *Bridge) Boards() []Board {
	return append([]Board(nil), b.boards...)
}

// RegistrationErrors returns the tuples that could not be registered.
func (b *Bridge) RegistrationErrors() []error {
	return append([]error(nil), b.boardErrs...)
}

// Statuses returns the status of every polled board.
func (b *Bridge) Statuses() []BoardStatus {
	return b.poller.Statuses()
}

// Status returns the status of the board with alias.
func (b *Bridge) Status(alias string) (BoardStatus, bool) {
	return b.poller.Status(alias)
}

// PollState returns the poller lifecycle state.
func (b *Bridge) PollState() PollState {
	return b.poller.State()
}

// PollDescription returns the bridge-level polling description.
func (b *Bridge) PollDescription() string {
	return b.poller.Description()
}

// PollInterval returns the polling interval, or NoPolling when stopped.
func (b *Bridge) PollInterval() time.Duration {
	return b.poller.Interval()
}

// Statistics returns the combined component counters.
func (b *Bridge) Statistics() BridgeStatistics {
	ps := b.poller.Stats()
	es := b.emitter.Stats()
	xs := b.executor.Stats()
	cs := b.conns.Stats()
	return BridgeStatistics{
		Polls:            ps.Polls,
		PollFailures:     ps.Failures,
		EventsEmitted:    es.Emitted,
		EventsDropped:    es.Dropped,
		CommandsAccepted: xs.Accepted,
		CommandsFailed:   xs.Failed,
		ConnectionsOpen:  int64(cs.Opened) - int64(cs.Closed),
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Status          HealthStatus     `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	MQTTConnected   bool             `json:"mqtt_connected"`
	Polling         string           `json:"polling"`
	IntervalMillis  int64            `json:"interval_ms"`
	BoardsManaged   int              `json:"boards_managed"`
	BoardsSuspended int              `json:"boards_suspended"`
	BoardsRejected  int              `json:"boards_rejected"`
	Statistics      BridgeStatistics `json:"statistics"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	status, reason := b.health.Evaluate()
	statuses := b.Statuses()

	interval := b.PollInterval()
	intervalMillis := int64(NoPolling)
	if interval != NoPolling {
		intervalMillis = interval.Milliseconds()
	}

	return BridgeMetrics{
		Status:          status,
		Reason:          reason,
		MQTTConnected:   b.mqtt != nil && b.mqtt.IsConnected(),
		Polling:         b.PollState().String(),
		IntervalMillis:  intervalMillis,
		BoardsManaged:   len(statuses),
		BoardsSuspended: countSuspended(statuses),
		BoardsRejected:  len(b.boardErrs),
		Statistics:      b.Statistics(),
	}
}

// SetLogger sets the logger on the bridge and every component.
func (b *Bridge) SetLogger(logger Logger) {
	b.logHolder.SetLogger(logger)
	b.fetcher.SetLogger(logger)
	b.emitter.SetLogger(logger)
	b.poller.SetLogger(logger)
	b.executor.SetLogger(logger)
	b.health.SetLogger(logger)
}
