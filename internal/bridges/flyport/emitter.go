package flyport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultEventQueueSize = 256
	observerTimeout       = 5 * time.Second
)

// EventPublisher sends a payload to the bus. The MQTT client satisfies it.
type EventPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EventObserver receives every delivered event after it is published.
// History, telemetry and the live feed implement it. Errors are logged.
type EventObserver interface {
	ObserveEvent(ctx context.Context, e Event) error
}

// EmitterStats counts events through the emitter.
type EmitterStats struct {
	Emitted       uint64
	Delivered     uint64
	Dropped       uint64
	PublishErrors uint64
}

// EmitterConfig configures an Emitter.
type EmitterConfig struct {
	// Publisher may be nil, in which case events only reach observers.
	Publisher EventPublisher

	// QueueSize bounds the number of undelivered events. Default 256.
	QueueSize int

	Observers []EventObserver
}

// Emitter turns line changes into events and delivers them without
// blocking the caller. One worker drains a bounded FIFO queue, so events
// reach the bus in emission order. A full queue drops the event.
type Emitter struct {
	publisher EventPublisher
	queue     chan Event

	observers   []EventObserver
	observersMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	emitted       atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	publishErrors atomic.Uint64

	now func() time.Time
	logHolder
}

// NewEmitter returns an emitter. Call Start before Emit.
func NewEmitter(cfg EmitterConfig) *Emitter {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultEventQueueSize
	}
	return &Emitter{
		publisher: cfg.Publisher,
		queue:     make(chan Event, size),
		observers: append([]EventObserver(nil), cfg.Observers...),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// AddObserver registers o for subsequent events.
func (em *Emitter) AddObserver(o EventObserver) {
	em.observersMu.Lock()
	em.observers = append(em.observers, o)
	em.observersMu.Unlock()
}

// Start launches the delivery worker. Later calls do nothing.
func (em *Emitter) Start() {
	em.startOnce.Do(func() {
		em.wg.Add(1)
		go em.run()
	})
}

// Stop delivers what is already queued, then stops the worker. Events
// emitted after Stop are dropped.
func (em *Emitter) Stop() {
	em.stopOnce.Do(func() {
		close(em.done)
		em.wg.Wait()
	})
}

// Emit queues the event for change c on board b and returns immediately.
func (em *Emitter) Emit(b Board, c Change) {
	e := NewEvent(b, c, em.now())

	select {
	case <-em.done:
		em.dropped.Add(1)
		return
	default:
	}

	select {
	case em.queue <- e:
		em.emitted.Add(1)
	default:
		em.dropped.Add(1)
		em.logWarn("event queue full, dropping event", "address", e.Address)
	}
}

// Stats returns lifetime counters.
func (em *Emitter) Stats() EmitterStats {
	return EmitterStats{
		Emitted:       em.emitted.Load(),
		Delivered:     em.delivered.Load(),
		Dropped:       em.dropped.Load(),
		PublishErrors: em.publishErrors.Load(),
	}
}

func (em *Emitter) run() {
	defer em.wg.Done()
	for {
		select {
		case e := <-em.queue:
			em.deliver(e)
		case <-em.done:
			for {
				select {
				case e := <-em.queue:
					em.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (em *Emitter) deliver(e Event) {
	if em.publisher != nil {
		payload, err := json.Marshal(e)
		if err != nil {
			em.logError("failed to marshal event", err, "address", e.Address)
			return
		}
		if err := em.publisher.Publish(StateTopic(e.Address), payload, 1, false); err != nil {
			em.publishErrors.Add(1)
			em.logError("failed to publish event", err, "address", e.Address)
		}
	}

	em.observersMu.RLock()
	observers := em.observers
	em.observersMu.RUnlock()

	for _, o := range observers {
		ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
		if err := o.ObserveEvent(ctx, e); err != nil {
			em.logWarn("event observer failed", "address", e.Address, "error", err)
		}
		cancel()
	}

	em.delivered.Add(1)
	em.logDebug("line changed", "address", e.Address, "isOn", e.Properties[PropIsOn])
}
