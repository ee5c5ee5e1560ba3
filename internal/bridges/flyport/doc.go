// Package flyport bridges Flyport relay/sensor boards onto the MQTT bus.
//
// Each configured board exposes its line states as /status.xml and accepts
// control messages over a raw TCP socket. The bridge has two independent
// paths that share only the ConnectionManager:
//
//	read:    Poller -> StatusFetcher -> Diff -> Emitter -> MQTT + observers
//	control: MQTT/HTTP command -> Bridge -> Executor -> board socket
//
// Runtime line state is owned by the single polling goroutine and is never
// shared; readers observe board status through Poller.Statuses, which is a
// copy guarded by its own mutex.
//
// MQTT topics:
//   - graylogic/state/flyport/{host:port:line}  line change events (QoS 1)
//   - graylogic/command/flyport/#              inbound commands
//   - graylogic/ack/flyport/{address}          command acknowledgements
//   - graylogic/health/flyport                 retained health status
package flyport
