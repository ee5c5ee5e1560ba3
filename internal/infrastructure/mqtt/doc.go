// Package mqtt connects the Flyport bridge to the MQTT bus.
//
// The bridge publishes line change events and command acknowledgements and
// subscribes to inbound commands. The client wraps eclipse/paho.mqtt.golang
// and adds:
//   - subscription tracking restored on reconnect
//   - a retained online/offline status with a Last Will for crashes
//   - panic recovery around message handlers
//
// Topics are flat: graylogic/{category}/{protocol}/{address}. Use Topics{}
// to build them.
package mqtt
