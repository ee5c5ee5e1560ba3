package mqtt

import "fmt"

// TopicRoot is the first level of every topic the bridge uses.
//
// Bridge topics are flat: graylogic/{category}/{protocol}/{address}.
const TopicRoot = "graylogic"

// Topics builds the topic strings used between the bridge and the rest of
// the system.
//
//	Topics{}.BridgeState("flyport", "192.168.0.115:80:2")
//	// graylogic/state/flyport/192.168.0.115:80:2
type Topics struct{}

// BridgeState is where line change events are published.
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicRoot, protocol, address)
}

// BridgeCommand is where commands for one board line arrive.
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicRoot, protocol, address)
}

// BridgeAck is where command acknowledgements are published.
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicRoot, protocol, address)
}

// BridgeHealth carries the retained health message of a bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicRoot, protocol)
}

// AllBridgeCommands subscribes to every command for one protocol.
func (Topics) AllBridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/#", TopicRoot, protocol)
}

// AllBridgeStates subscribes to every state event for one protocol.
func (Topics) AllBridgeStates(protocol string) string {
	return fmt.Sprintf("%s/state/%s/#", TopicRoot, protocol)
}

// SystemStatus carries the retained online/offline status of the process.
func (Topics) SystemStatus() string {
	return TopicRoot + "/system/status"
}
