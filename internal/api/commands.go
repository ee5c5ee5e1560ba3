package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nerrad567/gray-logic-flyport/internal/bridges/flyport"
)

// commandSourceAPI marks commands submitted over HTTP in the command log.
const commandSourceAPI = "api"

// handleCommand runs a command against a board and returns its
// acknowledgement. The body has the same shape as an MQTT command.
//
//	POST /api/v1/commands
//	{"address": "192.168.0.115:80:2", "command": "RELAY", "expected_reply": "OK"}
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var msg flyport.CommandMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if msg.Address == "" && msg.Properties[flyport.KeyAddress] == "" {
		writeBadRequest(w, "address is required")
		return
	}
	if msg.Command == "" && msg.Properties[flyport.KeyCommand] == "" {
		writeBadRequest(w, "command is required")
		return
	}
	if msg.Source == "" {
		msg.Source = commandSourceAPI
	}

	// A client that disconnects does not abort a command already sent.
	ack := s.bridge.ExecuteCommand(context.WithoutCancel(r.Context()), msg)
	writeJSON(w, ackHTTPStatus(ack), ack)
}

// ackHTTPStatus maps an acknowledgement to a response code: 200 when
// accepted, 422 for a command the bridge cannot build, 503 while the
// bridge is stopping, 502 when the board failed.
func ackHTTPStatus(ack flyport.AckMessage) int {
	if ack.Accepted() {
		return http.StatusOK
	}
	if ack.Error == nil {
		return http.StatusBadGateway
	}
	switch ack.Error.Code {
	case flyport.ErrCodeAddressFormat, flyport.ErrCodeInvalidCommand:
		return http.StatusUnprocessableEntity
	case flyport.ErrCodeBridgeStopping:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
