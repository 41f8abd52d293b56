package server

import (
	"encoding/json"
	"fmt"
)

// Inbound message types accepted from UI clients.
const (
	msgStart = "start"
	msgStop  = "stop"
	msgEdit  = "edit"
)

// inboundMessage is a control command from a UI client.
type inboundMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// stateMessage pushes the narration snapshot to UI clients.
type stateMessage struct {
	Type     string   `json:"type"` // "state"
	CanStart bool     `json:"canStart"`
	Speaking bool     `json:"speaking"`
	Segments []string `json:"segments"`
}

// errorMessage surfaces a playback problem to UI clients.
type errorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

func decodeInbound(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("malformed message: %w", err)
	}
	switch msg.Type {
	case msgStart, msgStop, msgEdit:
		return msg, nil
	default:
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}
}
