package events

// EventType classifies events for transport-specific encoding.
type EventType int

const (
	EvText         EventType = iota // Raw text (universal fallback)
	EvSay                           // Speech
	EvEmit                          // Room-wide message from a script
	EvOutput                        // Script output sent to one entity
	EvFault                         // Script fault reported to the caller
	EvConnect                       // Player connected
	EvDisconnect                    // Player disconnected
	EvEntityUpdate                  // Entity changed
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EvText:
		return "text"
	case EvSay:
		return "say"
	case EvEmit:
		return "emit"
	case EvOutput:
		return "output"
	case EvFault:
		return "fault"
	case EvConnect:
		return "connect"
	case EvDisconnect:
		return "disconnect"
	case EvEntityUpdate:
		return "entity_update"
	default:
		return "unknown"
	}
}

// Event is a structured game event that flows through the event bus.
// Line-oriented clients use Text; JSON-RPC clients get the full event.
type Event struct {
	Type   EventType      `json:"-"`
	Entity string         `json:"entity,omitempty"` // Recipient ("" for broadcast)
	Source string         `json:"source,omitempty"` // Who generated the event
	Room   string         `json:"room,omitempty"`   // Room context
	Text   string         `json:"text"`
	Data   map[string]any `json:"data,omitempty"`
}
