// Package oob sends structured GMCP (Generic MUD Communication Protocol)
// messages to telnet clients alongside normal text output.
package oob

import (
	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/events"
)

// Package maps event types to GMCP package names ("" for none).
func Package(evType events.EventType) string {
	switch evType {
	case events.EvSay, events.EvEmit:
		return "Comm.Room.Text"
	case events.EvOutput:
		return "Script.Output"
	case events.EvFault:
		return "Script.Fault"
	case events.EvConnect:
		return "Char.Login"
	case events.EvDisconnect:
		return "Char.Logout"
	case events.EvEntityUpdate:
		return "Entity.Update"
	default:
		return ""
	}
}

// Encode frames one GMCP message: IAC SB 201 <package> <space> <json> IAC SE.
func Encode(pkg string, data any) []byte {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	buf := make([]byte, 0, len(pkg)+len(payload)+6)
	buf = append(buf, IAC, SB, TeloptGMCP)
	buf = append(buf, pkg...)
	buf = append(buf, ' ')
	buf = append(buf, payload...)
	buf = append(buf, IAC, SE)
	return buf
}

// EncodeEvent encodes ev as GMCP, or returns nil when its type has no
// package. The message carries the event's source, room and text plus any
// structured data.
func EncodeEvent(ev events.Event) []byte {
	pkg := Package(ev.Type)
	if pkg == "" {
		return nil
	}
	msg := make(map[string]any, len(ev.Data)+3)
	for k, v := range ev.Data {
		msg[k] = v
	}
	if ev.Source != "" {
		msg["source"] = ev.Source
	}
	if ev.Room != "" {
		msg["room"] = ev.Room
	}
	if ev.Text != "" {
		msg["text"] = ev.Text
	}
	return Encode(pkg, msg)
}

// ParseMessage splits an incoming GMCP payload into package and JSON data.
func ParseMessage(data []byte) (pkg string, jsonData []byte) {
	for i, b := range data {
		if b == ' ' {
			return string(data[:i]), data[i+1:]
		}
	}
	return string(data), nil
}
