package oob

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/crystal-mush/mushscript/pkg/events"
)

func TestPackageMapping(t *testing.T) {
	tests := []struct {
		evType events.EventType
		want   string
	}{
		{events.EvSay, "Comm.Room.Text"},
		{events.EvEmit, "Comm.Room.Text"},
		{events.EvOutput, "Script.Output"},
		{events.EvFault, "Script.Fault"},
		{events.EvConnect, "Char.Login"},
		{events.EvText, ""},
	}
	for _, tt := range tests {
		if got := Package(tt.evType); got != tt.want {
			t.Errorf("Package(%v) = %q, want %q", tt.evType, got, tt.want)
		}
	}
}

func TestEncodeEvent(t *testing.T) {
	ev := events.Event{
		Type:   events.EvSay,
		Source: "p1",
		Room:   "r1",
		Text:   `Bob says, "hello"`,
		Data:   map[string]any{"message": "hello"},
	}
	buf := EncodeEvent(ev)
	if buf == nil {
		t.Fatal("expected GMCP data")
	}
	if buf[0] != IAC || buf[1] != SB || buf[2] != TeloptGMCP {
		t.Error("bad GMCP prefix")
	}
	if buf[len(buf)-2] != IAC || buf[len(buf)-1] != SE {
		t.Error("bad GMCP suffix")
	}
	pkg, data := ParseMessage(buf[3 : len(buf)-2])
	if pkg != "Comm.Room.Text" {
		t.Errorf("package = %q", pkg)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("GMCP JSON invalid: %v", err)
	}
	if msg["message"] != "hello" || msg["source"] != "p1" || msg["room"] != "r1" || msg["text"] != ev.Text {
		t.Errorf("payload = %v", msg)
	}
}

func TestEncodeEventUnmapped(t *testing.T) {
	if buf := EncodeEvent(events.Event{Type: events.EvText, Text: "hello"}); buf != nil {
		t.Error("expected nil for event with no GMCP mapping")
	}
}

func TestParseMessage(t *testing.T) {
	pkg, data := ParseMessage([]byte(`Core.Hello {"client":"Mudlet"}`))
	if pkg != "Core.Hello" || string(data) != `{"client":"Mudlet"}` {
		t.Errorf("got %q %q", pkg, data)
	}
	pkg, data = ParseMessage([]byte("Core.Ping"))
	if pkg != "Core.Ping" || data != nil {
		t.Errorf("got %q %q", pkg, data)
	}
}

func TestStrip(t *testing.T) {
	in := "look" + string([]byte{IAC, DO, TeloptGMCP}) + " here\r" +
		string([]byte{IAC, SB, TeloptGMCP}) + "Core.Ping" + string([]byte{IAC, SE}) + "!"
	text, gmcp := Strip(in)
	if text != "look here!" {
		t.Errorf("text = %q", text)
	}
	if len(gmcp) != 1 || string(gmcp[0]) != "Core.Ping" {
		t.Errorf("gmcp = %q", gmcp)
	}

	text, gmcp = Strip("plain\ttext")
	if text != "plain\ttext" || gmcp != nil {
		t.Errorf("plain = %q %q", text, gmcp)
	}
}

func TestNegotiateAccepted(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		buf := make([]byte, 3)
		client.Read(buf)
		client.Write(append([]byte{IAC, DO, TeloptGMCP}, "connect"...))
	}()
	ok, rest := Negotiate(server, time.Second)
	if !ok {
		t.Error("GMCP not negotiated")
	}
	if string(rest) != "connect" {
		t.Errorf("rest = %q", rest)
	}
}

func TestNegotiateTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		buf := make([]byte, 3)
		client.Read(buf)
		client.Write([]byte("hello\n"))
	}()
	ok, rest := Negotiate(server, 100*time.Millisecond)
	if ok {
		t.Error("GMCP negotiated without DO")
	}
	if !strings.HasPrefix(string(rest), "hello") {
		t.Errorf("rest = %q", rest)
	}
}
