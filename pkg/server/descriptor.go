package server

import (
	"bufio"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/oob"
)

// TransportType identifies the kind of transport a Descriptor uses.
type TransportType int

const (
	TransportTCP       TransportType = iota // line protocol
	TransportWebSocket                      // JSON-RPC over websocket
)

func (t TransportType) String() string {
	if t == TransportWebSocket {
		return "websocket"
	}
	return "tcp"
}

// ConnState tracks the state of a connection.
type ConnState int

const (
	ConnLogin     ConnState = iota // awaiting connect/create
	ConnConnected                  // logged in as a player
)

// Descriptor represents a single client session.
// It implements events.Subscriber so it can receive events from the bus.
type Descriptor struct {
	ID        int
	Conn      net.Conn
	Reader    *bufio.Reader
	State     ConnState
	Player    string // entity id, "" before login
	Addr      string
	ConnTime  time.Time
	LastCmd   time.Time
	Retries   int
	CmdCount  int
	BytesSent int
	Transport TransportType
	GMCP      atomic.Bool // line session negotiated GMCP

	// SendFunc overrides the default line write (websocket sessions).
	SendFunc func(msg string)
	// ReceiveFunc overrides the default event-to-text delivery.
	ReceiveFunc func(ev events.Event)

	mu     sync.Mutex
	closed bool
}

// NewDescriptor wraps a net.Conn into a Descriptor.
func NewDescriptor(id int, conn net.Conn) *Descriptor {
	now := time.Now()
	return &Descriptor{
		ID:       id,
		Conn:     conn,
		Reader:   bufio.NewReaderSize(conn, 4096),
		State:    ConnLogin,
		Addr:     conn.RemoteAddr().String(),
		ConnTime: now,
		LastCmd:  now,
		Retries:  3,
	}
}

// Send writes a line to the client.
func (d *Descriptor) Send(msg string) {
	if d.SendFunc != nil {
		d.SendFunc(msg)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\r\n"
	}
	d.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	n, _ := d.Conn.Write([]byte(msg))
	d.BytesSent += n
}

// SendRaw writes bytes as-is, for telnet subnegotiations.
func (d *Descriptor) SendRaw(data []byte) {
	if d.SendFunc != nil || len(data) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	n, _ := d.Conn.Write(data)
	d.BytesSent += n
}

// Close shuts down the connection.
func (d *Descriptor) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		if d.Conn != nil {
			d.Conn.Close()
		}
	}
}

// IsClosed returns whether the connection has been closed.
func (d *Descriptor) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Receive implements events.Subscriber.
func (d *Descriptor) Receive(ev events.Event) {
	if d.ReceiveFunc != nil {
		d.ReceiveFunc(ev)
		return
	}
	if ev.Text != "" {
		d.Send(ev.Text)
	}
	if d.GMCP.Load() {
		d.SendRaw(oob.EncodeEvent(ev))
	}
}

// Closed implements events.Subscriber.
func (d *Descriptor) Closed() bool {
	return d.IsClosed()
}

var _ events.Subscriber = (*Descriptor)(nil)

// nullConn is a no-op net.Conn for sessions without a socket.
type nullConn struct{}

func (nullConn) Read([]byte) (int, error)         { return 0, fmt.Errorf("no connection") }
func (nullConn) Write(b []byte) (int, error)      { return len(b), nil }
func (nullConn) Close() error                     { return nil }
func (nullConn) LocalAddr() net.Addr              { return nil }
func (nullConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (nullConn) SetDeadline(time.Time) error      { return nil }
func (nullConn) SetReadDeadline(time.Time) error  { return nil }
func (nullConn) SetWriteDeadline(time.Time) error { return nil }

// ConnManager tracks all active sessions.
type ConnManager struct {
	mu          sync.RWMutex
	descriptors map[int]*Descriptor
	nextID      int
	byPlayer    map[string][]*Descriptor
	bus         *events.Bus
}

// NewConnManager creates a connection manager that subscribes logged-in
// sessions to bus.
func NewConnManager(bus *events.Bus) *ConnManager {
	return &ConnManager{
		descriptors: make(map[int]*Descriptor),
		byPlayer:    make(map[string][]*Descriptor),
		nextID:      1,
		bus:         bus,
	}
}

// Add registers a new descriptor.
func (cm *ConnManager) Add(d *Descriptor) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.descriptors[d.ID] = d
}

// Remove unregisters a descriptor and unsubscribes it from the bus.
func (cm *ConnManager) Remove(d *Descriptor) {
	if cm.bus != nil && d.Player != "" {
		cm.bus.Unsubscribe(d.Player, d)
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.descriptors, d.ID)
	if d.Player == "" {
		return
	}
	descs := cm.byPlayer[d.Player]
	for i, dd := range descs {
		if dd.ID == d.ID {
			cm.byPlayer[d.Player] = append(descs[:i:i], descs[i+1:]...)
			break
		}
	}
	if len(cm.byPlayer[d.Player]) == 0 {
		delete(cm.byPlayer, d.Player)
	}
}

// Login associates a descriptor with a player and subscribes it to the bus.
func (cm *ConnManager) Login(d *Descriptor, player string) {
	cm.mu.Lock()
	d.State = ConnConnected
	d.Player = player
	cm.byPlayer[player] = append(cm.byPlayer[player], d)
	cm.mu.Unlock()
	if cm.bus != nil {
		cm.bus.Subscribe(player, d)
	}
}

// NextID returns the next descriptor ID.
func (cm *ConnManager) NextID() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	id := cm.nextID
	cm.nextID++
	return id
}

// IsConnected returns true if the player has at least one session.
func (cm *ConnManager) IsConnected(player string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.byPlayer[player]) > 0
}

// ConnectedPlayers returns the ids of logged-in players, sorted.
func (cm *ConnManager) ConnectedPlayers() []string {
	cm.mu.RLock()
	players := make([]string, 0, len(cm.byPlayer))
	for p := range cm.byPlayer {
		players = append(players, p)
	}
	cm.mu.RUnlock()
	sort.Strings(players)
	return players
}

// AllDescriptors returns a snapshot of all sessions ordered by id.
func (cm *ConnManager) AllDescriptors() []*Descriptor {
	cm.mu.RLock()
	descs := make([]*Descriptor, 0, len(cm.descriptors))
	for _, d := range cm.descriptors {
		descs = append(descs, d)
	}
	cm.mu.RUnlock()
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	return descs
}

// Count returns the number of active sessions.
func (cm *ConnManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.descriptors)
}

// SessionCounts returns logged-in sessions per transport.
func (cm *ConnManager) SessionCounts() (tcp, ws int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for _, descs := range cm.byPlayer {
		for _, d := range descs {
			if d.Transport == TransportWebSocket {
				ws++
			} else {
				tcp++
			}
		}
	}
	return tcp, ws
}

// SendToPlayer sends a line to all of a player's sessions.
func (cm *ConnManager) SendToPlayer(player, msg string) {
	cm.mu.RLock()
	descs := append([]*Descriptor(nil), cm.byPlayer[player]...)
	cm.mu.RUnlock()
	for _, d := range descs {
		d.Send(msg)
	}
}

// FormatIdleTime formats a duration as a human-readable idle time.
func FormatIdleTime(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	if secs < 3600 {
		return fmt.Sprintf("%dm", secs/60)
	}
	if secs < 86400 {
		return fmt.Sprintf("%dh", secs/3600)
	}
	return fmt.Sprintf("%dd", secs/86400)
}

// FormatConnTime formats a duration as connection time.
func FormatConnTime(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", secs/3600, (secs%3600)/60)
}
