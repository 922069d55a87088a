package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Handle = (*MemoryHandle)(nil)

// MemoryNetwork is an in-process network with a built-in rendezvous server,
// for tests. Every operation takes effect immediately and its events are
// visible to the next Receive, so runs are fully deterministic.
type MemoryNetwork struct {
	mu             sync.Mutex
	handles        map[Address]*MemoryHandle
	rooms          map[string]Address // room code → host
	nextHandle     int
	nextRoom       int
	pendingCodes   []string
	serverDown     bool
	dropUnreliable bool
}

// MemoryHandle is one peer on a MemoryNetwork.
type MemoryHandle struct {
	net      *MemoryNetwork
	id       Address
	opts     Options
	onServer bool
	closed   bool
	links    map[Address]bool // peer → link was opened by the peer
	events   []Event
}

// NewMemoryNetwork creates an empty network with a reachable server.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		handles: make(map[Address]*MemoryHandle),
		rooms:   make(map[string]Address),
	}
}

// Dial creates a handle. It satisfies DialFunc.
func (n *MemoryNetwork) Dial(opts Options) (Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextHandle++
	h := &MemoryHandle{
		net:   n,
		id:    Address(fmt.Sprintf("mem-%d", n.nextHandle)),
		opts:  opts,
		links: make(map[Address]bool),
	}
	n.handles[h.id] = h

	if n.serverDown {
		h.post(Event{Kind: ServerLost})
	} else {
		h.onServer = true
		h.post(Event{Kind: ServerConnected})
	}
	return h, nil
}

// SetNextRoomCode queues a room code for the next RegisterRoom.
func (n *MemoryNetwork) SetNextRoomCode(code string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pendingCodes = append(n.pendingCodes, code)
}

// SetServerReachable toggles the rendezvous server. Taking it down drops
// every server connection and room.
func (n *MemoryNetwork) SetServerReachable(up bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.serverDown = !up
	if up {
		return
	}
	for _, h := range n.sortedHandles() {
		if h.onServer {
			h.onServer = false
			h.post(Event{Kind: ServerLost})
		}
	}
	n.rooms = make(map[string]Address)
}

// SetDropUnreliable makes every unreliable send vanish.
func (n *MemoryNetwork) SetDropUnreliable(drop bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropUnreliable = drop
}

// Sever breaks the link between a and b as a network fault would: both
// sides see Disconnected.
func (n *MemoryNetwork) Sever(a, b Address) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ha, hb := n.handles[a], n.handles[b]
	if ha == nil || hb == nil {
		return
	}
	if _, ok := ha.links[b]; !ok {
		return
	}
	delete(ha.links, b)
	delete(hb.links, a)
	ha.post(Event{Kind: Disconnected, Peer: b})
	hb.post(Event{Kind: Disconnected, Peer: a})
}

// Linked reports whether a and b share a link.
func (n *MemoryNetwork) Linked(a, b Address) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := n.handles[a]
	if h == nil {
		return false
	}
	_, ok := h.links[b]
	return ok
}

// Handles returns the number of open handles.
func (n *MemoryNetwork) Handles() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handles)
}

func (n *MemoryNetwork) sortedHandles() []*MemoryHandle {
	ids := make([]string, 0, len(n.handles))
	for id := range n.handles {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]*MemoryHandle, len(ids))
	for i, id := range ids {
		out[i] = n.handles[Address(id)]
	}
	return out
}

func (n *MemoryNetwork) roomCode() string {
	if len(n.pendingCodes) > 0 {
		code := n.pendingCodes[0]
		n.pendingCodes = n.pendingCodes[1:]
		return code
	}
	for {
		n.nextRoom++
		code := fmt.Sprintf("R%04d", n.nextRoom%10000)
		if _, used := n.rooms[code]; !used {
			return code
		}
	}
}

// live returns the open handle at addr, or nil.
func (n *MemoryNetwork) live(addr Address) *MemoryHandle {
	h := n.handles[addr]
	if h == nil || h.closed {
		return nil
	}
	return h
}

// ---------------------------------------------------------------------------
// Handle
// ---------------------------------------------------------------------------

func (h *MemoryHandle) post(ev Event) {
	h.events = append(h.events, ev)
}

func (h *MemoryHandle) ID() Address { return h.id }

func (h *MemoryHandle) RegisterRoom() {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	if !h.reachable() {
		return
	}

	code := h.net.roomCode()
	h.net.rooms[code] = h.id
	h.post(Event{Kind: RoomAssigned, Room: code})
}

func (h *MemoryHandle) ResolveRoom(room string) {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	if !h.reachable() {
		return
	}

	host, ok := h.net.rooms[room]
	if !ok {
		h.post(Event{Kind: RoomNotFound, Room: room})
		return
	}
	h.post(Event{Kind: RoomResolved, Room: room, Peer: host})
}

func (h *MemoryHandle) OpenNAT(target Address) {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	if !h.reachable() {
		return
	}

	t := h.net.live(target)
	if t == nil || !t.onServer {
		h.post(Event{Kind: PunchFailed, Peer: target})
		return
	}
	h.post(Event{Kind: PunchSucceeded, Peer: target})
	t.post(Event{Kind: PunchSucceeded, Peer: h.id})
}

// reachable posts ServerLost when the handle has no server connection.
func (h *MemoryHandle) reachable() bool {
	if h.closed {
		return false
	}
	if !h.onServer {
		h.post(Event{Kind: ServerLost})
		return false
	}
	return true
}

func (h *MemoryHandle) LeaveServer() {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	h.leaveServer()
}

func (h *MemoryHandle) leaveServer() {
	h.onServer = false
	for code, host := range h.net.rooms {
		if host == h.id {
			delete(h.net.rooms, code)
		}
	}
}

func (h *MemoryHandle) Connect(target Address) {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	if h.closed {
		return
	}

	t := h.net.live(target)
	if t == nil {
		h.post(Event{Kind: ConnectionFailed, Peer: target})
		return
	}
	if _, ok := h.links[target]; ok {
		h.post(Event{Kind: ConnectionAccepted, Peer: target})
		return
	}
	if t.incoming() >= t.opts.MaxIncoming {
		h.post(Event{Kind: NoFreeIncoming, Peer: target})
		return
	}

	h.links[target] = false
	t.links[h.id] = true
	h.post(Event{Kind: ConnectionAccepted, Peer: target})
	t.post(Event{Kind: IncomingConnection, Peer: h.id})
}

func (h *MemoryHandle) incoming() int {
	n := 0
	for _, in := range h.links {
		if in {
			n++
		}
	}
	return n
}

func (h *MemoryHandle) Send(data []byte, dest Address, reliable bool) error {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if _, ok := h.links[dest]; !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, dest)
	}
	if !reliable && h.net.dropUnreliable {
		return nil
	}

	t := h.net.live(dest)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, dest)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.post(Event{Kind: Data, Peer: h.id, Data: buf, Reliable: reliable})
	return nil
}

func (h *MemoryHandle) CloseConnection(peer Address) {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	h.unlink(peer)
}

func (h *MemoryHandle) unlink(peer Address) {
	if _, ok := h.links[peer]; !ok {
		return
	}
	delete(h.links, peer)
	if t := h.net.handles[peer]; t != nil {
		delete(t.links, h.id)
		t.post(Event{Kind: Disconnected, Peer: h.id})
	}
}

func (h *MemoryHandle) Receive() []Event {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()
	events := h.events
	h.events = nil
	return events
}

func (h *MemoryHandle) Close() error {
	h.net.mu.Lock()
	defer h.net.mu.Unlock()

	if h.closed {
		return nil
	}
	h.leaveServer()
	peers := make([]string, 0, len(h.links))
	for p := range h.links {
		peers = append(peers, string(p))
	}
	sort.Strings(peers)
	for _, p := range peers {
		h.unlink(Address(p))
	}
	h.closed = true
	h.events = nil
	delete(h.net.handles, h.id)
	return nil
}
