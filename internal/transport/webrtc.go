package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sweetspace/internal/config"
	"github.com/1ureka/sweetspace/internal/rendezvous"
	"github.com/1ureka/sweetspace/internal/util"
)

// Compile-time interface check.
var _ Handle = (*WebRTC)(nil)

// WebRTC is a Handle backed by pion WebRTC. The rendezvous server doubles as
// the punchthrough introducer and the SDP relay; ICE with STUN does the
// actual hole punching. Offers carry fully gathered candidates (vanilla ICE)
// so one relayed message per direction is enough.
//
// All pion and WebSocket callbacks run on their own goroutines and only
// append to the event queue; the owner observes them through Receive.
type WebRTC struct {
	cfg  config.Transport
	opts Options
	id   Address
	api  *webrtc.API

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	events []Event
	ws     *websocket.Conn
	links  map[Address]*link
	closed bool

	// wsMu serializes writes to ws.
	wsMu sync.Mutex
}

// WebRTCDialer returns a DialFunc producing WebRTC handles.
func WebRTCDialer(cfg config.Transport) DialFunc {
	return func(opts Options) (Handle, error) {
		return DialWebRTC(cfg, opts)
	}
}

// DialWebRTC creates a handle with a fresh identifier and starts connecting
// to the rendezvous server in the background. ServerConnected or ServerLost
// reports the outcome.
func DialWebRTC(cfg config.Transport, opts Options) (*WebRTC, error) {
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid rendezvous URL %q: %w", cfg.ServerURL, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &WebRTC{
		cfg:    cfg,
		opts:   opts,
		id:     Address(uuid.NewString()),
		api:    newAPI(cfg),
		ctx:    ctx,
		cancel: cancel,
		links:  make(map[Address]*link),
	}

	go h.connectServer()

	return h, nil
}

func (h *WebRTC) post(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.events = append(h.events, ev)
}

// ---------------------------------------------------------------------------
// Rendezvous client
// ---------------------------------------------------------------------------

// connectServer dials the rendezvous WebSocket and starts the read loop.
func (h *WebRTC) connectServer() {
	u, _ := url.Parse(h.cfg.ServerURL)
	q := u.Query()
	q.Set(rendezvous.PeerParam, string(h.id))
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: h.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		util.LogWarning("failed to connect to rendezvous server: %v", err)
		h.post(Event{Kind: ServerLost})
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.ws = conn
	h.events = append(h.events, Event{Kind: ServerConnected})
	h.mu.Unlock()

	util.LogDebug("rendezvous connected as %s", util.PeerTag(string(h.id)))
	go h.readServer(conn)
}

// readServer turns rendezvous messages into events until conn closes.
func (h *WebRTC) readServer(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			h.mu.Lock()
			current := h.ws == conn
			if current {
				h.ws = nil
			}
			h.mu.Unlock()

			// A deliberate LeaveServer clears h.ws first and stays silent.
			if current {
				util.LogWarning("rendezvous connection lost: %v", err)
				h.post(Event{Kind: ServerLost})
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		msg, err := rendezvous.Unmarshal(data)
		if err != nil {
			util.LogWarning("dropping rendezvous frame: %v", err)
			continue
		}
		h.handleServer(msg)
	}
}

func (h *WebRTC) handleServer(msg *rendezvous.Message) {
	peer := Address(msg.Peer)

	switch msg.Op {
	case rendezvous.OpRoom:
		h.post(Event{Kind: RoomAssigned, Room: msg.Room})

	case rendezvous.OpResolved:
		h.post(Event{Kind: RoomResolved, Room: msg.Room, Peer: peer})

	case rendezvous.OpPunched:
		h.post(Event{Kind: PunchSucceeded, Peer: peer})

	case rendezvous.OpOffer:
		go h.answer(peer, msg.SDP)

	case rendezvous.OpAnswer:
		h.mu.Lock()
		l := h.links[peer]
		h.mu.Unlock()
		if l == nil || l.incoming {
			util.LogDebug("unexpected answer from %s", util.PeerTag(msg.Peer))
			return
		}
		if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  msg.SDP,
		}); err != nil {
			util.LogWarning("SetRemoteDescription for %s failed: %v", util.PeerTag(msg.Peer), err)
			h.linkDown(l)
		}

	case rendezvous.OpReject:
		if l := h.detach(peer); l != nil {
			go l.close()
		}
		h.post(Event{Kind: NoFreeIncoming, Peer: peer})

	case rendezvous.OpError:
		h.handleServerError(msg)

	default:
		util.LogDebug("ignoring rendezvous %s", msg.Op)
	}
}

func (h *WebRTC) handleServerError(msg *rendezvous.Message) {
	target := Address(msg.Target)

	switch msg.Ref {
	case rendezvous.OpResolve:
		h.post(Event{Kind: RoomNotFound, Room: msg.Room})
	case rendezvous.OpPunch:
		h.post(Event{Kind: PunchFailed, Peer: target})
	case rendezvous.OpOffer:
		if l := h.detach(target); l != nil {
			go l.close()
		}
		h.post(Event{Kind: ConnectionFailed, Peer: target})
	default:
		util.LogWarning("rendezvous error on %s: %s", msg.Ref, msg.Code)
	}
}

// sendServer writes one message to the rendezvous server. Without a server
// connection it queues ServerLost instead.
func (h *WebRTC) sendServer(msg *rendezvous.Message) {
	h.mu.Lock()
	conn := h.ws
	h.mu.Unlock()
	if conn == nil {
		h.post(Event{Kind: ServerLost})
		return
	}

	data, err := rendezvous.Marshal(msg)
	if err != nil {
		util.LogError("failed to encode %s: %v", msg.Op, err)
		return
	}

	h.wsMu.Lock()
	defer h.wsMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		util.LogWarning("rendezvous write failed: %v", err)
	}
}

func (h *WebRTC) ID() Address { return h.id }

func (h *WebRTC) RegisterRoom() {
	h.sendServer(&rendezvous.Message{Op: rendezvous.OpHost})
}

func (h *WebRTC) ResolveRoom(room string) {
	h.sendServer(&rendezvous.Message{Op: rendezvous.OpResolve, Room: room})
}

func (h *WebRTC) OpenNAT(target Address) {
	h.sendServer(&rendezvous.Message{Op: rendezvous.OpPunch, Target: string(target)})
}

func (h *WebRTC) LeaveServer() {
	h.mu.Lock()
	conn := h.ws
	h.ws = nil
	h.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// ---------------------------------------------------------------------------
// Links
// ---------------------------------------------------------------------------

func (h *WebRTC) hooks() linkHooks {
	return linkHooks{
		onOpen:    h.linkUp,
		onMessage: h.linkMessage,
		onDown:    h.linkDown,
	}
}

func (h *WebRTC) linkUp(l *link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.links[l.peer] != l || l.opened {
		return
	}
	l.opened = true
	util.Stats.AddLink()

	kind := ConnectionAccepted
	if l.incoming {
		kind = IncomingConnection
	}
	h.events = append(h.events, Event{Kind: kind, Peer: l.peer})
}

func (h *WebRTC) linkMessage(l *link, data []byte, reliable bool) {
	buf := make([]byte, len(data))
	copy(buf, data)
	h.post(Event{Kind: Data, Peer: l.peer, Data: buf, Reliable: reliable})
}

// linkDown reports a lost link once and releases it.
func (h *WebRTC) linkDown(l *link) {
	h.mu.Lock()
	if h.links[l.peer] != l {
		h.mu.Unlock()
		return
	}
	delete(h.links, l.peer)
	if !h.closed {
		switch {
		case l.opened:
			util.Stats.RemoveLink()
			h.events = append(h.events, Event{Kind: Disconnected, Peer: l.peer})
		case !l.incoming:
			h.events = append(h.events, Event{Kind: ConnectionFailed, Peer: l.peer})
		}
	}
	h.mu.Unlock()

	go l.close()
}

// detach removes the link to peer without reporting anything.
func (h *WebRTC) detach(peer Address) *link {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := h.links[peer]
	if l == nil {
		return nil
	}
	delete(h.links, peer)
	if l.opened {
		util.Stats.RemoveLink()
	}
	return l
}

// Connect creates an outgoing link and relays its offer.
func (h *WebRTC) Connect(target Address) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if existing := h.links[target]; existing != nil {
		if existing.opened {
			h.events = append(h.events, Event{Kind: ConnectionAccepted, Peer: target})
		}
		h.mu.Unlock()
		return
	}
	l, err := newLink(h.ctx, h, target, false, h.hooks())
	if err != nil {
		h.mu.Unlock()
		util.LogError("failed to create link to %s: %v", util.PeerTag(string(target)), err)
		h.post(Event{Kind: ConnectionFailed, Peer: target})
		return
	}
	h.links[target] = l
	h.mu.Unlock()

	go h.offer(l)
}

// offer runs the offering side of the exchange and arms the open deadline.
func (h *WebRTC) offer(l *link) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		util.LogError("CreateOffer: %v", err)
		h.linkDown(l)
		return
	}

	sdp, err := h.gather(l, offer)
	if err != nil {
		util.LogError("offer to %s: %v", util.PeerTag(string(l.peer)), err)
		h.linkDown(l)
		return
	}

	h.sendServer(&rendezvous.Message{Op: rendezvous.OpOffer, Target: string(l.peer), SDP: sdp})
	h.expire(l)
}

// answer runs the answering side for an offer relayed by the server.
func (h *WebRTC) answer(peer Address, offerSDP string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	var stale *link
	if existing := h.links[peer]; existing != nil {
		// A fresh offer from the same peer replaces the old link.
		delete(h.links, peer)
		stale = existing
		if existing.opened {
			util.Stats.RemoveLink()
			h.events = append(h.events, Event{Kind: Disconnected, Peer: peer})
		}
	}
	if h.incomingLocked() >= h.opts.MaxIncoming {
		h.mu.Unlock()
		if stale != nil {
			go stale.close()
		}
		util.LogInfo("rejecting link from %s: no free incoming slots", util.PeerTag(string(peer)))
		h.sendServer(&rendezvous.Message{Op: rendezvous.OpReject, Target: string(peer)})
		return
	}
	l, err := newLink(h.ctx, h, peer, true, h.hooks())
	if err != nil {
		h.mu.Unlock()
		util.LogError("failed to create link from %s: %v", util.PeerTag(string(peer)), err)
		return
	}
	h.links[peer] = l
	h.mu.Unlock()

	if stale != nil {
		go stale.close()
	}

	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		util.LogWarning("SetRemoteDescription from %s failed: %v", util.PeerTag(string(peer)), err)
		h.linkDown(l)
		return
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		util.LogError("CreateAnswer: %v", err)
		h.linkDown(l)
		return
	}

	sdp, err := h.gather(l, answer)
	if err != nil {
		util.LogError("answer to %s: %v", util.PeerTag(string(peer)), err)
		h.linkDown(l)
		return
	}

	h.sendServer(&rendezvous.Message{Op: rendezvous.OpAnswer, Target: string(peer), SDP: sdp})
	h.expire(l)
}

// gather applies the local description and waits for ICE gathering to
// complete, returning the SDP with every candidate embedded.
func (h *WebRTC) gather(l *link, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("SetLocalDescription: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(h.cfg.GatherTimeout):
		return "", fmt.Errorf("ICE gathering timed out after %s", h.cfg.GatherTimeout)
	case <-l.ctx.Done():
		return "", l.ctx.Err()
	}

	return l.pc.LocalDescription().SDP, nil
}

// expire tears the link down if it has not opened by the failure deadline.
func (h *WebRTC) expire(l *link) {
	deadline := h.cfg.FailedTimeout + h.cfg.GatherTimeout
	go func() {
		select {
		case <-l.reliableOpen:
		case <-l.ctx.Done():
		case <-time.After(deadline):
			util.LogWarning("link to %s did not open within %s", util.PeerTag(string(l.peer)), deadline)
			h.linkDown(l)
		}
	}()
}

func (h *WebRTC) incomingLocked() int {
	n := 0
	for _, l := range h.links {
		if l.incoming {
			n++
		}
	}
	return n
}

func (h *WebRTC) Send(data []byte, dest Address, reliable bool) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	l := h.links[dest]
	if l == nil || !l.opened {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, util.PeerTag(string(dest)))
	}
	h.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	return l.send(buf, reliable)
}

func (h *WebRTC) CloseConnection(peer Address) {
	if l := h.detach(peer); l != nil {
		go l.close()
	}
}

func (h *WebRTC) Receive() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := h.events
	h.events = nil
	return events
}

func (h *WebRTC) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.events = nil
	links := h.links
	h.links = make(map[Address]*link)
	conn := h.ws
	h.ws = nil
	h.mu.Unlock()

	h.cancel()

	var errs []error
	if conn != nil {
		errs = append(errs, conn.Close())
	}
	for _, l := range links {
		if l.opened {
			util.Stats.RemoveLink()
		}
		errs = append(errs, l.close())
	}
	return errors.Join(errs...)
}
