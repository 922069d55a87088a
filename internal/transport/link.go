package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sweetspace/internal/util"
)

// linkHooks receives a link's lifecycle callbacks. They run on pion
// goroutines.
type linkHooks struct {
	onOpen    func(l *link)
	onMessage func(l *link, data []byte, reliable bool)
	onDown    func(l *link)
}

// link wraps a single PeerConnection and its two DataChannels.
//
// Its lifecycle is governed by the reliable DataChannel and the
// PeerConnection state: the link is up once the reliable channel opens and
// down as soon as either the channel closes or the connection fails.
type link struct {
	peer     Address
	incoming bool

	pc         *webrtc.PeerConnection
	reliable   *webrtc.DataChannel
	unreliable *webrtc.DataChannel

	reliableOut   *sender
	unreliableOut *sender

	reliableOpen   chan struct{}
	unreliableOpen chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// opened is guarded by the owning handle's mutex.
	opened bool
}

// newLink creates a link backed by a new PeerConnection and the
// pre-negotiated channel pair.
func newLink(ctx context.Context, h *WebRTC, peer Address, incoming bool, hooks linkHooks) (*link, error) {
	pc, err := newPeerConnection(h.api, h.cfg.STUNServers)
	if err != nil {
		return nil, err
	}

	reliable, unreliable, err := newDataChannels(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	lCtx, lCancel := context.WithCancel(ctx)

	l := &link{
		peer:           peer,
		incoming:       incoming,
		pc:             pc,
		reliable:       reliable,
		unreliable:     unreliable,
		reliableOpen:   make(chan struct{}),
		unreliableOpen: make(chan struct{}),
		ctx:            lCtx,
		cancel:         lCancel,
	}

	// DC open gates.
	var reliableOnce, unreliableOnce sync.Once
	reliable.OnOpen(func() {
		reliableOnce.Do(func() { close(l.reliableOpen) })
		hooks.onOpen(l)
	})
	unreliable.OnOpen(func() {
		unreliableOnce.Do(func() { close(l.unreliableOpen) })
	})

	reliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		hooks.onMessage(l, msg.Data, true)
	})
	unreliable.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.Stats.AddRecv(len(msg.Data))
		hooks.onMessage(l, msg.Data, false)
	})

	// Reliable DC close → link down.
	reliable.OnClose(func() {
		util.LogDebug("reliable channel to %s closed", util.PeerTag(string(peer)))
		hooks.onDown(l)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection to %s: %s", util.PeerTag(string(peer)), state.String())
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			hooks.onDown(l)
		}
	})

	// Start the sender goroutines.
	l.reliableOut = newSender(lCtx, reliable, l.reliableOpen, h.cfg.SendQueue, false)
	l.unreliableOut = newSender(lCtx, unreliable, l.unreliableOpen, h.cfg.SendQueue, true)

	return l, nil
}

// send enqueues data on the requested channel.
func (l *link) send(data []byte, reliable bool) error {
	if reliable {
		return l.reliableOut.send(data)
	}
	return l.unreliableOut.send(data)
}

// close shuts down both DataChannels and the PeerConnection.
func (l *link) close() error {
	l.cancel()
	return errors.Join(l.reliable.Close(), l.unreliable.Close(), l.pc.Close())
}
