package transport

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sweetspace/internal/config"
)

// Channel labels and pre-negotiated stream ids.
const (
	reliableLabel   = "reliable"
	unreliableLabel = "unreliable"

	reliableID   uint16 = 0
	unreliableID uint16 = 1
)

// newAPI builds a pion API whose ICE timeouts decide how quickly a silent
// peer is declared lost.
func newAPI(cfg config.Transport) *webrtc.API {
	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(cfg.DisconnectTimeout, cfg.FailedTimeout, cfg.KeepAlive)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settings))
}

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers. No TURN: links are direct or they fail.
func newPeerConnection(api *webrtc.API, stunServers []string) (*webrtc.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return api.NewPeerConnection(cfg)
}

// newDataChannels creates the two pre-negotiated DataChannels every link
// carries. Negotiated mode lets both sides create them independently
// without relying on OnDataChannel. The reliable channel is ordered with
// unlimited retransmits; the unreliable one is unordered and never
// retransmits, so a stale position update is never delivered late.
func newDataChannels(pc *webrtc.PeerConnection) (reliable, unreliable *webrtc.DataChannel, err error) {
	negotiated := true

	ordered := true
	id := reliableID
	reliable, err = pc.CreateDataChannel(reliableLabel, &webrtc.DataChannelInit{
		Ordered:    &ordered,
		Negotiated: &negotiated,
		ID:         &id,
	})
	if err != nil {
		return nil, nil, err
	}

	unordered := false
	retransmits := uint16(0)
	uid := unreliableID
	unreliable, err = pc.CreateDataChannel(unreliableLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &retransmits,
		Negotiated:     &negotiated,
		ID:             &uid,
	})
	if err != nil {
		return nil, nil, err
	}

	return reliable, unreliable, nil
}
