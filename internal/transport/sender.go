package transport

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/sweetspace/internal/util"
)

const (
	highWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// sender is a goroutine-based datagram writer that serializes all writes to
// a single DataChannel, adding open-gate and backpressure control. A lossy
// sender drops datagrams instead of waiting for the buffer to drain.
type sender struct {
	inbox       chan []byte
	drainSignal chan struct{}
	lossy       bool
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}, queue int, lossy bool) *sender {
	s := &sender{
		inbox:       make(chan []byte, queue),
		drainSignal: make(chan struct{}, 1),
		lossy:       lossy,
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send datagrams with backpressure.
	for {
		select {
		case data := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				if s.lossy {
					util.Stats.AddDropped()
					continue
				}
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(data); err != nil {
				util.LogError("failed to send on %s (%d bytes): %v", dc.Label(), len(data), err)
				return
			}

			util.Stats.AddSent(len(data))
		case <-ctx.Done():
			return
		}
	}
}

// send enqueues a datagram without blocking. A full queue drops the datagram
// on a lossy sender and reports ErrQueueFull otherwise.
func (s *sender) send(data []byte) error {
	select {
	case s.inbox <- data:
		return nil
	default:
	}
	if s.lossy {
		util.Stats.AddDropped()
		return nil
	}
	return ErrQueueFull
}
