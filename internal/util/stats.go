package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide traffic/link counter.
var Stats = &stats{}

type stats struct {
	LinksOpened atomic.Int64 // cumulative count of direct links opened since process start
	LinksClosed atomic.Int64 // cumulative count of direct links closed since process start
	MsgsSent    atomic.Int64 // cumulative messages handed to a link
	MsgsRecv    atomic.Int64 // cumulative messages read from a link
	BytesSent   atomic.Int64 // cumulative bytes handed to a link
	BytesRecv   atomic.Int64 // cumulative bytes read from a link
	Dropped     atomic.Int64 // messages dropped before reaching the wire
}

func (s *stats) AddLink()    { s.LinksOpened.Add(1) }
func (s *stats) RemoveLink() { s.LinksClosed.Add(1) }
func (s *stats) AddDropped() { s.Dropped.Add(1) }

func (s *stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevSent, prevRecv, prevMsgsSent, prevMsgsRecv, prevOpened, prevClosed int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.LinksOpened.Load()
				closed := Stats.LinksClosed.Load()
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				msgsSent := Stats.MsgsSent.Load()
				msgsRecv := Stats.MsgsRecv.Load()

				outS := float64(sent-prevSent) / secs
				inS := float64(recv-prevRecv) / secs
				outM := float64(msgsSent-prevMsgsSent) / secs
				inM := float64(msgsRecv-prevMsgsRecv) / secs
				upL := opened - prevOpened
				downL := closed - prevClosed

				if upL > 0 || downL > 0 || inM > 0 || outM > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inM, outM, upL, downL))
				}

				prevSent = sent
				prevRecv = recv
				prevMsgsSent = msgsSent
				prevMsgsRecv = msgsRecv
				prevOpened = opened
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS, inM, outM float64, upL, downL int64) string {
	return fmt.Sprintf("In: %s/s %5.1f msg/s | Out: %s/s %5.1f msg/s | Links: %2d↑ %2d↓",
		formatBytes(inS),
		inM,
		formatBytes(outS),
		outM,
		upL,
		downL,
	)
}
