package registry

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// FireCommand is the message a schedule timer posts when it fires. The
// timer goroutine only posts and rearms; the executor goroutine does the
// actual dispatch, so slow submissions never delay the schedule cadence.
type FireCommand struct {
	ScheduleID string
	FiredAt    time.Time
}

// InboxStats tracks fire-command channel usage
type InboxStats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// Inbox is the buffered channel between schedule timers and the executor
type Inbox struct {
	ch      chan FireCommand
	timeout time.Duration
	logger  *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	timeouts atomic.Int64
	maxDepth atomic.Int64
}

// NewInbox creates an inbox with the given buffer size and send timeout
func NewInbox(bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox {
	return &Inbox{
		ch:      make(chan FireCommand, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send posts a fire command, giving up after the send timeout. A false
// return means the executor is hopelessly behind and the fire was dropped.
func (ib *Inbox) Send(cmd FireCommand) bool {
	select {
	case ib.ch <- cmd:
		ib.sent.Add(1)
		if depth := int64(len(ib.ch)); depth > ib.maxDepth.Load() {
			ib.maxDepth.Store(depth)
		}
		return true
	case <-time.After(ib.timeout):
		ib.timeouts.Add(1)
		ib.logger.Warn("fire command dropped, inbox send timed out",
			"schedule_id", cmd.ScheduleID,
			"timeout", ib.timeout,
			"depth", len(ib.ch))
		return false
	}
}

// Chan exposes the receive side for the executor's range loop. Each
// received command must be accounted with Received.
func (ib *Inbox) Chan() <-chan FireCommand {
	return ib.ch
}

// Received records one consumed command
func (ib *Inbox) Received() {
	ib.received.Add(1)
}

// Close closes the channel; the executor's range loop then drains and exits
func (ib *Inbox) Close() {
	close(ib.ch)
}

// Len returns the number of buffered commands
func (ib *Inbox) Len() int {
	return len(ib.ch)
}

// Stats returns a snapshot of the inbox counters
func (ib *Inbox) Stats() InboxStats {
	return InboxStats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		TimeoutCount:  ib.timeouts.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepth.Load()),
	}
}
