package wire

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus is a named, bounded, fire-and-forget channel between two components.
// Send never blocks: when the receiver lags and the buffer fills, the
// envelope is dropped and counted. There is no delivery guarantee anywhere
// in the pipeline; the heuristics re-fire on the next scan pass.
type Bus struct {
	name    string
	ch      chan Envelope
	logger  *slog.Logger
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewBus creates a bus with the given buffer capacity.
func NewBus(name string, capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		name:   name,
		ch:     make(chan Envelope, capacity),
		logger: logger,
	}
}

// Send enqueues an envelope without blocking. Returns false when the
// envelope was dropped, either because the buffer is full or the bus is
// closed. Drops are logged at WARN with the message type so a stalled
// receiver is visible in the logs.
func (b *Bus) Send(env Envelope) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("bus: send on closed bus",
			"bus", b.name, "type", string(env.Type))
		return false
	}

	select {
	case b.ch <- env:
		b.mu.Unlock()
		return true
	default:
		b.mu.Unlock()
		n := b.dropped.Add(1)
		b.logger.Warn("bus: buffer full, dropping message",
			"bus", b.name, "type", string(env.Type), "dropped_total", n)
		return false
	}
}

// Receive returns the consumer side. The channel closes when Close is
// called; consumers range over it.
func (b *Bus) Receive() <-chan Envelope {
	return b.ch
}

// Dropped reports how many envelopes were discarded since creation.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close shuts the bus. Subsequent Sends are dropped. Safe to call twice.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
