package market

import "sync/atomic"

// TickSink receives ticks from a gateway stream.
type TickSink interface {
	Push(Tick)
}

// TickQueue is the bounded hand-off between gateway streams and the engine.
// When full, Push evicts the oldest queued tick so producers never block and
// consumers always see the freshest quotes.
type TickQueue struct {
	ch      chan Tick
	dropped atomic.Uint64
}

func NewTickQueue(size int) *TickQueue {
	if size < 1 {
		size = 1
	}
	return &TickQueue{ch: make(chan Tick, size)}
}

func (q *TickQueue) Push(t Tick) {
	for {
		select {
		case q.ch <- t:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

func (q *TickQueue) C() <-chan Tick { return q.ch }

func (q *TickQueue) Len() int { return len(q.ch) }

func (q *TickQueue) Dropped() uint64 { return q.dropped.Load() }
