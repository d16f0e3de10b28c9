package agent

import (
	"sync/atomic"

	"github.com/GeorgOhneH/raid/internal/metrics"
)

// mailbox is an unbounded, FIFO, single-consumer channel. Go channels are
// bounded by construction, so an unbounded one (the spec's mailbox model,
// matching crossbeam_channel::unbounded in the original source) needs a
// pump goroutine buffering in a slice between a send side and a receive
// side. Send never blocks on a full mailbox because the pump is always
// either waiting on send or selecting on both send and receive.
type mailbox[T any] struct {
	send  chan T
	recv  chan T
	depth atomic.Int64
	label string
}

func newMailbox[T any](label string) *mailbox[T] {
	m := &mailbox[T]{
		send:  make(chan T),
		recv:  make(chan T),
		label: label,
	}
	go m.pump()
	return m
}

func (m *mailbox[T]) setDepth(n int) {
	m.depth.Store(int64(n))
	metrics.MailboxDepth.WithLabelValues(m.label).Set(float64(n))
}

func (m *mailbox[T]) pump() {
	var queue []T
	for {
		if len(queue) == 0 {
			v, ok := <-m.send
			if !ok {
				close(m.recv)
				return
			}
			queue = append(queue, v)
			m.setDepth(len(queue))
			continue
		}

		select {
		case v, ok := <-m.send:
			if !ok {
				// No reader is guaranteed to remain once send is closed
				// (Shutdown closes it only after every worker has already
				// exited), so a queued straggler is dropped rather than
				// blocking forever trying to hand it to a consumer that
				// will never come back.
				close(m.recv)
				return
			}
			queue = append(queue, v)
		case m.recv <- queue[0]:
			queue = queue[1:]
		}
		m.setDepth(len(queue))
	}
}
