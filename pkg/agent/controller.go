// Package agent implements the distributed, agent-per-device realization of
// the erasure-coded engine: one goroutine per device, communicating over
// unbounded mailboxes instead of sharing state directly.
package agent

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/GeorgOhneH/raid/internal/metrics"
	"github.com/GeorgOhneH/raid/pkg/device"
	"github.com/GeorgOhneH/raid/pkg/reedsolomon"
)

// ErrOutOfRange is returned when a read addresses a slice beyond the
// highest one ever written.
var ErrOutOfRange = errors.New("agent: slice out of range")

// ErrTooManyLost is returned by DestroyDevices when fewer than D devices
// remain online after the call, making recovery impossible.
var ErrTooManyLost = errors.New("agent: too many devices lost")

// Controller is the entry point for the agent-per-device engine: it owns
// the send end of every worker's two mailboxes and translates the RAID
// operations of section 4 into the message protocol of section 4.4.
type Controller struct {
	id         uuid.UUID
	d, c, n, x int
	maxSlice   int

	control  []*mailbox[Msg]
	recovery []*mailbox[RecoverMsg]

	wg sync.WaitGroup
}

// ID identifies this controller instance in logs.
func (ctrl *Controller) ID() uuid.UUID { return ctrl.id }

// New starts D+C worker goroutines rooted under root/deviceN and returns a
// Controller addressing them.
func New(root string, d, c, x int) (*Controller, error) {
	v, err := reedsolomon.NewSystematicRS(d, c)
	if err != nil {
		return nil, errors.Wrap(err, "agent: build parity matrix")
	}

	n := d + c
	id := uuid.New()
	ctrl := &Controller{
		id: id,
		d:  d, c: c, n: n, x: x,
		maxSlice: -1,
		control:  make([]*mailbox[Msg], n),
		recovery: make([]*mailbox[RecoverMsg], n),
	}
	logrus.WithFields(logrus.Fields{"engine": id, "d": d, "c": c, "x": x}).Info("agent engine started")

	workers := make([]*worker, n)
	for i := 0; i < n; i++ {
		dev, err := device.New(root, i)
		if err != nil {
			return nil, err
		}
		ctrl.control[i] = newMailbox[Msg](strconv.Itoa(i))
		ctrl.recovery[i] = newMailbox[RecoverMsg](strconv.Itoa(i) + "-recovery")
		workers[i] = &worker{
			index:   i,
			d:       d,
			c:       c,
			n:       n,
			x:       x,
			v:       v,
			dev:     dev,
			pending: make(map[int]*pendingParity),
		}
	}

	for i := 0; i < n; i++ {
		peers := make([]chan<- Msg, n)
		recoverPeers := make([]chan<- RecoverMsg, n)
		for j := 0; j < n; j++ {
			peers[j] = ctrl.control[j].send
			recoverPeers[j] = ctrl.recovery[j].send
		}
		workers[i].peers = peers
		workers[i].recoverPeers = recoverPeers
		workers[i].control = ctrl.control[i].recv
		workers[i].recovery = ctrl.recovery[i].recv
	}

	ctrl.wg.Add(n)
	for i := 0; i < n; i++ {
		w := workers[i]
		go func() {
			defer ctrl.wg.Done()
			w.run()
		}()
	}

	return ctrl, nil
}

func (ctrl *Controller) send(dev int, m Msg) {
	ctrl.control[dev].send <- m
}

func (ctrl *Controller) bumpMaxSlice(s int) {
	if s > ctrl.maxSlice {
		ctrl.maxSlice = s
	}
}

// AddSlice writes a full slice of D data chunks, fanning each out to its
// parity devices.
func (ctrl *Controller) AddSlice(s int, data [][]byte) error {
	if s < 0 {
		return ErrOutOfRange
	}
	if len(data) != ctrl.d {
		return reedsolomon.ErrDimensionMismatch
	}
	for _, buf := range data {
		if len(buf) != ctrl.x {
			return reedsolomon.ErrDimensionMismatch
		}
	}
	for i := 0; i < ctrl.d; i++ {
		dev := deviceIndex(s, i, ctrl.n)
		ctrl.send(dev, NewData{Slice: s, Data: data[i]})
	}
	ctrl.bumpMaxSlice(s)
	return nil
}

// AddChunk writes a single data chunk, incrementally folding its
// contribution into every parity device.
func (ctrl *Controller) AddChunk(s, dataIdx int, chunk []byte) error {
	if s < 0 {
		return ErrOutOfRange
	}
	if dataIdx < 0 || dataIdx >= ctrl.d {
		return ErrOutOfRange
	}
	if len(chunk) != ctrl.x {
		return reedsolomon.ErrDimensionMismatch
	}
	dev := deviceIndex(s, dataIdx, ctrl.n)
	ctrl.send(dev, NewDataAt{Slice: s, Data: chunk})
	ctrl.bumpMaxSlice(s)
	return nil
}

// UpdateChunk overwrites an existing data chunk, updating every parity
// device by the delta between old and new content.
func (ctrl *Controller) UpdateChunk(s, dataIdx int, newData []byte) error {
	if s < 0 || s > ctrl.maxSlice {
		return ErrOutOfRange
	}
	if dataIdx < 0 || dataIdx >= ctrl.d {
		return ErrOutOfRange
	}
	if len(newData) != ctrl.x {
		return reedsolomon.ErrDimensionMismatch
	}
	dev := deviceIndex(s, dataIdx, ctrl.n)
	ctrl.send(dev, UpdateData{Slice: s, Data: newData})
	return nil
}

// ReadChunk reads a single data chunk, blocking until the owning worker has
// drained everything queued ahead of the request.
func (ctrl *Controller) ReadChunk(s, dataIdx int) ([]byte, error) {
	if dataIdx < 0 || dataIdx >= ctrl.d {
		return nil, ErrOutOfRange
	}
	if s > ctrl.maxSlice {
		return nil, ErrOutOfRange
	}
	dev := deviceIndex(s, dataIdx, ctrl.n)
	reply := make(chan Chunk, 1)
	ctrl.send(dev, HeadNodeDataRequest{Slice: s, Reply: reply})
	chunk := <-reply
	return chunk.Data, nil
}

// ReadSlice reads all D data chunks of a slice concurrently.
func (ctrl *Controller) ReadSlice(s int) ([][]byte, error) {
	out := make([][]byte, ctrl.d)
	var g errgroup.Group
	for i := 0; i < ctrl.d; i++ {
		i := i
		g.Go(func() error {
			chunk, err := ctrl.ReadChunk(s, i)
			if err != nil {
				return err
			}
			out[i] = chunk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DestroyDevices simulates the total loss of the listed devices and starts
// each one's cooperative recovery.
func (ctrl *Controller) DestroyDevices(idxs []int) error {
	lost := make(map[int]bool, len(idxs))
	for _, idx := range idxs {
		lost[idx] = true
	}
	if ctrl.n-len(lost) < ctrl.d {
		logrus.WithFields(logrus.Fields{"engine": ctrl.id, "lost": len(lost), "needed": ctrl.d}).Error("too many devices lost")
		return ErrTooManyLost
	}
	metrics.DevicesLost.Set(float64(len(lost)))
	for _, idx := range idxs {
		ctrl.send(idx, DestroyStorage{MaxSlice: ctrl.maxSlice})
	}
	return nil
}

// Ping blocks until every operation submitted before this call has been
// observed by all workers, not merely the one it was addressed to.
//
// A single broadcast round only proves that each worker has drained what
// the controller itself enqueued for it. A data device's handler for
// NewData/NewDataAt/UpdateData also sends a derived NewDataChecksum (or
// its variants) to every parity device, and that send races the
// controller's own direct Ping to the same parity device: nothing orders
// one against the other. This protocol never relays a message more than
// one hop (controller -> data device -> parity devices), so a second
// broadcast round closes the gap: by the time every worker has answered
// round one, every derived send any of them owed has already been
// enqueued at its destination, and round two's Ping is guaranteed to
// queue behind all of them everywhere.
func (ctrl *Controller) Ping() {
	ctrl.pingRound()
	ctrl.pingRound()
}

// pingRound sends one Ping to every worker and waits for all N replies.
func (ctrl *Controller) pingRound() {
	replies := make([]chan struct{}, ctrl.n)
	for i := 0; i < ctrl.n; i++ {
		replies[i] = make(chan struct{}, 1)
		ctrl.send(i, Ping{Reply: replies[i]})
	}
	for i := 0; i < ctrl.n; i++ {
		<-replies[i]
	}
}

// Shutdown stops every worker goroutine and waits for them to exit.
func (ctrl *Controller) Shutdown() {
	for i := 0; i < ctrl.n; i++ {
		ctrl.send(i, Shutdown{})
	}
	ctrl.wg.Wait()
	for i := 0; i < ctrl.n; i++ {
		close(ctrl.control[i].send)
		close(ctrl.recovery[i].send)
	}
}
