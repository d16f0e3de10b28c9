package agent

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/GeorgOhneH/raid/internal/metrics"
	"github.com/GeorgOhneH/raid/pkg/device"
	"github.com/GeorgOhneH/raid/pkg/reedsolomon"
)

// ErrShutdown is the outcome a worker reports when its control mailbox is
// closed out from under it rather than by an explicit Shutdown message:
// the controller end has been dropped, and the worker exits cleanly.
var ErrShutdown = errors.New("agent: worker observed the controller end dropped")

// pendingParity tracks a parity device's in-flight aggregation of a
// whole-slice write for one slice: it is created on the first
// NewDataChecksum and removed exactly when count reaches D.
type pendingParity struct {
	count                 int
	accumulator           []byte
	pendingRecoverSenders []int
}

// worker owns one device: its directory, its control and recovery
// mailboxes, and the send ends of every peer's mailboxes (the topology
// table, cloned once at construction so no state is shared between
// goroutines).
type worker struct {
	index int
	d, c  int
	n     int
	x     int
	v     *reedsolomon.Matrix
	dev   *device.Device

	control  <-chan Msg
	recovery <-chan RecoverMsg

	peers        []chan<- Msg
	recoverPeers []chan<- RecoverMsg

	pending map[int]*pendingParity
}

// deviceIndex returns the device holding logical position pos (< d means a
// data position, >= d means parity position pos-d) for the given slice,
// under the diagonal placement device(s, i) = (i + s) mod n.
func deviceIndex(slice, pos, n int) int {
	return (pos + slice) % n
}

// posAt returns the in-slice position of device deviceIdx: < d means data
// index posAt, >= d means parity index posAt-d. It is the inverse of the
// placement function device(s,i) = (i+s) mod n.
func posAt(deviceIdx, slice, n int) int {
	p := (deviceIdx - slice) % n
	if p < 0 {
		p += n
	}
	return p
}

// run processes control messages until told to stop. Returning from the
// range loop because the channel closed (rather than because handle saw an
// explicit Shutdown) means the controller end was dropped without warning;
// that path is logged with ErrShutdown for context, not treated as fatal.
func (w *worker) run() {
	for msg := range w.control {
		if !w.handle(msg) {
			return
		}
	}
	logrus.WithFields(logrus.Fields{"device": w.index, "err": ErrShutdown}).Debug("worker control mailbox closed")
}

// handle processes one control message, returning false to stop the
// worker (only Shutdown does this).
func (w *worker) handle(msg Msg) bool {
	switch m := msg.(type) {
	case NewData:
		w.onNewData(m)
	case NewDataAt:
		w.onNewDataAt(m)
	case NewDataChecksum:
		w.onNewDataChecksum(m)
	case NewDataChecksumAt:
		w.onNewDataChecksumAt(m)
	case UpdateData:
		w.onUpdateData(m)
	case UpdateDataChecksum:
		w.onUpdateDataChecksum(m)
	case NeedRecover:
		w.onNeedRecover(m)
	case HeadNodeDataRequest:
		w.onHeadNodeDataRequest(m)
	case DestroyStorage:
		w.onDestroyStorage(m)
	case Ping:
		m.Reply <- struct{}{}
	case Shutdown:
		return false
	}
	return true
}

func (w *worker) dataIdx(slice int) int {
	idx := posAt(w.index, slice, w.n)
	if idx >= w.d {
		logrus.WithFields(logrus.Fields{"device": w.index, "slice": slice}).Panic("device is not a data position for this slice")
	}
	return idx
}

func (w *worker) checkIdx(slice int) int {
	idx := posAt(w.index, slice, w.n)
	if idx < w.d {
		logrus.WithFields(logrus.Fields{"device": w.index, "slice": slice}).Panic("device is not a parity position for this slice")
	}
	return idx - w.d
}

func (w *worker) readDataOrZero(slice int) []byte {
	buf, err := w.dev.ReadChunk(slice, device.Data, w.dataIdx(slice), w.x)
	if errors.Is(err, os.ErrNotExist) {
		return reedsolomon.Zeros(w.x)
	}
	if err != nil {
		logrus.WithError(err).WithField("device", w.index).Error("read data chunk")
	}
	return buf
}

func (w *worker) readChecksumOrZero(slice int) []byte {
	buf, err := w.dev.ReadChunk(slice, device.Parity, w.checkIdx(slice), w.x)
	if errors.Is(err, os.ErrNotExist) {
		return reedsolomon.Zeros(w.x)
	}
	if err != nil {
		logrus.WithError(err).WithField("device", w.index).Error("read parity chunk")
	}
	return buf
}

func (w *worker) writeData(slice int, data []byte) {
	if err := w.dev.WriteChunk(slice, device.Data, w.dataIdx(slice), data); err != nil {
		logrus.WithError(err).WithField("device", w.index).Error("write data chunk")
		return
	}
	metrics.ChunksWritten.WithLabelValues("data").Inc()
}

func (w *worker) writeChecksum(slice int, data []byte) {
	if err := w.dev.WriteChunk(slice, device.Parity, w.checkIdx(slice), data); err != nil {
		logrus.WithError(err).WithField("device", w.index).Error("write parity chunk")
		return
	}
	metrics.ChunksWritten.WithLabelValues("parity").Inc()
}

func (w *worker) sendMsg(to int, m Msg) {
	if to == w.index {
		return
	}
	w.peers[to] <- m
}

func (w *worker) onNewData(m NewData) {
	for k := 0; k < w.c; k++ {
		checkDev := deviceIndex(m.Slice, w.d+k, w.n)
		w.sendMsg(checkDev, NewDataChecksum{Slice: m.Slice, Data: m.Data, FromDevice: w.index})
	}
	w.writeData(m.Slice, m.Data)
}

func (w *worker) onNewDataAt(m NewDataAt) {
	for k := 0; k < w.c; k++ {
		checkDev := deviceIndex(m.Slice, w.d+k, w.n)
		w.sendMsg(checkDev, NewDataChecksumAt{Slice: m.Slice, Data: m.Data, FromDevice: w.index})
	}
	w.writeData(m.Slice, m.Data)
}

func (w *worker) onUpdateData(m UpdateData) {
	old := w.readDataOrZero(m.Slice)
	diff := make([]byte, w.x)
	for i := range diff {
		diff[i] = reedsolomon.Sub(m.Data[i], old[i])
	}
	for k := 0; k < w.c; k++ {
		checkDev := deviceIndex(m.Slice, w.d+k, w.n)
		w.sendMsg(checkDev, UpdateDataChecksum{Slice: m.Slice, Diff: diff, FromDevice: w.index})
	}
	w.writeData(m.Slice, m.Data)
}

func (w *worker) onNewDataChecksum(m NewDataChecksum) {
	dataIdx := posAt(m.FromDevice, m.Slice, w.n)
	checkIdx := w.checkIdx(m.Slice)
	coeff := w.v.At(checkIdx, dataIdx)

	cur := w.pending[m.Slice]
	if cur == nil {
		cur = &pendingParity{accumulator: reedsolomon.Zeros(w.x)}
		w.pending[m.Slice] = cur
	}
	for i := range cur.accumulator {
		cur.accumulator[i] = reedsolomon.Add(cur.accumulator[i], reedsolomon.Mul(coeff, m.Data[i]))
	}
	cur.count++

	if cur.count == w.d {
		delete(w.pending, m.Slice)
		w.writeChecksum(m.Slice, cur.accumulator)
		for _, askerIdx := range cur.pendingRecoverSenders {
			w.sendRecover(askerIdx, RecoverMsg{Slice: m.Slice, Data: cur.accumulator, FromDevice: w.index})
		}
	}
}

func (w *worker) onUpdateDataChecksum(m UpdateDataChecksum) {
	dataIdx := posAt(m.FromDevice, m.Slice, w.n)
	checkIdx := w.checkIdx(m.Slice)
	coeff := w.v.At(checkIdx, dataIdx)

	if cur := w.pending[m.Slice]; cur != nil {
		for i := range cur.accumulator {
			cur.accumulator[i] = reedsolomon.Add(cur.accumulator[i], reedsolomon.Mul(coeff, m.Diff[i]))
		}
		return
	}

	current := w.readChecksumOrZero(m.Slice)
	next := make([]byte, w.x)
	for i := range next {
		next[i] = reedsolomon.Add(current[i], reedsolomon.Mul(coeff, m.Diff[i]))
	}
	w.writeChecksum(m.Slice, next)
}

func (w *worker) onNewDataChecksumAt(m NewDataChecksumAt) {
	dataIdx := posAt(m.FromDevice, m.Slice, w.n)
	checkIdx := w.checkIdx(m.Slice)
	coeff := w.v.At(checkIdx, dataIdx)

	old := w.readChecksumOrZero(m.Slice)
	next := make([]byte, w.x)
	for i := range next {
		next[i] = reedsolomon.Add(old[i], reedsolomon.Mul(coeff, m.Data[i]))
	}
	w.writeChecksum(m.Slice, next)
}

func (w *worker) onNeedRecover(m NeedRecover) {
	pos := posAt(w.index, m.Slice, w.n)
	if pos < w.d {
		w.sendRecover(m.FromDevice, RecoverMsg{Slice: m.Slice, Data: w.readDataOrZero(m.Slice), FromDevice: w.index})
		return
	}
	if cur := w.pending[m.Slice]; cur != nil {
		cur.pendingRecoverSenders = append(cur.pendingRecoverSenders, m.FromDevice)
		return
	}
	w.sendRecover(m.FromDevice, RecoverMsg{Slice: m.Slice, Data: w.readChecksumOrZero(m.Slice), FromDevice: w.index})
}

func (w *worker) sendRecover(to int, m RecoverMsg) {
	if to == w.index {
		return
	}
	w.recoverPeers[to] <- m
}

func (w *worker) onHeadNodeDataRequest(m HeadNodeDataRequest) {
	m.Reply <- Chunk{Slice: m.Slice, Data: w.readDataOrZero(m.Slice)}
}

func (w *worker) onDestroyStorage(m DestroyStorage) {
	if err := w.dev.Destroy(); err != nil {
		logrus.WithError(err).WithField("device", w.index).Error("destroy storage")
		return
	}
	if err := w.dev.EnsureDir(); err != nil {
		logrus.WithError(err).WithField("device", w.index).Error("recreate storage")
		return
	}
	w.recover(m.MaxSlice)
}

// recover runs the cooperative recovery protocol of section 4.4.1 for
// every slice up to maxSlice.
func (w *worker) recover(maxSlice int) {
	timer := prometheus.NewTimer(metrics.RecoveryDuration)
	defer timer.ObserveDuration()

	for slice := 0; slice <= maxSlice; slice++ {
		w.drainRecovery()

		for i := 0; i < w.n; i++ {
			w.sendMsg(i, NeedRecover{Slice: slice, FromDevice: w.index})
		}

		type indexed struct {
			idx  int
			data []byte
		}
		var dataReplies, parityReplies []indexed
		for len(dataReplies)+len(parityReplies) < w.d {
			reply := <-w.recovery
			if reply.Slice != slice {
				continue
			}
			idx := posAt(reply.FromDevice, slice, w.n)
			if idx < w.d {
				dataReplies = append(dataReplies, indexed{idx, reply.Data})
			} else {
				parityReplies = append(parityReplies, indexed{idx - w.d, reply.Data})
			}
		}
		sort.Slice(dataReplies, func(i, j int) bool { return dataReplies[i].idx < dataReplies[j].idx })
		sort.Slice(parityReplies, func(i, j int) bool { return parityReplies[i].idx < parityReplies[j].idx })

		knownData := make([]int, len(dataReplies))
		knownParity := make([]int, len(parityReplies))
		surviving := make([][]byte, 0, w.d)
		for i, r := range dataReplies {
			knownData[i] = r.idx
			surviving = append(surviving, r.data)
		}
		for i, r := range parityReplies {
			knownParity[i] = r.idx
			surviving = append(surviving, r.data)
		}

		rec, err := w.v.Recovery(knownData, knownParity)
		if err != nil {
			logrus.WithError(err).WithField("device", w.index).Error("build recovery matrix")
			return
		}
		if err := reedsolomon.GaussianEliminate(rec, surviving); err != nil {
			logrus.WithError(err).WithField("device", w.index).Error("solve recovery system")
			return
		}

		pos := posAt(w.index, slice, w.n)
		if pos < w.d {
			w.writeData(slice, surviving[pos])
		} else {
			chunk, err := w.v.MulVecAt(surviving, pos-w.d)
			if err != nil {
				logrus.WithError(err).WithField("device", w.index).Error("compute recovered parity")
				return
			}
			w.writeChecksum(slice, chunk)
		}
		metrics.SlicesRecovered.Inc()
	}
}

// drainRecovery discards any stale replies left over from a previous,
// already-finished recovery round before starting a new one.
func (w *worker) drainRecovery() {
	for {
		select {
		case <-w.recovery:
		default:
			return
		}
	}
}
