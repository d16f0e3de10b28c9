// Package raid implements the synchronous, single-process erasure-coded
// block engine: D data devices, C parity devices, fixed X-byte chunks,
// diagonal placement so no device holds only data or only parity.
package raid

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/GeorgOhneH/raid/internal/metrics"
	"github.com/GeorgOhneH/raid/pkg/device"
	"github.com/GeorgOhneH/raid/pkg/reedsolomon"
)

var (
	// ErrTooManyLost is returned when fewer than D devices remain online.
	ErrTooManyLost = errors.New("raid: too many devices lost")
	// ErrOutOfRange is returned for a slice index beyond anything ever written.
	ErrOutOfRange = errors.New("raid: slice index out of range")
)

// deviceIndex is the diagonal placement function: the device holding
// logical position pos (0..D+C) of slice s.
func deviceIndex(slice, pos, n int) int {
	return (pos + slice) % n
}

// Engine is the single-process erasure-coded engine. It is not safe for
// concurrent use: callers needing concurrency want pkg/agent instead.
type Engine struct {
	id      uuid.UUID
	d, c, x int
	v       *reedsolomon.Matrix
	devices []*device.Device
	// maxSlice is the highest slice index ever written, or -1 if none.
	maxSlice int
}

// New constructs an Engine rooted at root, wiping and recreating all D+C
// device directories, matching the teacher's constructor semantics of
// starting from a clean slate.
func New(root string, d, c, x int) (*Engine, error) {
	v, err := reedsolomon.NewSystematicRS(d, c)
	if err != nil {
		return nil, errors.Wrap(err, "raid: build parity matrix")
	}

	n := d + c
	devices := make([]*device.Device, n)
	for i := 0; i < n; i++ {
		dev, err := device.New(filepath.Join(root), i)
		if err != nil {
			return nil, errors.Wrapf(err, "raid: init device %d", i)
		}
		if err := dev.Destroy(); err != nil {
			return nil, errors.Wrapf(err, "raid: reset device %d", i)
		}
		if err := dev.EnsureDir(); err != nil {
			return nil, errors.Wrapf(err, "raid: reset device %d", i)
		}
		devices[i] = dev
	}

	id := uuid.New()
	logrus.WithFields(logrus.Fields{"engine": id, "d": d, "c": c, "x": x}).Info("raid engine started")
	return &Engine{id: id, d: d, c: c, x: x, v: v, devices: devices, maxSlice: -1}, nil
}

// ID identifies this engine instance in logs.
func (e *Engine) ID() uuid.UUID { return e.id }

// D returns the number of data chunks per slice.
func (e *Engine) D() int { return e.d }

// C returns the number of parity chunks per slice.
func (e *Engine) C() int { return e.c }

// X returns the fixed chunk size in bytes.
func (e *Engine) X() int { return e.x }

func (e *Engine) deviceFor(slice, pos int) *device.Device {
	return e.devices[deviceIndex(slice, pos, e.d+e.c)]
}

// AddSlice writes a whole slice of D data chunks at slice index s,
// computing and writing all C parity chunks. A fresh s extends
// maxSlice; an s that has already been written is simply overwritten
// (callers wanting incremental parity maintenance on an existing slice
// want UpdateChunk instead).
func (e *Engine) AddSlice(s int, data [][]byte) error {
	if s < 0 {
		return ErrOutOfRange
	}
	if len(data) != e.d {
		return reedsolomon.ErrDimensionMismatch
	}
	for _, buf := range data {
		if len(buf) != e.x {
			return reedsolomon.ErrDimensionMismatch
		}
	}

	parity, err := e.v.MulVec(data)
	if err != nil {
		return errors.Wrap(err, "raid: compute parity")
	}

	for i, buf := range data {
		if err := e.deviceFor(s, i).WriteChunk(s, device.Data, i, buf); err != nil {
			return err
		}
		metrics.ChunksWritten.WithLabelValues("data").Inc()
	}
	for i, buf := range parity {
		if err := e.deviceFor(s, e.d+i).WriteChunk(s, device.Parity, i, buf); err != nil {
			return err
		}
		metrics.ChunksWritten.WithLabelValues("parity").Inc()
	}

	if s > e.maxSlice {
		e.maxSlice = s
	}
	return nil
}

// AddChunk writes a single data chunk at (s, dataIdx) and, for every parity
// position k, folds it into the existing parity: reads the current parity
// file (treating a missing file as zero), and replaces it with
// old + V[k][dataIdx]*chunk. This lets a caller grow a slice one data
// position at a time without clobbering parity contributions from data
// positions already written in the same slice.
func (e *Engine) AddChunk(s, dataIdx int, chunk []byte) error {
	if s < 0 {
		return ErrOutOfRange
	}
	if dataIdx < 0 || dataIdx >= e.d {
		return ErrOutOfRange
	}
	if len(chunk) != e.x {
		return reedsolomon.ErrDimensionMismatch
	}

	if err := e.deviceFor(s, dataIdx).WriteChunk(s, device.Data, dataIdx, chunk); err != nil {
		return err
	}
	metrics.ChunksWritten.WithLabelValues("data").Inc()

	for k := 0; k < e.c; k++ {
		old, err := e.readParityOrZero(s, k)
		if err != nil {
			return err
		}
		coeff := e.v.At(k, dataIdx)
		next := make([]byte, e.x)
		for i := range next {
			next[i] = reedsolomon.Add(old[i], reedsolomon.Mul(coeff, chunk[i]))
		}
		if err := e.deviceFor(s, e.d+k).WriteChunk(s, device.Parity, k, next); err != nil {
			return err
		}
		metrics.ChunksWritten.WithLabelValues("parity").Inc()
	}

	if s > e.maxSlice {
		e.maxSlice = s
	}
	return nil
}

// ReadChunk reads the data chunk at (slice, dataIdx). A data position never
// written within a slice that has been touched holds all-zero bytes; a
// slice index beyond anything ever written is ErrOutOfRange.
func (e *Engine) ReadChunk(slice, dataIdx int) ([]byte, error) {
	if slice < 0 || slice > e.maxSlice {
		return nil, ErrOutOfRange
	}
	if dataIdx < 0 || dataIdx >= e.d {
		return nil, ErrOutOfRange
	}
	buf, err := e.deviceFor(slice, dataIdx).ReadChunk(slice, device.Data, dataIdx, e.x)
	if errors.Is(err, os.ErrNotExist) {
		return reedsolomon.Zeros(e.x), nil
	}
	return buf, err
}

// ReadSlice reads all D data chunks of slice.
func (e *Engine) ReadSlice(slice int) ([][]byte, error) {
	if slice < 0 || slice > e.maxSlice {
		return nil, ErrOutOfRange
	}
	out := make([][]byte, e.d)
	for i := 0; i < e.d; i++ {
		buf, err := e.ReadChunk(slice, i)
		if err != nil {
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

func (e *Engine) readDataOrZero(slice, dataIdx int) ([]byte, error) {
	buf, err := e.deviceFor(slice, dataIdx).ReadChunk(slice, device.Data, dataIdx, e.x)
	if errors.Is(err, os.ErrNotExist) {
		return reedsolomon.Zeros(e.x), nil
	}
	return buf, err
}

func (e *Engine) readParity(slice, parityIdx int) ([]byte, error) {
	return e.deviceFor(slice, e.d+parityIdx).ReadChunk(slice, device.Parity, parityIdx, e.x)
}

func (e *Engine) readParityOrZero(slice, parityIdx int) ([]byte, error) {
	buf, err := e.readParity(slice, parityIdx)
	if errors.Is(err, os.ErrNotExist) {
		return reedsolomon.Zeros(e.x), nil
	}
	return buf, err
}

// UpdateChunk overwrites the data chunk at (slice, dataIdx) and updates
// every parity chunk of that slice incrementally:
// new_parity = old_parity + V[k][dataIdx]*(new-old).
func (e *Engine) UpdateChunk(slice, dataIdx int, newData []byte) error {
	if slice < 0 || slice > e.maxSlice {
		return ErrOutOfRange
	}
	if dataIdx < 0 || dataIdx >= e.d {
		return ErrOutOfRange
	}
	if len(newData) != e.x {
		return reedsolomon.ErrDimensionMismatch
	}

	oldData, err := e.readDataOrZero(slice, dataIdx)
	if err != nil {
		return err
	}

	if err := e.deviceFor(slice, dataIdx).WriteChunk(slice, device.Data, dataIdx, newData); err != nil {
		return err
	}
	metrics.ChunksWritten.WithLabelValues("data").Inc()

	delta := make([]byte, e.x)
	for i := range delta {
		delta[i] = reedsolomon.Sub(newData[i], oldData[i])
	}

	for k := 0; k < e.c; k++ {
		oldParity, err := e.readParityOrZero(slice, k)
		if err != nil {
			return err
		}
		coeff := e.v.At(k, dataIdx)
		newParity := make([]byte, e.x)
		for i := range newParity {
			newParity[i] = reedsolomon.Add(oldParity[i], reedsolomon.Mul(coeff, delta[i]))
		}
		if err := e.deviceFor(slice, e.d+k).WriteChunk(slice, device.Parity, k, newParity); err != nil {
			return err
		}
		metrics.ParityRecomputations.WithLabelValues(strconv.Itoa(e.deviceFor(slice, e.d+k).Index)).Inc()
	}
	return nil
}

// DestroyDevices simulates simultaneous loss of the given device indices,
// then reconstructs every device that is left offline afterward.
func (e *Engine) DestroyDevices(idxs []int) error {
	for _, idx := range idxs {
		if err := e.devices[idx].Destroy(); err != nil {
			return err
		}
	}
	return e.reconstruct()
}

// reconstruct enumerates all N devices, classifies them online/offline by
// directory existence, requires at least D online (else ErrTooManyLost),
// keeps the lowest-indexed D online devices as the recovery source
// (dropping any surplus from the top, matching the single-process
// reference's explicit policy), and rewrites every offline device's chunk
// for every slice ever written.
func (e *Engine) reconstruct() error {
	timer := prometheus.NewTimer(metrics.RecoveryDuration)
	defer timer.ObserveDuration()

	n := e.d + e.c
	online := make([]bool, n)
	count := 0
	for i := 0; i < n; i++ {
		if e.devices[i].Exists() {
			online[i] = true
			count++
		} else {
			if err := e.devices[i].EnsureDir(); err != nil {
				return err
			}
		}
	}

	metrics.DevicesLost.Set(float64(n - count))

	if count < e.d {
		logrus.WithFields(logrus.Fields{"engine": e.id, "online": count, "needed": e.d}).Error("too many devices lost")
		return ErrTooManyLost
	}

	recover := append([]bool(nil), online...)
	x := n - 1
	for count > e.d {
		if recover[x] {
			recover[x] = false
			count--
		}
		x--
	}

	for slice := 0; slice <= e.maxSlice; slice++ {
		var knownData, knownParity []int
		var surviving [][]byte

		for i := 0; i < e.d; i++ {
			pos := deviceIndex(slice, i, n)
			if recover[pos] {
				buf, err := e.readDataOrZero(slice, i)
				if err != nil {
					return err
				}
				knownData = append(knownData, i)
				surviving = append(surviving, buf)
			}
		}
		for k := 0; k < e.c; k++ {
			pos := deviceIndex(slice, e.d+k, n)
			if recover[pos] {
				buf, err := e.readParityOrZero(slice, k)
				if err != nil {
					return err
				}
				knownParity = append(knownParity, k)
				surviving = append(surviving, buf)
			}
		}

		rec, err := e.v.Recovery(knownData, knownParity)
		if err != nil {
			return errors.Wrap(err, "raid: build recovery matrix")
		}
		if err := reedsolomon.GaussianEliminate(rec, surviving); err != nil {
			return errors.Wrap(err, "raid: solve recovery system")
		}
		data := surviving // now holds the solved D data chunks, in data-index order 0..D

		for i := 0; i < e.d; i++ {
			pos := deviceIndex(slice, i, n)
			if !online[pos] {
				if err := e.deviceFor(slice, i).WriteChunk(slice, device.Data, i, data[i]); err != nil {
					return err
				}
			}
		}
		for k := 0; k < e.c; k++ {
			pos := deviceIndex(slice, e.d+k, n)
			if !online[pos] {
				chunk, err := e.v.MulVecAt(data, k)
				if err != nil {
					return err
				}
				if err := e.deviceFor(slice, e.d+k).WriteChunk(slice, device.Parity, k, chunk); err != nil {
					return err
				}
			}
		}
		metrics.SlicesRecovered.Inc()
	}
	return nil
}
