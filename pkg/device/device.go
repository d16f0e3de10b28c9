// Package device models a single erasure-coded storage device: a directory
// holding a sparse collection of chunk files, one per (slice, role,
// role index).
package device

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Role distinguishes a data chunk from a parity chunk within a slice.
type Role int

const (
	// Data identifies a data chunk.
	Data Role = iota
	// Parity identifies a parity chunk.
	Parity
)

// ErrIO wraps a filesystem error that is not "file not found". Per the
// engine's error policy these propagate to the caller without retry.
var ErrIO = errors.New("device: io error")

// Device owns one directory on disk. It is the sole reader and sole writer
// of that directory: callers must not share a Device across goroutines that
// don't already serialize their own access (the agent engine gives each
// Device exactly one owning worker goroutine).
type Device struct {
	Index int
	root  string
}

// New returns a Device rooted at root/deviceN, creating the directory if it
// does not already exist.
func New(root string, index int) (*Device, error) {
	path := filepath.Join(root, fmt.Sprintf("device%d", index))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrapf(err, "device %d: create directory", index)
	}
	return &Device{Index: index, root: path}, nil
}

func fileName(slice int, role Role, roleIdx int) string {
	if role == Data {
		return fmt.Sprintf("%d_%dd.bin", slice, roleIdx)
	}
	return fmt.Sprintf("%d_%dc.bin", slice, roleIdx)
}

func (d *Device) path(slice int, role Role, roleIdx int) string {
	return filepath.Join(d.root, fileName(slice, role, roleIdx))
}

// ReadChunk reads the chunk at (slice, role, roleIdx). If the file does not
// exist, it returns (nil, os.ErrNotExist) rather than zeroing the buffer
// itself: callers decide whether a missing file means zero bytes or
// ErrOutOfRange, per the operation they're serving.
func (d *Device) ReadChunk(slice int, role Role, roleIdx, size int) ([]byte, error) {
	buf, err := os.ReadFile(d.path(slice, role, roleIdx))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, errors.Wrapf(ErrIO, "device %d: read chunk: %v", d.Index, err)
	}
	if len(buf) != size {
		return nil, errors.Wrapf(ErrIO, "device %d: chunk size mismatch: got %d want %d", d.Index, len(buf), size)
	}
	return buf, nil
}

// WriteChunk writes the chunk at (slice, role, roleIdx), overwriting any
// existing content.
func (d *Device) WriteChunk(slice int, role Role, roleIdx int, chunk []byte) error {
	if err := os.WriteFile(d.path(slice, role, roleIdx), chunk, 0o644); err != nil {
		return errors.Wrapf(ErrIO, "device %d: write chunk: %v", d.Index, err)
	}
	return nil
}

// Destroy erases the device's entire directory, simulating the total loss
// of the underlying storage. The directory is not recreated: callers
// enumerating online devices via Exists must see this device as gone until
// they explicitly call EnsureDir as part of recovery.
func (d *Device) Destroy() error {
	logrus.WithField("device", d.Index).Info("destroying device storage")
	if err := os.RemoveAll(d.root); err != nil {
		return errors.Wrapf(ErrIO, "device %d: destroy: %v", d.Index, err)
	}
	return nil
}

// EnsureDir recreates the device's directory if it is missing. Recovery
// calls this once it has decided a device needs to be repopulated.
func (d *Device) EnsureDir() error {
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return errors.Wrapf(ErrIO, "device %d: recreate directory: %v", d.Index, err)
	}
	return nil
}

// Exists reports whether the device's directory is currently present. Used
// by recovery to distinguish devices that survived a destroy_devices call
// from ones that were wiped.
func (d *Device) Exists() bool {
	_, err := os.Stat(d.root)
	return err == nil
}
