// Package raidtest is a shared property-checking harness for the two
// engine realizations (pkg/raid, pkg/agent): both satisfy Engine, so the
// quantified invariants of section 8 get checked once against each rather
// than duplicated per package.
package raidtest

import (
	"math/rand"

	"github.com/stretchr/testify/require"

	"testing"
)

// Engine is the subset of operations both realizations expose with an
// identical signature. D, C, X aren't part of it since pkg/agent.Controller
// does not expose them as accessors; callers already know them, having just
// constructed the engine.
type Engine interface {
	AddSlice(s int, data [][]byte) error
	AddChunk(s, dataIdx int, chunk []byte) error
	UpdateChunk(s, dataIdx int, newData []byte) error
	ReadChunk(s, dataIdx int) ([]byte, error)
	ReadSlice(s int) ([][]byte, error)
	DestroyDevices(idxs []int) error
}

// Config bundles the dimensions of an Engine under test plus a hook to
// reach quiescence before reads that must observe prior writes: a no-op
// for the synchronous pkg/raid.Engine, Controller.Ping for pkg/agent.
type Config struct {
	D, C, X int
	Quiesce func()
}

func (cfg Config) quiesce() {
	if cfg.Quiesce != nil {
		cfg.Quiesce()
	}
}

// RandomSlice fills D chunks of X random bytes each.
func RandomSlice(t *testing.T, rng *rand.Rand, d, x int) [][]byte {
	t.Helper()
	data := make([][]byte, d)
	for i := range data {
		buf := make([]byte, x)
		_, err := rng.Read(buf)
		require.NoError(t, err)
		data[i] = buf
	}
	return data
}

// CheckRoundTrip drives property 1: a write sequence followed by reads
// with no interleaved destroy returns exactly what was written.
func CheckRoundTrip(t *testing.T, e Engine, cfg Config, rng *rand.Rand, slices int) {
	t.Helper()
	written := make([][][]byte, slices)
	for s := 0; s < slices; s++ {
		data := RandomSlice(t, rng, cfg.D, cfg.X)
		require.NoError(t, e.AddSlice(s, data))
		written[s] = data
	}
	cfg.quiesce()
	for s := 0; s < slices; s++ {
		got, err := e.ReadSlice(s)
		require.NoError(t, err)
		require.Equal(t, written[s], got)
	}
}

// CheckRecoverability drives property 3: after destroying up to C devices,
// every slice written before the destroy still reads back unchanged.
func CheckRecoverability(t *testing.T, e Engine, cfg Config, rng *rand.Rand, slices int, lost []int) {
	t.Helper()
	require.LessOrEqual(t, len(lost), cfg.C)

	written := make([][][]byte, slices)
	for s := 0; s < slices; s++ {
		data := RandomSlice(t, rng, cfg.D, cfg.X)
		require.NoError(t, e.AddSlice(s, data))
		written[s] = data
	}
	cfg.quiesce()

	require.NoError(t, e.DestroyDevices(lost))
	cfg.quiesce()

	for s := 0; s < slices; s++ {
		got, err := e.ReadSlice(s)
		require.NoError(t, err)
		require.Equal(t, written[s], got)
	}
}

// PlacementDevice is the diagonal placement function shared by both
// realizations: device holding logical position pos of slice s.
func PlacementDevice(slice, pos, n int) int {
	return (pos + slice) % n
}

// CheckPlacementDisjoint drives property 4 combinatorially: for a slice,
// the n logical positions land on n distinct devices.
func CheckPlacementDisjoint(t *testing.T, n int, slices int) {
	t.Helper()
	for s := 0; s < slices; s++ {
		seen := make(map[int]bool, n)
		for pos := 0; pos < n; pos++ {
			dev := PlacementDevice(s, pos, n)
			require.False(t, seen[dev], "slice %d position %d collides on device %d", s, pos, dev)
			seen[dev] = true
		}
		require.Len(t, seen, n)
	}
}

// CheckIdempotentRecovery drives property 5: destroying nothing is a no-op
// up to file rewrites — a subsequent read returns bitwise unchanged content.
func CheckIdempotentRecovery(t *testing.T, e Engine, cfg Config, rng *rand.Rand) {
	t.Helper()
	data := RandomSlice(t, rng, cfg.D, cfg.X)
	require.NoError(t, e.AddSlice(0, data))
	cfg.quiesce()

	require.NoError(t, e.DestroyDevices(nil))
	cfg.quiesce()

	got, err := e.ReadSlice(0)
	require.NoError(t, err)
	require.Equal(t, data, got)
}
