package agent

import (
	"math/rand"
	"testing"

	"github.com/GeorgOhneH/raid/pkg/raidtest"
)

func TestPropertyRoundTrip(t *testing.T) {
	shapes := []struct{ d, c, x int }{
		{1, 0, 4}, {3, 2, 8}, {4, 4, 2}, {6, 1, 16},
	}
	for _, shape := range shapes {
		ctrl := mustNew(t, shape.d, shape.c, shape.x)
		cfg := raidtest.Config{D: shape.d, C: shape.c, X: shape.x, Quiesce: ctrl.Ping}
		rng := rand.New(rand.NewSource(int64(shape.d*1000 + shape.c*10 + shape.x)))
		raidtest.CheckRoundTrip(t, ctrl, cfg, rng, 5)
	}
}

func TestPropertyRecoverability(t *testing.T) {
	const d, c, x = 6, 4, 64
	rng := rand.New(rand.NewSource(42))
	for lost := 0; lost <= c; lost++ {
		ctrl := mustNew(t, d, c, x)
		idxs := make([]int, lost)
		for i := range idxs {
			idxs[i] = i
		}
		cfg := raidtest.Config{D: d, C: c, X: x, Quiesce: ctrl.Ping}
		raidtest.CheckRecoverability(t, ctrl, cfg, rng, 4, idxs)
	}
}

func TestPropertyIdempotentRecovery(t *testing.T) {
	ctrl := mustNew(t, 4, 3, 32)
	cfg := raidtest.Config{D: 4, C: 3, X: 32, Quiesce: ctrl.Ping}
	rng := rand.New(rand.NewSource(7))
	raidtest.CheckIdempotentRecovery(t, ctrl, cfg, rng)
}

// S3-shaped fuzz, as in pkg/raid, but driven through the agent protocol's
// message passing and quiesced with Ping between every observation.
func TestScenarioS3Fuzz(t *testing.T) {
	const d, c, x = 6, 4, 64
	ctrl := mustNew(t, d, c, x)
	rng := rand.New(rand.NewSource(4321))

	type position struct{ slice, idx int }
	values := map[position][]byte{}
	touched := map[position]bool{}

	for round := 0; round < 8; round++ {
		n := 1 + rng.Intn(d*3)
		for i := 0; i < n; i++ {
			pos := position{rng.Intn(5), rng.Intn(d)}
			buf := make([]byte, x)
			_, err := rng.Read(buf)
			if err != nil {
				t.Fatal(err)
			}
			if touched[pos] {
				err = ctrl.UpdateChunk(pos.slice, pos.idx, buf)
			} else {
				err = ctrl.AddChunk(pos.slice, pos.idx, buf)
				touched[pos] = true
			}
			if err != nil {
				t.Fatal(err)
			}
			values[pos] = buf
		}
		ctrl.Ping()

		type ref struct {
			slice, idx int
			data       []byte
		}
		var refs []ref
		for pos, data := range values {
			refs = append(refs, ref{pos.slice, pos.idx, data})
		}

		for _, r := range refs {
			got, err := ctrl.ReadChunk(r.slice, r.idx)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(r.data) {
				t.Fatalf("round %d: slice %d idx %d: got %x want %x", round, r.slice, r.idx, got, r.data)
			}
		}

		lost := rng.Intn(c + 1)
		idxs := rng.Perm(d + c)[:lost]
		if err := ctrl.DestroyDevices(idxs); err != nil {
			t.Fatal(err)
		}
		ctrl.Ping()

		for _, r := range refs {
			got, err := ctrl.ReadChunk(r.slice, r.idx)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(r.data) {
				t.Fatalf("round %d after destroy: slice %d idx %d: got %x want %x", round, r.slice, r.idx, got, r.data)
			}
		}
	}
}
