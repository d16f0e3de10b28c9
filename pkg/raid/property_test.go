package raid

import (
	"math/rand"
	"testing"

	"github.com/GeorgOhneH/raid/pkg/raidtest"
)

// Property 1, checked over several (D, C, X) shapes in the teacher's
// table-driven style rather than via testing/quick, since the harness
// itself needs a live Engine per configuration.
func TestPropertyRoundTrip(t *testing.T) {
	shapes := []struct{ d, c, x int }{
		{1, 0, 4}, {3, 2, 8}, {4, 4, 2}, {6, 1, 16},
	}
	for _, shape := range shapes {
		e := mustNew(t, shape.d, shape.c, shape.x)
		cfg := raidtest.Config{D: shape.d, C: shape.c, X: shape.x}
		rng := rand.New(rand.NewSource(int64(shape.d*1000 + shape.c*10 + shape.x)))
		raidtest.CheckRoundTrip(t, e, cfg, rng, 5)
	}
}

// Property 3, scaled down from literal S3/S4 (D=6,C=4,X=2^22 and
// D=30,C=3,X=2^20) to parameters a unit test can run quickly while still
// exercising every destroyed-device-count from 0 up to C.
func TestPropertyRecoverability(t *testing.T) {
	const d, c, x = 6, 4, 64
	rng := rand.New(rand.NewSource(42))
	for lost := 0; lost <= c; lost++ {
		e := mustNew(t, d, c, x)
		idxs := make([]int, lost)
		for i := range idxs {
			idxs[i] = i
		}
		cfg := raidtest.Config{D: d, C: c, X: x}
		raidtest.CheckRecoverability(t, e, cfg, rng, 4, idxs)
	}
}

// Property 4 is purely combinatorial; it doesn't need a live engine.
func TestPropertyPlacementDisjoint(t *testing.T) {
	for _, n := range []int{1, 2, 5, 10, 34} {
		raidtest.CheckPlacementDisjoint(t, n, 20)
	}
}

func TestPropertyIdempotentRecovery(t *testing.T) {
	e := mustNew(t, 4, 3, 32)
	cfg := raidtest.Config{D: 4, C: 3, X: 32}
	rng := rand.New(rand.NewSource(7))
	raidtest.CheckIdempotentRecovery(t, e, cfg, rng)
}

// S3-shaped fuzz: random files via a sequence of AddChunk/UpdateChunk
// writes, interleaved destroy-and-reread rounds, every read checked
// against the last value written for that position.
func TestScenarioS3Fuzz(t *testing.T) {
	const d, c, x = 6, 4, 64
	e := mustNew(t, d, c, x)
	rng := rand.New(rand.NewSource(1234))

	type position struct{ slice, idx int }
	values := map[position][]byte{}
	touched := map[position]bool{}

	for round := 0; round < 10; round++ {
		n := 1 + rng.Intn(d*3)
		for i := 0; i < n; i++ {
			pos := position{rng.Intn(5), rng.Intn(d)}
			buf := make([]byte, x)
			_, err := rng.Read(buf)
			if err != nil {
				t.Fatal(err)
			}
			if touched[pos] {
				err = e.UpdateChunk(pos.slice, pos.idx, buf)
			} else {
				err = e.AddChunk(pos.slice, pos.idx, buf)
				touched[pos] = true
			}
			if err != nil {
				t.Fatal(err)
			}
			values[pos] = buf
		}

		type ref struct {
			slice, idx int
			data       []byte
		}
		var refs []ref
		for pos, data := range values {
			refs = append(refs, ref{pos.slice, pos.idx, data})
		}

		for _, r := range refs {
			got, err := e.ReadChunk(r.slice, r.idx)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(r.data) {
				t.Fatalf("round %d: slice %d idx %d: got %x want %x", round, r.slice, r.idx, got, r.data)
			}
		}

		lost := rng.Intn(c + 1)
		idxs := rng.Perm(d + c)[:lost]
		if err := e.DestroyDevices(idxs); err != nil {
			t.Fatal(err)
		}

		for _, r := range refs {
			got, err := e.ReadChunk(r.slice, r.idx)
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != string(r.data) {
				t.Fatalf("round %d after destroy: slice %d idx %d: got %x want %x", round, r.slice, r.idx, got, r.data)
			}
		}
	}
}
