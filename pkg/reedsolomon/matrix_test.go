package reedsolomon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSystematicRSParityShape(t *testing.T) {
	d, c := 4, 2
	v, err := NewSystematicRS(d, c)
	require.NoError(t, err)
	require.Equal(t, c, v.Rows)
	require.Equal(t, d, v.Cols)
}

func TestRecoveryRoundTrip(t *testing.T) {
	d, c, x := 3, 2, 4
	v, err := NewSystematicRS(d, c)
	require.NoError(t, err)

	data := make([][]byte, d)
	for i := range data {
		data[i] = []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
	}
	parity, err := v.MulVec(data)
	require.NoError(t, err)
	require.Len(t, parity, c)
	for _, p := range parity {
		require.Len(t, p, x)
	}

	// Lose data chunk 0; recover using data chunks 1,2 and parity chunk 0.
	rec, err := v.Recovery([]int{1, 2}, []int{0})
	require.NoError(t, err)

	rhs := [][]byte{
		append([]byte(nil), data[1]...),
		append([]byte(nil), data[2]...),
		append([]byte(nil), parity[0]...),
	}
	require.NoError(t, GaussianEliminate(rec, rhs))

	require.Equal(t, data[0], rhs[0])
	require.Equal(t, data[1], rhs[1])
	require.Equal(t, data[2], rhs[2])
}

func TestGaussianEliminateSingular(t *testing.T) {
	m := NewMatrix(2, 2)
	// all-zero matrix: no pivot exists anywhere.
	rhs := [][]byte{{1}, {2}}
	err := GaussianEliminate(m, rhs)
	require.ErrorIs(t, err, ErrSingularMatrix)
}

func TestMulVecAtMatchesMulVecRow(t *testing.T) {
	d, c := 5, 3
	v, err := NewSystematicRS(d, c)
	require.NoError(t, err)

	data := make([][]byte, d)
	for i := range data {
		data[i] = []byte{byte(i * 7), byte(i*7 + 1)}
	}
	full, err := v.MulVec(data)
	require.NoError(t, err)

	for row := 0; row < c; row++ {
		one, err := v.MulVecAt(data, row)
		require.NoError(t, err)
		require.Equal(t, full[row], one)
	}
}
