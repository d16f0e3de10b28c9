package reedsolomon

import "errors"

// ErrSingularBasis is returned by NewSystematicRS when the Vandermonde basis
// fails to row-reduce. With a real Vandermonde matrix this cannot happen;
// seeing it means the (d, c) parameters are inconsistent with the field.
var ErrSingularBasis = errors.New("reedsolomon: singular Vandermonde basis")

// ErrSingularMatrix is returned by GaussianEliminate when no nonzero pivot
// can be found for some column. In a correctly constructed systematic
// Reed-Solomon code this indicates a bug, not a recoverable condition.
var ErrSingularMatrix = errors.New("reedsolomon: singular matrix")

// Matrix is a dense matrix over GF(2^8).
type Matrix struct {
	Rows, Cols int
	data       [][]byte
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	data := make([][]byte, rows)
	for i := range data {
		data[i] = make([]byte, cols)
	}
	return &Matrix{Rows: rows, Cols: cols, data: data}
}

// At returns the element at (row, col).
func (m *Matrix) At(row, col int) byte { return m.data[row][col] }

// Set writes the element at (row, col).
func (m *Matrix) Set(row, col int, v byte) { m.data[row][col] = v }

// Row returns the underlying row slice; mutating it mutates the matrix.
func (m *Matrix) Row(row int) []byte { return m.data[row] }

// NewSystematicRS builds the (c x d) systematic Reed-Solomon parity matrix
// V: it constructs the (d+c) x d Vandermonde-like matrix A with
// A[m][n] = m^n, row-reduces the top d x d block to the identity, and
// returns the bottom c x d block.
//
// This is the row-reduction algorithm from
// m-ildefons-longhorn-engine/pkg/reedsolomon/galois.go's
// mtx_xform_vandermonde, specialized to operate directly on byte buffers
// instead of a generic poly type.
func NewSystematicRS(d, c int) (*Matrix, error) {
	if d <= 0 || d+c > 256 {
		return nil, ErrDimensionMismatch
	}

	n := d
	k := c
	a := make([][]byte, n+k)
	for i := range a {
		a[i] = make([]byte, n)
		for j := range a[i] {
			a[i][j] = Pow(byte(i), j)
		}
	}

	for i := 1; i < n; i++ {
		diag := a[i][i]
		if diag == 0 {
			return nil, ErrSingularBasis
		}
		if diag != 1 {
			for j := 0; j < n; j++ {
				v, err := Div(a[i][j], diag)
				if err != nil {
					return nil, err
				}
				a[i][j] = v
			}
		}

		for j := 0; j < n; j++ {
			if j == i {
				continue
			}
			scale := a[i][j]
			if scale == 0 {
				continue
			}
			for l := 0; l < n+k; l++ {
				a[l][j] = Add(Mul(scale, a[l][i]), a[l][j])
			}
		}
	}

	v := NewMatrix(k, n)
	for i := 0; i < k; i++ {
		copy(v.data[i], a[n+i])
	}
	return v, nil
}

// Recovery builds the (d x d) recovery matrix from two index lists that
// together total d: knownData rows become identity-selector rows for the
// surviving data positions, knownParity rows are pulled from V indexed by
// the surviving parity positions. v is assumed to be the c x d systematic
// parity matrix V (v.Rows == c, v.Cols == d).
func (v *Matrix) Recovery(knownData, knownParity []int) (*Matrix, error) {
	d := v.Cols
	if len(knownData)+len(knownParity) != d {
		return nil, ErrDimensionMismatch
	}

	rec := NewMatrix(d, d)
	for r, dataIdx := range knownData {
		rec.data[r][dataIdx] = 1
	}
	for r, parityIdx := range knownParity {
		copy(rec.data[len(knownData)+r], v.data[parityIdx])
	}
	return rec, nil
}

// GaussianEliminate solves sys * x = rhs in place over GF(2^8), using
// forward elimination with partial pivoting followed by back substitution.
// rhs holds d row vectors of X bytes each; on return rhs holds the solved
// x vectors in the same order.
//
// Grounded on original_source/src/matrix.rs's gaussian_elimination.
func GaussianEliminate(sys *Matrix, rhs [][]byte) error {
	n := sys.Rows
	if sys.Cols != n || len(rhs) != n {
		return ErrDimensionMismatch
	}

	for m := 0; m < n; m++ {
		if sys.data[m][m] == 0 {
			swapped := false
			for below := m + 1; below < n; below++ {
				if sys.data[below][m] != 0 {
					sys.data[m], sys.data[below] = sys.data[below], sys.data[m]
					rhs[m], rhs[below] = rhs[below], rhs[m]
					swapped = true
					break
				}
			}
			if !swapped {
				return ErrSingularMatrix
			}
		}

		if sys.data[m][m] != 1 {
			scale, err := Div(1, sys.data[m][m])
			if err != nil {
				return err
			}
			scaleRow(sys.data[m], scale)
			scaleRow(rhs[m], scale)
		}

		for below := m + 1; below < n; below++ {
			scale := sys.data[below][m]
			if scale == 0 {
				continue
			}
			subtractScaled(sys.data[below], sys.data[m], scale)
			subtractScaled(rhs[below], rhs[m], scale)
		}
	}

	for m := n - 2; m >= 0; m-- {
		for c := m + 1; c < n; c++ {
			scale := sys.data[m][c]
			if scale == 0 {
				continue
			}
			subtractScaled(rhs[m], rhs[c], scale)
		}
	}
	return nil
}

func scaleRow(row []byte, scale byte) {
	for i := range row {
		row[i] = Mul(row[i], scale)
	}
}

func subtractScaled(dst, src []byte, scale byte) {
	for i := range dst {
		dst[i] = Sub(dst[i], Mul(scale, src[i]))
	}
}

// MulVec computes V * vec, returning one output vector per row of V. vec
// must have v.Cols entries, each an X-byte buffer.
func (v *Matrix) MulVec(vec [][]byte) ([][]byte, error) {
	if len(vec) != v.Cols {
		return nil, ErrDimensionMismatch
	}
	out := make([][]byte, v.Rows)
	for r := 0; r < v.Rows; r++ {
		row, err := v.MulVecAt(vec, r)
		if err != nil {
			return nil, err
		}
		out[r] = row
	}
	return out, nil
}

// MulVecAt computes only row `row` of V * v.
func (v *Matrix) MulVecAt(vec [][]byte, row int) ([]byte, error) {
	if len(vec) != v.Cols {
		return nil, ErrDimensionMismatch
	}
	if row < 0 || row >= v.Rows {
		return nil, ErrDimensionMismatch
	}
	x := 0
	if len(vec) > 0 {
		x = len(vec[0])
	}
	out := make([]byte, x)
	for col, coeff := range v.data[row] {
		if coeff == 0 {
			continue
		}
		in := vec[col]
		for i := 0; i < x; i++ {
			out[i] = Add(out[i], Mul(coeff, in[i]))
		}
	}
	return out, nil
}
