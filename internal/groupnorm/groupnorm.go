// Package groupnorm computes norms of fixed-size row blocks of a matrix.
// Rows [i*n, (i+1)*n) form group i; a group spans every column.
package groupnorm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Groups returns the number of row blocks of size n in a matrix with the
// given number of rows, or an error when they do not divide evenly.
func Groups(rows, n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("group size must be positive, got %d", n)
	}
	if rows%n != 0 {
		return 0, fmt.Errorf("%d rows do not split into groups of %d", rows, n)
	}
	return rows / n, nil
}

// Norm2 returns the squared Frobenius norm of every group of n rows of x.
// The result is written to dst when it is long enough.
func Norm2(dst []float64, x mat.Matrix, n int) ([]float64, error) {
	rows, cols := x.Dims()
	groups, err := Groups(rows, n)
	if err != nil {
		return nil, err
	}
	if len(dst) < groups {
		dst = make([]float64, groups)
	}
	dst = dst[:groups]

	if rm, ok := x.(mat.RawMatrixer); ok {
		raw := rm.RawMatrix()
		for g := range dst {
			var s float64
			for r := g * n; r < (g+1)*n; r++ {
				row := raw.Data[r*raw.Stride : r*raw.Stride+cols]
				s += floats.Dot(row, row)
			}
			dst[g] = s
		}
		return dst, nil
	}

	for g := range dst {
		var s float64
		for r := g * n; r < (g+1)*n; r++ {
			for c := 0; c < cols; c++ {
				v := x.At(r, c)
				s += v * v
			}
		}
		dst[g] = s
	}
	return dst, nil
}

// Norm returns the Frobenius norm of every group of n rows of x.
func Norm(dst []float64, x mat.Matrix, n int) ([]float64, error) {
	dst, err := Norm2(dst, x, n)
	if err != nil {
		return nil, err
	}
	for i, v := range dst {
		dst[i] = math.Sqrt(v)
	}
	return dst, nil
}
