// Package problem loads sampler inputs from JSON files.
//
// A problem file holds row-major nested arrays:
//
//	{
//	  "gain":   [[...], ...],   // sensors × dipoles
//	  "data":   [[...], ...],   // sensors × times
//	  "x0":     [[...], ...],   // optional, dipoles × times
//	  "gamma0": [...]           // optional, one per location, defaults to ones
//	}
package problem

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/bayes-meeg/internal/fsutil"
	"github.com/banshee-data/bayes-meeg/internal/gibbs"
	"github.com/banshee-data/bayes-meeg/internal/groupnorm"
)

// maxFileSize bounds the size of a problem file.
const maxFileSize = 256 * 1024 * 1024 // 256MB

type file struct {
	Gain   [][]float64 `json:"gain"`
	Data   [][]float64 `json:"data"`
	X0     [][]float64 `json:"x0,omitempty"`
	Gamma0 []float64   `json:"gamma0,omitempty"`
}

// Load reads a problem file. nOrient is needed to size the default gamma0.
func Load(path string, nOrient int) (*gibbs.Problem, error) {
	cleanPath, err := fsutil.CheckFile(path, "problem file", ".json", maxFileSize)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open problem file: %w", err)
	}
	defer f.Close()
	return Decode(f, nOrient)
}

// Decode reads a problem from r.
func Decode(r io.Reader, nOrient int) (*gibbs.Problem, error) {
	var in file
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("failed to parse problem JSON: %w", err)
	}

	gain, err := dense("gain", in.Gain)
	if err != nil {
		return nil, err
	}
	data, err := dense("data", in.Data)
	if err != nil {
		return nil, err
	}
	p := &gibbs.Problem{Gain: gain, Data: data, Gamma0: in.Gamma0}

	if len(in.X0) > 0 {
		if p.X0, err = dense("x0", in.X0); err != nil {
			return nil, err
		}
	}

	if p.Gamma0 == nil {
		_, dipoles := gain.Dims()
		locations, err := groupnorm.Groups(dipoles, nOrient)
		if err != nil {
			return nil, fmt.Errorf("gamma0 default: %w", err)
		}
		p.Gamma0 = make([]float64, locations)
		for i := range p.Gamma0 {
			p.Gamma0[i] = 1
		}
	}
	return p, nil
}

// dense converts nested rows into a matrix, rejecting empty or ragged input.
func dense(name string, rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("%s: empty matrix", name)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%s: row %d has %d columns, want %d", name, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data), nil
}
