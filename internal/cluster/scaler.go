// Package cluster holds the numeric part of the segmentation pipeline:
// feature scaling, K-Means, Ward agglomeration, the elbow heuristic and
// per-cluster summaries.
package cluster

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var ErrEmptyInput = errors.New("cluster: no rows to process")

// Scaler standardises columns to zero mean and unit population variance.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler learns per-column mean and population standard deviation.
// Constant columns get a scale of 1, so they transform to zero.
func FitScaler(x mat.Matrix) Scaler {
	r, c := x.Dims()
	s := Scaler{Mean: make([]float64, c), Scale: make([]float64, c)}
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, x)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j] = mean
		s.Scale[j] = std
	}
	return s
}

func (s Scaler) Transform(x mat.Matrix) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, x)
	return out
}

// StandardScale builds a matrix from rows and returns its standardised form.
func StandardScale(rows [][]float64) (*mat.Dense, Scaler, error) {
	x, err := Matrix(rows)
	if err != nil {
		return nil, Scaler{}, err
	}
	s := FitScaler(x)
	return s.Transform(x), s, nil
}

// Matrix copies equal-length rows into a dense matrix.
func Matrix(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, ErrEmptyInput
	}
	c := len(rows[0])
	data := make([]float64, 0, len(rows)*c)
	for i, row := range rows {
		if len(row) != c {
			return nil, fmt.Errorf("cluster: row %d has %d columns, want %d", i, len(row), c)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), c, data), nil
}

func denseRows(x mat.Matrix) [][]float64 {
	r, c := x.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = make([]float64, c)
		mat.Row(rows[i], i, x)
	}
	return rows
}
