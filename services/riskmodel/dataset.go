// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package riskmodel

import (
	"math"
	"math/rand"
)

// Dataset is a feature matrix with targets.
type Dataset struct {
	X [][]float64
	Y []float64
}

// Len returns the number of rows.
func (d Dataset) Len() int { return len(d.Y) }

// Synthetic generates n labelled contracts.
//
// # Description
//
// Feature ranges (upper bounds exclusive): clauses [5,50), risky keywords
// [0,20), missing clauses [0,10), hidden risks [0,15), penalties {0,1},
// liability [0,1). The target is
//
//	20 + 0.5c + 3r + 2m + 4h + 15p + 25l + N(0,5)
//
// clipped to [0,100].
func Synthetic(n int, seed int64) Dataset {
	rng := rand.New(rand.NewSource(seed))
	d := Dataset{X: make([][]float64, n), Y: make([]float64, n)}
	for i := 0; i < n; i++ {
		x := []float64{
			float64(5 + rng.Intn(45)),
			float64(rng.Intn(20)),
			float64(rng.Intn(10)),
			float64(rng.Intn(15)),
			float64(rng.Intn(2)),
			rng.Float64(),
		}
		d.X[i] = x
		d.Y[i] = clip(Target(x) + rng.NormFloat64()*5)
	}
	return d
}

// Target is the noiseless synthetic risk function.
func Target(x []float64) float64 {
	return 20 + 0.5*x[0] + 3*x[1] + 2*x[2] + 4*x[3] + 15*x[4] + 25*x[5]
}

// Split shuffles d and holds out testFraction of it.
func Split(d Dataset, testFraction float64, seed int64) (train, test Dataset) {
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(d.Len())
	nTest := int(math.Ceil(float64(d.Len()) * testFraction))
	for k, i := range perm {
		if k < nTest {
			test.X = append(test.X, d.X[i])
			test.Y = append(test.Y, d.Y[i])
		} else {
			train.X = append(train.X, d.X[i])
			train.Y = append(train.Y, d.Y[i])
		}
	}
	return train, test
}

// Metrics summarizes predictive quality on a held-out set.
type Metrics struct {
	MSE     float64 `json:"mse"`
	R2      float64 `json:"r2"`
	Samples int     `json:"samples"`
}

// Evaluate computes MSE and R² of f on d.
func Evaluate(f *Forest, d Dataset) (Metrics, error) {
	pred, err := f.PredictBatch(d.X)
	if err != nil {
		return Metrics{}, err
	}
	mean := 0.0
	for _, y := range d.Y {
		mean += y
	}
	mean /= float64(d.Len())

	var ssRes, ssTot float64
	for i, y := range d.Y {
		ssRes += (y - pred[i]) * (y - pred[i])
		ssTot += (y - mean) * (y - mean)
	}
	m := Metrics{MSE: ssRes / float64(d.Len()), Samples: d.Len()}
	if ssTot > 0 {
		m.R2 = 1 - ssRes/ssTot
	}
	return m, nil
}
