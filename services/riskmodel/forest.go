// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package riskmodel trains and serves the contract risk regressor.
//
// The model is a random forest of CART regression trees over the six
// contract features:
//
//	0 clauses_count
//	1 risky_keywords
//	2 missing_clauses
//	3 hidden_risks
//	4 has_penalties
//	5 liability_score
//
// Predictions are clipped to [0,100].
package riskmodel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// NumFeatures is the width of a feature vector.
const NumFeatures = 6

// FeatureNames lists the features in vector order.
var FeatureNames = [NumFeatures]string{
	"clauses_count",
	"risky_keywords",
	"missing_clauses",
	"hidden_risks",
	"has_penalties",
	"liability_score",
}

// ErrFeatureCount is returned when a vector does not have NumFeatures
// values.
var ErrFeatureCount = fmt.Errorf("expected %d features", NumFeatures)

// Params controls forest training.
type Params struct {
	NumTrees        int   `json:"num_trees"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	Bootstrap       bool  `json:"bootstrap"`
	Seed            int64 `json:"seed"`
}

// DefaultParams returns 100 bootstrapped trees of depth at most 10.
func DefaultParams() Params {
	return Params{
		NumTrees:        100,
		MaxDepth:        10,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Bootstrap:       true,
		Seed:            42,
	}
}

// Node is one node of a regression tree. Leaves have Left == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

// Tree is a flattened regression tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree. Values <= Threshold go left.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a trained random forest regressor.
type Forest struct {
	Params Params `json:"params"`
	Trees  []Tree `json:"trees"`
}

// Predict averages the trees and clips the result to [0,100].
func (f *Forest) Predict(x []float64) (float64, error) {
	if len(x) != NumFeatures {
		return 0, fmt.Errorf("%w, got %d", ErrFeatureCount, len(x))
	}
	if len(f.Trees) == 0 {
		return 0, errors.New("riskmodel: forest has no trees")
	}
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return clip(sum / float64(len(f.Trees))), nil
}

// PredictBatch predicts every row.
func (f *Forest) PredictBatch(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, r := range rows {
		p, err := f.Predict(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = p
	}
	return out, nil
}

func clip(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

// Fit trains a forest on X and y.
//
// # Description
//
// Each tree draws its bootstrap sample from its own generator seeded with
// Params.Seed plus the tree index, so the result does not depend on how
// trees are scheduled across goroutines.
//
// # Inputs
//
//   - X: Rows of NumFeatures values.
//   - y: One target per row.
//
// # Outputs
//
//   - *Forest: The trained model.
//   - error: Shape mismatch, empty data or cancellation.
func Fit(ctx context.Context, X [][]float64, y []float64, p Params) (*Forest, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("riskmodel: %d rows but %d targets", len(X), len(y))
	}
	for i, row := range X {
		if len(row) != NumFeatures {
			return nil, fmt.Errorf("riskmodel: row %d: %w, got %d", i, ErrFeatureCount, len(row))
		}
	}
	if p.NumTrees <= 0 {
		p.NumTrees = 1
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}

	trees := make([]Tree, p.NumTrees)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := 0; t < p.NumTrees; t++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(p.Seed + int64(t)))
			idx := make([]int, len(X))
			for i := range idx {
				if p.Bootstrap {
					idx[i] = rng.Intn(len(X))
				} else {
					idx[i] = i
				}
			}
			b := &treeBuilder{X: X, y: y, p: p}
			b.build(idx, 0)
			trees[t] = Tree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &Forest{Params: p, Trees: trees}, nil
}

type treeBuilder struct {
	X     [][]float64
	y     []float64
	p     Params
	nodes []Node
}

// build appends the subtree for idx and returns its node index.
func (b *treeBuilder) build(idx []int, depth int) int {
	mean, sse := b.stats(idx)
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Value: mean})

	if (b.p.MaxDepth > 0 && depth >= b.p.MaxDepth) || len(idx) < b.p.MinSamplesSplit || sse <= 1e-12 {
		return self
	}
	feature, threshold, ok := b.bestSplit(idx, sse)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Value: mean}
	return self
}

func (b *treeBuilder) stats(idx []int) (mean, sse float64) {
	sum, sumSq := 0.0, 0.0
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	n := float64(len(idx))
	mean = sum / n
	return mean, sumSq - sum*sum/n
}

// bestSplit scans every feature for the threshold with the lowest summed
// squared error of the two children.
func (b *treeBuilder) bestSplit(idx []int, parentSSE float64) (int, float64, bool) {
	n := len(idx)
	bestFeature, bestThreshold, bestSSE := -1, 0.0, parentSSE
	sorted := make([]int, n)

	var totalSum, totalSq float64
	for _, i := range idx {
		totalSum += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}

	for f := 0; f < NumFeatures; f++ {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.X[sorted[a]][f] < b.X[sorted[c]][f] })

		var leftSum, leftSq float64
		for k := 0; k < n-1; k++ {
			yi := b.y[sorted[k]]
			leftSum += yi
			leftSq += yi * yi
			nl := k + 1
			nr := n - nl
			if nl < b.p.MinSamplesLeaf || nr < b.p.MinSamplesLeaf {
				continue
			}
			cur, next := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if cur == next {
				continue
			}
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/float64(nl)) + (rightSq - rightSum*rightSum/float64(nr))
			if sse < bestSSE-1e-12 {
				bestFeature, bestThreshold, bestSSE = f, (cur+next)/2, sse
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}
