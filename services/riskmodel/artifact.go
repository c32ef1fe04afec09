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
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// ArtifactFormat identifies the serialized model layout.
const ArtifactFormat = "contractiq-risk-forest/v1"

// ArtifactKey is where deployments store the model in the models bucket.
const ArtifactKey = "risk-scorer/model.json"

// Artifact is the on-disk form of a trained model.
type Artifact struct {
	Format    string    `json:"format"`
	Features  []string  `json:"features"`
	TrainedAt time.Time `json:"trained_at"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
	Forest    *Forest   `json:"forest"`
}

// NewArtifact wraps a trained forest.
func NewArtifact(f *Forest, m *Metrics, trainedAt time.Time) *Artifact {
	return &Artifact{
		Format:    ArtifactFormat,
		Features:  FeatureNames[:],
		TrainedAt: trainedAt.UTC(),
		Metrics:   m,
		Forest:    f,
	}
}

// Write encodes the artifact as JSON.
func (a *Artifact) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("riskmodel: encode artifact: %w", err)
	}
	return nil
}

// ReadArtifact decodes and validates an artifact.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("riskmodel: decode artifact: %w", err)
	}
	if a.Format != ArtifactFormat {
		return nil, fmt.Errorf("riskmodel: unsupported artifact format %q", a.Format)
	}
	if a.Forest == nil || len(a.Forest.Trees) == 0 {
		return nil, fmt.Errorf("riskmodel: artifact has no trees")
	}
	for ti, t := range a.Forest.Trees {
		for ni, n := range t.Nodes {
			if n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) || (n.Left >= 0 && (n.Feature < 0 || n.Feature >= NumFeatures)) {
				return nil, fmt.Errorf("riskmodel: tree %d node %d is malformed", ti, ni)
			}
			if n.Left >= 0 && (n.Left <= ni || n.Right <= ni) {
				return nil, fmt.Errorf("riskmodel: tree %d node %d points backwards", ti, ni)
			}
		}
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("riskmodel: tree %d is empty", ti)
		}
	}
	return &a, nil
}
