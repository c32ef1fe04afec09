// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"

	"github.com/AleutianAI/ContractIQ/services/riskmodel"
)

// ErrNoPrediction is returned when an endpoint response carries no number.
var ErrNoPrediction = errors.New("scoring: response contains no prediction")

// Predictor produces a raw model score for one feature vector.
type Predictor interface {
	Predict(ctx context.Context, f Features) (float64, error)
}

// ParsePrediction reads a model-host response.
//
// Accepted shapes are {"predictions":[x,...]}, a bare number, a list whose
// first element is a number, and the plain-text number returned for
// Accept: text/csv.
func ParsePrediction(body []byte) (float64, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return 0, ErrNoPrediction
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		v, perr := strconv.ParseFloat(strings.TrimSpace(strings.Split(string(body), ",")[0]), 64)
		if perr != nil {
			return 0, fmt.Errorf("scoring: unparseable prediction %q: %w", truncate(string(body), 64), err)
		}
		return v, nil
	}
	return firstNumber(raw)
}

func firstNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case []any:
		if len(t) == 0 {
			return 0, ErrNoPrediction
		}
		return firstNumber(t[0])
	case map[string]any:
		if p, ok := t["predictions"]; ok {
			return firstNumber(p)
		}
		if s, ok := t["score"]; ok {
			return firstNumber(s)
		}
		return 0, ErrNoPrediction
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("scoring: %w", err)
		}
		return f, nil
	default:
		return 0, ErrNoPrediction
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// HTTP model host
// =============================================================================

// EndpointPredictor calls a model host speaking the /invocations contract,
// such as the riskmodel server.
type EndpointPredictor struct {
	url    string
	client *http.Client
}

// NewEndpointPredictor targets baseURL + "/invocations".
func NewEndpointPredictor(baseURL string, timeout time.Duration) *EndpointPredictor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EndpointPredictor{
		url:    strings.TrimRight(baseURL, "/") + "/invocations",
		client: &http.Client{Timeout: timeout},
	}
}

// Predict implements Predictor.
func (p *EndpointPredictor) Predict(ctx context.Context, f Features) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, strings.NewReader(f.CSV()))
	if err != nil {
		return 0, fmt.Errorf("scoring: build request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("scoring: invoke endpoint: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("scoring: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scoring: endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return ParsePrediction(body)
}

// =============================================================================
// SageMaker runtime
// =============================================================================

// SageMakerAPI is the subset of the runtime client used here.
type SageMakerAPI interface {
	InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SageMakerPredictor invokes a hosted endpoint by name.
type SageMakerPredictor struct {
	api      SageMakerAPI
	endpoint string
}

// NewSageMakerPredictor creates a predictor from an AWS config.
func NewSageMakerPredictor(cfg aws.Config, endpoint string) *SageMakerPredictor {
	return NewSageMakerPredictorWithClient(sagemakerruntime.NewFromConfig(cfg), endpoint)
}

// NewSageMakerPredictorWithClient is used by tests to inject a fake.
func NewSageMakerPredictorWithClient(api SageMakerAPI, endpoint string) *SageMakerPredictor {
	return &SageMakerPredictor{api: api, endpoint: endpoint}
}

// Predict implements Predictor.
func (p *SageMakerPredictor) Predict(ctx context.Context, f Features) (float64, error) {
	out, err := p.api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(p.endpoint),
		ContentType:  aws.String("text/csv"),
		Body:         []byte(f.CSV()),
	})
	if err != nil {
		return 0, fmt.Errorf("scoring: invoke %s: %w", p.endpoint, err)
	}
	return ParsePrediction(out.Body)
}

// =============================================================================
// In-process forest
// =============================================================================

// LocalPredictor evaluates a trained forest without a network hop.
type LocalPredictor struct {
	forest *riskmodel.Forest
}

// NewLocalPredictor wraps a trained forest.
func NewLocalPredictor(f *riskmodel.Forest) *LocalPredictor {
	return &LocalPredictor{forest: f}
}

// Predict implements Predictor.
func (p *LocalPredictor) Predict(_ context.Context, f Features) (float64, error) {
	if p.forest == nil {
		return 0, errors.New("scoring: no model loaded")
	}
	return p.forest.Predict(f.Vector())
}
