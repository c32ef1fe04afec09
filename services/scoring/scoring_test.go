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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/riskmodel"
)

func TestExtractFeatures(t *testing.T) {
	c := &datatypes.Contract{
		ClausesCount: 12,
		Summary:      "Exclusive supplier deal. Late Penalty applies; penalty doubles. Binding arbitration.",
	}
	a := &datatypes.Analysis{
		HiddenRisks:    datatypes.TextList{"auto renewal", "broad ip grant"},
		MissingClauses: datatypes.TextList{"force majeure"},
	}
	f := ExtractFeatures(c, a)
	assert.Equal(t, Features{
		ClausesCount:   12,
		RiskyKeywords:  3,
		MissingClauses: 1,
		HiddenRisks:    2,
		HasPenalties:   true,
		LiabilityScore: 0.5,
	}, f)
	assert.Equal(t, "12,3,1,2,1,0.5", f.CSV())
}

func TestExtractFeatures_PenaltyFromPaymentTerms(t *testing.T) {
	c := &datatypes.Contract{Summary: "plain services agreement"}
	a := &datatypes.Analysis{PaymentTerms: datatypes.PaymentTerms{Fields: map[string]any{"penalties": "2% PENALTY on late invoices"}}}
	f := ExtractFeatures(c, a)
	assert.True(t, f.HasPenalties)
	assert.Zero(t, f.RiskyKeywords, "payment terms do not feed the keyword count")
}

func TestExtractFeatures_PenaltyFromStringTerms(t *testing.T) {
	c := &datatypes.Contract{Summary: "plain services agreement"}
	a := &datatypes.Analysis{PaymentTerms: datatypes.PaymentTerms{Raw: json.RawMessage(`"Net 30 with a 2% late penalty"`)}}
	assert.True(t, ExtractFeatures(c, a).HasPenalties)
}

func TestExtractFeatures_NilAnalysis(t *testing.T) {
	f := ExtractFeatures(&datatypes.Contract{ClausesCount: 4}, nil)
	assert.Equal(t, []float64{4, 0, 0, 0, 0, 0.5}, f.Vector())
}

func TestFallback(t *testing.T) {
	f := Features{RiskyKeywords: 2, MissingClauses: 1, HiddenRisks: 1, HasPenalties: true, LiabilityScore: 0.5}
	assert.InDelta(t, 20+10+3+10+15+10, Fallback(f), 1e-9)

	huge := Features{HiddenRisks: 50, LiabilityScore: 1}
	assert.Equal(t, 100.0, Fallback(huge))
}

func TestParsePrediction(t *testing.T) {
	cases := map[string]float64{
		`{"predictions":[42.5]}`:    42.5,
		`{"predictions":[[61]]}`:    61,
		`37.25`:                     37.25,
		`[12, 14]`:                  12,
		"55.5\n":                    55.5,
		`{"predictions":["18.75"]}`: 18.75,
	}
	for body, want := range cases {
		got, err := ParsePrediction([]byte(body))
		require.NoError(t, err, body)
		assert.InDelta(t, want, got, 1e-9, body)
	}

	for _, body := range []string{``, `{}`, `[]`, `not a number`, `{"predictions":[]}`} {
		_, err := ParsePrediction([]byte(body))
		assert.Error(t, err, body)
	}
}

func TestEndpointPredictor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/invocations", r.URL.Path)
		assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "10,5,2,3,1,0.7", string(body))
		_, _ = w.Write([]byte(`{"predictions":[73.4]}`))
	}))
	defer srv.Close()

	p := NewEndpointPredictor(srv.URL+"/", 0)
	got, err := p.Predict(context.Background(), Features{
		ClausesCount: 10, RiskyKeywords: 5, MissingClauses: 2, HiddenRisks: 3, HasPenalties: true, LiabilityScore: 0.7,
	})
	require.NoError(t, err)
	assert.InDelta(t, 73.4, got, 1e-9)
}

func TestEndpointPredictor_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewEndpointPredictor(srv.URL, 0).Predict(context.Background(), Features{})
	assert.ErrorContains(t, err, "500")
}

func TestEndpointPredictor_AgainstModelServer(t *testing.T) {
	d := riskmodel.Synthetic(200, 3)
	p := riskmodel.DefaultParams()
	p.NumTrees = 5
	forest, err := riskmodel.Fit(context.Background(), d.X, d.Y, p)
	require.NoError(t, err)

	srv := httptest.NewServer(riskmodel.NewServer(forest, nil).Handler())
	defer srv.Close()

	f := Features{ClausesCount: 20, RiskyKeywords: 4, MissingClauses: 1, HiddenRisks: 2, LiabilityScore: 0.5}
	remote, err := NewEndpointPredictor(srv.URL, 0).Predict(context.Background(), f)
	require.NoError(t, err)
	local, err := NewLocalPredictor(forest).Predict(context.Background(), f)
	require.NoError(t, err)
	assert.InDelta(t, local, remote, 1e-9)
}

type fakeSageMaker struct {
	in   *sagemakerruntime.InvokeEndpointInput
	body []byte
	err  error
}

func (f *fakeSageMaker) InvokeEndpoint(_ context.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sagemakerruntime.InvokeEndpointOutput{Body: f.body}, nil
}

func TestSageMakerPredictor(t *testing.T) {
	fake := &fakeSageMaker{body: []byte(`{"predictions": [88.1]}`)}
	p := NewSageMakerPredictorWithClient(fake, "contract-risk-scorer")
	got, err := p.Predict(context.Background(), Features{ClausesCount: 1, LiabilityScore: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 88.1, got, 1e-9)
	assert.Equal(t, "contract-risk-scorer", aws.ToString(fake.in.EndpointName))
	assert.Equal(t, "text/csv", aws.ToString(fake.in.ContentType))
	assert.Equal(t, "1,0,0,0,0,0.5", string(fake.in.Body))
}

type stubPredictor struct {
	v   float64
	err error
}

func (s stubPredictor) Predict(context.Context, Features) (float64, error) { return s.v, s.err }

type countingObserver struct{ reasons []string }

func (c *countingObserver) ObserveScoringFallback(reason string) { c.reasons = append(c.reasons, reason) }

func TestScorer(t *testing.T) {
	f := Features{RiskyKeywords: 1, LiabilityScore: 0.5}
	obs := &countingObserver{}

	r := NewScorer(stubPredictor{v: 140}, obs, nil).Score(context.Background(), f)
	assert.Equal(t, Result{Score: 100}, r)

	r = NewScorer(stubPredictor{v: -3}, obs, nil).Score(context.Background(), f)
	assert.Equal(t, 0.0, r.Score)
	assert.False(t, r.Fallback)

	r = NewScorer(stubPredictor{err: errors.New("endpoint down")}, obs, nil).Score(context.Background(), f)
	assert.True(t, r.Fallback)
	assert.InDelta(t, 35, r.Score, 1e-9)
	assert.Error(t, r.Err)

	r = NewScorer(nil, obs, nil).Score(context.Background(), f)
	assert.True(t, r.Fallback)
	assert.NoError(t, r.Err)

	assert.Equal(t, []string{"endpoint_error", "disabled"}, obs.reasons)
}
