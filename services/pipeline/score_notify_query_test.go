// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/ContractIQ/services/notify"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/scoring"
)

type fixedPredictor struct {
	v   float64
	err error
}

func (f fixedPredictor) Predict(context.Context, scoring.Features) (float64, error) { return f.v, f.err }

func TestScore_UsesPredictorAndStoresResult(t *testing.T) {
	h := newHarness(t)
	h.putContract(t, datatypes.Contract{ContractID: "c-1", ClausesCount: 8, Summary: "x", Status: datatypes.StatusAnalyzed})
	rs := NewRiskScorer(h.svc, scoring.NewScorer(fixedPredictor{v: 72.456}, nil, nil))

	res, err := rs.HandleEvent(context.Background(), []byte(`{"contract_id":"c-1"}`))
	require.NoError(t, err)
	assert.Equal(t, &ScoreResult{ContractID: "c-1", RiskScore: 72.456, RiskLevel: datatypes.RiskHigh}, res)

	c := h.contract(t, "c-1")
	require.NotNil(t, c.RiskScore)
	assert.Equal(t, 72.46, *c.RiskScore)
	assert.Equal(t, datatypes.StatusCompleted, c.Status)
	require.NotNil(t, c.RiskCalculatedAt)
	assert.Equal(t, fixedNow, *c.RiskCalculatedAt)

	sent := h.queue.on(queue.Notification)
	require.Len(t, sent, 1)
	assert.Equal(t, "c-1", decode[datatypes.NotificationRequest](t, sent[0].body).ContractID)
}

func TestScore_FallbackFromRecordBody(t *testing.T) {
	h := newHarness(t)
	h.putContract(t, datatypes.Contract{
		ContractID: "c-2",
		Summary:    "Includes a penalty and an indemnify obligation.",
		Status:     datatypes.StatusAnalyzed,
	})
	rs := NewRiskScorer(h.svc, scoring.NewScorer(fixedPredictor{err: errors.New("endpoint down")}, nil, nil))

	body := `{"Records":[{"body":"{\"contract_id\":\"c-2\",\"analysis\":{\"hidden_risks\":[\"a\"],\"missing_clauses\":[\"b\",\"c\"]}}"}]}`
	res, err := rs.HandleEvent(context.Background(), []byte(body))
	require.NoError(t, err)
	// 20 + 5*2 + 3*2 + 10*1 + 15 + 20*0.5
	assert.InDelta(t, 71, res.RiskScore, 1e-9)
	assert.Equal(t, datatypes.RiskHigh, res.RiskLevel)
}

func TestScore_StoredAnalysisWhenEventHasNone(t *testing.T) {
	h := newHarness(t)
	h.putContract(t, datatypes.Contract{
		ContractID: "c-3",
		Status:     datatypes.StatusAnalyzed,
		Analysis:   &datatypes.Analysis{HiddenRisks: datatypes.TextList{"a", "b", "c"}},
	})
	res, err := NewRiskScorer(h.svc, nil).Score(context.Background(), datatypes.ScoringRequest{ContractID: "c-3"})
	require.NoError(t, err)
	// 20 + 10*3 + 20*0.5
	assert.InDelta(t, 60, res.RiskScore, 1e-9)
	assert.Equal(t, datatypes.RiskMedium, res.RiskLevel)
}

func TestScore_Errors(t *testing.T) {
	h := newHarness(t)
	rs := NewRiskScorer(h.svc, nil)

	_, err := rs.HandleEvent(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingContractID)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))

	_, err = rs.HandleEvent(context.Background(), []byte(`{"contract_id":"nope"}`))
	assert.ErrorIs(t, err, ErrContractNotFound)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	assert.Equal(t, "Contract not found", ClientMessage(err))

	err = rs.HandleMessage(context.Background(), []byte(`{"contract_id":"nope"}`))
	assert.True(t, queue.IsPermanent(err))
}

func TestScore_NotificationFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	h.putContract(t, datatypes.Contract{ContractID: "c-1", Status: datatypes.StatusAnalyzed})
	h.queue.err = errBackend
	_, err := NewRiskScorer(h.svc, nil).Score(context.Background(), datatypes.ScoringRequest{ContractID: "c-1"})
	assert.NoError(t, err)
}

// =============================================================================
// Notification
// =============================================================================

type capturePublisher struct {
	got []notify.Notification
	err error
}

func (c *capturePublisher) Publish(_ context.Context, n notify.Notification) error {
	c.got = append(c.got, n)
	return c.err
}

func (c *capturePublisher) Name() string { return "capture" }

func TestNotify_Message(t *testing.T) {
	h := newHarness(t)
	score := 72.5
	h.putContract(t, datatypes.Contract{ContractID: "c-1", UserID: "u-1", Filename: "lease.pdf", Status: datatypes.StatusCompleted, RiskScore: &score})
	pub := &capturePublisher{}

	res, err := NewNotifier(h.svc, pub).HandleEvent(context.Background(), []byte(`{"contract_id":"c-1"}`))
	require.NoError(t, err)
	assert.Equal(t, &NotifyResult{Message: "Notification sent", ContractID: "c-1"}, res)

	require.Len(t, pub.got, 1)
	n := pub.got[0]
	assert.Equal(t, "Contract Analysis Complete: lease.pdf", n.Subject)
	assert.Equal(t, "Your contract analysis is complete!\n\n"+
		"Contract: lease.pdf\n"+
		"Risk Score: 72.5/100 (High Risk)\n"+
		"Status: completed\n\n"+
		"View full analysis in your dashboard.\n", n.Message)
	assert.Equal(t, map[string]string{"contract_id": "c-1", "user_id": "u-1"}, n.Attributes)
}

func TestNotify_WholeScoreKeepsDecimal(t *testing.T) {
	score := 42.0
	n := BuildNotification(&datatypes.Contract{ContractID: "c-1", Status: datatypes.StatusCompleted, RiskScore: &score})
	assert.Contains(t, n.Message, "Risk Score: 42.0/100 (Medium Risk)\n")
}

func TestNotify_AnalyzedWithoutScore(t *testing.T) {
	n := BuildNotification(&datatypes.Contract{ContractID: "c-1", Status: datatypes.StatusAnalyzed})
	assert.Contains(t, n.Message, "Risk Score: N/A/100 (N/A)")
	assert.Equal(t, "Contract Analysis Complete: contract.pdf", n.Subject)
	assert.Equal(t, "unknown", n.Attributes["user_id"])
}

func TestNotify_SkipsAndErrors(t *testing.T) {
	h := newHarness(t)
	h.putContract(t, datatypes.Contract{ContractID: "c-1", Status: datatypes.StatusProcessing})
	pub := &capturePublisher{}
	n := NewNotifier(h.svc, pub)

	res, err := n.Notify(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Analysis not complete, skipping notification", res.Message)
	assert.Empty(t, pub.got)

	_, err = n.Notify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingContractID)
	_, err = n.Notify(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrContractNotFound)

	h.putContract(t, datatypes.Contract{ContractID: "c-2", Status: datatypes.StatusCompleted})
	res, err = NewNotifier(h.svc, nil).Notify(context.Background(), "c-2")
	require.NoError(t, err)
	assert.Equal(t, "Notification sent", res.Message)

	pub.err = errBackend
	_, err = n.Notify(context.Background(), "c-2")
	assert.ErrorIs(t, err, errBackend)
}

// =============================================================================
// Query
// =============================================================================

const (
	idOld = "0b8f6b8e-4a61-4c55-9b8c-2a7d1a0c0001"
	idNew = "0b8f6b8e-4a61-4c55-9b8c-2a7d1a0c0002"
	idMid = "0b8f6b8e-4a61-4c55-9b8c-2a7d1a0c0003"
)

func TestQuery_ListSortedNewestFirst(t *testing.T) {
	h := newHarness(t)
	zero := 0.0
	h.putContract(t, datatypes.Contract{ContractID: idOld, Filename: "a.pdf", UploadedAt: fixedNow.Add(-2 * time.Hour), Status: datatypes.StatusCompleted, RiskScore: &zero})
	h.putContract(t, datatypes.Contract{ContractID: idNew, UploadedAt: fixedNow})
	h.putContract(t, datatypes.Contract{ContractID: idMid, Filename: "m.pdf", CreatedAt: fixedNow.Add(-time.Hour), ClausesCount: 4})

	list, err := NewQuery(h.svc).List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{idNew, idMid, idOld}, []string{list[0].ID, list[1].ID, list[2].ID})

	assert.Equal(t, DefaultFilename, list[0].Filename)
	assert.Equal(t, "processing", list[0].Status)
	assert.Nil(t, list[0].RiskScore)
	assert.Equal(t, fixedNow.Add(-time.Hour).Format(time.RFC3339Nano), list[1].UploadedAt)
	require.NotNil(t, list[2].RiskScore, "a zero score is a real score")
	assert.Equal(t, 0.0, *list[2].RiskScore)
}

func TestQuery_Detail(t *testing.T) {
	h := newHarness(t)
	score := 41.0
	h.putContract(t, datatypes.Contract{ContractID: idOld, Filename: "a.pdf", Summary: "s", Status: datatypes.StatusCompleted, RiskScore: &score, ClausesCount: 9, UploadedAt: fixedNow})
	for _, name := range []string{"Termination", "Payment"} {
		require.NoError(t, h.docs.PutClause(context.Background(), datatypes.Clause{
			ClauseID: datatypes.ClauseID(idOld, name), ContractID: idOld, ClauseName: name, Description: name + " terms",
		}))
	}

	d, err := NewQuery(h.svc).Detail(context.Background(), idOld)
	require.NoError(t, err)
	assert.Equal(t, &ContractDetail{
		ContractID: idOld,
		Filename:   "a.pdf",
		Summary:    "s",
		Clauses: []ClauseView{
			{Name: "Payment", Description: "Payment terms", Type: "other"},
			{Name: "Termination", Description: "Termination terms", Type: "other"},
		},
		ClausesCount: 2,
		Status:       "completed",
		UploadedAt:   fixedNow.Format(time.RFC3339Nano),
		RiskScore:    &score,
	}, d)
}

func TestQuery_DetailErrors(t *testing.T) {
	h := newHarness(t)
	q := NewQuery(h.svc)

	_, err := q.Detail(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingContractID)
	_, err = q.Detail(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidContractID)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
	_, err = q.Detail(context.Background(), idMid)
	assert.ErrorIs(t, err, ErrContractNotFound)
}
