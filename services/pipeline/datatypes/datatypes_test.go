// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectEvent_Shapes(t *testing.T) {
	pubsubData := base64.StdEncoding.EncodeToString([]byte(`{"bucket":"uploads","name":"contracts/u1/c1/a.pdf"}`))

	tests := []struct {
		name string
		raw  string
		want ObjectCreated
	}{
		{
			name: "eventbridge",
			raw:  `{"detail":{"bucket":{"name":"uploads"},"object":{"key":"contracts/u1/c1/a.pdf"}}}`,
			want: ObjectCreated{Bucket: "uploads", Key: "contracts/u1/c1/a.pdf"},
		},
		{
			name: "storage notification with encoded key",
			raw:  `{"Records":[{"s3":{"bucket":{"name":"uploads"},"object":{"key":"contracts/u1/c1/my+lease.pdf"}}}]}`,
			want: ObjectCreated{Bucket: "uploads", Key: "contracts/u1/c1/my lease.pdf"},
		},
		{
			name: "pubsub push",
			raw:  `{"message":{"data":"` + pubsubData + `"},"subscription":"s"}`,
			want: ObjectCreated{Bucket: "uploads", Key: "contracts/u1/c1/a.pdf"},
		},
		{
			name: "queue message with bom",
			raw:  "\ufeff" + `{"bucket":"uploads","key":"x.pdf"}`,
			want: ObjectCreated{Bucket: "uploads", Key: "x.pdf"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseObjectEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseObjectEvent_Invalid(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{}`,
		`{"detail":{"bucket":{"name":"b"}}}`,
		`{"message":{"data":"%%%"}}`,
		`{"Records":[{"body":"{}"}]}`,
	} {
		_, err := ParseObjectEvent([]byte(raw))
		assert.True(t, errors.Is(err, ErrUnknownEventShape), "raw=%s err=%v", raw, err)
	}
}

func TestParseScoringRequest_FromRecordBody(t *testing.T) {
	body, err := json.Marshal(ScoringRequest{
		ContractID: "c-1",
		Analysis:   &Analysis{Summary: "ok"},
	})
	require.NoError(t, err)
	batch, err := json.Marshal(Batch{Records: []Record{{Body: "\ufeff" + string(body)}}})
	require.NoError(t, err)

	req, err := ParseScoringRequest(batch)
	require.NoError(t, err)
	assert.Equal(t, "c-1", req.ContractID)
	require.NotNil(t, req.Analysis)
	assert.Equal(t, Text("ok"), req.Analysis.Summary)
}

func TestParseNotificationRequest(t *testing.T) {
	req, err := ParseNotificationRequest([]byte(`{"contract_id":"c-2"}`))
	require.NoError(t, err)
	assert.Equal(t, "c-2", req.ContractID)

	req, err = ParseNotificationRequest([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, req.ContractID)
}

func TestAnalysis_TolerantDecoding(t *testing.T) {
	raw := `{
		"clauses":[{"name":"Termination","description":{"days":30},"type":"termination"}],
		"payment_terms":{"amount":5000,"schedule":"monthly","penalties":"late penalty 2%"},
		"liability":null,
		"hidden_risks":["auto renewal", 3],
		"summary":"A lease."
	}`
	var a Analysis
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	require.Len(t, a.Clauses, 1)
	assert.Equal(t, Text(`{"days":30}`), a.Clauses[0].Description)
	assert.Equal(t, TextList{"auto renewal", "3"}, a.HiddenRisks)
	assert.Empty(t, a.Liability)
	assert.Contains(t, a.PaymentTerms.String(), "late penalty 2%")
}

func TestPaymentTerms_StringIsSorted(t *testing.T) {
	p := PaymentTerms{Fields: map[string]any{"schedule": "monthly", "amount": 10}}
	assert.Equal(t, `{"amount": 10, "schedule": monthly}`, p.String())
	assert.Equal(t, "{}", PaymentTerms{}.String())
}

func TestPaymentTerms_AnyShape(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantJSON string
	}{
		{"String", `"Net 30 with a 2% late penalty"`, "Net 30 with a 2% late penalty", `"Net 30 with a 2% late penalty"`},
		{"List", `["net 30", "penalty 2%"]`, `["net 30","penalty 2%"]`, `["net 30","penalty 2%"]`},
		{"Number", `5000`, "5000", "5000"},
		{"Object", `{"penalties": "2%"}`, `{"penalties": 2%}`, `{"penalties":"2%"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Analysis
			require.NoError(t, json.Unmarshal([]byte(`{"payment_terms":`+tt.raw+`}`), &a))
			assert.Equal(t, tt.wantText, a.PaymentTerms.String())

			out, err := json.Marshal(a.PaymentTerms)
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantJSON, string(out))
		})
	}
}

func TestPaymentTerms_OmittedWhenEmpty(t *testing.T) {
	out, err := json.Marshal(Analysis{Summary: "x"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "payment_terms")
}

func TestTextList_AcceptsSingleValue(t *testing.T) {
	raw := `{"hidden_risks":"auto renewal","missing_clauses":"","clauses":[]}`
	var a Analysis
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, TextList{"auto renewal"}, a.HiddenRisks)
	assert.Empty(t, a.MissingClauses)
}

func TestContract_SetStatusResetsRedrives(t *testing.T) {
	c := &Contract{Status: StatusUploaded, Redrives: 2}
	c.SetStatus(StatusUploaded)
	assert.Equal(t, 2, c.Redrives)

	c.SetStatus(StatusProcessing)
	assert.Equal(t, StatusProcessing, c.Status)
	assert.Zero(t, c.Redrives)
}

func TestFormatScore(t *testing.T) {
	for in, want := range map[float64]string{42: "42.0", 0: "0.0", 100: "100.0", 72.5: "72.5", 72.25: "72.25"} {
		assert.Equal(t, want, FormatScore(&in))
	}
	assert.Equal(t, "N/A", FormatScore(nil))
}

func TestRiskLevels(t *testing.T) {
	assert.Equal(t, RiskHigh, LevelFor(70))
	assert.Equal(t, RiskMedium, LevelFor(69.99))
	assert.Equal(t, RiskMedium, LevelFor(40))
	assert.Equal(t, RiskLow, LevelFor(39.9))

	s := 55.0
	assert.Equal(t, "Medium Risk", RiskLabel(&s))
	assert.Equal(t, "N/A", RiskLabel(nil))
}

func TestScoreHelpers(t *testing.T) {
	assert.Equal(t, 100.0, ClampScore(140))
	assert.Equal(t, 0.0, ClampScore(-3))
	assert.Equal(t, 42.35, RoundScore(42.3456))
}

func TestClauseIDAndTruncation(t *testing.T) {
	assert.Equal(t, "c1_Payment", ClauseID("c1", "Payment"))
	assert.Equal(t, "c1_unknown", ClauseID("c1", ""))
	assert.Equal(t, "héll", TruncateRunes("héllo", 4))
	assert.Equal(t, "abc", TruncateRunes("abc", 10))
	assert.Equal(t, StatusCompleted.Terminal(), true)
	assert.False(t, Status("bogus").Valid())
}
