// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lambdafn exposes the pipeline stages as AWS Lambda handlers.
//
// Each stage is one function, selected by name at startup:
//
//	upload     API Gateway POST /contracts/upload
//	contracts  API Gateway GET /contracts and /contracts/{id}
//	extraction S3 or EventBridge object-created event
//	analysis   SQS batch (partial batch failures reported)
//	scoring    direct invocation or SQS record
//	notify     direct invocation or SQS record
package lambdafn

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/AleutianAI/ContractIQ/pkg/extensions"
	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/pipeline/telemetry"
)

// Function names accepted by Functions.Handler.
const (
	FuncUpload     = "upload"
	FuncContracts  = "contracts"
	FuncExtraction = "extraction"
	FuncAnalysis   = "analysis"
	FuncScoring    = "scoring"
	FuncNotify     = "notify"
)

// ErrUnknownFunction is returned for a name not listed above.
var ErrUnknownFunction = errors.New("unknown function")

var corsHeaders = map[string]string{
	"Content-Type":                "application/json",
	"Access-Control-Allow-Origin": "*",
}

// StageResponse is the {statusCode, body} result of a non-API stage.
type StageResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// AnalysisResponse is a partial batch response for the SQS event source.
// Client errors such as an empty batch carry a status code and body instead
// of item failures, so Lambda does not retry them.
type AnalysisResponse struct {
	BatchItemFailures []events.SQSBatchItemFailure `json:"batchItemFailures,omitempty"`
	StatusCode        int                          `json:"statusCode,omitempty"`
	Body              string                       `json:"body,omitempty"`
}

// Functions holds the stages behind each Lambda function. A nil stage makes
// its function unavailable.
type Functions struct {
	Uploader  *pipeline.Uploader
	Query     *pipeline.Query
	Extractor *pipeline.Extractor
	Analyzer  *pipeline.Analyzer
	Scorer    *pipeline.RiskScorer
	Notifier  *pipeline.Notifier
}

// Names lists the functions that have a stage configured.
func (f *Functions) Names() []string {
	var out []string
	for name, ok := range map[string]bool{
		FuncUpload:     f.Uploader != nil,
		FuncContracts:  f.Query != nil,
		FuncExtraction: f.Extractor != nil,
		FuncAnalysis:   f.Analyzer != nil,
		FuncScoring:    f.Scorer != nil,
		FuncNotify:     f.Notifier != nil,
	} {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Handler returns the lambda handler for name.
func (f *Functions) Handler(name string) (any, error) {
	switch {
	case name == FuncUpload && f.Uploader != nil:
		return f.Upload, nil
	case name == FuncContracts && f.Query != nil:
		return f.Contracts, nil
	case name == FuncExtraction && f.Extractor != nil:
		return f.Extraction, nil
	case name == FuncAnalysis && f.Analyzer != nil:
		return f.Analysis, nil
	case name == FuncScoring && f.Scorer != nil:
		return f.Scoring, nil
	case name == FuncNotify && f.Notifier != nil:
		return f.Notify, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
}

// Start runs the named function until the Lambda runtime stops it.
func (f *Functions) Start(name string) error {
	h, err := f.Handler(name)
	if err != nil {
		return err
	}
	lambda.Start(h)
	return nil
}

// =============================================================================
// API Gateway functions
// =============================================================================

// Upload handles the upload API call. The user comes from the authorizer
// context key userId.
func (f *Functions) Upload(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := req.Body
	if req.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return apiError(pipeline.ErrInvalidEvent), nil
		}
		body = string(raw)
	}
	var in pipeline.UploadRequest
	if body != "" {
		if err := json.Unmarshal(datatypes.StripBOM([]byte(body)), &in); err != nil {
			return apiError(fmt.Errorf("%w: %w", pipeline.ErrInvalidEvent, err)), nil
		}
	}
	res, err := f.Uploader.Upload(ctx, authorizerUser(req), in)
	if err != nil {
		return apiError(err), nil
	}
	return apiJSON(http.StatusOK, res), nil
}

// Contracts serves the listing, or the detail when the id path parameter is
// present.
func (f *Functions) Contracts(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	id, hasID := req.PathParameters["id"]
	if !hasID {
		out, err := f.Query.List(ctx)
		if err != nil {
			return apiError(err), nil
		}
		return apiJSON(http.StatusOK, out), nil
	}
	detail, err := f.Query.Detail(ctx, id)
	if errors.Is(err, pipeline.ErrMissingContractID) {
		return apiJSON(http.StatusBadRequest, map[string]string{"error": "Contract ID required"}), nil
	}
	if err != nil {
		return apiError(err), nil
	}
	return apiJSON(http.StatusOK, detail), nil
}

func authorizerUser(req events.APIGatewayProxyRequest) string {
	if v, ok := req.RequestContext.Authorizer["userId"].(string); ok && v != "" {
		return v
	}
	return extensions.AnonymousUser
}

func apiJSON(code int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		code, body = http.StatusInternalServerError, []byte(`{"error":"Internal server error"}`)
	}
	return events.APIGatewayProxyResponse{StatusCode: code, Headers: corsHeaders, Body: string(body)}
}

func apiError(err error) events.APIGatewayProxyResponse {
	return apiJSON(pipeline.StatusCode(err), map[string]string{"error": pipeline.ClientMessage(err)})
}

// =============================================================================
// Event functions
// =============================================================================

// Extraction handles an object-created event.
func (f *Functions) Extraction(ctx context.Context, raw json.RawMessage) (StageResponse, error) {
	res, err := f.Extractor.HandleEvent(ctx, raw)
	return stageResponse(res, err)
}

// Analysis handles an SQS batch. Records that failed transiently are
// reported as batch item failures so only they are redelivered.
func (f *Functions) Analysis(ctx context.Context, ev events.SQSEvent) (AnalysisResponse, error) {
	batch := datatypes.Batch{Records: make([]datatypes.Record, 0, len(ev.Records))}
	for _, m := range ev.Records {
		batch.Records = append(batch.Records, datatypes.Record{MessageID: m.MessageId, Body: m.Body})
	}
	if len(ev.Records) > 0 {
		ctx = telemetry.ExtractFromMap(ctx, messageAttributes(ev.Records[0]))
	}
	res, err := f.Analyzer.HandleBatch(ctx, batch)
	if err != nil {
		if code := pipeline.StatusCode(err); code != http.StatusInternalServerError {
			return AnalysisResponse{StatusCode: code, Body: pipeline.ClientMessage(err)}, nil
		}
		return AnalysisResponse{}, err
	}
	var out AnalysisResponse
	for _, id := range res.Failed {
		out.BatchItemFailures = append(out.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return out, nil
}

// Scoring handles a scoring request or an SQS event carrying one.
func (f *Functions) Scoring(ctx context.Context, raw json.RawMessage) (StageResponse, error) {
	res, err := f.Scorer.HandleEvent(ctx, raw)
	return stageResponse(res, err)
}

// Notify handles a notification request or an SQS event carrying one.
func (f *Functions) Notify(ctx context.Context, raw json.RawMessage) (StageResponse, error) {
	res, err := f.Notifier.HandleEvent(ctx, raw)
	return stageResponse(res, err)
}

// stageResponse maps client errors into the response body. Internal errors
// are returned to the runtime so the invocation is retried.
func stageResponse(v any, err error) (StageResponse, error) {
	if err != nil {
		code := pipeline.StatusCode(err)
		if code == http.StatusInternalServerError {
			return StageResponse{}, err
		}
		body, _ := json.Marshal(map[string]string{"error": pipeline.ClientMessage(err)})
		return StageResponse{StatusCode: code, Body: string(body)}, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return StageResponse{}, err
	}
	return StageResponse{StatusCode: http.StatusOK, Body: string(body)}, nil
}

func messageAttributes(m events.SQSMessage) map[string]string {
	if len(m.MessageAttributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.MessageAttributes))
	for k, v := range m.MessageAttributes {
		if v.StringValue != nil {
			out[k] = *v.StringValue
		}
	}
	return out
}
