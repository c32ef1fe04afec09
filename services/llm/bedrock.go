// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	bedrockAnthropicVersion = "bedrock-2023-05-31"
	bedrockDefaultModel     = "anthropic.claude-3-sonnet-20240229-v1:0"
)

// BedrockAPI is the subset of the Bedrock runtime client used here.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient calls Anthropic models hosted on Bedrock. Credentials come
// from the AWS default chain, not from pkg/secrets.
type BedrockClient struct {
	api   BedrockAPI
	model string
}

// NewBedrockClient creates a client from a loaded AWS config. An empty
// model selects the Claude 3 Sonnet model id.
func NewBedrockClient(cfg aws.Config, model string) *BedrockClient {
	return NewBedrockClientWithAPI(bedrockruntime.NewFromConfig(cfg), model)
}

// NewBedrockClientWithAPI is used by tests to inject a fake runtime.
func NewBedrockClientWithAPI(api BedrockAPI, model string) *BedrockClient {
	if model == "" {
		model = bedrockDefaultModel
	}
	return &BedrockClient{api: api, model: model}
}

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Messages         []anthropicMessage `json:"messages"`
	Temperature      *float32           `json:"temperature,omitempty"`
	TopP             *float32           `json:"top_p,omitempty"`
	StopSequences    []string           `json:"stop_sequences,omitempty"`
}

// Generate implements Client.
func (b *BedrockClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	payload := bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        anthropicMaxTokens,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		StopSequences:    params.Stop,
	}
	if params.MaxTokens != nil {
		payload.MaxTokens = *params.MaxTokens
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	out, err := b.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke %s: %w", b.model, err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return resp.text()
}
