// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model clients used by the analysis stage.
//
// Every provider implements Client. New builds one from Config, wraps it in
// a rate limiter when configured, and loads API keys through pkg/secrets.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/AleutianAI/ContractIQ/pkg/secrets"
)

// Provider names accepted by New.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
)

// ErrEmptyResponse is returned when a provider answered without any text.
var ErrEmptyResponse = errors.New("model returned no text")

// GenerationParams tunes one generation request. Nil fields use the
// provider default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// WithMaxTokens returns params with MaxTokens set to n.
func (p GenerationParams) WithMaxTokens(n int) GenerationParams {
	p.MaxTokens = &n
	return p
}

// Client generates text from a single user prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Config selects and tunes a provider.
type Config struct {
	Provider string        `yaml:"provider" toml:"provider" validate:"required,oneof=anthropic openai gemini ollama bedrock"`
	Model    string        `yaml:"model" toml:"model"`
	BaseURL  string        `yaml:"base_url" toml:"base_url"`
	Timeout  time.Duration `yaml:"timeout" toml:"timeout"`

	// RequestsPerMinute limits call rate. Zero disables the limiter.
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute" validate:"gte=0"`
	Burst             int     `yaml:"burst" toml:"burst" validate:"gte=0"`

	// SecretsDir overrides /run/secrets for key files.
	SecretsDir string `yaml:"secrets_dir" toml:"secrets_dir"`

	// AWS is the loaded AWS config for the bedrock provider. Nil falls
	// back to the default credential chain.
	AWS *aws.Config `yaml:"-" toml:"-"`
}

// Observer is notified after each model call.
type Observer interface {
	ObserveLLMCall(provider, model string, elapsed time.Duration, err error)
}

// New builds the configured client.
//
// # Description
//
// API keys are read from ANTHROPIC_API_KEY, OPENAI_API_KEY or
// GEMINI_API_KEY, falling back to the matching file under SecretsDir.
// Ollama needs no key. Bedrock uses cfg.AWS, or the AWS default credential
// chain when it is nil.
//
// # Outputs
//
//   - Client: Rate limited when RequestsPerMinute > 0.
//   - error: Unknown provider or missing key.
func New(ctx context.Context, cfg Config, observer Observer) (Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	var (
		client Client
		model  string
		err    error
	)
	switch cfg.Provider {
	case ProviderAnthropic:
		var key *secrets.Secret
		if key, err = secrets.Load("ANTHROPIC_API_KEY", cfg.SecretsDir, "anthropic_api_key"); err != nil {
			return nil, err
		}
		c := NewAnthropicClient(key, cfg.Model, cfg.BaseURL, timeout)
		client, model = c, c.model
	case ProviderOpenAI:
		var key *secrets.Secret
		if key, err = secrets.Load("OPENAI_API_KEY", cfg.SecretsDir, "openai_api_key"); err != nil {
			return nil, err
		}
		var c *OpenAIClient
		if c, err = NewOpenAIClient(key, cfg.Model, cfg.BaseURL); err != nil {
			return nil, err
		}
		client, model = c, c.model
	case ProviderGemini:
		var key *secrets.Secret
		if key, err = secrets.Load("GEMINI_API_KEY", cfg.SecretsDir, "gemini_api_key"); err != nil {
			return nil, err
		}
		var c *GeminiClient
		if c, err = NewGeminiClient(ctx, key, cfg.Model); err != nil {
			return nil, err
		}
		client, model = c, c.model
	case ProviderOllama:
		c := NewOllamaClient(cfg.BaseURL, cfg.Model, timeout)
		client, model = c, c.model
	case ProviderBedrock:
		var awsCfg aws.Config
		if cfg.AWS != nil {
			awsCfg = *cfg.AWS
		} else if awsCfg, err = awsconfig.LoadDefaultConfig(ctx); err != nil {
			return nil, fmt.Errorf("llm: load AWS config: %w", err)
		}
		c := NewBedrockClient(awsCfg, cfg.Model)
		client, model = c, c.model
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	if observer != nil {
		client = &observedClient{next: client, provider: cfg.Provider, model: model, observer: observer}
	}
	if cfg.RequestsPerMinute > 0 {
		client = NewLimitedClient(client, cfg.RequestsPerMinute, cfg.Burst)
	}
	return client, nil
}

type observedClient struct {
	next     Client
	provider string
	model    string
	observer Observer
}

func (o *observedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	start := time.Now()
	out, err := o.next.Generate(ctx, prompt, params)
	o.observer.ObserveLLMCall(o.provider, o.model, time.Since(start), err)
	return out, err
}
