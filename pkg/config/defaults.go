// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/ContractIQ/services/llm"
	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/sweeper"
	"github.com/AleutianAI/ContractIQ/services/pipeline/telemetry"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// DefaultConfig runs everything locally on badger with an Ollama model.
func DefaultConfig() Config {
	return Config{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Service: ServiceConfig{
			HTTPAddr:        ":8080",
			DataDir:         "~/.contractiq/data",
			ShutdownTimeout: 15 * time.Second,
		},
		Buckets: pipeline.Buckets{Upload: "contractiq-uploads", Text: "contractiq-text"},
		Storage: StorageConfig{
			Blob: BlobConfig{Backend: "badger"},
			Docs: DocsConfig{Backend: "badger"},
			KV:   kv.DefaultConfig(""),
		},
		Queue: QueueConfig{
			Backend:     "badger",
			RedisPrefix: "contractiq",
			Workers:     2,
			Dispatch: queue.DispatcherConfig{
				MaxAttempts: 3,
				PollWait:    time.Second,
				RetryDelay:  500 * time.Millisecond,
			},
		},
		LLM: llm.Config{
			Provider:          "ollama",
			Model:             "llama3.1",
			BaseURL:           "http://localhost:11434",
			Timeout:           2 * time.Minute,
			RequestsPerMinute: 60,
			Burst:             5,
		},
		Analyze: pipeline.DefaultAnalyzeConfig(),
		Extract: ExtractConfig{OCR: "none", PollInterval: 5 * time.Second, WaitTimeout: 5 * time.Minute},
		Scoring: ScoringConfig{
			Predictor:    "none",
			Timeout:      10 * time.Second,
			ModelsBucket: "contractiq-models",
			ServeAddr:    ":8081",
		},
		Notify:    NotifyConfig{WebhookTimeout: 10 * time.Second, WebSocket: true, Log: true},
		Sweeper:   sweeper.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Logging:   LoggingConfig{Level: "info", BatchSize: 500},
	}
}
