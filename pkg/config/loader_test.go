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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestCreateDefault(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), ".contractiq", "contractiq.yaml")

	if err := createDefault(configPath); err != nil {
		t.Fatalf("createDefault() failed: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("failed to parse config: %v", err)
	}
	if cfg.Meta.Version != CurrentConfigVersion {
		t.Errorf("Meta.Version = %q, want %q", cfg.Meta.Version, CurrentConfigVersion)
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("LLM.Provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.Sweeper.Interval != 5*time.Minute {
		t.Errorf("Sweeper.Interval = %v, want 5m", cfg.Sweeper.Interval)
	}
}

func TestLoadFirstRunCreatesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "contractiq.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file was not created: %v", err)
	}
	if cfg.Storage.KV.Path == "" {
		t.Error("KV path was not derived from the data dir")
	}
	if strings.HasPrefix(cfg.Service.DataDir, "~") {
		t.Errorf("DataDir %q was not expanded", cfg.Service.DataDir)
	}
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "cfg.yml")
	body := `
service:
  http_addr: ":9090"
  data_dir: ` + dir + `
storage:
  docs:
    backend: sqlite
queue:
  backend: redis
  redis_url: redis://localhost:6379/0
sweeper:
  stuck_after: 30m
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Service.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", cfg.Service.HTTPAddr)
	}
	if cfg.Storage.Docs.Path != filepath.Join(dir, "contracts.db") {
		t.Errorf("Docs.Path = %q", cfg.Storage.Docs.Path)
	}
	if cfg.Sweeper.StuckAfter != 30*time.Minute {
		t.Errorf("StuckAfter = %v", cfg.Sweeper.StuckAfter)
	}
	// Untouched sections keep their defaults.
	if cfg.Sweeper.MaxRedrives != 3 {
		t.Errorf("MaxRedrives = %d, want 3", cfg.Sweeper.MaxRedrives)
	}
	if cfg.Queue.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Queue.Workers)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "contractiq.toml")
	body := `
[service]
data_dir = "` + dir + `"

[llm]
provider = "openai"
model = "gpt-4o-mini"
timeout = "45s"

[scoring]
predictor = "http"
endpoint_url = "http://localhost:8081"
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.Timeout != 45*time.Second {
		t.Errorf("LLM.Timeout = %v, want 45s", cfg.LLM.Timeout)
	}
	if cfg.Scoring.EndpointURL != "http://localhost:8081" {
		t.Errorf("EndpointURL = %q", cfg.Scoring.EndpointURL)
	}
}

func TestLoadMissingTOMLIsAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected an error for a missing TOML file")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(configPath, []byte("servce:\n  http_addr: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Fatal("expected an error for a misspelled section")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"UPLOAD_BUCKET_NAME":       "uploads",
		"TEXTRACT_BUCKET_NAME":     "texts",
		"SQS_QUEUE_URL":            "https://sqs.us-east-1.amazonaws.com/1/analysis",
		"BEDROCK_MODEL_ID":         "anthropic.claude-3-sonnet",
		"SAGEMAKER_ENDPOINT_NAME":  "risk-scorer",
		"SNS_TOPIC_ARN":            "arn:aws:sns:us-east-1:1:contract-updates",
		"CONTRACTS_TABLE":          "/data/contracts.db",
		"CLAUSES_TABLE":            "/data/clauses.db",
		"CONTRACTIQ_AUTH_REQUIRED": "true",
		"CONTRACTIQ_WORKERS":       "4",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("applyEnv() failed: %v", err)
	}

	if cfg.Buckets.Upload != "uploads" || cfg.Buckets.Text != "texts" {
		t.Errorf("Buckets = %+v", cfg.Buckets)
	}
	if got := cfg.Queue.SQSURLs["analysis"]; got != env["SQS_QUEUE_URL"] {
		t.Errorf("analysis queue url = %q", got)
	}
	if cfg.LLM.Provider != "bedrock" || cfg.LLM.Model != env["BEDROCK_MODEL_ID"] {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Scoring.Predictor != "sagemaker" || cfg.Scoring.SageMakerEndpoint != "risk-scorer" {
		t.Errorf("Scoring = %+v", cfg.Scoring)
	}
	if cfg.Notify.RedisChannel != env["SNS_TOPIC_ARN"] {
		t.Errorf("RedisChannel = %q", cfg.Notify.RedisChannel)
	}
	if cfg.Storage.Docs.Path != "/data/contracts.db" {
		t.Errorf("Docs.Path = %q, want the contracts table", cfg.Storage.Docs.Path)
	}
	if !cfg.Auth.Required {
		t.Error("Auth.Required was not set")
	}
	if cfg.Queue.Workers != 4 {
		t.Errorf("Workers = %d", cfg.Queue.Workers)
	}
}

func TestApplyEnvBadBool(t *testing.T) {
	cfg := DefaultConfig()
	lookup := func(k string) (string, bool) {
		if k == "CONTRACTIQ_AUTH_REQUIRED" {
			return "sometimes", true
		}
		return "", false
	}
	if err := applyEnv(&cfg, lookup); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad provider", func(c *Config) { c.LLM.Provider = "mystery" }, "Provider"},
		{"missing bucket", func(c *Config) { c.Buckets.Upload = "" }, "Upload"},
		{"redis without url", func(c *Config) { c.Queue.Backend = "redis" }, "RedisURL"},
		{"sqs missing queues", func(c *Config) {
			c.Queue.Backend = "sqs"
			c.Queue.SQSURLs = map[string]string{"analysis": "https://sqs.local/analysis"}
		}, "sqs_urls.extraction"},
		{"unknown sqs queue", func(c *Config) {
			c.Queue.SQSURLs = map[string]string{"billing": "https://sqs.local/billing"}
		}, "SQSURLs"},
		{"http predictor without url", func(c *Config) { c.Scoring.Predictor = "http" }, "EndpointURL"},
		{"local predictor without model", func(c *Config) { c.Scoring.Predictor = "local" }, "ModelPath"},
		{"auth without users", func(c *Config) { c.Auth.Required = true }, "at least one user"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }, "Workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.resolvePaths()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
