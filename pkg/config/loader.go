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
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ContractIQ/services/queue"
)

// PathEnv overrides the default config location.
const PathEnv = "CONTRACTIQ_CONFIG"

// ErrUnsupportedFormat is returned for extensions other than .yaml, .yml
// and .toml.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// DefaultPath returns $CONTRACTIQ_CONFIG or ~/.contractiq/contractiq.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".contractiq", "contractiq.yaml"), nil
}

// Load reads the file at path, applies environment overrides, fills the
// derived paths and validates the result. An empty path uses DefaultPath.
// A missing YAML file is created from DefaultConfig first.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	format, err := formatOf(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if format != "yaml" {
			return nil, fmt.Errorf("config %s does not exist", path)
		}
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := decode(format, data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func formatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".toml":
		return "toml", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// decode overlays data onto cfg. TOML is normalized through YAML so both
// formats share one set of field names and duration strings like "5m".
func decode(format string, data []byte, cfg *Config) error {
	if format == "toml" {
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return err
		}
		out, err := yaml.Marshal(tree)
		if err != nil {
			return err
		}
		data = out
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(string) (string, bool)

// applyEnv applies the deployment variables. They win over the file.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("UPLOAD_BUCKET_NAME", &cfg.Buckets.Upload)
	str("TEXTRACT_BUCKET_NAME", &cfg.Buckets.Text)

	// The original deployment has one queue, between extraction and analysis.
	if v, ok := lookup("SQS_QUEUE_URL"); ok && v != "" {
		if cfg.Queue.SQSURLs == nil {
			cfg.Queue.SQSURLs = make(map[string]string)
		}
		cfg.Queue.SQSURLs[queue.Analysis] = v
	}
	if v, ok := lookup("BEDROCK_MODEL_ID"); ok && v != "" {
		cfg.LLM.Provider = "bedrock"
		cfg.LLM.Model = v
	}
	if v, ok := lookup("SAGEMAKER_ENDPOINT_NAME"); ok && v != "" {
		cfg.Scoring.Predictor = "sagemaker"
		cfg.Scoring.SageMakerEndpoint = v
	}
	// Topic subscribers are modeled as a pub/sub channel.
	str("SNS_TOPIC_ARN", &cfg.Notify.RedisChannel)

	// Both tables live in one document database. CONTRACTS_TABLE wins.
	str("CLAUSES_TABLE", &cfg.Storage.Docs.Path)
	str("CONTRACTS_TABLE", &cfg.Storage.Docs.Path)

	str("CONTRACTIQ_HTTP_ADDR", &cfg.Service.HTTPAddr)
	str("CONTRACTIQ_DATA_DIR", &cfg.Service.DataDir)
	str("CONTRACTIQ_BLOB_BACKEND", &cfg.Storage.Blob.Backend)
	str("CONTRACTIQ_DOCS_BACKEND", &cfg.Storage.Docs.Backend)
	str("CONTRACTIQ_QUEUE_BACKEND", &cfg.Queue.Backend)
	str("CONTRACTIQ_REDIS_URL", &cfg.Queue.RedisURL)
	str("CONTRACTIQ_LLM_PROVIDER", &cfg.LLM.Provider)
	str("CONTRACTIQ_LLM_MODEL", &cfg.LLM.Model)
	str("CONTRACTIQ_LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("CONTRACTIQ_OCR", &cfg.Extract.OCR)
	str("CONTRACTIQ_PREDICTOR", &cfg.Scoring.Predictor)
	str("CONTRACTIQ_MODEL_ENDPOINT", &cfg.Scoring.EndpointURL)
	str("CONTRACTIQ_WEBHOOK_URL", &cfg.Notify.WebhookURL)
	str("CONTRACTIQ_LOG_LEVEL", &cfg.Logging.Level)
	str("AWS_REGION", &cfg.AWS.Region)

	if v, ok := lookup("CONTRACTIQ_AUTH_REQUIRED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CONTRACTIQ_AUTH_REQUIRED: %w", err)
		}
		cfg.Auth.Required = b
	}
	if v, ok := lookup("CONTRACTIQ_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONTRACTIQ_WORKERS: %w", err)
		}
		cfg.Queue.Workers = n
	}
	return nil
}

// resolvePaths expands "~" and derives storage paths from DataDir.
func (c *Config) resolvePaths() {
	c.Service.DataDir = expandHome(c.Service.DataDir)
	if c.Storage.KV.Path == "" && !c.Storage.KV.InMemory {
		c.Storage.KV.Path = filepath.Join(c.Service.DataDir, "kv")
	}
	c.Storage.KV.Path = expandHome(c.Storage.KV.Path)
	if c.Storage.Docs.Backend == "sqlite" && c.Storage.Docs.Path == "" {
		c.Storage.Docs.Path = filepath.Join(c.Service.DataDir, "contracts.db")
	}
	c.Storage.Docs.Path = expandHome(c.Storage.Docs.Path)
	c.Scoring.ModelPath = expandHome(c.Scoring.ModelPath)
	c.Logging.Dir = expandHome(c.Logging.Dir)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field rules and the settings that depend on each other.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Queue.Backend == "sqs" {
		for _, name := range queue.Names {
			if c.Queue.SQSURLs[name] == "" {
				return fmt.Errorf("invalid config: queue.sqs_urls.%s is required for the sqs backend", name)
			}
		}
	}
	if len(c.Auth.Users) == 0 && c.Auth.Required {
		return errors.New("invalid config: auth.required needs at least one user")
	}
	return nil
}
