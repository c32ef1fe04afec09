// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the ContractIQ configuration file.
//
// The file is YAML or TOML, chosen by extension. A default YAML file is
// written on first run. Environment variables override the file, then the
// result is validated.
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

// CurrentConfigVersion is written into new files.
const CurrentConfigVersion = "1"

// Config is the whole file.
type Config struct {
	Meta      MetaConfig             `yaml:"meta"`
	Service   ServiceConfig          `yaml:"service"`
	AWS       AWSConfig              `yaml:"aws"`
	Buckets   pipeline.Buckets       `yaml:"buckets"`
	Storage   StorageConfig          `yaml:"storage"`
	Queue     QueueConfig            `yaml:"queue"`
	LLM       llm.Config             `yaml:"llm"`
	Analyze   pipeline.AnalyzeConfig `yaml:"analyze"`
	Extract   ExtractConfig          `yaml:"extract"`
	Scoring   ScoringConfig          `yaml:"scoring"`
	Notify    NotifyConfig           `yaml:"notify"`
	Auth      AuthConfig             `yaml:"auth"`
	Sweeper   sweeper.Config         `yaml:"sweeper"`
	Telemetry telemetry.Config       `yaml:"telemetry"`
	Logging   LoggingConfig          `yaml:"logging"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	HTTPAddr        string        `yaml:"http_addr" validate:"required"`
	DataDir         string        `yaml:"data_dir" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AWSConfig is passed to the SDK's default loader. Empty fields keep the
// SDK's own resolution.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

type StorageConfig struct {
	Blob BlobConfig `yaml:"blob"`
	Docs DocsConfig `yaml:"docs"`

	// KV is the embedded badger database behind every "badger" backend.
	KV kv.Config `yaml:"kv"`
}

type BlobConfig struct {
	Backend            string `yaml:"backend" validate:"required,oneof=badger gcs s3"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
	S3Endpoint         string `yaml:"s3_endpoint" validate:"omitempty,url"`
}

type DocsConfig struct {
	Backend string `yaml:"backend" validate:"required,oneof=badger sqlite"`

	// Path is the sqlite file. Ignored by badger.
	Path string `yaml:"path" validate:"required_if=Backend sqlite"`
}

type QueueConfig struct {
	Backend     string `yaml:"backend" validate:"required,oneof=badger redis sqs"`
	RedisURL    string `yaml:"redis_url" validate:"required_if=Backend redis"`
	RedisPrefix string `yaml:"redis_prefix"`

	// SQSURLs maps queue names to SQS queue URLs.
	SQSURLs map[string]string `yaml:"sqs_urls" validate:"omitempty,dive,keys,oneof=extraction analysis scoring notification,endkeys,url"`

	// Workers per queue.
	Workers  int                    `yaml:"workers" validate:"gte=1"`
	Dispatch queue.DispatcherConfig `yaml:"dispatch"`
}

type ExtractConfig struct {
	// OCR selects the managed text extraction service.
	OCR string `yaml:"ocr" validate:"required,oneof=textract none"`

	PollInterval time.Duration `yaml:"poll_interval"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
}

// Pipeline returns the stage settings.
func (e ExtractConfig) Pipeline() pipeline.ExtractConfig {
	return pipeline.ExtractConfig{PollInterval: e.PollInterval, WaitTimeout: e.WaitTimeout}
}

type ScoringConfig struct {
	// Predictor is http (a riskmodel server), sagemaker, local (in-process
	// forest) or none (always falls back to the heuristic).
	Predictor string `yaml:"predictor" validate:"required,oneof=http sagemaker local none"`

	EndpointURL       string        `yaml:"endpoint_url" validate:"required_if=Predictor http"`
	SageMakerEndpoint string        `yaml:"sagemaker_endpoint" validate:"required_if=Predictor sagemaker"`
	ModelPath         string        `yaml:"model_path" validate:"required_if=Predictor local"`
	Timeout           time.Duration `yaml:"timeout"`

	// ModelsBucket receives trained artifacts from "model deploy".
	ModelsBucket string `yaml:"models_bucket"`

	// ServeAddr is where "model serve" listens.
	ServeAddr string `yaml:"serve_addr"`
}

type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhook_url" validate:"omitempty,url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`

	// RedisChannel publishes to Redis pub/sub using Queue.RedisURL (or
	// RedisURL when set).
	RedisChannel string `yaml:"redis_channel"`
	RedisURL     string `yaml:"redis_url"`

	WebSocket bool `yaml:"websocket"`

	// Log writes every notification to the process log.
	Log bool `yaml:"log"`
}

// AuthConfig lists API users. Each user's bearer token is read from
// CONTRACTIQ_TOKEN_<USER> or <secrets_dir>/<user>.token.
type AuthConfig struct {
	Required   bool     `yaml:"required"`
	Users      []string `yaml:"users" validate:"dive,required,alphanum"`
	SecretsDir string   `yaml:"secrets_dir"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`

	// ExportBucket enables shipping logs to the blob store.
	ExportBucket string `yaml:"export_bucket"`
	BatchSize    int    `yaml:"batch_size" validate:"gte=0"`
}
