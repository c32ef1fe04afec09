// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bootstrap turns a loaded config into a running pipeline.
//
// New opens the configured backends and builds every stage. The same
// Runtime then serves HTTP (Serve), drains queues (Work) or backs the
// Lambda adapters (Functions).
package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/AleutianAI/ContractIQ/pkg/config"
	"github.com/AleutianAI/ContractIQ/pkg/extensions"
	"github.com/AleutianAI/ContractIQ/pkg/secrets"
	"github.com/AleutianAI/ContractIQ/services/extraction"
	"github.com/AleutianAI/ContractIQ/services/llm"
	"github.com/AleutianAI/ContractIQ/services/notify"
	"github.com/AleutianAI/ContractIQ/services/pipeline"
	"github.com/AleutianAI/ContractIQ/services/pipeline/observability"
	"github.com/AleutianAI/ContractIQ/services/pipeline/sweeper"
	"github.com/AleutianAI/ContractIQ/services/queue"
	"github.com/AleutianAI/ContractIQ/services/riskmodel"
	"github.com/AleutianAI/ContractIQ/services/scoring"
	"github.com/AleutianAI/ContractIQ/services/storage/blob"
	"github.com/AleutianAI/ContractIQ/services/storage/docdb"
	"github.com/AleutianAI/ContractIQ/services/storage/kv"
)

// Option adjusts New.
type Option func(*options)

type options struct {
	llm      llm.Client
	registry *prometheus.Registry
	logger   *slog.Logger
}

// WithLLM replaces the configured model client.
func WithLLM(c llm.Client) Option { return func(o *options) { o.llm = c } }

// WithRegistry uses reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option { return func(o *options) { o.registry = reg } }

// WithLogger sets the process logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Runtime owns every backend and stage built from one config.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	KV    *kv.DB
	Blobs blob.Store
	Docs  docdb.Store
	Queue queue.Queue

	Services  *pipeline.Services
	Uploader  *pipeline.Uploader
	Query     *pipeline.Query
	Extractor *pipeline.Extractor
	Analyzer  *pipeline.Analyzer
	Scorer    *pipeline.RiskScorer
	Notifier  *pipeline.Notifier

	// Hub is set when websocket notifications are enabled.
	Hub     *notify.Hub
	Sweeper *sweeper.Sweeper
	LLM     llm.Client

	aws      *aws.Config
	closers  []func() error
	redisCli *redis.Client
}

// New opens the configured backends and builds every stage.
//
// # Description
//
// Backends are opened in dependency order: the badger database (when any
// backend needs it), the blob and document stores, then the queue. The LLM
// client, OCR service, predictor and notification publishers follow. On
// any error everything already opened is closed.
//
// # Inputs
//
//   - ctx: Used for connection setup only.
//   - cfg: A validated config from config.Load.
//
// # Outputs
//
//   - *Runtime: Close must be called.
//   - error: The first backend that failed to open.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (rt *Runtime, err error) {
	r, o, err := open(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = r.Close()
		}
	}()

	if err := r.openQueue(ctx); err != nil {
		return nil, err
	}
	r.Services.Queue = r.Queue
	r.Uploader = pipeline.NewUploader(r.Services)

	ocr, err := r.buildOCR(ctx)
	if err != nil {
		return nil, err
	}
	r.Extractor = pipeline.NewExtractor(r.Services, ocr, extraction.NewLocalExtractor(extraction.PDFPageReader{}), cfg.Extract.Pipeline())

	r.LLM = o.llm
	if r.LLM == nil {
		llmCfg, err := r.llmConfig(ctx)
		if err != nil {
			return nil, err
		}
		if r.LLM, err = llm.New(ctx, llmCfg, r.Metrics); err != nil {
			return nil, fmt.Errorf("build llm client: %w", err)
		}
	}
	r.Analyzer = pipeline.NewAnalyzer(r.Services, r.LLM, cfg.Analyze)

	predictor, err := r.buildPredictor(ctx)
	if err != nil {
		return nil, err
	}
	r.Scorer = pipeline.NewRiskScorer(r.Services, scoring.NewScorer(predictor, r.Metrics, r.Logger))

	publisher, err := r.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	r.Notifier = pipeline.NewNotifier(r.Services, publisher)

	r.Sweeper = sweeper.New(r.Docs, r.Queue, cfg.Buckets, cfg.Sweeper, r.Metrics, r.Logger)
	return r, nil
}

// OpenStorage opens only the blob and document stores and the read-side
// query. Admin commands use it to avoid building model clients.
func OpenStorage(ctx context.Context, cfg *config.Config, opts ...Option) (*Runtime, error) {
	r, _, err := open(ctx, cfg, opts)
	return r, err
}

func open(ctx context.Context, cfg *config.Config, opts []Option) (*Runtime, options, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}

	r := &Runtime{Config: cfg, Logger: o.logger, Registry: o.registry}
	r.Metrics = observability.New(o.registry)
	if err := r.openStores(ctx); err != nil {
		_ = r.Close()
		return nil, o, err
	}
	r.Services = &pipeline.Services{
		Blobs:    r.Blobs,
		Docs:     r.Docs,
		Buckets:  cfg.Buckets,
		Observer: r.Metrics,
		Logger:   r.Logger,
	}
	r.Query = pipeline.NewQuery(r.Services)
	return r, o, nil
}

// llmConfig hands the bedrock provider the same AWS config, region and
// profile as the other AWS clients.
func (r *Runtime) llmConfig(ctx context.Context) (llm.Config, error) {
	c := r.Config.LLM
	if c.Provider != llm.ProviderBedrock || c.AWS != nil {
		return c, nil
	}
	awsCfg, err := r.awsConfig(ctx)
	if err != nil {
		return llm.Config{}, err
	}
	c.AWS = &awsCfg
	return c, nil
}

func (r *Runtime) awsConfig(ctx context.Context) (aws.Config, error) {
	if r.aws != nil {
		return *r.aws, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if r.Config.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(r.Config.AWS.Region))
	}
	if r.Config.AWS.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(r.Config.AWS.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	r.aws = &cfg
	return cfg, nil
}

func (r *Runtime) needsKV() bool {
	c := r.Config
	return c.Storage.Blob.Backend == "badger" || c.Storage.Docs.Backend == "badger" || c.Queue.Backend == "badger"
}

func (r *Runtime) openStores(ctx context.Context) error {
	c := r.Config
	if r.needsKV() {
		kvCfg := c.Storage.KV
		kvCfg.Logger = r.Logger
		db, err := kv.Open(kvCfg)
		if err != nil {
			return fmt.Errorf("open kv: %w", err)
		}
		r.KV = db
		r.closers = append(r.closers, db.Close)
	}

	switch c.Storage.Blob.Backend {
	case "badger":
		r.Blobs = blob.NewBadgerStore(r.KV)
	case "gcs":
		s, err := blob.NewGCSStore(ctx, c.Storage.Blob.GCSCredentialsFile)
		if err != nil {
			return err
		}
		r.Blobs = s
	case "s3":
		awsCfg, err := r.awsConfig(ctx)
		if err != nil {
			return err
		}
		r.Blobs = blob.NewS3Store(awsCfg, c.Storage.Blob.S3Endpoint)
	default:
		return fmt.Errorf("unknown blob backend %q", c.Storage.Blob.Backend)
	}
	r.closers = append(r.closers, r.Blobs.Close)

	switch c.Storage.Docs.Backend {
	case "badger":
		r.Docs = docdb.NewBadgerStore(r.KV)
	case "sqlite":
		s, err := docdb.NewSQLiteStore(c.Storage.Docs.Path)
		if err != nil {
			return err
		}
		r.Docs = s
	default:
		return fmt.Errorf("unknown document backend %q", c.Storage.Docs.Backend)
	}
	r.closers = append(r.closers, r.Docs.Close)
	return nil
}

func (r *Runtime) openQueue(ctx context.Context) error {
	c := r.Config.Queue
	switch c.Backend {
	case "badger":
		q := queue.NewBadgerQueue(r.KV)
		// Nothing is consuming yet, so anything in flight was orphaned by
		// the previous process.
		n, err := q.RecoverInFlight(ctx)
		if err != nil {
			return fmt.Errorf("recover in-flight messages: %w", err)
		}
		if n > 0 {
			r.Logger.Info("Recovered in-flight messages", "count", n)
		}
		r.Queue = q
	case "redis":
		q, err := queue.NewRedisQueue(ctx, c.RedisURL, c.RedisPrefix)
		if err != nil {
			return err
		}
		r.Queue = q
	case "sqs":
		awsCfg, err := r.awsConfig(ctx)
		if err != nil {
			return err
		}
		r.Queue = queue.NewSQSQueue(awsCfg, c.SQSURLs)
	default:
		return fmt.Errorf("unknown queue backend %q", c.Backend)
	}
	// Closed first so no worker writes to a closed store.
	r.closers = append(r.closers, r.Queue.Close)
	return nil
}

func (r *Runtime) buildOCR(ctx context.Context) (extraction.OCR, error) {
	if r.Config.Extract.OCR != "textract" {
		return nil, nil
	}
	awsCfg, err := r.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	return extraction.NewTextract(awsCfg), nil
}

func (r *Runtime) buildPredictor(ctx context.Context) (scoring.Predictor, error) {
	c := r.Config.Scoring
	switch c.Predictor {
	case "http":
		return scoring.NewEndpointPredictor(c.EndpointURL, c.Timeout), nil
	case "sagemaker":
		awsCfg, err := r.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return scoring.NewSageMakerPredictor(awsCfg, c.SageMakerEndpoint), nil
	case "local":
		a, err := LoadModel(ctx, r.Blobs, c.ModelPath)
		if err != nil {
			return nil, err
		}
		return scoring.NewLocalPredictor(a.Forest), nil
	default:
		return nil, nil
	}
}

func (r *Runtime) buildPublisher(ctx context.Context) (notify.Publisher, error) {
	c := r.Config.Notify
	var pubs []notify.Publisher

	if c.Log {
		pubs = append(pubs, notify.LogPublisher{Logger: r.Logger})
	}
	if c.WebSocket {
		r.Hub = notify.NewHub(r.Logger)
		pubs = append(pubs, r.Hub)
	}
	if c.WebhookURL != "" {
		token, err := secrets.Load("CONTRACTIQ_WEBHOOK_TOKEN", r.Config.Auth.SecretsDir, "webhook_token")
		if err != nil && !errors.Is(err, secrets.ErrMissing) {
			return nil, err
		}
		pubs = append(pubs, notify.NewWebhookPublisher(c.WebhookURL, token, c.WebhookTimeout))
	}
	if c.RedisChannel != "" {
		url := c.RedisURL
		if url == "" {
			url = r.Config.Queue.RedisURL
		}
		if url == "" {
			r.Logger.Warn("Redis channel configured without a Redis URL, skipping", "channel", c.RedisChannel)
		} else {
			opt, err := redis.ParseURL(url)
			if err != nil {
				return nil, fmt.Errorf("parse notify redis url: %w", err)
			}
			r.redisCli = redis.NewClient(opt)
			r.closers = append(r.closers, r.redisCli.Close)
			pubs = append(pubs, notify.NewRedisPublisher(r.redisCli, c.RedisChannel))
		}
	}

	switch len(pubs) {
	case 0:
		return nil, nil
	case 1:
		return pubs[0], nil
	default:
		return notify.NewMulti(pubs...), nil
	}
}

// LoadModel reads a model artifact from a file path, or from the blob
// store when path carries a scheme such as s3://bucket/key.
func LoadModel(ctx context.Context, blobs blob.Store, path string) (*riskmodel.Artifact, error) {
	var rd io.Reader
	if strings.Contains(path, "://") {
		bucket, key, err := blob.SplitURI(path)
		if err != nil {
			return nil, err
		}
		data, err := blobs.Get(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("read model %s: %w", path, err)
		}
		rd = bytes.NewReader(data)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read model: %w", err)
		}
		defer f.Close()
		rd = f
	}
	return riskmodel.ReadArtifact(rd)
}

// AuthOptions builds the HTTP extension options from the auth section.
// Without users every request is anonymous.
func AuthOptions(cfg config.AuthConfig, logger *slog.Logger) (extensions.ServiceOptions, error) {
	opts := extensions.DefaultOptions().WithAudit(&extensions.SlogAuditLogger{Logger: logger})
	if len(cfg.Users) == 0 {
		return opts, nil
	}
	tokens := make(map[string]*secrets.Secret, len(cfg.Users))
	for _, user := range cfg.Users {
		env := "CONTRACTIQ_TOKEN_" + strings.ToUpper(user)
		s, err := secrets.Load(env, cfg.SecretsDir, user+".token")
		if err != nil {
			return opts, fmt.Errorf("token for %s: %w", user, err)
		}
		tokens[user] = s
	}
	return opts.WithAuth(extensions.NewTokenAuthProvider(tokens, cfg.Required)), nil
}

// Close releases every backend in reverse order of opening. Errors are
// joined.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
