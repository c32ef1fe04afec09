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
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/ContractIQ/services/llm"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
)

// AnalyzeConfig tunes the analysis stage.
type AnalyzeConfig struct {
	// MaxChars truncates the contract text placed in one prompt.
	MaxChars int `yaml:"max_chars" toml:"max_chars" validate:"gte=0"`

	// MaxTokens caps the model response.
	MaxTokens int `yaml:"max_tokens" toml:"max_tokens" validate:"gte=0"`

	// ChunkSize enables chunked analysis for longer texts. Zero sends one
	// prompt per contract.
	ChunkSize    int `yaml:"chunk_size" toml:"chunk_size" validate:"gte=0"`
	ChunkOverlap int `yaml:"chunk_overlap" toml:"chunk_overlap" validate:"gte=0"`
	MaxChunks    int `yaml:"max_chunks" toml:"max_chunks" validate:"gte=0"`
}

// DefaultAnalyzeConfig returns the single-prompt settings.
func DefaultAnalyzeConfig() AnalyzeConfig {
	return AnalyzeConfig{MaxChars: 50000, MaxTokens: 4000, ChunkOverlap: 500, MaxChunks: 8}
}

// AnalyzeResult is the analysis response. Failed lists the message ids of
// records that hit a backend error and should be redelivered.
type AnalyzeResult struct {
	Message string   `json:"message"`
	Failed  []string `json:"-"`
}

// errTextUnavailable marks a record whose text cannot be read.
var errTextUnavailable = errors.New("extracted text unavailable")

// Analyzer runs the LLM contract review.
type Analyzer struct {
	svc *Services
	llm llm.Client
	cfg AnalyzeConfig
}

// NewAnalyzer creates the analysis stage. Zero config fields take the
// defaults of DefaultAnalyzeConfig.
func NewAnalyzer(svc *Services, client llm.Client, cfg AnalyzeConfig) *Analyzer {
	def := DefaultAnalyzeConfig()
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = def.MaxChunks
	}
	return &Analyzer{svc: svc, llm: client, cfg: cfg}
}

// HandleBatch processes a queue batch.
//
// # Description
//
// Records whose body cannot be decoded, or whose text cannot be read, are
// logged and skipped. A record that fails on a backend write is reported in
// Failed and does not stop the rest of the batch.
//
// # Outputs
//
//   - error: ErrNoRecords for an empty batch, nil otherwise.
func (a *Analyzer) HandleBatch(ctx context.Context, batch datatypes.Batch) (*AnalyzeResult, error) {
	if len(batch.Records) == 0 {
		return nil, ErrNoRecords
	}
	res := &AnalyzeResult{Message: "Analysis completed"}
	for _, rec := range batch.Records {
		err := a.HandleMessage(ctx, []byte(rec.Body))
		switch {
		case err == nil:
		case queue.IsPermanent(err):
			a.svc.logger().Warn("Skipping analysis record", "stage", StageAnalysis, "message_id", rec.MessageID, "error", err)
		default:
			a.svc.logger().Error("Analysis record failed", "stage", StageAnalysis, "message_id", rec.MessageID, "error", err)
			res.Failed = append(res.Failed, rec.MessageID)
		}
	}
	return res, nil
}

// HandleMessage processes one queue body. Undecodable bodies and missing
// text are returned as queue.Permanent errors.
func (a *Analyzer) HandleMessage(ctx context.Context, body []byte) error {
	var msg datatypes.ExtractionCompleted
	if err := datatypes.DecodeBody(body, &msg); err != nil {
		return queue.Permanent(fmt.Errorf("%w: %v", ErrInvalidEvent, err))
	}
	if msg.ContractID == "" {
		return queue.Permanent(ErrMissingContractID)
	}
	err := a.Analyze(ctx, msg)
	if errors.Is(err, errTextUnavailable) {
		return queue.Permanent(err)
	}
	return err
}

// Analyze reviews one contract and stores the result.
//
// The model is called once, or once per chunk when chunking is enabled. A
// failed model call does not fail the stage: the analysis records the
// error and the contract still moves to analyzed so scoring can proceed on
// the fallback features.
func (a *Analyzer) Analyze(ctx context.Context, msg datatypes.ExtractionCompleted) (err error) {
	id := msg.ContractID
	ctx, end := a.svc.begin(ctx, StageAnalysis, attribute.String("contract_id", id))
	defer func() { end(err) }()
	log := a.svc.logger().With("stage", StageAnalysis, "contract_id", id)

	text := msg.ExtractedText
	if text == "" {
		data, gerr := a.svc.Blobs.Get(ctx, a.svc.Buckets.Text, TextKey(id))
		if gerr != nil {
			log.Warn("Could not fetch extracted text", "error", gerr)
			return fmt.Errorf("%w: %v", errTextUnavailable, gerr)
		}
		text = string(data)
	}

	analysis := a.review(ctx, text)
	if analysis.Failed() {
		log.Warn("Model analysis failed", "error", analysis.Error)
	}

	now := a.svc.now()
	for _, item := range analysis.Clauses {
		cl := datatypes.Clause{
			ClauseID:    datatypes.ClauseID(id, string(item.Name)),
			ContractID:  id,
			ClauseName:  string(item.Name),
			Description: string(item.Description),
			Type:        string(item.Type),
			CreatedAt:   now,
		}
		if cl.Type == "" {
			cl.Type = datatypes.DefaultClauseType
		}
		if err := a.svc.Docs.PutClause(ctx, cl); err != nil {
			return fmt.Errorf("save clause %s: %w", cl.ClauseID, err)
		}
	}

	if _, err := a.svc.upsertContract(ctx, id, func(c *datatypes.Contract) error {
		c.SetStatus(datatypes.StatusAnalyzed)
		c.ClausesCount = len(analysis.Clauses)
		c.Summary = datatypes.TruncateSummary(string(analysis.Summary))
		c.Analysis = &analysis
		c.AnalysisError = analysis.Error
		c.UpdatedAt = now
		return nil
	}); err != nil {
		return fmt.Errorf("mark contract analyzed: %w", err)
	}

	if qerr := a.svc.enqueue(ctx, queue.Scoring, datatypes.ScoringRequest{ContractID: id, Analysis: &analysis}); qerr != nil {
		log.Warn("Failed to trigger risk scoring", "error", qerr)
	}
	log.Info("Analysis completed", "clauses", len(analysis.Clauses))
	return nil
}

// review returns the analysis for text. It never fails.
func (a *Analyzer) review(ctx context.Context, text string) datatypes.Analysis {
	if a.cfg.ChunkSize <= 0 || len([]rune(text)) <= a.cfg.ChunkSize {
		return a.reviewOnce(ctx, text)
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(a.cfg.ChunkSize),
		textsplitter.WithChunkOverlap(a.cfg.ChunkOverlap),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		a.svc.logger().Warn("Chunking failed, analyzing as one prompt", "stage", StageAnalysis, "error", err)
		return a.reviewOnce(ctx, text)
	}
	if len(chunks) > a.cfg.MaxChunks {
		chunks = chunks[:a.cfg.MaxChunks]
	}
	parts := make([]datatypes.Analysis, 0, len(chunks))
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		parts = append(parts, a.reviewOnce(ctx, chunk))
	}
	return MergeAnalyses(parts)
}

func (a *Analyzer) reviewOnce(ctx context.Context, text string) datatypes.Analysis {
	if a.llm == nil {
		return datatypes.Analysis{Error: "no language model configured"}
	}
	out, err := a.llm.Generate(ctx, BuildPrompt(text, a.cfg.MaxChars), llm.GenerationParams{}.WithMaxTokens(a.cfg.MaxTokens))
	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		return datatypes.Analysis{Error: "No analysis generated"}
	case err != nil:
		return datatypes.Analysis{Error: err.Error()}
	case out == "":
		return datatypes.Analysis{Error: "No analysis generated"}
	}
	return ParseAnalysis(out)
}
