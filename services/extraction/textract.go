// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/aws/smithy-go"
)

// TextractAPI is the subset of the Textract client used here.
type TextractAPI interface {
	StartDocumentTextDetection(ctx context.Context, in *textract.StartDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.StartDocumentTextDetectionOutput, error)
	GetDocumentTextDetection(ctx context.Context, in *textract.GetDocumentTextDetectionInput, optFns ...func(*textract.Options)) (*textract.GetDocumentTextDetectionOutput, error)
}

// Textract implements OCR with Amazon Textract.
type Textract struct {
	client TextractAPI
}

var _ OCR = (*Textract)(nil)

// NewTextract creates a client from a loaded AWS config.
func NewTextract(cfg aws.Config) *Textract {
	return &Textract{client: textract.NewFromConfig(cfg)}
}

// NewTextractWithClient is used by tests to inject a fake.
func NewTextractWithClient(client TextractAPI) *Textract {
	return &Textract{client: client}
}

// StartTextDetection implements OCR.
func (t *Textract) StartTextDetection(ctx context.Context, bucket, key string) (string, error) {
	out, err := t.client.StartDocumentTextDetection(ctx, &textract.StartDocumentTextDetectionInput{
		DocumentLocation: &types.DocumentLocation{
			S3Object: &types.S3Object{
				Bucket: aws.String(bucket),
				Name:   aws.String(key),
			},
		},
	})
	if err != nil {
		if isUnavailable(err) {
			return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}
		return "", fmt.Errorf("textract start: %w", err)
	}
	return aws.ToString(out.JobId), nil
}

// TextDetectionResult implements OCR. All result pages are read once the
// job has finished.
func (t *Textract) TextDetectionResult(ctx context.Context, jobID string) (JobResult, error) {
	var (
		lines []string
		token *string
		res   JobResult
	)
	for {
		out, err := t.client.GetDocumentTextDetection(ctx, &textract.GetDocumentTextDetectionInput{
			JobId:     aws.String(jobID),
			NextToken: token,
		})
		if err != nil {
			return JobResult{}, fmt.Errorf("textract get: %w", err)
		}
		res.Status = JobStatus(out.JobStatus)
		res.Message = aws.ToString(out.StatusMessage)
		if res.Status != JobSucceeded && res.Status != JobPartialSuccess {
			return res, nil
		}
		for _, b := range out.Blocks {
			if b.BlockType == types.BlockTypeLine && b.Text != nil {
				lines = append(lines, *b.Text)
			}
		}
		if out.NextToken == nil || *out.NextToken == "" {
			break
		}
		token = out.NextToken
	}
	res.Text = strings.Join(lines, "\n")
	return res, nil
}

func isUnavailable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && IsUnavailableMessage(apiErr.ErrorCode()) {
		return true
	}
	return IsUnavailableMessage(err.Error())
}
