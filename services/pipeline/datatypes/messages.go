// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrUnknownEventShape is returned when an object event matches none of the
// accepted notification shapes.
var ErrUnknownEventShape = errors.New("unknown object event shape")

// utf8BOM is stripped from queue bodies before decoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ObjectCreated announces a new object in the upload bucket.
type ObjectCreated struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ExtractionCompleted is sent to the analysis queue once text is available.
// ExtractedText is empty when the text must be read from the text bucket.
type ExtractionCompleted struct {
	JobID         string `json:"job_id"`
	ContractID    string `json:"contract_id"`
	ObjectKey     string `json:"s3_key"`
	Bucket        string `json:"bucket"`
	ExtractedText string `json:"extracted_text,omitempty"`
}

// ScoringRequest is sent to the scoring queue after analysis.
type ScoringRequest struct {
	ContractID string    `json:"contract_id"`
	Analysis   *Analysis `json:"analysis,omitempty"`
}

// NotificationRequest is sent to the notification queue after scoring.
type NotificationRequest struct {
	ContractID string `json:"contract_id"`
}

// Record is one entry of a queue batch as delivered by the queue service.
type Record struct {
	MessageID string `json:"messageId,omitempty"`
	Body      string `json:"body"`
}

// Batch is a queue-triggered invocation carrying one or more records.
type Batch struct {
	Records []Record `json:"Records"`
}

// StripBOM removes a leading UTF-8 byte order mark.
func StripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, utf8BOM)
}

// DecodeBody unmarshals a queue body into v after stripping a BOM.
func DecodeBody(body []byte, v any) error {
	if err := json.Unmarshal(StripBOM(body), v); err != nil {
		return fmt.Errorf("decoding message body: %w", err)
	}
	return nil
}

// =============================================================================
// Object event parsing
// =============================================================================

type objectEventEnvelope struct {
	// EventBridge
	Detail *struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"detail"`

	// Direct storage notification
	Records []struct {
		S3 *struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`

	// Pub/Sub push
	Message *struct {
		Data string `json:"data"`
	} `json:"message"`

	// Internal queue message
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type gcsObject struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ParseObjectEvent extracts the bucket and key from an object-created event.
//
// # Description
//
// Accepted shapes, tried in order:
//
//   - EventBridge: {"detail":{"bucket":{"name"},"object":{"key"}}}
//   - storage notification: {"Records":[{"s3":{"bucket":{"name"},"object":{"key"}}}]}
//   - Pub/Sub push: {"message":{"data":"<base64 {bucket,name}>"}}
//   - an ObjectCreated queue message: {"bucket","key"}
//
// Keys from storage notifications are URL-decoded.
//
// # Outputs
//
// Returns ErrUnknownEventShape (wrapped) when no shape matches or the
// matching shape has an empty bucket or key.
func ParseObjectEvent(raw []byte) (ObjectCreated, error) {
	var env objectEventEnvelope
	if err := json.Unmarshal(StripBOM(raw), &env); err != nil {
		return ObjectCreated{}, fmt.Errorf("%w: %v", ErrUnknownEventShape, err)
	}

	var ev ObjectCreated
	switch {
	case env.Detail != nil:
		ev = ObjectCreated{Bucket: env.Detail.Bucket.Name, Key: env.Detail.Object.Key}
	case len(env.Records) > 0 && env.Records[0].S3 != nil:
		s3 := env.Records[0].S3
		ev = ObjectCreated{Bucket: s3.Bucket.Name, Key: unescapeKey(s3.Object.Key)}
	case env.Message != nil:
		data, err := base64.StdEncoding.DecodeString(env.Message.Data)
		if err != nil {
			return ObjectCreated{}, fmt.Errorf("%w: pubsub data: %v", ErrUnknownEventShape, err)
		}
		var obj gcsObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return ObjectCreated{}, fmt.Errorf("%w: pubsub object: %v", ErrUnknownEventShape, err)
		}
		ev = ObjectCreated{Bucket: obj.Bucket, Key: obj.Name}
	default:
		ev = ObjectCreated{Bucket: env.Bucket, Key: env.Key}
	}

	if ev.Bucket == "" || ev.Key == "" {
		return ObjectCreated{}, ErrUnknownEventShape
	}
	return ev, nil
}

func unescapeKey(key string) string {
	if k, err := url.QueryUnescape(key); err == nil {
		return k
	}
	return key
}

// =============================================================================
// Contract references
// =============================================================================

// ParseScoringRequest reads a scoring request either from the top level or
// from the body of the first queue record. A missing contract id yields an
// empty ContractID and no error.
func ParseScoringRequest(raw []byte) (ScoringRequest, error) {
	var req ScoringRequest
	if err := resolveRecord(raw, &req, func() bool { return req.ContractID != "" }); err != nil {
		return ScoringRequest{}, err
	}
	return req, nil
}

// ParseNotificationRequest is ParseScoringRequest for notification events.
func ParseNotificationRequest(raw []byte) (NotificationRequest, error) {
	var req NotificationRequest
	if err := resolveRecord(raw, &req, func() bool { return req.ContractID != "" }); err != nil {
		return NotificationRequest{}, err
	}
	return req, nil
}

func resolveRecord(raw []byte, v any, found func() bool) error {
	raw = StripBOM(raw)
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding event: %w", err)
	}
	if found() {
		return nil
	}
	var batch Batch
	if err := json.Unmarshal(raw, &batch); err != nil || len(batch.Records) == 0 {
		return nil
	}
	return DecodeBody([]byte(batch.Records[0].Body), v)
}
