// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used by SQSQueue.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue maps pipeline queue names to SQS queue URLs.
//
// SQS counts receives itself, so Attempt comes from the
// ApproximateReceiveCount attribute and Nack only ends the visibility
// timeout.
type SQSQueue struct {
	client SQSAPI
	urls   map[string]string
}

var _ Queue = (*SQSQueue)(nil)

// NewSQSQueue creates a queue over the given name-to-URL mapping.
func NewSQSQueue(cfg aws.Config, urls map[string]string) *SQSQueue {
	return NewSQSQueueWithClient(sqs.NewFromConfig(cfg), urls)
}

// NewSQSQueueWithClient is used by tests to inject a fake client.
func NewSQSQueueWithClient(client SQSAPI, urls map[string]string) *SQSQueue {
	return &SQSQueue{client: client, urls: urls}
}

func (q *SQSQueue) url(queue string) (string, error) {
	u, ok := q.urls[queue]
	if !ok || u == "" {
		return "", fmt.Errorf("queue %s: no SQS url configured", queue)
	}
	return u, nil
}

// Send implements Sender.
func (q *SQSQueue) Send(ctx context.Context, queue string, body []byte) error {
	u, err := q.url(queue)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(u),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("queue %s: send: %w", queue, err)
	}
	return nil
}

// Receive implements Queue. SQS long polling is capped at 20 seconds.
func (q *SQSQueue) Receive(ctx context.Context, queue string, wait time.Duration) (*Message, error) {
	u, err := q.url(queue)
	if err != nil {
		return nil, err
	}
	secs := int32(wait / time.Second)
	if secs > 20 {
		secs = 20
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(u),
		MaxNumberOfMessages:         1,
		WaitTimeSeconds:             secs,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("queue %s: receive: %w", queue, err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	attempt := 1
	if n, err := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil && n > 0 {
		attempt = n
	}
	return &Message{
		ID:      aws.ToString(msg.MessageId),
		Queue:   queue,
		Body:    []byte(aws.ToString(msg.Body)),
		Attempt: attempt,
		Receipt: aws.ToString(msg.ReceiptHandle),
	}, nil
}

// Ack implements Queue.
func (q *SQSQueue) Ack(ctx context.Context, m *Message) error {
	u, err := q.url(m.Queue)
	if err != nil {
		return err
	}
	_, err = q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(u),
		ReceiptHandle: aws.String(m.Receipt),
	})
	if err != nil {
		return fmt.Errorf("queue %s: ack %s: %w", m.Queue, m.ID, err)
	}
	return nil
}

// Nack implements Queue.
func (q *SQSQueue) Nack(ctx context.Context, m *Message) error {
	u, err := q.url(m.Queue)
	if err != nil {
		return err
	}
	_, err = q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(u),
		ReceiptHandle:     aws.String(m.Receipt),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("queue %s: nack %s: %w", m.Queue, m.ID, err)
	}
	return nil
}

// Depth implements Queue.
func (q *SQSQueue) Depth(ctx context.Context, queue string) (int, error) {
	u, err := q.url(queue)
	if err != nil {
		return 0, err
	}
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(u),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, fmt.Errorf("queue %s: depth: %w", queue, err)
	}
	n, err := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	if err != nil {
		return 0, fmt.Errorf("queue %s: depth attribute: %w", queue, err)
	}
	return n, nil
}

// Close implements Queue.
func (q *SQSQueue) Close() error { return nil }
