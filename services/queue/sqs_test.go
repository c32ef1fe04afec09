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
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent       []*sqs.SendMessageInput
	deleted    []string
	visibility []string
	receive    *sqs.ReceiveMessageOutput
	lastWait   int32
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.lastWait = in.WaitTimeSeconds
	if f.receive == nil {
		return &sqs.ReceiveMessageOutput{}, nil
	}
	return f.receive, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(_ context.Context, in *sqs.ChangeMessageVisibilityInput, _ ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.visibility = append(f.visibility, aws.ToString(in.ReceiptHandle))
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, _ *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{"ApproximateNumberOfMessages": "7"}}, nil
}

func TestSQSQueue_SendRequiresURL(t *testing.T) {
	f := &fakeSQS{}
	q := NewSQSQueueWithClient(f, map[string]string{Analysis: "https://sqs/analysis"})
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Analysis, []byte(`{"contract_id":"c"}`)))
	require.Len(t, f.sent, 1)
	assert.Equal(t, "https://sqs/analysis", aws.ToString(f.sent[0].QueueUrl))

	err := q.Send(ctx, Scoring, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SQS url")
}

func TestSQSQueue_ReceiveAckNack(t *testing.T) {
	f := &fakeSQS{receive: &sqs.ReceiveMessageOutput{Messages: []types.Message{{
		MessageId:     aws.String("m-9"),
		Body:          aws.String("hello"),
		ReceiptHandle: aws.String("rh"),
		Attributes:    map[string]string{"ApproximateReceiveCount": "2"},
	}}}}
	q := NewSQSQueueWithClient(f, map[string]string{Analysis: "u"})
	ctx := context.Background()

	m, err := q.Receive(ctx, Analysis, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int32(20), f.lastWait)
	assert.Equal(t, 2, m.Attempt)
	assert.Equal(t, "hello", string(m.Body))

	require.NoError(t, q.Nack(ctx, m))
	require.NoError(t, q.Ack(ctx, m))
	assert.Equal(t, []string{"rh"}, f.visibility)
	assert.Equal(t, []string{"rh"}, f.deleted)

	n, err := q.Depth(ctx, Analysis)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestSQSQueue_EmptyReceive(t *testing.T) {
	q := NewSQSQueueWithClient(&fakeSQS{}, map[string]string{Analysis: "u"})
	m, err := q.Receive(context.Background(), Analysis, time.Second)
	require.NoError(t, err)
	assert.Nil(t, m)
}
