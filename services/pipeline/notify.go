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
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/ContractIQ/services/notify"
	"github.com/AleutianAI/ContractIQ/services/pipeline/datatypes"
	"github.com/AleutianAI/ContractIQ/services/queue"
)

// NotifyResult is the notification response.
type NotifyResult struct {
	Message    string `json:"message"`
	ContractID string `json:"contract_id,omitempty"`
}

// Notifier tells the contract owner that analysis finished.
type Notifier struct {
	svc       *Services
	publisher notify.Publisher
}

// NewNotifier creates the notification stage. A nil publisher logs and
// skips delivery.
func NewNotifier(svc *Services, publisher notify.Publisher) *Notifier {
	return &Notifier{svc: svc, publisher: publisher}
}

// HandleEvent parses a notification request from raw and runs Notify.
func (n *Notifier) HandleEvent(ctx context.Context, raw []byte) (*NotifyResult, error) {
	req, err := datatypes.ParseNotificationRequest(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return n.Notify(ctx, req.ContractID)
}

// HandleMessage is HandleEvent for queue workers.
func (n *Notifier) HandleMessage(ctx context.Context, body []byte) error {
	_, err := n.HandleEvent(ctx, body)
	if err != nil && IsPermanent(err) {
		return queue.Permanent(err)
	}
	return err
}

// Notify publishes the completion message for one contract. Contracts that
// are neither analyzed nor completed are skipped.
func (n *Notifier) Notify(ctx context.Context, contractID string) (res *NotifyResult, err error) {
	if contractID == "" {
		return nil, ErrMissingContractID
	}
	ctx, end := n.svc.begin(ctx, StageNotify, attribute.String("contract_id", contractID))
	defer func() { end(err) }()
	log := n.svc.logger().With("stage", StageNotify, "contract_id", contractID)

	c, err := n.svc.loadContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != datatypes.StatusCompleted && c.Status != datatypes.StatusAnalyzed {
		return &NotifyResult{Message: "Analysis not complete, skipping notification"}, nil
	}

	msg := BuildNotification(c)
	if n.publisher == nil {
		log.Info("No notification publisher configured, skipping notification")
	} else if err := n.publisher.Publish(ctx, msg); err != nil {
		return nil, fmt.Errorf("publish notification: %w", err)
	} else {
		log.Info("Notification sent")
	}
	return &NotifyResult{Message: "Notification sent", ContractID: contractID}, nil
}

// BuildNotification renders the completion message for c.
func BuildNotification(c *datatypes.Contract) notify.Notification {
	filename := c.Filename
	if filename == "" {
		filename = DefaultFilename
	}
	userID := c.UserID
	if userID == "" {
		userID = "unknown"
	}
	score := datatypes.FormatScore(c.RiskScore)
	body := fmt.Sprintf("Your contract analysis is complete!\n\n"+
		"Contract: %s\n"+
		"Risk Score: %s/100 (%s)\n"+
		"Status: %s\n\n"+
		"View full analysis in your dashboard.\n",
		filename, score, datatypes.RiskLabel(c.RiskScore), c.Status)
	return notify.Notification{
		Subject: "Contract Analysis Complete: " + filename,
		Message: body,
		Attributes: map[string]string{
			"contract_id": c.ContractID,
			"user_id":     userID,
		},
	}
}
