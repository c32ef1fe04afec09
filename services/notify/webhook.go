// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/ContractIQ/pkg/secrets"
)

// WebhookPublisher POSTs each notification as JSON.
type WebhookPublisher struct {
	url    string
	token  *secrets.Secret
	client *http.Client
}

// NewWebhookPublisher targets url. token, if non-empty, is sent as a
// bearer token.
func NewWebhookPublisher(url string, token *secrets.Secret, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookPublisher{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

// Publish implements Publisher.
func (w *WebhookPublisher) Publish(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if !w.token.Empty() {
		if err := w.token.Use(func(tok []byte) error {
			req.Header.Set("Authorization", "Bearer "+string(tok))
			return nil
		}); err != nil {
			return err
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Name implements Publisher.
func (w *WebhookPublisher) Name() string { return "webhook" }
