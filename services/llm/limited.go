// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"
)

// LimitedClient throttles calls with a token bucket.
type LimitedClient struct {
	next    Client
	limiter *rate.Limiter
}

var _ Client = (*LimitedClient)(nil)

// NewLimitedClient allows perMinute calls per minute with the given burst.
// A burst below 1 becomes 1.
func NewLimitedClient(next Client, perMinute float64, burst int) *LimitedClient {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 && !math.IsInf(perMinute, 1) {
		limit = rate.Limit(perMinute / 60)
	}
	return &LimitedClient{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Generate waits for a token, then delegates.
func (l *LimitedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm rate limit wait: %w", err)
	}
	return l.next.Generate(ctx, prompt, params)
}
