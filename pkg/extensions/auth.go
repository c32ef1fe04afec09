// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/AleutianAI/ContractIQ/pkg/secrets"
)

// AnonymousUser is the user id given to unauthenticated callers.
const AnonymousUser = "anonymous"

// ErrUnauthorized is returned by AuthProvider.Validate when a token is
// rejected. Providers may wrap it with detail.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo is the identity of an authenticated caller.
type AuthInfo struct {
	// UserID scopes uploaded objects (contracts/{user_id}/...). Never empty.
	UserID string

	// Email may be empty.
	Email string

	// Roles holds role memberships, e.g. "admin" or "viewer".
	Roles []string
}

// HasRole reports whether the caller holds role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates a bearer token.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuthProvider interface {
	// Validate returns the identity behind token, or an error wrapping
	// ErrUnauthorized when the token is rejected.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every request as AnonymousUser.
//
// This mirrors an API gateway without an authorizer, where uploads land
// under contracts/anonymous/.
type NopAuthProvider struct{}

// Validate ignores token.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: AnonymousUser}, nil
}

// TokenAuthProvider maps static API tokens to user ids.
//
// # Description
//
// Tokens are held as secrets and compared in constant time. A request
// without a token is anonymous unless Required is set.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type TokenAuthProvider struct {
	tokens   map[string]*secrets.Secret
	required bool
}

// NewTokenAuthProvider creates a provider from user id to token. With
// required set, requests without a token are rejected.
func NewTokenAuthProvider(tokens map[string]*secrets.Secret, required bool) *TokenAuthProvider {
	return &TokenAuthProvider{tokens: tokens, required: required}
}

// Validate resolves token to a user.
func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		if p.required {
			return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
		}
		return &AuthInfo{UserID: AnonymousUser}, nil
	}
	for user, secret := range p.tokens {
		match := false
		_ = secret.Use(func(plaintext []byte) error {
			match = subtle.ConstantTimeCompare(plaintext, []byte(token)) == 1
			return nil
		})
		if match {
			return &AuthInfo{UserID: user}, nil
		}
	}
	return nil, fmt.Errorf("unknown token: %w", ErrUnauthorized)
}
