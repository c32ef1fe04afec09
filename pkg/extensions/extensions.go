// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the pluggable identity and audit hooks of the
// ContractIQ API.
//
// The open source build ships no-op or static implementations. Deployments
// that sit behind an identity provider inject their own AuthProvider and
// AuditLogger through ServiceOptions.
//
// # Defaults
//
//	opts := extensions.DefaultOptions()
//	// opts.AuthProvider: NopAuthProvider (every caller is "anonymous")
//	// opts.AuditLogger:  NopAuditLogger (events are discarded)
package extensions

// ServiceOptions carries the extension points used by the HTTP API.
//
// Zero-valued fields are replaced by no-op implementations when the options
// pass through WithDefaults.
type ServiceOptions struct {
	// AuthProvider resolves the caller's user id from a bearer token.
	// Default: NopAuthProvider
	AuthProvider AuthProvider

	// AuditLogger records uploads and contract reads.
	// Default: NopAuditLogger
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op implementations.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts using provider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts using logger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithDefaults fills nil fields with the no-op implementations.
func (opts ServiceOptions) WithDefaults() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
