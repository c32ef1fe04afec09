// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets loads API keys and keeps them in memguard enclaves.
//
// A key is looked up in the environment first and then in a mounted secret
// file (/run/secrets/{name} by default, as written by Podman and Docker).
// Once loaded, the plaintext only exists inside a locked buffer for the
// duration of a Use call.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
)

// DefaultDir is where container runtimes mount secret files.
const DefaultDir = "/run/secrets"

// ErrMissing is returned when a secret is in neither place.
var ErrMissing = errors.New("secret not found")

// Secret is an encrypted in-memory secret value.
//
// # Thread Safety
//
// Safe for concurrent use. The zero value is an empty secret.
type Secret struct {
	name    string
	enclave *memguard.Enclave
}

// New seals value into an enclave. memguard wipes value in the process.
func New(name string, value []byte) *Secret {
	if len(value) == 0 {
		return &Secret{name: name}
	}
	return &Secret{name: name, enclave: memguard.NewEnclave(value)}
}

// Load reads a secret from envVar, falling back to dir/fileName. An empty
// dir means DefaultDir.
//
// # Outputs
//
//   - *Secret: The sealed secret.
//   - error: ErrMissing (wrapped) when neither source has a value.
func Load(envVar, dir, fileName string) (*Secret, error) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return New(envVar, []byte(v)), nil
	}
	if dir == "" {
		dir = DefaultDir
	}
	path := filepath.Join(dir, fileName)
	content, err := os.ReadFile(path)
	if err == nil {
		value := []byte(strings.TrimSpace(string(content)))
		memguard.WipeBytes(content)
		if len(value) > 0 {
			slog.Info("read secret from file", "secret", fileName)
			return New(envVar, value), nil
		}
	}
	return nil, fmt.Errorf("%s (or %s): %w", envVar, path, ErrMissing)
}

// Name returns the label the secret was loaded under.
func (s *Secret) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Empty reports whether the secret holds no value.
func (s *Secret) Empty() bool {
	return s == nil || s.enclave == nil
}

// Use opens the enclave and passes the plaintext to fn. The buffer is
// destroyed when fn returns, so fn must not retain the slice.
func (s *Secret) Use(fn func(plaintext []byte) error) error {
	if s.Empty() {
		return fmt.Errorf("%s: %w", s.Name(), ErrMissing)
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open secret %s: %w", s.name, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Reveal returns a copy of the plaintext as a string. Prefer Use; Reveal
// exists for SDKs that only take string keys.
func (s *Secret) Reveal() (string, error) {
	var out string
	err := s.Use(func(p []byte) error {
		out = string(p)
		return nil
	})
	return out, err
}

// String never prints the value.
func (s *Secret) String() string {
	if s.Empty() {
		return "<empty>"
	}
	return "<redacted>"
}
