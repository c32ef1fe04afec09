// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("CONTRACTIQ_TEST_KEY", "  sk-env  ")
	s, err := Load("CONTRACTIQ_TEST_KEY", t.TempDir(), "test_key")
	require.NoError(t, err)

	v, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", v)
	assert.Equal(t, "<redacted>", s.String())
	assert.Equal(t, "<redacted>", fmt.Sprint(s))
}

func TestLoad_FromFile(t *testing.T) {
	t.Setenv("CONTRACTIQ_TEST_KEY", "")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test_key"), []byte("sk-file\n"), 0600))

	s, err := Load("CONTRACTIQ_TEST_KEY", dir, "test_key")
	require.NoError(t, err)
	err = s.Use(func(p []byte) error {
		assert.Equal(t, "sk-file", string(p))
		return nil
	})
	require.NoError(t, err)
}

func TestLoad_Missing(t *testing.T) {
	t.Setenv("CONTRACTIQ_TEST_KEY", "")
	_, err := Load("CONTRACTIQ_TEST_KEY", t.TempDir(), "test_key")
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestEmptySecret(t *testing.T) {
	var s *Secret
	assert.True(t, s.Empty())
	assert.Equal(t, "<empty>", s.String())
	err := s.Use(func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrMissing)

	assert.True(t, New("x", nil).Empty())
}
