// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFile writes contents into name inside dir and returns the full path.
func WriteFile(t *testing.T, dir, name, contents string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

// WriteTempFile writes contents into a new file in a per-test temp dir and returns the full path.
func WriteTempFile(t *testing.T, name, contents string) string {
	t.Helper()

	return WriteFile(t, t.TempDir(), name, contents)
}
