// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package credentials

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackabletech/opa-operator-sub000/internal/config"
	"github.com/stackabletech/opa-operator-sub000/internal/testutil"
)

func TestLoadClientCredentials(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "clientId", "user-info-fetcher")
	testutil.WriteFile(t, dir, "clientSecret", " s3cr3t\n")

	creds, err := LoadClientCredentials(dir)
	require.NoError(t, err)
	// contents are never trimmed
	require.Equal(t, ClientCredentials{ClientID: "user-info-fetcher", ClientSecret: " s3cr3t\n"}, creds)

	require.NotContains(t, fmt.Sprintf("%v %+v %#v %s", creds, creds, creds, creds), "s3cr3t")
}

func TestLoadClientCredentialsMissing(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "clientId", "user-info-fetcher")

	_, err := LoadClientCredentials(dir)
	require.EqualError(t, err, fmt.Sprintf("failed to read credential file %q: no such file or directory", filepath.Join(dir, "clientSecret")))
}

func TestLoadBindCredentials(t *testing.T) {
	dir := t.TempDir()
	userPath := testutil.WriteFile(t, dir, "user", "cn=admin,dc=example,dc=org")
	passwordPath := testutil.WriteFile(t, dir, "password", "hunter2")

	creds, err := LoadBindCredentials(config.BindCredentials{UserPath: userPath, PasswordPath: passwordPath})
	require.NoError(t, err)
	require.Equal(t, BindCredentials{Username: "cn=admin,dc=example,dc=org", Password: "hunter2"}, creds)
	require.NotContains(t, fmt.Sprintf("%v %#v", creds, creds), "hunter2")

	_, err = LoadBindCredentials(config.BindCredentials{UserPath: userPath, PasswordPath: filepath.Join(dir, "nope")})
	require.ErrorContains(t, err, "nope")
}
