// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package credentials reads backend secrets that are mounted into the container as files.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackabletech/opa-operator-sub000/internal/config"
)

const (
	clientIDFile     = "clientId"
	clientSecretFile = "clientSecret"
)

// ClientCredentials are used for OAuth2 client credentials grants. They must never be logged.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// String hides the secret so that accidental logging does not leak it.
func (c ClientCredentials) String() string {
	return fmt.Sprintf("{ClientID:%s ClientSecret:<redacted>}", c.ClientID)
}

// GoString hides the secret from %#v.
func (c ClientCredentials) GoString() string {
	return c.String()
}

// LoadClientCredentials reads clientId and clientSecret from dir. The contents are used verbatim.
func LoadClientCredentials(dir string) (ClientCredentials, error) {
	id, err := readFile(filepath.Join(dir, clientIDFile))
	if err != nil {
		return ClientCredentials{}, err
	}
	secret, err := readFile(filepath.Join(dir, clientSecretFile))
	if err != nil {
		return ClientCredentials{}, err
	}
	return ClientCredentials{ClientID: id, ClientSecret: secret}, nil
}

// BindCredentials are used for LDAP simple binds. They must never be logged.
type BindCredentials struct {
	Username string
	Password string
}

func (c BindCredentials) String() string {
	return fmt.Sprintf("{Username:%s Password:<redacted>}", c.Username)
}

func (c BindCredentials) GoString() string {
	return c.String()
}

// LoadBindCredentials reads the bind user and password files named by the config. The contents are used verbatim.
func LoadBindCredentials(paths config.BindCredentials) (BindCredentials, error) {
	user, err := readFile(paths.UserPath)
	if err != nil {
		return BindCredentials{}, err
	}
	password, err := readFile(paths.PasswordPath)
	if err != nil {
		return BindCredentials{}, err
	}
	return BindCredentials{Username: user, Password: password}, nil
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// only the path is reported, never the contents
		return "", fmt.Errorf("failed to read credential file %q: %w", path, unwrapPathError(err))
	}
	return string(data), nil
}

func unwrapPathError(err error) error {
	if pathErr, ok := err.(*os.PathError); ok { //nolint:errorlint // os.ReadFile returns *PathError directly
		return pathErr.Err
	}
	return err
}
