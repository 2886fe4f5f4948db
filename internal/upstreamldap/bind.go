// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"

	"github.com/stackabletech/opa-operator-sub000/internal/credentials"
)

const (
	krb5KeytabEnv    = "KRB5_CLIENT_KTNAME"
	krb5PrincipalEnv = "KRB5_PRINCIPAL"
	krb5ConfigEnv    = "KRB5_CONFIG"

	defaultKrb5Config = "/etc/krb5.conf"
)

// BindFunc authenticates a connection.
type BindFunc func(conn Conn) error

// SimpleBind binds with a DN and password.
func SimpleBind(creds credentials.BindCredentials) BindFunc {
	return func(conn Conn) error {
		if err := conn.Bind(creds.Username, creds.Password); err != nil {
			// the password is never part of the error
			return fmt.Errorf("error binding as %q: %w", creds.Username, err)
		}
		return nil
	}
}

// KerberosSettings locate the keytab used for SASL GSSAPI binds.
type KerberosSettings struct {
	KeytabPath string
	Username   string
	Realm      string
	ConfigPath string
}

// KerberosSettingsFromEnv reads the standard MIT Kerberos environment variables.
// KRB5_PRINCIPAL has the form user@REALM.
func KerberosSettingsFromEnv(getenv func(string) string) (KerberosSettings, error) {
	keytab := strings.TrimPrefix(getenv(krb5KeytabEnv), "FILE:")
	if len(keytab) == 0 {
		return KerberosSettings{}, fmt.Errorf("%s must be set to the path of a keytab", krb5KeytabEnv)
	}

	principal := getenv(krb5PrincipalEnv)
	username, realm, ok := strings.Cut(principal, "@")
	if !ok || len(username) == 0 || len(realm) == 0 {
		return KerberosSettings{}, fmt.Errorf("%s must be set to a principal of the form user@REALM, got %q", krb5PrincipalEnv, principal)
	}

	config := getenv(krb5ConfigEnv)
	if len(config) == 0 {
		config = defaultKrb5Config
	}

	return KerberosSettings{KeytabPath: keytab, Username: username, Realm: realm, ConfigPath: config}, nil
}

// GSSAPIClientFactory creates a Kerberos client for one bind. It exists for testing.
type GSSAPIClientFactory func(settings KerberosSettings) (ldap.GSSAPIClient, func() error, error)

// NewKeytabClient logs in to the KDC with a keytab.
func NewKeytabClient(settings KerberosSettings) (ldap.GSSAPIClient, func() error, error) {
	krb5Config, err := krb5config.Load(settings.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load Kerberos config %q: %w", settings.ConfigPath, err)
	}
	kt, err := keytab.Load(settings.KeytabPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load Kerberos keytab %q: %w", settings.KeytabPath, err)
	}

	kc := krb5client.NewWithKeytab(settings.Username, settings.Realm, kt, krb5Config, krb5client.DisablePAFXFAST(true))
	if err := kc.Login(); err != nil {
		return nil, nil, fmt.Errorf("failed to log in to Kerberos as %s@%s: %w", settings.Username, settings.Realm, err)
	}

	client := &gssapi.Client{Client: kc}
	return client, client.Close, nil
}

// KerberosBind binds with SASL GSSAPI for the service principal ldap/{host}.
func KerberosBind(settings KerberosSettings, host string, newClient GSSAPIClientFactory) BindFunc {
	if newClient == nil {
		newClient = NewKeytabClient
	}
	servicePrincipal := "ldap/" + host

	return func(conn Conn) error {
		client, closeClient, err := newClient(settings)
		if err != nil {
			return err
		}
		defer func() { _ = closeClient() }()

		if err := conn.GSSAPIBind(client, servicePrincipal, ""); err != nil {
			return fmt.Errorf("error binding with GSSAPI for service principal %q: %w", servicePrincipal, err)
		}
		return nil
	}
}
