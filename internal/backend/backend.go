// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package backend binds the configured backend to its credentials, TLS settings and clients.
package backend

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/stackabletech/opa-operator-sub000/internal/config"
	"github.com/stackabletech/opa-operator-sub000/internal/credentials"
	"github.com/stackabletech/opa-operator-sub000/internal/endpointaddr"
	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/metrics"
	"github.com/stackabletech/opa-operator-sub000/internal/net/phttp"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/tlsconfig"
	"github.com/stackabletech/opa-operator-sub000/internal/upstreamad"
	"github.com/stackabletech/opa-operator-sub000/internal/upstreamentra"
	"github.com/stackabletech/opa-operator-sub000/internal/upstreamkeycloak"
	"github.com/stackabletech/opa-operator-sub000/internal/upstreamldap"
	"github.com/stackabletech/opa-operator-sub000/internal/upstreamxfscaas"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

// getenv is swapped in tests.
var getenv = os.Getenv //nolint:gochecknoglobals

// Resolve builds the long-lived state of the configured backend: credentials are read from
// credentialsDir (or the configured bind credential files), TLS configs and clients are built.
// The result is safe for concurrent use.
func Resolve(cfg config.Backend, credentialsDir string) (userinfo.Backend, error) {
	b, err := resolve(cfg, credentialsDir)
	if err != nil {
		return nil, fetcherr.Wrapf(fetcherr.BackendUnavailable, err, "failed to resolve %s backend", cfg.Name())
	}
	plog.Info("resolved backend", "backend", cfg.Name())
	return b, nil
}

func resolve(cfg config.Backend, credentialsDir string) (userinfo.Backend, error) {
	switch {
	case cfg.Keycloak != nil:
		return resolveKeycloak(cfg.Keycloak, credentialsDir)
	case cfg.ActiveDirectory != nil:
		return resolveActiveDirectory(cfg.ActiveDirectory)
	case cfg.OpenLDAP != nil:
		return resolveOpenLDAP(cfg.OpenLDAP)
	case cfg.Entra != nil:
		return resolveEntra(cfg.Entra, credentialsDir)
	case cfg.XFSCAAS != nil:
		return resolveXFSCAAS(cfg.XFSCAAS), nil
	default:
		return userinfo.BackendFunc(func(context.Context, userinfo.Request) (*userinfo.UserInfo, error) {
			return userinfo.Empty(), nil
		}), nil
	}
}

func resolveKeycloak(cfg *config.Keycloak, credentialsDir string) (userinfo.Backend, error) {
	client, scheme, err := httpClient(cfg.TLS)
	if err != nil {
		return nil, err
	}
	creds, err := loadClientCredentials(credentialsDir)
	if err != nil {
		return nil, err
	}

	return upstreamkeycloak.New(upstreamkeycloak.ProviderConfig{
		RootURL:     scheme + "://" + joinHostPort(cfg.Hostname, cfg.Port) + cfg.RootPath,
		AdminRealm:  cfg.AdminRealm,
		UserRealm:   cfg.UserRealm,
		Credentials: creds,
		Client:      client,
	}), nil
}

func resolveEntra(cfg *config.Entra, credentialsDir string) (userinfo.Backend, error) {
	client, scheme, err := httpClient(cfg.TLS)
	if err != nil {
		return nil, err
	}
	creds, err := loadClientCredentials(credentialsDir)
	if err != nil {
		return nil, err
	}

	return upstreamentra.New(upstreamentra.ProviderConfig{
		TokenURL:    upstreamentra.TokenURL(scheme, joinHostPort(cfg.TokenHostname, cfg.Port), cfg.TenantID),
		GraphURL:    scheme + "://" + joinHostPort(cfg.UserInfoHostname, cfg.Port),
		Credentials: creds,
		Client:      client,
	}), nil
}

func resolveXFSCAAS(cfg *config.XFSCAAS) userinfo.Backend {
	return upstreamxfscaas.New(upstreamxfscaas.ProviderConfig{
		BaseURL: "http://" + joinHostPort(cfg.Hostname, cfg.Port),
		Client:  phttp.Default(nil),
	})
}

func resolveActiveDirectory(cfg *config.ActiveDirectory) (userinfo.Backend, error) {
	connector, err := ldapConnector(cfg.TLS, "ldapServer", cfg.LDAPServer, 0)
	if err != nil {
		return nil, err
	}

	if cfg.BindCredentials != nil {
		creds, err := credentials.LoadBindCredentials(*cfg.BindCredentials)
		if err != nil {
			return nil, err
		}
		connector.Bind = upstreamldap.SimpleBind(creds)
	} else {
		settings, err := upstreamldap.KerberosSettingsFromEnv(getenv)
		if err != nil {
			return nil, err
		}
		connector.Bind = upstreamldap.KerberosBind(settings, connector.Addr.Host, nil)
	}

	return upstreamad.New(upstreamad.ProviderConfig{
		Connector:                       connector,
		BaseDN:                          cfg.BaseDistinguishedName,
		CustomAttributeMappings:         cfg.CustomAttributeMappings,
		AdditionalGroupAttributeFilters: cfg.AdditionalGroupAttributeFilters,
	}), nil
}

func resolveOpenLDAP(cfg *config.OpenLDAP) (userinfo.Backend, error) {
	connector, err := ldapConnector(cfg.TLS, "hostname", cfg.Hostname, cfg.Port)
	if err != nil {
		return nil, err
	}

	creds, err := credentials.LoadBindCredentials(*cfg.BindCredentials)
	if err != nil {
		return nil, err
	}
	connector.Bind = upstreamldap.SimpleBind(creds)

	return upstreamldap.New(upstreamldap.ProviderConfig{
		Connector:               connector,
		SearchBase:              cfg.SearchBase,
		GroupsSearchBase:        cfg.GroupsSearchBase,
		UserIDAttribute:         cfg.UserIDAttribute,
		UserNameAttribute:       cfg.UserNameAttribute,
		GroupMemberAttribute:    cfg.GroupMemberAttribute,
		CustomAttributeMappings: cfg.CustomAttributeMappings,
	}), nil
}

// ldapConnector builds an unbound connector for server, the config field named field. A port of zero means
// the default port of the protocol unless server names one.
func ldapConnector(t *config.TLS, field, server string, port uint16) (*upstreamldap.Connector, error) {
	tlsConfig, err := tlsconfig.ForLDAP(t.Spec())
	if err != nil {
		return nil, err
	}
	protocol, defaultPort := upstreamldap.ProtocolFor(tlsConfig, t.IsStartTLS())
	if port == 0 {
		port = defaultPort
	}

	addr, err := endpointaddr.Parse(server, port)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}

	return &upstreamldap.Connector{
		Addr:               addr,
		ConnectionProtocol: protocol,
		TLSConfig:          tlsConfig,
	}, nil
}

func httpClient(tls *config.TLS) (client *http.Client, scheme string, err error) {
	spec := tls.Spec()
	tlsConfig, err := tlsconfig.ForHTTP(spec)
	if err != nil {
		return nil, "", err
	}
	scheme = "http"
	if spec.UseTLS {
		scheme = "https"
	}
	return phttp.Default(tlsConfig), scheme, nil
}

func loadClientCredentials(dir string) (credentials.ClientCredentials, error) {
	if len(dir) == 0 {
		return credentials.ClientCredentials{}, fmt.Errorf("a credentials directory is required")
	}
	return credentials.LoadClientCredentials(dir)
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// Instrument records the duration and outcome of every lookup of b.
func Instrument(name string, b userinfo.Backend, m *metrics.Metrics) userinfo.Backend {
	return userinfo.BackendFunc(func(ctx context.Context, req userinfo.Request) (*userinfo.UserInfo, error) {
		start := time.Now()
		info, err := b.GetUserInfo(ctx, req)
		duration := time.Since(start)

		outcome := metrics.OutcomeSuccess
		if err != nil {
			outcome = fetcherr.KindOf(err).String()
			plog.DebugErr("backend lookup failed", err, "backend", name, "request", req.String(), "duration", duration.String())
		} else {
			plog.Debug("backend lookup succeeded", "backend", name, "request", req.String(), "duration", duration.String())
		}
		m.RecordBackendRequest(name, outcome, duration)
		return info, err
	})
}
