// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package upstreamldap implements the LDAP plumbing shared by the directory backends,
// and the OpenLDAP backend itself.
package upstreamldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/stackabletech/opa-operator-sub000/internal/endpointaddr"
	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
)

const (
	DefaultLDAPPort  = uint16(389)
	DefaultLDAPSPort = uint16(636)

	DistinguishedNameAttributeName = "dn"
)

// Conn abstracts the upstream LDAP communication protocol (mostly for testing).
type Conn interface {
	Bind(username, password string) error

	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzid string) error

	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)

	Close() error
}

// Our Conn type is subset of the ldap.Client interface, which is implemented by ldap.Conn.
var _ Conn = &ldap.Conn{}

// LDAPDialer is a factory of Conn, and the resulting Conn can then be used to interact with an upstream LDAP server.
type LDAPDialer interface {
	Dial(ctx context.Context, addr endpointaddr.HostPort) (Conn, error)
}

// LDAPDialerFunc makes it easy to use a func as an LDAPDialer.
type LDAPDialerFunc func(ctx context.Context, addr endpointaddr.HostPort) (Conn, error)

var _ LDAPDialer = LDAPDialerFunc(nil)

func (f LDAPDialerFunc) Dial(ctx context.Context, addr endpointaddr.HostPort) (Conn, error) {
	return f(ctx, addr)
}

type LDAPConnectionProtocol string

const (
	// Plain is unencrypted LDAP, which is only used when TLS is disabled for a backend.
	Plain    = LDAPConnectionProtocol("Plain")
	StartTLS = LDAPConnectionProtocol("StartTLS")
	TLS      = LDAPConnectionProtocol("TLS")
)

// Connector holds everything needed to open an authenticated connection to an LDAP server.
// It is read-only after construction and safe for concurrent use.
type Connector struct {
	// Addr is the validated host and port of the LDAP server.
	Addr endpointaddr.HostPort

	ConnectionProtocol LDAPConnectionProtocol

	// TLSConfig is used for TLS and StartTLS. It is cloned before use.
	TLSConfig *tls.Config

	// Bind authenticates a freshly dialed connection.
	Bind BindFunc

	// Dialer exists to enable testing. When nil, will use a default appropriate for production use.
	Dialer LDAPDialer
}

// Connect dials and binds. The returned Conn is closed when ctx is cancelled, and must be closed by the caller.
func (c *Connector) Connect(ctx context.Context) (Conn, func(), error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, nil, fetcherr.Wrapf(fetcherr.BackendUnavailable, err, "failed to connect to LDAP server %s", c.Addr.Endpoint())
	}

	// go-ldap has no context support, so abort in-flight operations by closing the connection
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	cleanup := func() {
		stop()
		_ = conn.Close()
	}

	if c.Bind != nil {
		if err := c.Bind(conn); err != nil {
			cleanup()
			return nil, nil, fetcherr.Wrap(fetcherr.BackendUnavailable, "failed to bind LDAP credentials", err)
		}
	}

	return conn, cleanup, nil
}

func (c *Connector) dial(ctx context.Context) (Conn, error) {
	// Override the real dialer for testing purposes sometimes.
	if c.Dialer != nil {
		return c.Dialer.Dial(ctx, c.Addr)
	}

	switch c.ConnectionProtocol {
	case TLS:
		return c.dialTLS(ctx, c.Addr)
	case StartTLS:
		return c.dialStartTLS(ctx, c.Addr)
	case Plain:
		return c.dialPlain(ctx, c.Addr)
	default:
		return nil, ldap.NewError(ldap.ErrorNetwork, fmt.Errorf("did not specify valid ConnectionProtocol %q", c.ConnectionProtocol))
	}
}

// dialTLS is the default implementation of the Dialer when ConnectionProtocol is TLS.
// Unfortunately, the go-ldap library does not seem to support dialing with a context.Context,
// so we implement it ourselves, heavily inspired by ldap.DialURL.
func (c *Connector) dialTLS(ctx context.Context, addr endpointaddr.HostPort) (Conn, error) {
	dialer := &tls.Dialer{NetDialer: netDialer(), Config: c.tlsConfig(addr)}
	conn, err := dialer.DialContext(ctx, "tcp", addr.Endpoint())
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	ldapConn := ldap.NewConn(conn, true)
	ldapConn.Start()
	return ldapConn, nil
}

// dialStartTLS is the default implementation of the Dialer when ConnectionProtocol is StartTLS.
func (c *Connector) dialStartTLS(ctx context.Context, addr endpointaddr.HostPort) (Conn, error) {
	conn, err := netDialer().DialContext(ctx, "tcp", addr.Endpoint())
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	ldapConn := ldap.NewConn(conn, false)
	ldapConn.Start()
	if err := ldapConn.StartTLS(c.tlsConfig(addr)); err != nil {
		_ = ldapConn.Close()
		return nil, err
	}
	return ldapConn, nil
}

func (c *Connector) dialPlain(ctx context.Context, addr endpointaddr.HostPort) (Conn, error) {
	conn, err := netDialer().DialContext(ctx, "tcp", addr.Endpoint())
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, err)
	}

	ldapConn := ldap.NewConn(conn, false)
	ldapConn.Start()
	return ldapConn, nil
}

func (c *Connector) tlsConfig(addr endpointaddr.HostPort) *tls.Config {
	var config *tls.Config
	if c.TLSConfig != nil {
		config = c.TLSConfig.Clone()
	} else {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if len(config.ServerName) == 0 {
		config.ServerName = addr.Host
	}
	return config
}

func netDialer() *net.Dialer {
	return &net.Dialer{Timeout: time.Minute}
}

// ProtocolFor picks the connection protocol and its default port. Without a TLS config the connection is
// plain, with one it is LDAPS unless startTLS asks for an upgraded plain connection.
func ProtocolFor(tlsConfig *tls.Config, startTLS bool) (LDAPConnectionProtocol, uint16) {
	switch {
	case tlsConfig == nil:
		return Plain, DefaultLDAPPort
	case startTLS:
		return StartTLS, DefaultLDAPPort
	default:
		return TLS, DefaultLDAPSPort
	}
}
