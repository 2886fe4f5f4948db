// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package tlsconfig turns a declarative backend TLS setting into a *tls.Config for HTTP or LDAP clients.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/stackabletech/opa-operator-sub000/internal/crypto/ptls"
	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
)

// Spec is the resolved TLS setting of a backend.
type Spec struct {
	UseTLS bool
	// Verify controls server certificate verification. When false, any certificate is accepted.
	Verify bool
	// CABundlePath is a PEM file holding the only CAs trusted for this backend, unless UseSystemRoots is also set.
	CABundlePath   string
	UseSystemRoots bool
}

// ForHTTP returns the client TLS config for HTTP backends, or nil when TLS is disabled.
func ForHTTP(spec Spec) (*tls.Config, error) {
	return build(spec, ptls.Default)
}

// ForLDAP returns the client TLS config for LDAP backends, or nil when TLS is disabled.
func ForLDAP(spec Spec) (*tls.Config, error) {
	return build(spec, ptls.DefaultLDAP)
}

func build(spec Spec, profile ptls.ConfigFunc) (*tls.Config, error) {
	if !spec.UseTLS {
		return nil, nil //nolint:nilnil // nil means plaintext
	}

	if !spec.Verify {
		plog.Warning("TLS server certificate verification is disabled, connections are not protected against interception",
			"caBundlePath", spec.CABundlePath)
		c := profile(nil)
		c.InsecureSkipVerify = true //nolint:gosec // explicitly requested by the operator
		return c, nil
	}

	if len(spec.CABundlePath) == 0 {
		return profile(nil), nil // nil pool means the host's root CA set
	}

	pool, err := rootPool(spec.UseSystemRoots)
	if err != nil {
		return nil, err
	}

	if err := addBundle(pool, spec.CABundlePath); err != nil {
		return nil, err
	}

	return profile(pool), nil
}

func rootPool(useSystemRoots bool) (*x509.CertPool, error) {
	if !useSystemRoots {
		return x509.NewCertPool(), nil
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUnavailable, "failed to build TLS connector: unable to load system roots", err)
	}
	return pool, nil
}

func addBundle(pool *x509.CertPool, path string) error {
	bundle, err := os.ReadFile(path)
	if err != nil {
		return fetcherr.Wrapf(fetcherr.BackendUnavailable, err, "failed to read CA bundle %q", path)
	}

	certs := 0
	for rest := bundle; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fetcherr.Wrapf(fetcherr.BackendUnavailable, err, "failed to parse certificate %d of CA bundle %q", certs+1, path)
		}
		pool.AddCert(cert)
		certs++
	}

	if certs == 0 {
		return fetcherr.Newf(fetcherr.BackendUnavailable, "failed to parse CA bundle %q: no PEM encoded certificates found", path)
	}
	return nil
}
