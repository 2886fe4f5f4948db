// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TLSTestServer starts a test server listening on a local port using a test CA. It returns the server,
// whose URL and Listener address can be used to build backend configs, and the PEM CA bundle.
// The lifetime of the server is bound to the provided *testing.T.
func TLSTestServer(t *testing.T, handler http.Handler) (*httptest.Server, string) {
	t.Helper()

	server := httptest.NewTLSServer(handler)
	t.Cleanup(server.Close)

	caBundle := string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: server.TLS.Certificates[0].Certificate[0],
	}))
	return server, caBundle
}

// TestServer starts a plaintext test server bound to the provided *testing.T.
func TestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}
