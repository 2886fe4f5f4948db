// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package phttp builds the HTTP clients used to talk to HTTP based backends.
package phttp

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	utilnet "k8s.io/apimachinery/pkg/util/net"

	"github.com/stackabletech/opa-operator-sub000/internal/httputil/roundtripper"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/pversion"
)

// Default returns a pooled client that uses tlsConfig for https URLs. A nil tlsConfig is only
// suitable for plaintext backends.
func Default(tlsConfig *tls.Config) *http.Client {
	baseRT := defaultTransport()
	baseRT.TLSClientConfig = tlsConfig

	return &http.Client{
		Transport: defaultWrap(baseRT),
		Timeout:   2 * time.Minute, // make it impossible for requests to hang indefinitely
	}
}

func defaultTransport() *http.Transport {
	baseRT := http.DefaultTransport.(*http.Transport).Clone()
	baseRT.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext
	baseRT = utilnet.SetTransportDefaults(baseRT)
	baseRT.TLSHandshakeTimeout = 10 * time.Second
	baseRT.ResponseHeaderTimeout = time.Minute
	baseRT.MaxIdleConnsPerHost = 25
	return baseRT
}

func defaultWrap(rt http.RoundTripper) http.RoundTripper {
	rt = traceRequests(rt, plog.WithName("http"), func() bool { return plog.Enabled(plog.LevelTrace) })
	rt = userAgentWrapper(rt, pversion.UserAgent())
	return rt
}

func userAgentWrapper(rt http.RoundTripper, agent string) http.RoundTripper {
	return roundtripper.WrapFunc(rt, func(req *http.Request) (*http.Response, error) {
		if len(req.Header.Get("User-Agent")) != 0 {
			return rt.RoundTrip(req)
		}
		req = utilnet.CloneRequest(req)
		req.Header.Set("User-Agent", agent)
		return rt.RoundTrip(req)
	})
}
