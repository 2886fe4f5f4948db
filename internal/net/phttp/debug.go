// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package phttp

import (
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/stackabletech/opa-operator-sub000/internal/httputil/roundtripper"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
)

const redacted = "redacted"

// traceRequests logs every backend request that is made while enabled returns true. Header and query
// values can hold tokens or client secrets, so only their names are logged.
func traceRequests(rt http.RoundTripper, log plog.Logger, enabled func() bool) http.RoundTripper {
	return roundtripper.WrapFunc(rt, func(req *http.Request) (*http.Response, error) {
		if !enabled() {
			return rt.RoundTrip(req)
		}

		start := time.Now()
		resp, err := rt.RoundTrip(req)

		fields := []any{
			"method", req.Method,
			"url", redactURL(req.URL),
			"requestHeaders", headerNames(req.Header),
			"duration", time.Since(start),
		}
		if err != nil {
			log.TraceErr("backend request failed", err, fields...)
			return resp, err
		}
		log.Trace("backend request", append(fields, "status", resp.StatusCode, "responseHeaders", headerNames(resp.Header))...)
		return resp, err
	})
}

// redactURL keeps the scheme, host, path and query keys of u.
func redactURL(u *url.URL) string {
	out := url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   u.Path,
	}
	if u.User != nil {
		out.User = url.User(redacted)
	}
	if len(u.Opaque) > 0 {
		out.Opaque = redacted
	}
	if query := u.Query(); len(query) > 0 {
		masked := make(url.Values, len(query))
		for key := range query {
			masked.Set(key, redacted)
		}
		out.RawQuery = masked.Encode()
	}
	return out.String()
}

func headerNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
