// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package roundtripper provides helpers for composing http.RoundTripper middleware.
package roundtripper

import (
	"net/http"

	utilnet "k8s.io/apimachinery/pkg/util/net"
)

var _ http.RoundTripper = Func(nil)

type Func func(*http.Request) (*http.Response, error)

func (f Func) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

var _ utilnet.RoundTripperWrapper = &wrapper{}

type wrapper struct {
	delegate http.RoundTripper
	f        Func
}

func (w *wrapper) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.f(req)
}

func (w *wrapper) WrappedRoundTripper() http.RoundTripper {
	return w.delegate
}

// WrapFunc returns f as a round tripper that reports delegate as its wrapped round tripper,
// which lets helpers such as utilnet.CloseIdleConnectionsFor reach the underlying transport.
func WrapFunc(delegate http.RoundTripper, f Func) http.RoundTripper {
	return &wrapper{delegate: delegate, f: f}
}
