// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package roundtripper

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	utilnet "k8s.io/apimachinery/pkg/util/net"
)

func TestWrapFunc(t *testing.T) {
	base := &http.Transport{}
	var called bool

	rt := WrapFunc(base, func(req *http.Request) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: http.StatusTeapot}, nil
	})

	resp, err := rt.RoundTrip(&http.Request{}) //nolint:bodyclose // no body
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, http.StatusTeapot, resp.StatusCode)

	wrapper, ok := rt.(utilnet.RoundTripperWrapper)
	require.True(t, ok)
	require.Same(t, base, wrapper.WrappedRoundTripper())
}
