// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package phttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/pversion"
	"github.com/stackabletech/opa-operator-sub000/internal/testutil"
	"github.com/stackabletech/opa-operator-sub000/internal/tlsconfig"
)

type user struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func TestSendJSON(t *testing.T) {
	server := testutil.TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pversion.UserAgent(), r.Header.Get("User-Agent"))
		require.Equal(t, "application/json", r.Header.Get("Accept"))

		switch r.URL.Path {
		case "/ok":
			_, _ = fmt.Fprint(w, `{"id":"u1","username":"alice"}`)
		case "/bad-json":
			_, _ = fmt.Fprint(w, `{"id":`)
		case "/big-error":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, strings.Repeat("x", 10_000))
		default:
			http.NotFound(w, r)
		}
	}))

	client := Default(nil)

	newReq := func(path string) *http.Request {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+path+"?username=alice", nil)
		require.NoError(t, err)
		return req
	}

	got, err := SendJSON[user](client, newReq("/ok"))
	require.NoError(t, err)
	require.Equal(t, user{ID: "u1", Username: "alice"}, got)

	_, err = SendJSON[user](client, newReq("/missing"))
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	require.Equal(t, http.StatusNotFound, respErr.StatusCode)
	require.Equal(t, server.URL+"/missing", respErr.URL)
	require.Equal(t, "404 page not found\n", respErr.Body)

	_, err = SendJSON[user](client, newReq("/big-error"))
	require.True(t, errors.As(err, &respErr))
	require.Equal(t, http.StatusInternalServerError, respErr.StatusCode)
	require.Len(t, respErr.Body, 4096)

	_, err = SendJSON[user](client, newReq("/bad-json"))
	var parseErr *ParseJSONError
	require.True(t, errors.As(err, &parseErr))
	require.EqualError(t, err, "failed to parse JSON response from "+server.URL+"/bad-json: unexpected end of JSON input")
}

func TestSendNetworkError(t *testing.T) {
	server := testutil.TestServer(t, http.NotFoundHandler())
	url := server.URL
	server.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)

	_, err = Send(Default(nil), req)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	require.Equal(t, url, netErr.URL)
}

func TestDefaultTLS(t *testing.T) {
	server, caBundle := testutil.TLSTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"id":"u1"}`)
	}))

	req := func() *http.Request {
		r, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)
		return r
	}

	// system roots do not trust the test CA
	_, err := Send(Default(nil), req())
	require.Error(t, err)

	tlsConfig, err := tlsconfig.ForHTTP(tlsconfig.Spec{UseTLS: true, Verify: true, CABundlePath: testutil.WriteTempFile(t, "ca.crt", caBundle)})
	require.NoError(t, err)

	got, err := SendJSON[user](Default(tlsConfig), req())
	require.NoError(t, err)
	require.Equal(t, "u1", got.ID)

	client := Default(nil)
	require.Equal(t, 2*time.Minute, client.Timeout)
}

func TestTraceLogging(t *testing.T) {
	var log bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctx = plog.AddZapOverridesToContext(ctx, t, &log, nil, clocktesting.NewFakeClock(time.Now()))
	require.NoError(t, plog.ValidateAndSetLogLevelAndFormatGlobally(ctx, plog.LogSpec{Level: plog.LevelTrace}))
	t.Cleanup(func() {
		require.NoError(t, plog.ValidateAndSetLogLevelAndFormatGlobally(context.Background(), plog.LogSpec{}))
	})

	server := testutil.TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{}`)
	}))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL+"/users?username=alice", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer top-secret")

	_, err = SendJSON[map[string]any](Default(nil), req)
	require.NoError(t, err)

	out := log.String()
	require.Contains(t, out, `"logger":"http"`)
	require.Contains(t, out, `"message":"backend request"`)
	require.Contains(t, out, "username=redacted")
	require.NotContains(t, out, "alice")
	require.NotContains(t, out, "top-secret")
}

func TestClientCredentialsAndGetJSON(t *testing.T) {
	var tokenCalls int
	server := testutil.TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			tokenCalls++
			id, secret, ok := r.BasicAuth()
			require.True(t, ok)
			require.Equal(t, "opa", id)
			require.Equal(t, "s3cret", secret)
			require.NoError(t, r.ParseForm())
			require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = fmt.Fprint(w, `{"access_token":"T","token_type":"Bearer","expires_in":3600}`)
		case "/user":
			require.Equal(t, "Bearer T", r.Header.Get("Authorization"))
			_, _ = fmt.Fprint(w, `{"id":"u1","username":"alice"}`)
		default:
			http.NotFound(w, r)
		}
	}))

	client := Default(nil)
	ts := ClientCredentials(client, &clientcredentials.Config{
		ClientID:     "opa",
		ClientSecret: "s3cret",
		TokenURL:     server.URL + "/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	})

	for range 3 {
		token, err := ts.Token()
		require.NoError(t, err)

		got, err := GetJSON[user](context.Background(), client, token, server.URL+"/user")
		require.NoError(t, err)
		require.Equal(t, user{ID: "u1", Username: "alice"}, got)
	}
	require.Equal(t, 1, tokenCalls, "token must be reused until it expires")
}
