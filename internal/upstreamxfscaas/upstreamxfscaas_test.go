// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamxfscaas

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/net/phttp"
	"github.com/stackabletech/opa-operator-sub000/internal/testutil"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

func TestGetUserInfo(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		request      userinfo.Request
		wantCalls    int32
		wantUserInfo *userinfo.UserInfo
		wantError    string
		wantKind     fetcherr.Kind
	}{
		{
			name:      "claims are copied",
			body:      `{"sub":"user-1","email":"alice@example.org","email_verified":true,"roles":["admin"],"address":{"country":"DE"}}`,
			request:   userinfo.ByID("user-1"),
			wantCalls: 1,
			wantUserInfo: &userinfo.UserInfo{
				ID:     userinfo.Ptr("user-1"),
				Groups: []string{},
				CustomAttributes: map[string]any{
					"email":          "alice@example.org",
					"email_verified": true,
					"roles":          []any{"admin"},
					"address":        map[string]any{"country": "DE"},
				},
			},
		},
		{
			name:      "by name is not supported",
			request:   userinfo.ByName("alice"),
			wantError: "the XFSC AAS does not support querying by username, only by user ID",
			wantKind:  fetcherr.UserInfoByUsernameNotSupported,
		},
		{
			name:      "missing sub",
			body:      `{"email":"alice@example.org"}`,
			request:   userinfo.ByID("user-1"),
			wantCalls: 1,
			wantError: `claims for id "user-1" have no sub claim`,
			wantKind:  fetcherr.Internal,
		},
		{
			name:      "server error",
			status:    http.StatusInternalServerError,
			body:      `boom`,
			request:   userinfo.ByID("user-1"),
			wantCalls: 1,
			wantError: "request failed",
			wantKind:  fetcherr.BackendUpstream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := testutil.TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				require.Equal(t, "/cip/claims", r.URL.Path)
				require.Equal(t, "user-1", r.URL.Query().Get("sub"))
				require.Equal(t, "openid", r.URL.Query().Get("scope"))
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = fmt.Fprint(w, tt.body)
			}))

			got, err := New(ProviderConfig{BaseURL: server.URL, Client: phttp.Default(nil)}).GetUserInfo(context.Background(), tt.request)
			require.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantError != "" {
				require.Error(t, err)
				require.Equal(t, tt.wantKind, fetcherr.KindOf(err))
				message, _ := fetcherr.Causes(err)
				require.Equal(t, tt.wantError, message)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantUserInfo, got)
		})
	}
}
