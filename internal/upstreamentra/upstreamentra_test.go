// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamentra

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stackabletech/opa-operator-sub000/internal/credentials"
	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/net/phttp"
	"github.com/stackabletech/opa-operator-sub000/internal/testutil"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

const testTenant = "b4b5a1c4-6f1e-4a3e-9d4c-0a1b2c3d4e5f"

func TestGetUserInfo(t *testing.T) {
	tests := []struct {
		name         string
		routes       map[string]string // path -> body, "404" as body means not found
		tokenFails   bool
		request      userinfo.Request
		wantUserInfo *userinfo.UserInfo
		wantError    string
		wantKind     fetcherr.Kind
	}{
		{
			name: "by id",
			routes: map[string]string{
				"/v1.0/users/U":          `{"id":"U","userPrincipalName":"u@t","dept":"x","mobilePhone":null}`,
				"/v1.0/users/U/memberOf": `{"value":[{"displayName":"G1"},{"displayName":null},{"id":"no-name"},{"displayName":"G2"}]}`,
			},
			request: userinfo.ByID("U"),
			wantUserInfo: &userinfo.UserInfo{
				ID:               userinfo.Ptr("U"),
				Username:         userinfo.Ptr("u@t"),
				Groups:           []string{"G1", "G2"},
				CustomAttributes: map[string]any{"dept": "x"},
			},
		},
		{
			name: "by name follows group pages",
			routes: map[string]string{
				"/v1.0/users/u@t":        `{"id":"U","userPrincipalName":"u@t","jobTitle":"engineer","businessPhones":["+49 1"],"accountEnabled":true}`,
				"/v1.0/users/U/memberOf": `{"value":[{"displayName":"G1"}],"@odata.nextLink":"SERVER/page2"}`,
				"/page2":                 `{"value":[{"displayName":"G2"}]}`,
			},
			request: userinfo.ByName("u@t"),
			wantUserInfo: &userinfo.UserInfo{
				ID:       userinfo.Ptr("U"),
				Username: userinfo.Ptr("u@t"),
				Groups:   []string{"G1", "G2"},
				CustomAttributes: map[string]any{
					"jobTitle":       "engineer",
					"businessPhones": []any{"+49 1"},
					"accountEnabled": true,
				},
			},
		},
		{
			name:      "user not found by id",
			routes:    map[string]string{"/v1.0/users/nope": "404"},
			request:   userinfo.ByID("nope"),
			wantError: `unable to find user with id "nope"`,
			wantKind:  fetcherr.UserNotFound,
		},
		{
			name:      "user not found by name",
			routes:    map[string]string{"/v1.0/users/nope@t": "404"},
			request:   userinfo.ByName("nope@t"),
			wantError: `unable to find user with username "nope@t"`,
			wantKind:  fetcherr.UserNotFound,
		},
		{
			name:       "token request fails",
			tokenFails: true,
			request:    userinfo.ByID("U"),
			wantError:  "failed to get access_token",
			wantKind:   fetcherr.BackendUpstream,
		},
		{
			name:      "user without id",
			routes:    map[string]string{"/v1.0/users/U": `{"userPrincipalName":"u@t"}`},
			request:   userinfo.ByID("U"),
			wantError: `user response for id "U" has no id`,
			wantKind:  fetcherr.Internal,
		},
		{
			name:      "groups request fails",
			routes:    map[string]string{"/v1.0/users/U": `{"id":"U"}`},
			request:   userinfo.ByID("U"),
			wantError: `failed to request groups for user with id "U"`,
			wantKind:  fetcherr.BackendUpstream,
		},
		{
			name: "group page link on another host",
			routes: map[string]string{
				"/v1.0/users/U":          `{"id":"U"}`,
				"/v1.0/users/U/memberOf": `{"value":[{"displayName":"G1"}],"@odata.nextLink":"https://graph.example.com/v1.0/users/U/memberOf"}`,
			},
			request:   userinfo.ByID("U"),
			wantError: `refusing to follow group page link "https://graph.example.com/v1.0/users/U/memberOf" outside of SERVER`,
			wantKind:  fetcherr.BackendUpstream,
		},
		{
			name: "endless group pages",
			routes: map[string]string{
				"/v1.0/users/U":          `{"id":"U"}`,
				"/v1.0/users/U/memberOf": `{"value":[],"@odata.nextLink":"SERVER/v1.0/users/U/memberOf"}`,
			},
			request:   userinfo.ByID("U"),
			wantError: `user with id "U" is a member of more than 100 pages of groups`,
			wantKind:  fetcherr.BackendUpstream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := testutil.TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/"+testTenant+"/oauth2/v2.0/token" {
					require.NoError(t, r.ParseForm())
					require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
					require.Equal(t, GraphScope, r.PostForm.Get("scope"))
					require.Equal(t, "opa", r.PostForm.Get("client_id"))
					require.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
					if tt.tokenFails {
						w.WriteHeader(http.StatusBadRequest)
						_, _ = fmt.Fprint(w, `{"error":"invalid_client"}`)
						return
					}
					w.Header().Set("Content-Type", "application/json")
					_, _ = fmt.Fprint(w, `{"access_token":"T","token_type":"Bearer","expires_in":3599}`)
					return
				}

				require.Equal(t, "Bearer T", r.Header.Get("Authorization"))
				body, ok := tt.routes[r.URL.Path]
				if !ok || body == "404" {
					w.WriteHeader(http.StatusNotFound)
					_, _ = fmt.Fprint(w, `{"error":{"code":"Request_ResourceNotFound"}}`)
					return
				}
				_, _ = fmt.Fprint(w, strings.ReplaceAll(body, "SERVER", "http://"+r.Host))
			}))

			p := New(ProviderConfig{
				TokenURL:    TokenURL("http", server.Listener.Addr().String(), testTenant),
				GraphURL:    server.URL + "/",
				Credentials: credentials.ClientCredentials{ClientID: "opa", ClientSecret: "s3cret"},
				Client:      phttp.Default(nil),
			})

			got, err := p.GetUserInfo(context.Background(), tt.request)
			if tt.wantError != "" {
				require.Error(t, err)
				require.Equal(t, tt.wantKind, fetcherr.KindOf(err))
				message, _ := fetcherr.Causes(err)
				require.Equal(t, strings.ReplaceAll(tt.wantError, "SERVER", server.URL), message)
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantUserInfo, got)
		})
	}
}

func TestGroupPagesOnOtherHostsNeverSeeTheToken(t *testing.T) {
	var foreignAuthorization atomic.Value
	foreign := testutil.TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignAuthorization.Store(r.Header.Get("Authorization"))
		_, _ = fmt.Fprint(w, `{"value":[{"displayName":"stolen"}]}`)
	}))

	graph := testutil.TestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/" + testTenant + "/oauth2/v2.0/token":
			_, _ = fmt.Fprint(w, `{"access_token":"SECRET-TOKEN","token_type":"Bearer","expires_in":3599}`)
		case "/v1.0/users/U":
			_, _ = fmt.Fprint(w, `{"id":"U"}`)
		case "/v1.0/users/U/memberOf":
			_, _ = fmt.Fprintf(w, `{"value":[],"@odata.nextLink":%q}`, foreign.URL+"/steal")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	p := New(ProviderConfig{
		TokenURL:    TokenURL("http", graph.Listener.Addr().String(), testTenant),
		GraphURL:    graph.URL,
		Credentials: credentials.ClientCredentials{ClientID: "opa", ClientSecret: "s3cret"},
		Client:      phttp.Default(nil),
	})

	_, err := p.GetUserInfo(context.Background(), userinfo.ByID("U"))
	require.Error(t, err)
	require.Equal(t, fetcherr.BackendUpstream, fetcherr.KindOf(err))
	require.Nil(t, foreignAuthorization.Load())
}

func TestIsGraphURL(t *testing.T) {
	tests := []struct {
		name     string
		graphURL string
		link     string
		want     bool
	}{
		{name: "same origin", graphURL: "https://graph.microsoft.com", link: "https://graph.microsoft.com/v1.0/users/U/memberOf?$skiptoken=x", want: true},
		{name: "explicit default port", graphURL: "https://graph.microsoft.com:443", link: "https://graph.microsoft.com/v1.0/next", want: true},
		{name: "host case", graphURL: "https://Graph.Microsoft.com", link: "https://graph.microsoft.com/v1.0/next", want: true},
		{name: "other host", graphURL: "https://graph.microsoft.com", link: "https://graph.example.com/v1.0/next"},
		{name: "other port", graphURL: "https://graph.microsoft.com", link: "https://graph.microsoft.com:8443/v1.0/next"},
		{name: "downgraded scheme", graphURL: "https://graph.microsoft.com", link: "http://graph.microsoft.com/v1.0/next"},
		{name: "relative link", graphURL: "https://graph.microsoft.com", link: "/v1.0/next"},
		{name: "unparsable link", graphURL: "https://graph.microsoft.com", link: "https://graph.microsoft.com/%zz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(ProviderConfig{GraphURL: tt.graphURL, Client: phttp.Default(nil)})
			require.Equal(t, tt.want, p.isGraphURL(tt.link))
		})
	}
}
