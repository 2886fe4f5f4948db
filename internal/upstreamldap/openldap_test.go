// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamldap

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stackabletech/opa-operator-sub000/internal/credentials"
	"github.com/stackabletech/opa-operator-sub000/internal/endpointaddr"
	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/mocks/mockldapconn"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

const (
	testSearchBase       = "ou=users,dc=example,dc=org"
	testGroupsSearchBase = "ou=groups,dc=example,dc=org"
	testUserDN           = "uid=alice,ou=users,dc=example,dc=org"
	testUserUUID         = "5f3c2a2e-0d6b-4a8c-9a70-3d0c7f0f3f11"
)

func TestOpenLDAPGetUserInfo(t *testing.T) {
	providerConfig := func(editFunc func(p *ProviderConfig)) ProviderConfig {
		config := ProviderConfig{
			SearchBase:              testSearchBase,
			GroupsSearchBase:        testGroupsSearchBase,
			UserIDAttribute:         "entryUUID",
			UserNameAttribute:       "uid",
			GroupMemberAttribute:    "member",
			CustomAttributeMappings: map[string]string{"email": "mail", "photo": "jpegPhoto", "userDn": "dn"},
		}
		if editFunc != nil {
			editFunc(&config)
		}
		return config
	}

	userSearch := func(filter string) *ldap.SearchRequest {
		return SearchRequest(testSearchBase, filter, []string{"entryUUID", "uid", "mail", "jpegPhoto"})
	}
	groupSearch := func(filter string) *ldap.SearchRequest {
		return SearchRequest(testGroupsSearchBase, filter, []string{"cn"})
	}
	userEntry := ldap.NewEntry(testUserDN, map[string][]string{
		"entryUUID": {testUserUUID},
		"uid":       {"alice"},
		"mail":      {"alice@example.org"},
		"jpegPhoto": {"\xff\xd8"},
	})
	groupEntries := []*ldap.Entry{
		ldap.NewEntry("cn=admins,ou=groups,dc=example,dc=org", map[string][]string{"cn": {"admins"}}),
		ldap.NewEntry("cn=devs,ou=groups,dc=example,dc=org", map[string][]string{"cn": {"devs", "developers"}}),
	}
	wantAlice := &userinfo.UserInfo{
		ID:       userinfo.Ptr(testUserUUID),
		Username: userinfo.Ptr("alice"),
		Groups:   []string{"admins", "devs"},
		CustomAttributes: map[string]any{
			"email":  []any{"alice@example.org"},
			"userDn": []any{testUserDN},
		},
	}

	tests := []struct {
		name           string
		providerConfig ProviderConfig
		request        userinfo.Request
		searchMocks    func(conn *mockldapconn.MockConn)
		wantUserInfo   *userinfo.UserInfo
		wantError      string
		wantKind       fetcherr.Kind
	}{
		{
			name:           "by name with member DNs",
			providerConfig: providerConfig(nil),
			request:        userinfo.ByName("alice"),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(userSearch("(uid=alice)")).
					Return(&ldap.SearchResult{Entries: []*ldap.Entry{userEntry}}, nil).Times(1)
				conn.EXPECT().Search(groupSearch("(member=" + testUserDN + ")")).
					Return(&ldap.SearchResult{Entries: groupEntries}, nil).Times(1)
			},
			wantUserInfo: wantAlice,
		},
		{
			name:           "by id",
			providerConfig: providerConfig(nil),
			request:        userinfo.ByID(testUserUUID),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(userSearch("(entryUUID=" + testUserUUID + ")")).
					Return(&ldap.SearchResult{Entries: []*ldap.Entry{userEntry}}, nil).Times(1)
				conn.EXPECT().Search(groupSearch("(member=" + testUserDN + ")")).
					Return(&ldap.SearchResult{Entries: groupEntries}, nil).Times(1)
			},
			wantUserInfo: wantAlice,
		},
		{
			name: "posix groups list usernames",
			providerConfig: providerConfig(func(p *ProviderConfig) {
				p.GroupMemberAttribute = "memberUid"
				p.CustomAttributeMappings = nil
			}),
			request: userinfo.ByName("alice"),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(SearchRequest(testSearchBase, "(uid=alice)", []string{"entryUUID", "uid"})).
					Return(&ldap.SearchResult{Entries: []*ldap.Entry{userEntry}}, nil).Times(1)
				conn.EXPECT().Search(groupSearch("(memberUid=alice)")).
					Return(&ldap.SearchResult{}, nil).Times(1)
			},
			wantUserInfo: &userinfo.UserInfo{
				ID:               userinfo.Ptr(testUserUUID),
				Username:         userinfo.Ptr("alice"),
				Groups:           []string{},
				CustomAttributes: map[string]any{},
			},
		},
		{
			name:           "filter values are escaped",
			providerConfig: providerConfig(nil),
			request:        userinfo.ByName("al*ce)(uid=*"),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(userSearch(`(uid=al\2ace\29\28uid=\2a)`)).
					Return(&ldap.SearchResult{}, nil).Times(1)
			},
			wantError: `unable to find user username "al*ce)(uid=*"`,
			wantKind:  fetcherr.UserNotFound,
		},
		{
			name:           "user not found",
			providerConfig: providerConfig(nil),
			request:        userinfo.ByID("nope"),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(userSearch("(entryUUID=nope)")).
					Return(&ldap.SearchResult{}, nil).Times(1)
			},
			wantError: `unable to find user id "nope"`,
			wantKind:  fetcherr.UserNotFound,
		},
		{
			name:           "user search fails",
			providerConfig: providerConfig(nil),
			request:        userinfo.ByName("alice"),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(gomock.Any()).Return(nil, errors.New("size limit exceeded")).Times(1)
			},
			wantError: "failed to search LDAP for users: size limit exceeded",
			wantKind:  fetcherr.BackendUpstream,
		},
		{
			name:           "group search fails",
			providerConfig: providerConfig(nil),
			request:        userinfo.ByName("alice"),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(userSearch("(uid=alice)")).
					Return(&ldap.SearchResult{Entries: []*ldap.Entry{userEntry}}, nil).Times(1)
				conn.EXPECT().Search(gomock.Any()).Return(nil, errors.New("no such object")).Times(1)
			},
			wantError: "failed to search LDAP for groups of user: no such object",
			wantKind:  fetcherr.BackendUpstream,
		},
		{
			name: "posix groups without a username",
			providerConfig: providerConfig(func(p *ProviderConfig) {
				p.GroupMemberAttribute = "memberUid"
				p.UserNameAttribute = "cn"
				p.CustomAttributeMappings = nil
			}),
			request: userinfo.ByID(testUserUUID),
			searchMocks: func(conn *mockldapconn.MockConn) {
				conn.EXPECT().Search(gomock.Any()).
					Return(&ldap.SearchResult{Entries: []*ldap.Entry{userEntry}}, nil).Times(1)
			},
			wantError: `unable to get username attribute "cn" from LDAP user`,
			wantKind:  fetcherr.Internal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			t.Cleanup(ctrl.Finish)

			conn := mockldapconn.NewMockConn(ctrl)
			conn.EXPECT().Bind(testBindUsername, testBindPassword).Times(1)
			tt.searchMocks(conn)
			conn.EXPECT().Close().Times(1)

			config := tt.providerConfig
			config.Connector = &Connector{
				Addr: testAddr,
				Bind: SimpleBind(credentials.BindCredentials{Username: testBindUsername, Password: testBindPassword}),
				Dialer: LDAPDialerFunc(func(context.Context, endpointaddr.HostPort) (Conn, error) {
					return conn, nil
				}),
			}

			got, err := New(config).GetUserInfo(context.Background(), tt.request)
			if tt.wantError != "" {
				require.EqualError(t, err, tt.wantError)
				require.Equal(t, tt.wantKind, fetcherr.KindOf(err))
				require.Nil(t, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantUserInfo, got)
		})
	}
}
