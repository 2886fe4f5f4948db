// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamldap

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

const (
	memberUIDAttributeName = "memberUid"
	groupNameAttributeName = "cn"
)

// ProviderConfig includes all the settings for connecting to an OpenLDAP server and searching for users and groups.
type ProviderConfig struct {
	Connector *Connector

	// SearchBase is the base DN of the user search.
	SearchBase string

	// GroupsSearchBase is the base DN of the group search.
	GroupsSearchBase string

	// UserIDAttribute holds the value matched against ById requests and returned as the id.
	UserIDAttribute string

	// UserNameAttribute holds the value matched against ByName requests and returned as the username.
	UserNameAttribute string

	// GroupMemberAttribute is the group attribute that lists members. "memberUid" lists usernames, anything
	// else is expected to list user DNs.
	GroupMemberAttribute string

	CustomAttributeMappings map[string]string
}

// Provider looks users up in OpenLDAP.
type Provider struct {
	c ProviderConfig
}

var _ userinfo.Backend = &Provider{}

// New creates a Provider. The config is not a pointer to ensure that a copy of the config is created,
// making the resulting Provider use an effectively read-only configuration.
func New(config ProviderConfig) *Provider {
	return &Provider{c: config}
}

func (p *Provider) GetUserInfo(ctx context.Context, req userinfo.Request) (*userinfo.UserInfo, error) {
	log := plog.WithName("openldap")

	conn, closeConn, err := p.c.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeConn()

	var filter string
	switch req.Kind {
	case userinfo.KindByID:
		filter = fmt.Sprintf("(%s=%s)", ldap.EscapeFilter(p.c.UserIDAttribute), ldap.EscapeFilter(req.Value))
	case userinfo.KindByName:
		filter = fmt.Sprintf("(%s=%s)", ldap.EscapeFilter(p.c.UserNameAttribute), ldap.EscapeFilter(req.Value))
	default:
		return nil, fetcherr.New(fetcherr.ParseRequest, "request must be by id or by name")
	}

	attributes := append([]string{p.c.UserIDAttribute, p.c.UserNameAttribute}, MappedAttributeNames(p.c.CustomAttributeMappings)...)
	log.Debug("requesting user from LDAP", "filter", filter, "attributes", attributes)

	result, err := conn.Search(SearchRequest(p.c.SearchBase, filter, attributes))
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "failed to search LDAP for users", err)
	}
	if len(result.Entries) == 0 {
		return nil, fetcherr.Newf(fetcherr.UserNotFound, "unable to find user %s", req)
	}
	user := result.Entries[0]
	log.All("got user from LDAP", "dn", user.DN)

	groups, err := p.searchGroups(conn, log, user)
	if err != nil {
		return nil, err
	}

	info := &userinfo.UserInfo{
		Groups:           groups,
		CustomAttributes: CustomAttributes(log, user, p.c.CustomAttributeMappings, nil),
	}
	if id, ok := FirstTextValue(user, p.c.UserIDAttribute); ok {
		info.ID = &id
	}
	if username, ok := FirstTextValue(user, p.c.UserNameAttribute); ok {
		info.Username = &username
	}
	return info, nil
}

func (p *Provider) searchGroups(conn Conn, log plog.Logger, user *ldap.Entry) ([]string, error) {
	// groupOfNames lists member DNs while posixGroup lists member usernames
	member := user.DN
	if p.c.GroupMemberAttribute == memberUIDAttributeName {
		username, ok := FirstTextValue(user, p.c.UserNameAttribute)
		if !ok {
			return nil, fetcherr.Newf(fetcherr.Internal, "unable to get username attribute %q from LDAP user", p.c.UserNameAttribute)
		}
		member = username
	}

	filter := fmt.Sprintf("(%s=%s)", ldap.EscapeFilter(p.c.GroupMemberAttribute), ldap.EscapeFilter(member))
	log.Debug("searching for user's groups", "filter", filter, "base", p.c.GroupsSearchBase)

	result, err := conn.Search(SearchRequest(p.c.GroupsSearchBase, filter, []string{groupNameAttributeName}))
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "failed to search LDAP for groups of user", err)
	}

	groups := make([]string, 0, len(result.Entries))
	for _, group := range result.Entries {
		if name, ok := FirstTextValue(group, groupNameAttributeName); ok {
			groups = append(groups, name)
		}
	}
	log.Debug("found user groups", "groups", groups)
	return groups, nil
}
