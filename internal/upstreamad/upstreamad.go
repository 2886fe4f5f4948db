// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package upstreamad implements an Active Directory specific user lookup on top of the upstream LDAP plumbing.
package upstreamad

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/upstreamldap"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

const (
	objectGUIDAttributeName          = "objectGUID"
	objectSIDAttributeName           = "objectSid"
	userPrincipalNameAttributeName   = "userPrincipalName"
	primaryGroupIDAttributeName      = "primaryGroupID"
	memberOfAttributeName            = "memberOf"
	distinguishedNameFilterAttribute = "distinguishedName"

	// makes member filters match nested group membership, see
	// https://learn.microsoft.com/en-us/windows/win32/adsi/search-filter-syntax#operators
	matchingRuleInChain = ":1.2.840.113556.1.4.1941:"
)

// ProviderConfig contains the settings for looking users up in Active Directory.
type ProviderConfig struct {
	Connector *upstreamldap.Connector

	// BaseDN is the base of both the user and the group search.
	BaseDN string

	CustomAttributeMappings map[string]string

	// AdditionalGroupAttributeFilters restricts returned groups to those whose attributes match every entry.
	AdditionalGroupAttributeFilters map[string]string
}

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
	log := plog.WithName("activedirectory")

	userFilter, err := userSearchFilter(req)
	if err != nil {
		return nil, err
	}

	conn, closeConn, err := p.c.Connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeConn()

	attributes := append([]string{
		objectSIDAttributeName,
		objectGUIDAttributeName,
		userPrincipalNameAttributeName,
		primaryGroupIDAttributeName,
		memberOfAttributeName,
	}, upstreamldap.MappedAttributeNames(p.c.CustomAttributeMappings)...)

	filter := fmt.Sprintf("(&(objectClass=user)%s)", userFilter)
	log.Debug("requesting user from Active Directory", "filter", filter, "attributes", attributes)

	result, err := conn.Search(upstreamldap.SearchRequest(p.c.BaseDN, filter, attributes))
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "failed to search LDAP for users", err)
	}
	if len(result.Entries) == 0 {
		return nil, fetcherr.Newf(fetcherr.UserNotFound, "unable to find user %s", req)
	}
	user := result.Entries[0]
	log = log.WithValues("dn", user.DN)

	var id *uuid.UUID
	if raw := user.GetRawAttributeValue(objectGUIDAttributeName); len(raw) > 0 {
		parsed, err := guidFromBytes(raw)
		if err != nil {
			return nil, fetcherr.Wrap(fetcherr.Internal, "invalid user ID sent by LDAP", err)
		}
		id = &parsed
	}

	var sid *SecurityID
	if raw := user.GetRawAttributeValue(objectSIDAttributeName); len(raw) > 0 {
		parsed, err := ParseSecurityID(raw)
		if err != nil {
			return nil, fetcherr.Wrapf(fetcherr.Internal, err, "failed to parse user %q's SID", user.DN)
		}
		sid = &parsed
	}

	groups, err := p.groups(conn, log, user, sid)
	if err != nil {
		return nil, err
	}

	info := &userinfo.UserInfo{
		Groups: groups,
		CustomAttributes: upstreamldap.CustomAttributes(log, user, p.c.CustomAttributeMappings, func(attribute string) ([]string, bool) {
			switch attribute {
			case objectGUIDAttributeName:
				if id == nil {
					return nil, true
				}
				return []string{id.String()}, true
			case objectSIDAttributeName:
				if sid == nil {
					return nil, true
				}
				return []string{sid.String()}, true
			default:
				return nil, false
			}
		}),
	}
	if id != nil {
		info.ID = userinfo.Ptr(id.String())
	}
	if username, ok := upstreamldap.FirstTextValue(user, userPrincipalNameAttributeName); ok {
		info.Username = &username
	}
	return info, nil
}

func userSearchFilter(req userinfo.Request) (string, error) {
	switch req.Kind {
	case userinfo.KindByID:
		id, err := uuid.Parse(req.Value)
		if err != nil {
			return "", fetcherr.Wrap(fetcherr.ParseIdByClient, "invalid user ID sent by client", err)
		}
		return fmt.Sprintf("(%s=%s)", objectGUIDAttributeName, upstreamldap.EscapeFilterBytes(guidToBytes(id))), nil
	case userinfo.KindByName:
		return fmt.Sprintf("(%s=%s)", userPrincipalNameAttributeName, ldap.EscapeFilter(req.Value)), nil
	default:
		return "", fetcherr.New(fetcherr.ParseRequest, "request must be by id or by name")
	}
}

// groups returns the DNs of the user's primary, secondary and nested groups.
func (p *Provider) groups(conn upstreamldap.Conn, log plog.Logger, user *ldap.Entry, sid *SecurityID) ([]string, error) {
	if sid == nil {
		return p.memberOfGroups(conn, log, user)
	}

	// secondary groups list the user as a member, the in-chain rule makes that recursive
	memberFilters := []string{memberInChainFilter(*sid)}

	// the primary group is only known by its RID relative to the user's domain, and does not list the user as a member
	if rid := user.GetAttributeValue(primaryGroupIDAttributeName); len(rid) > 0 {
		parsed, err := strconv.ParseUint(rid, 10, 32)
		if err != nil {
			return nil, fetcherr.Wrapf(fetcherr.Internal, err, "unable to parse user %q's primary group's RID", user.DN)
		}
		primary, ok := sid.WithRelativeID(uint32(parsed))
		if !ok {
			return nil, fetcherr.Newf(fetcherr.Internal, "user %q's SID has no subauthorities", user.DN)
		}
		memberFilters = append([]string{
			fmt.Sprintf("(%s=%s)", objectSIDAttributeName, primary),
			memberInChainFilter(primary),
		}, memberFilters...)
	} else {
		log.Debug("user has no primary group")
	}

	return p.searchGroups(conn, log, strings.Join(memberFilters, ""))
}

// memberOfGroups reads the user's direct group memberships when the SID is not available.
func (p *Provider) memberOfGroups(conn upstreamldap.Conn, log plog.Logger, user *ldap.Entry) ([]string, error) {
	memberOf := user.GetAttributeValues(memberOfAttributeName)
	log.Debug("user has no SID, falling back to memberOf", "count", len(memberOf))

	if len(memberOf) == 0 {
		return []string{}, nil
	}
	if len(p.c.AdditionalGroupAttributeFilters) == 0 {
		return memberOf, nil
	}

	dnFilters := make([]string, 0, len(memberOf))
	for _, dn := range memberOf {
		dnFilters = append(dnFilters, fmt.Sprintf("(%s=%s)", distinguishedNameFilterAttribute, ldap.EscapeFilter(dn)))
	}
	return p.searchGroups(conn, log, strings.Join(dnFilters, ""))
}

func (p *Provider) searchGroups(conn upstreamldap.Conn, log plog.Logger, alternatives string) ([]string, error) {
	filter := fmt.Sprintf("(&(objectClass=group)(|%s)%s)", alternatives, p.extraGroupFilters())
	log.Debug("searching for user's groups", "filter", filter)

	result, err := conn.Search(upstreamldap.SearchRequest(p.c.BaseDN, filter, []string{upstreamldap.DistinguishedNameAttributeName}))
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "failed to search LDAP for groups of user", err)
	}

	groups := make([]string, 0, len(result.Entries))
	for _, group := range result.Entries {
		groups = append(groups, group.DN)
	}
	return groups, nil
}

func (p *Provider) extraGroupFilters() string {
	keys := make([]string, 0, len(p.c.AdditionalGroupAttributeFilters))
	for k := range p.c.AdditionalGroupAttributeFilters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "(%s=%s)", k, p.c.AdditionalGroupAttributeFilters[k])
	}
	return b.String()
}

func memberInChainFilter(sid SecurityID) string {
	return fmt.Sprintf("(member%s=<SID=%s>)", matchingRuleInChain, sid)
}
