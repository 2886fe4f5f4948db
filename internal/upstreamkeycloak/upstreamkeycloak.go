// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package upstreamkeycloak looks users up with the Keycloak admin REST API.
package upstreamkeycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stackabletech/opa-operator-sub000/internal/credentials"
	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/net/phttp"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

// ProviderConfig holds the resolved Keycloak settings.
type ProviderConfig struct {
	// RootURL is the Keycloak root without a trailing slash, e.g. https://keycloak.example.com:8443/auth.
	RootURL string

	AdminRealm string
	UserRealm  string

	Credentials credentials.ClientCredentials

	// Client is used for token and admin API requests.
	Client *http.Client
}

type Provider struct {
	c           ProviderConfig
	tokenSource oauth2.TokenSource
}

var _ userinfo.Backend = &Provider{}

// New creates a Provider with a token source that is shared by all lookups.
func New(config ProviderConfig) *Provider {
	config.RootURL = strings.TrimSuffix(config.RootURL, "/")
	return &Provider{
		c: config,
		tokenSource: phttp.ClientCredentials(config.Client, &clientcredentials.Config{
			ClientID:     config.Credentials.ClientID,
			ClientSecret: config.Credentials.ClientSecret,
			TokenURL:     fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", config.RootURL, url.PathEscape(config.AdminRealm)),
			AuthStyle:    oauth2.AuthStyleInHeader,
		}),
	}
}

// user is the subset of the Keycloak UserRepresentation that is used.
type user struct {
	ID         string         `json:"id"`
	Username   string         `json:"username"`
	Attributes map[string]any `json:"attributes"`
}

type group struct {
	Path string `json:"path"`
}

func (p *Provider) GetUserInfo(ctx context.Context, req userinfo.Request) (*userinfo.UserInfo, error) {
	log := plog.WithName("keycloak")

	token, err := p.tokenSource.Token()
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "unable to log in (expired credentials?)", err)
	}

	usersURL := fmt.Sprintf("%s/admin/realms/%s/users", p.c.RootURL, url.PathEscape(p.c.UserRealm))

	var u user
	switch req.Kind {
	case userinfo.KindByID:
		u, err = phttp.GetJSON[user](ctx, p.c.Client, token, usersURL+"/"+url.PathEscape(req.Value))
		if err != nil {
			if isNotFound(err) {
				return nil, fetcherr.Wrapf(fetcherr.UserNotFound, err, "unable to find user with id %q", req.Value)
			}
			return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "unable to search for user", err)
		}
	case userinfo.KindByName:
		query := url.Values{"username": {req.Value}, "exact": {"true"}}
		users, err := phttp.GetJSON[[]user](ctx, p.c.Client, token, usersURL+"?"+query.Encode())
		if err != nil {
			return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "unable to search for user", err)
		}
		switch len(users) {
		case 0:
			return nil, fetcherr.Newf(fetcherr.UserNotFound, "unable to find user with username %q", req.Value)
		case 1:
			u = users[0]
		default:
			return nil, fetcherr.New(fetcherr.TooManyUsersReturned, "more than one user was returned when there should be one or none")
		}
	default:
		return nil, fetcherr.New(fetcherr.ParseRequest, "request must be by id or by name")
	}
	log.Debug("found user", "id", u.ID)

	groups, err := phttp.GetJSON[[]group](ctx, p.c.Client, token, usersURL+"/"+url.PathEscape(u.ID)+"/groups")
	if err != nil {
		return nil, fetcherr.Wrapf(fetcherr.BackendUpstream, err, "unable to request groups for user with id %q", u.ID)
	}

	info := &userinfo.UserInfo{
		ID:               userinfo.Ptr(u.ID),
		Groups:           make([]string, 0, len(groups)),
		CustomAttributes: u.Attributes,
	}
	if len(u.Username) > 0 {
		info.Username = userinfo.Ptr(u.Username)
	}
	for _, g := range groups {
		info.Groups = append(info.Groups, g.Path)
	}
	return info, nil
}

func isNotFound(err error) bool {
	var respErr *phttp.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
