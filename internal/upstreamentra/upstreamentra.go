// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package upstreamentra looks users up in Microsoft Entra ID with the Microsoft Graph API.
package upstreamentra

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/stackabletech/opa-operator-sub000/internal/credentials"
	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/net/phttp"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

const (
	GraphScope = "https://graph.microsoft.com/.default"

	// maxGroupPages bounds how many @odata.nextLink pages of group memberships are followed.
	maxGroupPages = 100
)

// ProviderConfig holds the resolved Entra settings.
type ProviderConfig struct {
	// TokenURL is the OAuth2 token endpoint of the tenant, e.g. https://login.microsoft.com:443/{tenant}/oauth2/v2.0/token.
	TokenURL string

	// GraphURL is the Microsoft Graph root without a trailing slash, e.g. https://graph.microsoft.com:443.
	GraphURL string

	Credentials credentials.ClientCredentials

	Client *http.Client
}

type Provider struct {
	c           ProviderConfig
	tokenSource oauth2.TokenSource
}

var _ userinfo.Backend = &Provider{}

// New creates a Provider with a token source that is shared by all lookups.
func New(config ProviderConfig) *Provider {
	config.GraphURL = strings.TrimSuffix(config.GraphURL, "/")
	return &Provider{
		c: config,
		tokenSource: phttp.ClientCredentials(config.Client, &clientcredentials.Config{
			ClientID:     config.Credentials.ClientID,
			ClientSecret: config.Credentials.ClientSecret,
			TokenURL:     config.TokenURL,
			Scopes:       []string{GraphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		}),
	}
}

// TokenURL returns the token endpoint of tenantID on a login host.
func TokenURL(scheme, hostPort, tenantID string) string {
	return fmt.Sprintf("%s://%s/%s/oauth2/v2.0/token", scheme, hostPort, url.PathEscape(tenantID))
}

func (p *Provider) GetUserInfo(ctx context.Context, req userinfo.Request) (*userinfo.UserInfo, error) {
	log := plog.WithName("entra")

	token, err := p.tokenSource.Token()
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "failed to get access_token", err)
	}

	switch req.Kind {
	case userinfo.KindByID, userinfo.KindByName:
	default:
		return nil, fetcherr.New(fetcherr.ParseRequest, "request must be by id or by name")
	}

	// the users endpoint accepts both the object id and the user principal name
	body, err := p.get(ctx, token, p.c.GraphURL+"/v1.0/users/"+url.PathEscape(req.Value))
	if err != nil {
		var respErr *phttp.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			if req.Kind == userinfo.KindByID {
				return nil, fetcherr.Wrapf(fetcherr.UserNotFound, err, "unable to find user with id %q", req.Value)
			}
			return nil, fetcherr.Wrapf(fetcherr.UserNotFound, err, "unable to find user with username %q", req.Value)
		}
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "failed to search for user", err)
	}

	user := gjson.ParseBytes(body)
	if !user.IsObject() {
		return nil, fetcherr.Newf(fetcherr.BackendUpstream, "user response for %s is not a JSON object", req)
	}
	id := user.Get("id")
	if id.Type != gjson.String || len(id.Str) == 0 {
		return nil, fetcherr.Newf(fetcherr.Internal, "user response for %s has no id", req)
	}
	log.Debug("found user", "id", id.Str)

	groups, err := p.groups(ctx, token, id.Str)
	if err != nil {
		return nil, err
	}

	info := &userinfo.UserInfo{
		ID:               userinfo.Ptr(id.Str),
		Groups:           groups,
		CustomAttributes: map[string]any{},
	}
	user.ForEach(func(key, value gjson.Result) bool {
		switch key.Str {
		case "id":
		case "userPrincipalName":
			if value.Type == gjson.String {
				info.Username = userinfo.Ptr(value.Str)
			}
		default:
			if value.Type != gjson.Null {
				info.CustomAttributes[key.Str] = value.Value()
			}
		}
		return true
	})
	return info, nil
}

// groups returns the display names of the directory objects the user is a direct member of.
func (p *Provider) groups(ctx context.Context, token *oauth2.Token, id string) ([]string, error) {
	groups := []string{}
	next := p.c.GraphURL + "/v1.0/users/" + url.PathEscape(id) + "/memberOf"

	for page := 0; len(next) > 0; page++ {
		if page == maxGroupPages {
			return nil, fetcherr.Newf(fetcherr.BackendUpstream, "user with id %q is a member of more than %d pages of groups", id, maxGroupPages)
		}

		body, err := p.get(ctx, token, next)
		if err != nil {
			return nil, fetcherr.Wrapf(fetcherr.BackendUpstream, err, "failed to request groups for user with id %q", id)
		}

		result := gjson.ParseBytes(body)
		for _, name := range result.Get("value.#.displayName").Array() {
			if name.Type == gjson.String {
				groups = append(groups, name.Str)
			}
		}
		next = result.Map()["@odata.nextLink"].Str
		if len(next) > 0 && !p.isGraphURL(next) {
			return nil, fetcherr.Newf(fetcherr.BackendUpstream, "refusing to follow group page link %q outside of %s", next, p.c.GraphURL)
		}
	}

	return groups, nil
}

// isGraphURL reports whether u has the same scheme, host and port as the configured Graph root.
func (p *Provider) isGraphURL(u string) bool {
	graph, err := url.Parse(p.c.GraphURL)
	if err != nil {
		return false
	}
	link, err := url.Parse(u)
	if err != nil {
		return false
	}
	return strings.EqualFold(graph.Scheme, link.Scheme) &&
		strings.EqualFold(graph.Hostname(), link.Hostname()) &&
		effectivePort(graph) == effectivePort(link)
}

func effectivePort(u *url.URL) string {
	if port := u.Port(); len(port) > 0 {
		return port
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		return "443"
	case "http":
		return "80"
	default:
		return ""
	}
}

func (p *Provider) get(ctx context.Context, token *oauth2.Token, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	return phttp.Send(p.c.Client, req)
}
