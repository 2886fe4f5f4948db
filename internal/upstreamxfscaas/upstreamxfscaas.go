// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package upstreamxfscaas requests user claims from the claims information point (CIP) of an
// XFSC Authentication and Authorization Service. The CIP is unauthenticated and plaintext, and it
// only knows subjects by id.
package upstreamxfscaas

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/net/phttp"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

const (
	claimsPath  = "/cip/claims"
	subClaim    = "sub"
	openIDScope = "openid"
)

// ProviderConfig holds the resolved AAS settings.
type ProviderConfig struct {
	// BaseURL is the AAS root, e.g. http://aas.example.com:5000.
	BaseURL string

	Client *http.Client
}

type Provider struct {
	c ProviderConfig
}

var _ userinfo.Backend = &Provider{}

func New(config ProviderConfig) *Provider {
	return &Provider{c: config}
}

func (p *Provider) GetUserInfo(ctx context.Context, req userinfo.Request) (*userinfo.UserInfo, error) {
	if req.Kind != userinfo.KindByID {
		return nil, fetcherr.New(fetcherr.UserInfoByUsernameNotSupported, "the XFSC AAS does not support querying by username, only by user ID")
	}

	// openid is the only scope the AAS supports
	query := url.Values{subClaim: {req.Value}, "scope": {openIDScope}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.c.BaseURL+claimsPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.Internal, "failed to build claims request", err)
	}

	body, err := phttp.Send(p.c.Client, httpReq)
	if err != nil {
		return nil, fetcherr.Wrap(fetcherr.BackendUpstream, "request failed", err)
	}

	claims := gjson.ParseBytes(body)
	if !claims.IsObject() {
		return nil, fetcherr.New(fetcherr.BackendUpstream, "claims response is not a JSON object")
	}
	sub := claims.Get(subClaim)
	if sub.Type != gjson.String {
		return nil, fetcherr.Newf(fetcherr.Internal, "claims for %s have no %s claim", req, subClaim)
	}

	info := &userinfo.UserInfo{
		ID:               userinfo.Ptr(sub.Str),
		Groups:           []string{},
		CustomAttributes: map[string]any{},
	}
	claims.ForEach(func(key, value gjson.Result) bool {
		if key.Str != subClaim {
			info.CustomAttributes[key.Str] = value.Value()
		}
		return true
	})
	return info, nil
}
