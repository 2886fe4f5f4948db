// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package phttp

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentials returns a token source for the OAuth2 client credentials grant that sends token
// requests with client. Tokens are reused until shortly before they expire, and the source is safe
// for concurrent use.
func ClientCredentials(client *http.Client, config *clientcredentials.Config) oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	return config.TokenSource(ctx)
}
