// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package phttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// maxErrorBodyBytes bounds how much of a failed response body is kept for diagnostics.
const maxErrorBodyBytes = 4 * 1024

// NetworkError means the request never produced an HTTP response.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("failed to send request to %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ResponseError means the backend answered with a non-2xx status.
type ResponseError struct {
	StatusCode int
	URL        string
	// Body holds at most the first 4 KiB of the response body.
	Body string
}

func (e *ResponseError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("request to %s failed with status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request to %s failed with status %d %s: %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// ParseJSONError means the response body of a successful request was not the expected JSON.
type ParseJSONError struct {
	URL string
	Err error
}

func (e *ParseJSONError) Error() string {
	return fmt.Sprintf("failed to parse JSON response from %s: %v", e.URL, e.Err)
}

func (e *ParseJSONError) Unwrap() error {
	return e.Err
}

// SendJSON performs req without retries and decodes a 2xx JSON response into T.
// The response body is always drained and closed.
func SendJSON[T any](client *http.Client, req *http.Request) (T, error) {
	var out T

	body, err := Send(client, req)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, &ParseJSONError{URL: redactedURL(req), Err: err}
	}
	return out, nil
}

// Send performs req without retries and returns the body of a 2xx response.
func Send(client *http.Client, req *http.Request) ([]byte, error) {
	if len(req.Header.Get("Accept")) == 0 {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: redactedURL(req), Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &ResponseError{StatusCode: resp.StatusCode, URL: redactedURL(req), Body: string(snippet)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: redactedURL(req), Err: err}
	}
	return body, nil
}

// redactedURL is the request URL without credentials or query values, safe to put in errors.
func redactedURL(req *http.Request) string {
	u := *req.URL
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// GetJSON sends an authenticated GET request for url and decodes the JSON response into T.
func GetJSON[T any](ctx context.Context, client *http.Client, token *oauth2.Token, url string) (T, error) {
	var out T
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return out, err
	}
	if token != nil {
		token.SetAuthHeader(req)
	}
	return SendJSON[T](client, req)
}
