// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/httputil/httperr"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
	"github.com/stackabletech/opa-operator-sub000/internal/userinfo"
)

const maxRequestBodyBytes = 64 * 1024

// NewHandler serves POST /user by resolving the request body with b.
func NewHandler(b userinfo.Backend) http.Handler {
	h := &handler{backend: b}

	r := chi.NewRouter()
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.NotFound(httperr.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) error {
		return httperr.Newf(http.StatusNotFound, "no route for %s %s", r.Method, r.URL.Path)
	}).ServeHTTP)
	r.MethodNotAllowed(httperr.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("Allow", http.MethodPost)
		return httperr.Newf(http.StatusMethodNotAllowed, "method %s is not allowed for %s", r.Method, r.URL.Path)
	}).ServeHTTP)

	r.Method(http.MethodPost, "/user", httperr.HandlerFunc(h.getUserInfo))

	return r
}

type handler struct {
	backend userinfo.Backend
}

func (h *handler) getUserInfo(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		return fetcherr.Wrap(fetcherr.ParseRequest, "failed to read request body", err)
	}

	var req userinfo.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return fetcherr.Wrap(fetcherr.ParseRequest, "failed to parse user info request", err)
	}

	info, err := h.backend.GetUserInfo(r.Context(), req)
	if err != nil {
		return err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fetcherr.Wrap(fetcherr.Internal, "failed to encode user info", err)
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
	return nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		plog.Debug("handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"duration", m.Duration.String(),
			"written", m.Written,
		)
	})
}
