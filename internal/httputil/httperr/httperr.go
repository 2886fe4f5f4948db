// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package httperr contains some helpers for nicer error handling in http.Handler implementations.
package httperr

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
	"github.com/stackabletech/opa-operator-sub000/internal/plog"
)

// Responder represents an error that can emit a useful HTTP error response to an http.ResponseWriter.
type Responder interface {
	error
	Respond(http.ResponseWriter)
}

// Body is the JSON document written for every error response.
type Body struct {
	Error Detail `json:"error"`
}

// Detail holds the outermost error message and the messages of the errors it wraps, outermost first.
type Detail struct {
	Message string   `json:"message"`
	Causes  []string `json:"causes"`
}

// New returns a Responder that emits the given HTTP status code and message.
func New(code int, msg string) error {
	return httpErr{code: code, msg: msg}
}

// Newf returns a Responder that emits the given HTTP status code and fmt.Sprintf formatted message.
func Newf(code int, format string, args ...any) error {
	return httpErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap returns a Responder that emits the given HTTP status code and message, and also wraps an internal error.
func Wrap(code int, msg string, cause error) error {
	return httpErr{code: code, msg: msg, cause: cause}
}

type httpErr struct {
	code  int
	msg   string
	cause error
}

func (e httpErr) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e httpErr) Respond(w http.ResponseWriter) {
	Write(w, e.code, e)
}

func (e httpErr) Unwrap() error {
	return e.cause
}

// Write emits err as a JSON error document with the given status code.
func Write(w http.ResponseWriter, code int, err error) {
	message, causes := fetcherr.Causes(err)
	body, marshalErr := json.Marshal(Body{Error: Detail{Message: message, Causes: causes}})
	if marshalErr != nil {
		// cannot happen for a struct of strings
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

// HandlerFunc is like http.HandlerFunc, but with a function signature that allows easier error handling.
// Errors that are not a Responder are reported with the status code of their fetcherr.Kind.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

func (f HandlerFunc) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch err := f(w, r).(type) {
	case nil:
		return
	case Responder:
		plog.DebugErr("request failed", err, "method", r.Method, "path", r.URL.Path)
		err.Respond(w)
	default:
		code := fetcherr.StatusCode(err)
		if code >= http.StatusInternalServerError {
			plog.WarningErr("request failed", err, "method", r.Method, "path", r.URL.Path, "kind", fetcherr.KindOf(err).String())
		} else {
			plog.DebugErr("request failed", err, "method", r.Method, "path", r.URL.Path, "kind", fetcherr.KindOf(err).String())
		}
		Write(w, code, err)
	}
}
