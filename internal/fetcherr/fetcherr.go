// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package fetcherr defines the error kinds returned by user info backends and how they map to HTTP status codes.
package fetcherr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var _ error = Const("")

// Const is an error type that can be declared as a constant.
type Const string

func (e Const) Error() string {
	return string(e)
}

type Kind int

const (
	Internal Kind = iota
	ParseRequest
	ParseIdByClient
	UserNotFound
	UserInfoByUsernameNotSupported
	TooManyUsersReturned
	BackendUpstream
	BackendUnavailable
)

func (k Kind) String() string {
	switch k {
	case ParseRequest:
		return "ParseRequest"
	case ParseIdByClient:
		return "ParseIdByClient"
	case UserNotFound:
		return "UserNotFound"
	case UserInfoByUsernameNotSupported:
		return "UserInfoByUsernameNotSupported"
	case TooManyUsersReturned:
		return "TooManyUsersReturned"
	case BackendUpstream:
		return "BackendUpstream"
	case BackendUnavailable:
		return "BackendUnavailable"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// StatusCode is the HTTP status reported to clients for errors of this kind.
func (k Kind) StatusCode() int {
	switch k {
	case ParseRequest, ParseIdByClient:
		return http.StatusBadRequest
	case UserNotFound:
		return http.StatusNotFound
	case UserInfoByUsernameNotSupported:
		return http.StatusNotImplemented
	case BackendUpstream:
		return http.StatusBadGateway
	case BackendUnavailable:
		return http.StatusServiceUnavailable
	case TooManyUsersReturned, Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure with an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Msg + ": " + e.Cause.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New returns an Error of the given kind with a constant message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf returns an Error of the given kind with a fmt.Sprintf formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind that wraps cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Wrapf is like Wrap with a fmt.Sprintf formatted message.
func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the outermost *Error in the chain, or Internal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// StatusCode returns the HTTP status for err.
func StatusCode(err error) int {
	return KindOf(err).StatusCode()
}

// Causes splits err into the outermost message and the messages of every wrapped error, outermost first.
// Each entry holds only that error's own text, not the text it inherited from its cause.
func Causes(err error) (string, []string) {
	if err == nil {
		return "", nil
	}

	message := ownText(err)
	causes := []string{}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		causes = append(causes, ownText(cause))
	}
	return message, causes
}

func ownText(err error) string {
	text := err.Error()
	inner := errors.Unwrap(err)
	if inner == nil {
		return text
	}
	innerText := inner.Error()
	if innerText == "" {
		return text
	}
	if trimmed, ok := strings.CutSuffix(text, ": "+innerText); ok {
		return trimmed
	}
	if trimmed, ok := strings.CutSuffix(text, innerText); ok && trimmed != "" {
		return strings.TrimRight(trimmed, " :")
	}
	return text
}
