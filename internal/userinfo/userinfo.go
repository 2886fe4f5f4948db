// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package userinfo holds the request and response types shared by every backend.
package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
)

// Backend resolves a Request into a UserInfo.
type Backend interface {
	GetUserInfo(ctx context.Context, req Request) (*UserInfo, error)
}

// BackendFunc adapts a function to a Backend.
type BackendFunc func(ctx context.Context, req Request) (*UserInfo, error)

func (f BackendFunc) GetUserInfo(ctx context.Context, req Request) (*UserInfo, error) {
	return f(ctx, req)
}

type RequestKind int

const (
	KindByID RequestKind = iota + 1
	KindByName
)

// Request identifies a principal by id or by username. It is comparable and is used as a cache key.
type Request struct {
	Kind  RequestKind
	Value string
}

func ByID(id string) Request {
	return Request{Kind: KindByID, Value: id}
}

func ByName(username string) Request {
	return Request{Kind: KindByName, Value: username}
}

func (r Request) String() string {
	switch r.Kind {
	case KindByID:
		return fmt.Sprintf("id %q", r.Value)
	case KindByName:
		return fmt.Sprintf("username %q", r.Value)
	default:
		return "invalid request"
	}
}

type byIDBody struct {
	ID string `json:"id"`
}

type byNameBody struct {
	Username string `json:"username"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindByID:
		return json.Marshal(map[string]byIDBody{"ById": {ID: r.Value}})
	case KindByName:
		return json.Marshal(map[string]byNameBody{"ByName": {Username: r.Value}})
	default:
		return nil, fmt.Errorf("cannot marshal request of unknown kind %d", r.Kind)
	}
}

// UnmarshalJSON accepts {"ById":{"id":...}} or {"ByName":{"username":...}}, and the camelCase tags.
func (r *Request) UnmarshalJSON(data []byte) error {
	var variants map[string]json.RawMessage
	if err := json.Unmarshal(data, &variants); err != nil {
		return err
	}
	if len(variants) != 1 {
		return fmt.Errorf("expected exactly one of ById or ByName, got %d keys", len(variants))
	}

	for tag, raw := range variants {
		switch tag {
		case "ById", "byId":
			var body struct {
				ID *string `json:"id"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("invalid %s: %w", tag, err)
			}
			if body.ID == nil {
				return fmt.Errorf("missing field id in %s", tag)
			}
			*r = ByID(*body.ID)
		case "ByName", "byName":
			var body struct {
				Username *string `json:"username"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("invalid %s: %w", tag, err)
			}
			if body.Username == nil {
				return fmt.Errorf("missing field username in %s", tag)
			}
			*r = ByName(*body.Username)
		default:
			return fmt.Errorf("unknown variant %q, expected ById or ByName", tag)
		}
	}
	return nil
}

// UserInfo is the normalized user record. Values handed out by the cache are shared and must not be mutated.
type UserInfo struct {
	ID               *string        `json:"id"`
	Username         *string        `json:"username"`
	Groups           []string       `json:"groups"`
	CustomAttributes map[string]any `json:"customAttributes"`
}

func (u UserInfo) MarshalJSON() ([]byte, error) {
	type plain UserInfo
	out := plain(u)
	if out.Groups == nil {
		out.Groups = []string{}
	}
	if out.CustomAttributes == nil {
		out.CustomAttributes = map[string]any{}
	}
	return json.Marshal(out)
}

// Empty is the record returned when no backend is configured.
func Empty() *UserInfo {
	return &UserInfo{Groups: []string{}, CustomAttributes: map[string]any{}}
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}
