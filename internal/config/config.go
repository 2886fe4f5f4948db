// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config contains functionality to load the user-info-fetcher Config from a file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"sigs.k8s.io/yaml"

	"github.com/stackabletech/opa-operator-sub000/internal/fetcherr"
)

const (
	defaultKeycloakRootPath     = "/"
	defaultEntraTokenHostname   = "login.microsoft.com"
	defaultEntraUserInfoHost    = "graph.microsoft.com"
	defaultXFSCAASPort          = 5000
	defaultOpenLDAPUserIDAttr   = "entryUUID"
	defaultOpenLDAPUserNameAttr = "uid"
	defaultOpenLDAPMemberAttr   = "member"
)

// FromPath loads a Config from a provided local file path, inserts any
// defaults, and verifies that the config is valid.
// The file may be YAML or JSON.
func FromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return FromBytes(data)
}

// FromBytes is FromPath for an in-memory document.
func FromBytes(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	// support setting backend to null or {} or leaving it out entirely
	if config.Backend.Name() == "none" {
		config.Backend = Backend{None: &None{}}
	}

	setDefaults(&config.Backend)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("validate backend: %w", err)
	}

	if ttl := config.Cache.EntryTimeToLive; ttl != nil && *ttl < 0 {
		return nil, fetcherr.Const("validate cache: entryTimeToLive must not be negative")
	}

	return &config, nil
}

func setDefaults(b *Backend) {
	switch {
	case b.Keycloak != nil:
		c := b.Keycloak
		maybeSetPort(&c.Port, c.TLS.IsEnabled(), 443, 80)
		if len(c.RootPath) == 0 {
			c.RootPath = defaultKeycloakRootPath
		}

	case b.OpenLDAP != nil:
		c := b.OpenLDAP
		maybeSetPort(&c.Port, c.TLS.IsEnabled() && !c.TLS.IsStartTLS(), 636, 389)
		maybeSetString(&c.GroupsSearchBase, c.SearchBase)
		maybeSetString(&c.UserIDAttribute, defaultOpenLDAPUserIDAttr)
		maybeSetString(&c.UserNameAttribute, defaultOpenLDAPUserNameAttr)
		maybeSetString(&c.GroupMemberAttribute, defaultOpenLDAPMemberAttr)

	case b.Entra != nil:
		c := b.Entra
		if c.TLS == nil {
			c.TLS = &TLS{UseSystemRoots: true}
		}
		maybeSetPort(&c.Port, c.TLS.IsEnabled(), 443, 80)
		maybeSetString(&c.TokenHostname, defaultEntraTokenHostname)
		maybeSetString(&c.UserInfoHostname, defaultEntraUserInfoHost)

	case b.XFSCAAS != nil:
		if b.XFSCAAS.Port == 0 {
			b.XFSCAAS.Port = defaultXFSCAASPort
		}
	}
}

func maybeSetPort(port *uint16, tls bool, tlsDefault, plainDefault uint16) {
	if *port != 0 {
		return
	}
	if tls {
		*port = tlsDefault
		return
	}
	*port = plainDefault
}

func maybeSetString(s *string, defaultValue string) {
	if len(*s) == 0 {
		*s = defaultValue
	}
}

func validate(config *Config) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	err := v.Struct(config)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	missing := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		// drop the leading "Config." from the namespace
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		if fe.Tag() == "required" {
			missing = append(missing, field)
			continue
		}
		missing = append(missing, fmt.Sprintf("%s (failed %q)", field, fe.Tag()))
	}
	sort.Strings(missing)
	return fetcherr.Const("missing required fields: " + strings.Join(missing, ", "))
}
