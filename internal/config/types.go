// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stackabletech/opa-operator-sub000/internal/tlsconfig"
)

const DefaultEntryTimeToLive = time.Minute

// Config contains knobs to set up an instance of the user-info-fetcher.
type Config struct {
	Backend Backend `json:"backend"`
	Cache   Cache   `json:"cache"`
}

type Cache struct {
	// EntryTimeToLive is how long a successful lookup is served from memory. Zero disables caching.
	EntryTimeToLive *Duration `json:"entryTimeToLive,omitempty"`
}

// TTL returns the configured time to live, or DefaultEntryTimeToLive.
func (c Cache) TTL() time.Duration {
	if c.EntryTimeToLive == nil {
		return DefaultEntryTimeToLive
	}
	return c.EntryTimeToLive.Duration()
}

// Backend is a tagged union, exactly one field is set after decoding.
type Backend struct {
	None            *None            `json:"none,omitempty"`
	Keycloak        *Keycloak        `json:"keycloak,omitempty"`
	ActiveDirectory *ActiveDirectory `json:"activeDirectory,omitempty"`
	OpenLDAP        *OpenLDAP        `json:"openLdap,omitempty"`
	Entra           *Entra           `json:"entra,omitempty"`
	XFSCAAS         *XFSCAAS         `json:"xfscAas,omitempty"`
}

// variants maps every accepted tag to the canonical tag.
var variants = map[string]string{ //nolint:gochecknoglobals
	"none":                        "none",
	"None":                        "none",
	"keycloak":                    "keycloak",
	"Keycloak":                    "keycloak",
	"activeDirectory":             "activeDirectory",
	"ActiveDirectory":             "activeDirectory",
	"experimentalActiveDirectory": "activeDirectory",
	"ExperimentalActiveDirectory": "activeDirectory",
	"openLdap":                    "openLdap",
	"OpenLdap":                    "openLdap",
	"experimentalOpenLdap":        "openLdap",
	"ExperimentalOpenLdap":        "openLdap",
	"entra":                       "entra",
	"Entra":                       "entra",
	"experimentalEntra":           "entra",
	"ExperimentalEntra":           "entra",
	"xfscAas":                     "xfscAas",
	"XfscAas":                     "xfscAas",
	"experimentalXfscAas":         "xfscAas",
	"ExperimentalXfscAas":         "xfscAas",
}

func (b *Backend) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = Backend{None: &None{}}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("backend must be an object: %w", err)
	}

	switch len(raw) {
	case 0:
		*b = Backend{None: &None{}}
		return nil
	case 1:
	default:
		tags := make([]string, 0, len(raw))
		for tag := range raw {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		return fmt.Errorf("exactly one backend must be configured, got %s", strings.Join(tags, ", "))
	}

	var out Backend
	for tag, value := range raw {
		canonical, ok := variants[tag]
		if !ok {
			return fmt.Errorf("unknown backend %q", tag)
		}

		var target any
		switch canonical {
		case "none":
			out.None = &None{}
			target = out.None
		case "keycloak":
			out.Keycloak = &Keycloak{}
			target = out.Keycloak
		case "activeDirectory":
			out.ActiveDirectory = &ActiveDirectory{}
			target = out.ActiveDirectory
		case "openLdap":
			out.OpenLDAP = &OpenLDAP{}
			target = out.OpenLDAP
		case "entra":
			out.Entra = &Entra{}
			target = out.Entra
		case "xfscAas":
			out.XFSCAAS = &XFSCAAS{}
			target = out.XFSCAAS
		}

		if string(value) == "null" {
			continue
		}
		if err := json.Unmarshal(value, target); err != nil {
			return fmt.Errorf("invalid %s backend: %w", canonical, err)
		}
	}

	*b = out
	return nil
}

// Name returns the canonical tag of the configured backend.
func (b Backend) Name() string {
	switch {
	case b.Keycloak != nil:
		return "keycloak"
	case b.ActiveDirectory != nil:
		return "activeDirectory"
	case b.OpenLDAP != nil:
		return "openLdap"
	case b.Entra != nil:
		return "entra"
	case b.XFSCAAS != nil:
		return "xfscAas"
	default:
		return "none"
	}
}

// TLS is the TLS setting of a backend. Enabled and Verify default to true once a tls object is present.
type TLS struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Verify         *bool  `json:"verify,omitempty"`
	CABundlePath   string `json:"caBundlePath,omitempty"`
	UseSystemRoots bool   `json:"useSystemRoots,omitempty"`

	// StartTLS upgrades a plain LDAP connection instead of dialing LDAPS. HTTP backends ignore it.
	StartTLS bool `json:"startTls,omitempty"`
}

// Spec converts the setting into a tlsconfig.Spec. A nil TLS means plaintext.
func (t *TLS) Spec() tlsconfig.Spec {
	if t == nil {
		return tlsconfig.Spec{}
	}
	return tlsconfig.Spec{
		UseTLS:         t.Enabled == nil || *t.Enabled,
		Verify:         t.Verify == nil || *t.Verify,
		CABundlePath:   t.CABundlePath,
		UseSystemRoots: t.UseSystemRoots,
	}
}

// IsEnabled reports whether connections use TLS.
func (t *TLS) IsEnabled() bool {
	return t.Spec().UseTLS
}

// IsStartTLS reports whether LDAP connections are upgraded with StartTLS.
func (t *TLS) IsStartTLS() bool {
	return t.IsEnabled() && t.StartTLS
}

// BindCredentials point at files holding a bind user and its password.
type BindCredentials struct {
	UserPath     string `json:"userPath" validate:"required"`
	PasswordPath string `json:"passwordPath" validate:"required"`
}

type None struct{}

type Keycloak struct {
	Hostname string `json:"hostname" validate:"required"`
	Port     uint16 `json:"port,omitempty"`
	RootPath string `json:"rootPath,omitempty"`
	TLS      *TLS   `json:"tls,omitempty"`
	// ClientCredentialsSecret is the name of the secret mounted into the credentials directory.
	ClientCredentialsSecret string `json:"clientCredentialsSecret,omitempty"`
	AdminRealm              string `json:"adminRealm" validate:"required"`
	UserRealm               string `json:"userRealm" validate:"required"`
}

type ActiveDirectory struct {
	LDAPServer              string           `json:"ldapServer" validate:"required"`
	BaseDistinguishedName   string           `json:"baseDistinguishedName" validate:"required"`
	TLS                     *TLS             `json:"tls,omitempty"`
	KerberosSecretClassName string           `json:"kerberosSecretClassName,omitempty"`
	BindCredentials         *BindCredentials `json:"bindCredentials,omitempty"`
	// CustomAttributeMappings maps exposed attribute names to LDAP attribute names.
	CustomAttributeMappings map[string]string `json:"customAttributeMappings,omitempty"`
	// AdditionalGroupAttributeFilters restrict the returned groups to those whose attribute equals the value.
	AdditionalGroupAttributeFilters map[string]string `json:"additionalGroupAttributeFilters,omitempty"`
}

type OpenLDAP struct {
	Hostname                string            `json:"hostname" validate:"required"`
	Port                    uint16            `json:"port,omitempty"`
	SearchBase              string            `json:"searchBase" validate:"required"`
	GroupsSearchBase        string            `json:"groupsSearchBase,omitempty"`
	BindCredentials         *BindCredentials  `json:"bindCredentials" validate:"required"`
	TLS                     *TLS              `json:"tls,omitempty"`
	UserIDAttribute         string            `json:"userIdAttribute,omitempty"`
	UserNameAttribute       string            `json:"userNameAttribute,omitempty"`
	GroupMemberAttribute    string            `json:"groupMemberAttribute,omitempty"`
	CustomAttributeMappings map[string]string `json:"customAttributeMappings,omitempty"`
}

type Entra struct {
	TenantID                string `json:"tenantId" validate:"required"`
	TokenHostname           string `json:"tokenHostname,omitempty"`
	UserInfoHostname        string `json:"userInfoHostname,omitempty"`
	Port                    uint16 `json:"port,omitempty"`
	TLS                     *TLS   `json:"tls,omitempty"`
	ClientCredentialsSecret string `json:"clientCredentialsSecret,omitempty"`
}

type XFSCAAS struct {
	Hostname string `json:"hostname" validate:"required"`
	Port     uint16 `json:"port,omitempty"`
}
