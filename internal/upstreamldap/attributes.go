// Copyright 2021-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package upstreamldap

import (
	"sort"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"

	"github.com/stackabletech/opa-operator-sub000/internal/plog"
)

// SearchRequest builds a subtree search. See https://ldap.com/the-ldap-search-operation for general
// documentation of LDAP search options.
func SearchRequest(base, filter string, attributes []string) *ldap.SearchRequest {
	return &ldap.SearchRequest{
		BaseDN:       base,
		Scope:        ldap.ScopeWholeSubtree,
		DerefAliases: ldap.NeverDerefAliases,
		SizeLimit:    0,
		TimeLimit:    90,
		TypesOnly:    false,
		Filter:       filter,
		Attributes:   attributes,
		Controls:     nil,
	}
}

// MappedAttributeNames returns the LDAP attribute names of mappings in sorted key order.
// The pseudo attribute dn is never requested from the server.
func MappedAttributeNames(mappings map[string]string) []string {
	names := make([]string, 0, len(mappings))
	for _, key := range sortedKeys(mappings) {
		if mappings[key] == DistinguishedNameAttributeName {
			continue
		}
		names = append(names, mappings[key])
	}
	return names
}

// FirstTextValue returns the first value of attribute that is valid UTF-8.
func FirstTextValue(entry *ldap.Entry, attribute string) (string, bool) {
	for _, value := range entry.GetAttributeValues(attribute) {
		if utf8.ValidString(value) {
			return value, true
		}
	}
	return "", false
}

// SpecialAttributeFunc lets a backend supply decoded values for attributes that are not plain text.
// It returns false when attribute should be read as text.
type SpecialAttributeFunc func(attribute string) (values []string, handled bool)

// CustomAttributes maps every exposed name to the JSON array of the mapped attribute's text values.
// Attributes the entry does not carry are left out. Binary-only values are skipped with a warning.
func CustomAttributes(log plog.Logger, entry *ldap.Entry, mappings map[string]string, special SpecialAttributeFunc) map[string]any {
	out := make(map[string]any, len(mappings))

	for _, name := range sortedKeys(mappings) {
		attribute := mappings[name]

		if special != nil {
			if values, handled := special(attribute); handled {
				if values != nil {
					out[name] = toJSONArray(values)
				}
				continue
			}
		}

		if attribute == DistinguishedNameAttributeName {
			out[name] = []any{entry.DN}
			continue
		}

		raw := entry.GetAttributeValues(attribute)
		if len(raw) == 0 {
			continue
		}

		values := make([]string, 0, len(raw))
		for _, value := range raw {
			if !utf8.ValidString(value) {
				log.Warning("LDAP custom attribute is only returned as binary, which is not supported",
					"name", name, "attribute", attribute, "dn", entry.DN)
				continue
			}
			values = append(values, value)
		}
		if len(values) == 0 {
			continue
		}
		out[name] = toJSONArray(values)
	}

	return out
}

func toJSONArray(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EscapeFilterBytes writes every byte as a \HH escape, for matching binary attributes such as objectGUID.
func EscapeFilterBytes(b []byte) string {
	const hex = "0123456789ABCDEF"
	out := make([]byte, 0, len(b)*3)
	for _, c := range b {
		out = append(out, '\\', hex[c>>4], hex[c&0x0f])
	}
	return string(out)
}
