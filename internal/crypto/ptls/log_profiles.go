// Copyright 2024-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package ptls

import (
	"crypto/tls"

	"github.com/stackabletech/opa-operator-sub000/internal/plog"
)

// Profile is a named TLS client profile.
type Profile struct {
	Name   string
	Config ConfigFunc
}

// Profiles lists the client profiles backends can be dialed with.
func Profiles() []Profile {
	return []Profile{
		{Name: "http", Config: Default},
		{Name: "ldap", Config: DefaultLDAP},
	}
}

// LogProfiles writes one debug line per client profile.
func LogProfiles(log plog.Logger) {
	for _, p := range Profiles() {
		c := p.Config(nil)

		suites := make([]string, 0, len(c.CipherSuites))
		for _, id := range c.CipherSuites {
			suites = append(suites, tls.CipherSuiteName(id))
		}

		maxVersion := "unbounded"
		if c.MaxVersion != 0 {
			maxVersion = tls.VersionName(c.MaxVersion)
		}

		log.Debug("tls client profile",
			"profile", p.Name,
			"minVersion", tls.VersionName(c.MinVersion),
			"maxVersion", maxVersion,
			"tls12CipherSuites", suites,
			"alpn", c.NextProtos,
		)
	}
}
