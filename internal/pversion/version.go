// Copyright 2023-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package pversion reports which code a user-info-fetcher binary was built from.
package pversion

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/coreos/go-semver/semver"
	k8sstrings "k8s.io/utils/strings"
)

const binaryName = "user-info-fetcher"

// readBuildInfo is meant to be overwritten by tests.
//
//nolint:gochecknoglobals // these are swapped during unit tests.
var readBuildInfo = debug.ReadBuildInfo

// gitVersion is set using a linker flag
// -ldflags "-X 'github.com/stackabletech/opa-operator-sub000/internal/pversion.gitVersion=v24.11.0'"
// (or set for unit tests).
//
//nolint:gochecknoglobals // these are swapped during unit tests.
var gitVersion string

// Info describes a build. It is logged at startup and sent to backends as part of the user agent.
type Info struct {
	Version      string `json:"version"`
	GitCommit    string `json:"gitCommit,omitempty"`
	GitTreeState string `json:"gitTreeState"`
	BuildDate    string `json:"buildDate,omitempty"`
	GoVersion    string `json:"goVersion"`
	Platform     string `json:"platform"`
}

// Get returns the build information from the linker flag and golang's VCS build-time information.
func Get() Info {
	info := Info{
		Version:      "v0.0.0",
		GitTreeState: "dirty",
		GoVersion:    runtime.Version(),
		Platform:     fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}

	if _, err := semver.NewVersion(strings.TrimPrefix(gitVersion, "v")); err == nil {
		info.Version = gitVersion
	}

	if debugBuildInfo, ok := readBuildInfo(); ok {
		for _, buildSetting := range debugBuildInfo.Settings {
			switch buildSetting.Key {
			case "vcs.revision":
				info.GitCommit = buildSetting.Value
			case "vcs.time":
				info.BuildDate = buildSetting.Value
			case "vcs.modified":
				if buildSetting.Value == "false" {
					info.GitTreeState = "clean"
				}
			}
		}
	}

	if info.Version == "v0.0.0" && info.GitCommit != "" {
		info.Version += fmt.Sprintf("-%s-%s",
			k8sstrings.ShortenString(info.GitCommit, 8),
			info.GitTreeState)
	}

	return info
}

// UserAgent is the User-Agent header sent to HTTP backends, e.g. user-info-fetcher/v24.11.0 (linux/amd64).
func UserAgent() string {
	info := Get()
	return fmt.Sprintf("%s/%s (%s)", binaryName, info.Version, info.Platform)
}
