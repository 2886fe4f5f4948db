// Copyright 2023-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package pversion

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	originalGitVersion := gitVersion
	t.Cleanup(func() {
		gitVersion = originalGitVersion
		readBuildInfo = debug.ReadBuildInfo
	})

	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)

	tests := []struct {
		name          string
		gitVersion    string
		readBuildInfo func() (info *debug.BuildInfo, ok bool)
		wantInfo      Info
		wantUserAgent string
	}{
		{
			name:       "no build info",
			gitVersion: "",
			readBuildInfo: func() (info *debug.BuildInfo, ok bool) {
				return nil, false
			},
			wantInfo: Info{
				Version:      "v0.0.0",
				GitTreeState: "dirty",
				GoVersion:    runtime.Version(),
				Platform:     platform,
			},
			wantUserAgent: "user-info-fetcher/v0.0.0 (" + platform + ")",
		},
		{
			name:       "release version from the linker flag",
			gitVersion: "24.11.0",
			readBuildInfo: func() (info *debug.BuildInfo, ok bool) {
				return &debug.BuildInfo{
					Settings: []debug.BuildSetting{
						{Key: "vcs.revision", Value: "revision-value"},
						{Key: "vcs.time", Value: "time-value"},
						{Key: "vcs.modified", Value: "anything but 'true'"},
						{Key: "other", Value: "ignored"},
					},
				}, true
			},
			wantInfo: Info{
				Version:      "24.11.0",
				GitCommit:    "revision-value",
				GitTreeState: "dirty",
				BuildDate:    "time-value",
				GoVersion:    runtime.Version(),
				Platform:     platform,
			},
			wantUserAgent: "user-info-fetcher/24.11.0 (" + platform + ")",
		},
		{
			name:       "development build without a linker flag",
			gitVersion: "",
			readBuildInfo: func() (info *debug.BuildInfo, ok bool) {
				return &debug.BuildInfo{
					Settings: []debug.BuildSetting{
						{Key: "vcs.revision", Value: "384850953501b7d66d466b4ca4d13a81bc54a7c3"},
						{Key: "vcs.modified", Value: "false"},
					},
				}, true
			},
			wantInfo: Info{
				Version:      "v0.0.0-38485095-clean",
				GitCommit:    "384850953501b7d66d466b4ca4d13a81bc54a7c3",
				GitTreeState: "clean",
				GoVersion:    runtime.Version(),
				Platform:     platform,
			},
			wantUserAgent: "user-info-fetcher/v0.0.0-38485095-clean (" + platform + ")",
		},
		{
			name:       "linker flag that is not semver",
			gitVersion: "main",
			readBuildInfo: func() (info *debug.BuildInfo, ok bool) {
				return nil, false
			},
			wantInfo: Info{
				Version:      "v0.0.0",
				GitTreeState: "dirty",
				GoVersion:    runtime.Version(),
				Platform:     platform,
			},
			wantUserAgent: "user-info-fetcher/v0.0.0 (" + platform + ")",
		},
	}

	// These tests cannot be done in Parallel due to side effects
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			gitVersion = test.gitVersion
			readBuildInfo = test.readBuildInfo

			require.Equal(t, test.wantInfo, Get())
			require.Equal(t, test.wantUserAgent, UserAgent())
		})
	}
}
