// Copyright 2020-2025 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entrypoint of the user-info-fetcher sidecar.
package main

import (
	"github.com/stackabletech/opa-operator-sub000/internal/server"
)

func main() {
	server.Main()
}
