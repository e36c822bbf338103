// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command semagate serves a single code-intelligence engine over HTTP.
//
// Usage:
//
//	semagate serve [--config semagate.yaml] [--port 0] [--hmac-file-secret secret.json]
//	semagate sign --hmac-file-secret secret.json < body.json
//	semagate version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "semagate",
		Short: "HTTP gateway for a single, non-reentrant code-intelligence engine",
		Long: `semagate exposes completion, goto-definition, usages and symbol
listing from one engine process to editor clients over JSON/HTTP.
Engine calls are serialized; error responses can be signed with a
shared HMAC secret.`,
		SilenceUsage: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the semagate version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.AddCommand(newServeCmd(), newSignCmd(), versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
