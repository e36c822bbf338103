// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/semagate/services/sema/hmacauth"
)

// errSignatureMismatch is returned by sign --verify when the signature
// does not match stdin.
var errSignatureMismatch = errors.New("signature does not match body")

func newSignCmd() *cobra.Command {
	var (
		secretFile string
		verify     string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign or verify an error body read from stdin",
		Long: `Prints base64(HMAC-SHA256(secret, stdin)), the value semagate sends in
its signature header on error responses. With --verify, checks a header
value against stdin instead. The secret file is left in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := hmacauth.ReadSecretFile(secretFile, true)
			if err != nil {
				return err
			}
			defer memguard.WipeBytes(secret)

			body, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}

			if verify != "" {
				if !hmacauth.Verify(secret, body, verify) {
					return errSignatureMismatch
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), hmacauth.Compute(secret, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secretFile, "hmac-file-secret", "", "JSON file with the base64 HMAC secret")
	cmd.Flags().StringVar(&verify, "verify", "", "signature to check instead of printing one")
	_ = cmd.MarkFlagRequired("hmac-file-secret")
	return cmd
}
