// Package cli provides the command-line interface of livescan.
// This file implements API key commands. The server stores only the bcrypt
// hash of its key in api.api_key_hash.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anstrom/livescan/internal/auth"
)

// apiKeysCmd represents the apikey command group.
var apiKeysCmd = &cobra.Command{
	Use:     "apikey",
	Aliases: []string{"apikeys", "key"},
	Short:   "Generate and hash API keys",
	Long: `Generate and hash API keys for the livescan API server.

Put the printed hash into api.api_key_hash (or LIVESCAN_API_API_KEY_HASH)
and pass the key in the X-API-Key header, as a Bearer token, or as the
api_key query parameter for WebSocket clients.`,
	Example: `  livescan apikey generate
  livescan apikey hash ls_abcdefgh...`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// apiKeysGenerateCmd creates a new key and its hash.
var apiKeysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key",
	Long:  "Generate a new random API key and print it with its bcrypt hash. The key is shown only once.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return generateAPIKey(cmd.OutOrStdout())
	},
}

// apiKeysHashCmd hashes an existing key.
var apiKeysHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Hash an existing API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return hashAPIKey(cmd.OutOrStdout(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(apiKeysCmd)
	apiKeysCmd.AddCommand(apiKeysGenerateCmd)
	apiKeysCmd.AddCommand(apiKeysHashCmd)
}

func generateAPIKey(w io.Writer) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "API key:  %s\n", key)
	fmt.Fprintf(w, "Hash:     %s\n", hash)
	fmt.Fprintln(w, "\nStore the key now; it cannot be recovered from the hash.")
	return nil
}

func hashAPIKey(w io.Writer, key string) error {
	key = strings.TrimSpace(key)
	if !auth.IsValidAPIKeyFormat(key) {
		return fmt.Errorf("invalid API key format, expected %s_<random>", auth.APIKeyPrefix)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, hash)
	return nil
}
