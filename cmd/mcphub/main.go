package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcphub-dev/mcphub/internal/hub"
	"github.com/mcphub-dev/mcphub/internal/vault"
	"github.com/mcphub-dev/mcphub/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "MCP Hub server",
	Long:  `mcphub turns registered HTTP APIs into deployable Model Context Protocol servers.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return hub.App(cmd.Context())
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an encryption key for the credential vault",
	Long:  `Prints a fresh 32-byte key suitable for MCPHUB_ENCRYPTION_KEY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := vault.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcphub %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
