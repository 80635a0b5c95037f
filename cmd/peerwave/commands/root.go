// Package commands implements the peerwave CLI.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	cfgPath string

	versionStr = "dev"
	commitStr  = "none"
	dateStr    = "unknown"
)

// SetVersionInfo receives the build-time version variables from main.
func SetVersionInfo(version, commit, date string) {
	versionStr, commitStr, dateStr = version, commit, date
}

var rootCmd = &cobra.Command{
	Use:   "peerwave",
	Short: "Peer-to-peer mesh messaging daemon",
	Long: `peerwave runs a mesh messaging node: encrypted pairwise sessions,
plaintext broadcasts, topic channels, multi-hop relaying with
deduplication, and store-and-forward for offline peers.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"path to config file (default: $XDG_CONFIG_HOME/peerwave/config.yaml)")
}

// configPath resolves the configuration file location: the flag when
// given, the default location when it exists, empty otherwise.
func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	path := filepath.Join(base, "peerwave", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("peerwave %s (commit %s, built %s)\n", versionStr, commitStr, dateStr)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
