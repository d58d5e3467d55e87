// Package main provides the CLI entry point for the passmgr client.
package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/passmgr-tool/passmgr/internal/cli"
	"github.com/passmgr-tool/passmgr/internal/config"
	"github.com/passmgr-tool/passmgr/internal/keys"
	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/mnemonic"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "passmgr",
		Short: "passmgr - end-to-end encrypted secret store",
		Long: `passmgr is a multi-user, end-to-end encrypted secret store.

A seed phrase deterministically derives the encryption keys, the signing
identity and the user ID. Secrets are encrypted locally through a cascade
of ciphers; a sync server only ever sees opaque records.`,
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "start", Title: "Getting Started:"})
	rootCmd.AddGroup(&cobra.Group{ID: "tools", Title: "Tools:"})

	interactive := interactiveCmd()
	interactive.GroupID = "start"
	rootCmd.AddCommand(interactive)

	initC := initCmd()
	initC.GroupID = "start"
	rootCmd.AddCommand(initC)

	userID := userIDCmd()
	userID.GroupID = "tools"
	rootCmd.AddCommand(userID)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when absent.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err == nil {
			path = dir + "/passmgr/config.yaml"
		}
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}
	return config.DefaultConfig(), nil
}

func interactiveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Start the interactive vault session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
			return cli.New(cfg, logger).Run()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	return cmd
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				dir, err := os.UserConfigDir()
				if err != nil {
					return fmt.Errorf("no config path given and no user config dir: %w", err)
				}
				path = dir + "/passmgr/config.yaml"
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := config.Save(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

// userIDCmd derives and prints the opaque user ID for a seed phrase,
// reading the phrase without echo.
func userIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user-id",
		Short: "Derive the user ID for a seed phrase",
		Long: `Reads a seed phrase (without echoing it) and prints the derived
user ID. Useful for locating a user's directory on a sync server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(os.Stderr, "Seed phrase: ")
			raw, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read seed phrase: %w", err)
			}

			words := mnemonic.Normalize(strings.ToLower(string(raw)))
			entropy, err := mnemonic.Decode(words)
			if err != nil {
				return err
			}

			mk, err := keys.FromEntropy(entropy)
			if err != nil {
				return err
			}
			defer mk.Zero()

			fmt.Println(mk.UserID().String())
			return nil
		},
	}
}
