// Package main provides the passmgr sync server binary.
package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/passmgr-tool/passmgr/internal/certutil"
	"github.com/passmgr-tool/passmgr/internal/config"
	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "passmgr-server",
		Short:   "passmgr sync server",
		Long:    `Serves signed, replay-protected record mirroring for passmgr vaults.`,
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(certCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultServerConfig()
			if configPath != "" {
				loaded, err := config.LoadServer(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			svc, err := server.New(server.Options{
				DataDir:      cfg.DataDir,
				AuthDBPath:   cfg.AuthDB,
				RegisterRate: cfg.RegisterRate,
				Logger:       logger,
			})
			if err != nil {
				return err
			}

			var tlsConf *tls.Config
			if cfg.TLS.Cert != "" {
				tlsConf, err = certutil.ServerTLSConfig(cfg.TLS.Cert, cfg.TLS.Key)
				if err != nil {
					return err
				}
			} else {
				logger.Warn("TLS not configured, serving plaintext")
			}

			srv := server.NewServer(svc, logger, tlsConf)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sig
				logger.Info("shutting down")
				srv.Stop()
			}()

			return srv.ListenAndServe(server.ListenOptions{
				Addr:        cfg.Listen,
				MetricsAddr: cfg.MetricsListen,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")
	return cmd
}

func initCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a default server configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.DefaultServerConfig()); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func certCmd() *cobra.Command {
	var (
		hosts    []string
		validFor time.Duration
		certPath string
		keyPath  string
	)

	cmd := &cobra.Command{
		Use:   "cert <common-name>",
		Short: "Generate a self-signed TLS certificate for the listener",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gc, err := certutil.GenerateServerCert(args[0], hosts, validFor)
			if err != nil {
				return err
			}
			if err := gc.SaveToFiles(certPath, keyPath); err != nil {
				return err
			}
			fmt.Println("certificate:", certPath)
			fmt.Println("key:        ", keyPath)
			fmt.Println("fingerprint:", gc.Fingerprint())
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&hosts, "host", nil, "additional DNS names or IPs")
	cmd.Flags().DurationVar(&validFor, "valid-for", 365*24*time.Hour, "certificate lifetime")
	cmd.Flags().StringVar(&certPath, "cert", "server.pem", "certificate output path")
	cmd.Flags().StringVar(&keyPath, "key", "server.key", "key output path")
	return cmd
}
