// cli.go holds the pairlinkctl CLI entrypoint (Main), default constants and flags.
package pairlinkcli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const (
	defaultServer  = "http://127.0.0.1:8080"
	defaultLimit   = 100
	defaultTimeout = 30 * time.Second
)

var (
	flagServer string
	flagToken  string
)

var rootCmd = &cobra.Command{
	Use:   "pairlinkctl",
	Short: "Chat CLI: send messages, tail conversations, check presence and unread counts.",
	Long: `Pairlinkctl talks to a running pairlink server over its HTTP API.
The caller identity comes from the bearer token; the server derives
conversations from the token subject and the counterpart argument.

  Quickstart:
    pairlinkctl channels                     # list your conversations
    pairlinkctl send doctor-1 "hello"        # send a message
    pairlinkctl tail doctor-1                # follow a conversation live
    pairlinkctl presence doctor-1            # is the counterpart online?

  Configuration (.pairlink/config.yaml in the working directory or home):
    server: http://127.0.0.1:8080
    token_from_env: PAIRLINK_TOKEN`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "Server base URL (default: config or "+defaultServer+")")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Bearer token (default: config token or token_from_env)")
	rootCmd.AddCommand(sendCmd, tailCmd, readCmd, unreadCmd, channelsCmd, presenceCmd, rosterCmd)
}

// client loads the local config, merges in the persistent flags and returns
// a ready API client.
func client() (*apiClient, localConfig, error) {
	cfg, _, err := loadLocalConfig()
	if err != nil {
		return nil, localConfig{}, err
	}
	return newAPIClient(resolveEffectiveClient(cfg, flagServer, flagToken)), cfg, nil
}

// commandContext returns a context canceled on SIGINT/SIGTERM. Short-lived
// commands additionally get a timeout; tail runs until interrupted.
func commandContext(withTimeout bool) (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if !withTimeout {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, defaultTimeout)
	return tctx, func() {
		tcancel()
		cancel()
	}
}

// Main runs the pairlinkctl CLI.
func Main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
