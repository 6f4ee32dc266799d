package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/lottery_dapp/internal/config"
	"github.com/R3E-Network/lottery_dapp/pkg/logger"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	envFile   string
	rpcURL    string
	programID string
	keypair   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "lottery",
		Short:        "Solana lottery client",
		Long:         `Serve the lottery session over HTTP, or probe a ledger node and the lottery program.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "optional .env file with LOTTERY_* variables")
	flags.StringVar(&opts.rpcURL, "rpc-url", "", "ledger RPC endpoint (overrides the network profile)")
	flags.StringVar(&opts.programID, "program-id", "", "lottery program address (overrides the network profile)")
	flags.StringVar(&opts.keypair, "keypair", "", "wallet keypair file (default ~/.config/solana/id.json)")

	cmd.AddCommand(
		newServeCmd(opts),
		newProbeCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the environment then applies flags.
func (o *rootOptions) load(network, mode string) (*config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(config.Overrides{
		Network:     network,
		RPCURL:      o.rpcURL,
		ProgramID:   o.programID,
		KeypairPath: o.keypair,
		Mode:        mode,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logger.Logger {
	return logger.New(logger.Config{
		Name:   "lottery",
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lottery %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
