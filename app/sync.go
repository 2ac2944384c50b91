package app

import (
	"github.com/spf13/cobra"

	"github.com/GateWarden/GateWarden/internal/config"
	"github.com/GateWarden/GateWarden/internal/daemon"
)

func init() { //nolint: gochecknoinits
	syncCmd.Flags().StringVar(&configPath, "config", "", "Path to the configuration directory")
	syncCmd.Flags().Uint64Var(&syncConnectionID, "connection", 0, "Connection ID to sync")

	if err := syncCmd.MarkFlagRequired("connection"); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(syncCmd)
}

var (
	syncConnectionID uint64

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run a single directory sync for one connection and exit",
		PreRun: func(_ *cobra.Command, _ []string) {
			if cfg, err = config.ReadConfig(configPath); err != nil {
				panic(err)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return daemon.SyncOnce(cmd.Context(), &cfg, uint(syncConnectionID)) //nolint:wrapcheck
		},
	}
)
