package cli

import (
	"github.com/spf13/cobra"

	"github.com/BartekS5/udmigrate/internal/config"
	"github.com/BartekS5/udmigrate/pkg/logger"
)

// GlobalOptions is filled in before any subcommand runs.
type GlobalOptions struct {
	ConfigFile string
	Config     *config.Config
}

func (g *GlobalOptions) init(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags(), g.ConfigFile)
	if err != nil {
		return err
	}
	level := logger.INFO
	if cfg.Debug {
		level = logger.DEBUG
	}
	if err := logger.InitLogger(cfg.LogFile, level); err != nil {
		return err
	}
	g.Config = cfg
	return nil
}

func NewRootCmd() *cobra.Command {
	opts := &GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "udmigrate",
		Short: "udmigrate - migrate User Datasets into VDI",
		Long: `udmigrate copies user datasets and their shares from the legacy User Datasets
service into VDI. A ledger records every migrated dataset and accepted share, so
the migration can be re-run until it reports nothing left to do.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.ConfigFile, "config", "", "Config file (yaml, json or toml)")
	pf.String(config.KeyLedger, "", "Ledger: a sqlite file path, or a mongodb://, sqlserver://, mysql:// or postgres:// URL")
	pf.String(config.KeySource, "", "UD records: a JSON snapshot path, an http(s):// or s3:// URL, or \"ud\" for the live listing")
	pf.String(config.KeyUDURL, "", "UD service base URL")
	pf.Bool(config.KeyInsecureSkipVerify, false, "Skip TLS certificate verification")
	pf.String(config.KeyLogFile, "", "Also write logs to this file")
	pf.Bool(config.KeyDebug, false, "Debug logging")

	rootCmd.AddCommand(NewMigrateCmd(opts), NewLedgerCmd(opts), NewCheckLayoutCmd(opts))

	return rootCmd
}
