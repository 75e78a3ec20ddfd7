package cli

import (
	"github.com/spf13/cobra"

	"github.com/BartekS5/udmigrate/internal/config"
)

func NewMigrateCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate datasets, then accept their shares",
		Long: `Runs the owner pass, which uploads every owned dataset not yet in the ledger and
offers its shares, followed by the recipient pass, which accepts the shares of
migrated datasets. Datasets with an irregular file layout are reported on stdout.`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runMigration(c.Context(), g.Config, c.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringP(config.KeyWorkDir, "w", ".", "Working directory for downloads")
	f.String(config.KeyVDIURL, "", "VDI service base URL")
	f.IntP(config.KeyCountLimit, "n", 0, "Stop after migrating this many datasets (0 = no limit)")
	f.Int(config.KeyShareLimit, -1, "Stop after accepting this many shares (default: the count limit)")
	addScopeFlags(cmd)
	f.Bool(config.KeyDryRun, false, "Decide and validate layouts without downloading, uploading or writing the ledger")
	f.Bool(config.KeySkipFailedDownload, false, "Skip a dataset whose files cannot be downloaded instead of stopping")
	f.Bool(config.KeySkipFailedShares, false, "Carry on when a share offer or receipt is refused instead of stopping")

	return cmd
}

func NewCheckLayoutCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-layout",
		Short: "Report owned datasets whose files do not fit their type",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runCheckLayout(c.Context(), g.Config, c.OutOrStdout())
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP(config.KeyProjects, "p", nil, "Only datasets whose primary project is one of these")
	cmd.Flags().StringSlice(config.KeyTypes, nil, "Only these dataset types (GeneList, RnaSeq, BIOM, ISA, BigwigFiles)")
}

func NewLedgerCmd(g *GlobalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the migration ledger",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count ledger entries",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return runLedgerStats(c.Context(), g.Config, c.OutOrStdout())
		},
	}

	show := &cobra.Command{
		Use:   "show <ud-id>",
		Short: "Show what the ledger knows about one UD dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runLedgerShow(c.Context(), g.Config, args[0], c.OutOrStdout())
		},
	}

	cmd.AddCommand(stats, show)
	return cmd
}
