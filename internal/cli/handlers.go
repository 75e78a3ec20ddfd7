package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/juju/errors"

	"github.com/BartekS5/udmigrate/internal/config"
	"github.com/BartekS5/udmigrate/internal/etl"
	"github.com/BartekS5/udmigrate/internal/ledger"
	"github.com/BartekS5/udmigrate/internal/source"
	"github.com/BartekS5/udmigrate/internal/staging"
	"github.com/BartekS5/udmigrate/internal/transport"
	"github.com/BartekS5/udmigrate/internal/ud"
	"github.com/BartekS5/udmigrate/internal/vdi"
	"github.com/BartekS5/udmigrate/pkg/logger"
	"github.com/BartekS5/udmigrate/pkg/models"
)

func parseTypes(names []string) ([]etl.DatasetType, error) {
	var out []etl.DatasetType
	for _, name := range names {
		t, err := etl.ParseDatasetType(name)
		if err != nil {
			return nil, errors.Annotate(err, "--types")
		}
		out = append(out, t)
	}
	return out, nil
}

func failurePolicy(cfg *config.Config) etl.FailurePolicy {
	policy := etl.FailurePolicy{}
	if cfg.SkipFailedDownloads {
		policy[etl.StepDownload] = etl.SkipRecord
	}
	if cfg.SkipFailedShares {
		policy[etl.StepShareOffer] = etl.SkipRecord
		policy[etl.StepShareReceipt] = etl.SkipRecord
	}
	return policy
}

func newUDClient(cfg *config.Config) *ud.Client {
	return ud.NewClient(cfg.UDBaseURL, cfg.UDAuthTicket,
		transport.NewClient(ud.DownloadTimeout, cfg.InsecureSkipVerify))
}

func loadRecords(ctx context.Context, cfg *config.Config, udClient *ud.Client) ([]models.LegacyDataset, error) {
	loader := &source.Loader{
		Lister: udClient,
		HTTP:   udClient.HTTP,
		S3: source.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		},
	}
	return loader.Load(ctx, cfg.Source)
}

func runMigration(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	types, err := parseTypes(cfg.Types)
	if err != nil {
		return err
	}

	store, err := ledger.Open(ctx, cfg.LedgerLocation)
	if err != nil {
		return err
	}
	defer store.Close()

	udClient := newUDClient(cfg)
	records, err := loadRecords(ctx, cfg, udClient)
	if err != nil {
		return err
	}

	vdiClient := vdi.NewClient(cfg.VDIBaseURL, cfg.VDIAdminToken,
		transport.NewClient(vdi.RequestTimeout, cfg.InsecureSkipVerify))

	pipeline := etl.NewPipeline(
		store,
		etl.NewValidator(etl.NewWriterSink(out)),
		staging.NewStager(udClient, cfg.WorkDir),
		vdiClient,
		vdi.NewPoller(vdiClient, nil),
		vdiClient,
		etl.Options{
			CountLimit: cfg.CountLimit,
			ShareLimit: cfg.ShareLimit,
			Projects:   cfg.Projects,
			Types:      types,
			DryRun:     cfg.DryRun,
			Policy:     failurePolicy(cfg),
		},
	)

	if _, err := pipeline.Run(ctx, records); err != nil {
		return err
	}
	logger.Info("Migration finished successfully.")
	return nil
}

// runCheckLayout reports every in-scope owned dataset whose files would be
// rejected, without touching the ledger or either service.
func runCheckLayout(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if err := cfg.ValidateSource(); err != nil {
		return err
	}
	types, err := parseTypes(cfg.Types)
	if err != nil {
		return err
	}
	records, err := loadRecords(ctx, cfg, newUDClient(cfg))
	if err != nil {
		return err
	}

	validator := etl.NewValidator(etl.NewWriterSink(out))
	checked, irregular := 0, 0
	for i := range records {
		ds := &records[i]
		if !ds.IsOwnerRecord() || len(ds.Projects) == 0 {
			continue
		}
		if len(cfg.Projects) > 0 && !contains(cfg.Projects, ds.PrimaryProject()) {
			continue
		}
		if len(types) > 0 && !containsType(types, etl.DatasetType(ds.Type.Name)) {
			continue
		}
		checked++
		if _, err := validator.SelectFiles(ds); err != nil {
			if !errors.Is(err, etl.ErrIrregularLayout) {
				return err
			}
			irregular++
		}
	}
	logger.Infof("Checked %d dataset(s), %d irregular", checked, irregular)
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	if err := cfg.ValidateLedger(); err != nil {
		return nil, err
	}
	return ledger.Open(ctx, cfg.LedgerLocation)
}

func runLedgerStats(ctx context.Context, cfg *config.Config, out io.Writer) error {
	store, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "migrated\t%d\n", st.Owners)
	fmt.Fprintf(tw, "rejected by VDI\t%d\n", st.Invalid)
	fmt.Fprintf(tw, "shares accepted\t%d\n", st.Recipients)
	return tw.Flush()
}

func runLedgerShow(ctx context.Context, cfg *config.Config, arg string, out io.Writer) error {
	legacyID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return errors.NotValidf("UD id %q", arg)
	}

	store, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	owner, err := store.OwnerEntry(ctx, legacyID)
	if err != nil {
		return err
	}
	recipients, err := store.RecipientEntries(ctx, legacyID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "UD id\t%d\n", owner.LegacyID)
	fmt.Fprintf(tw, "VDI id\t%s\n", owner.DestinationID)
	fmt.Fprintf(tw, "owner\t%s\n", owner.OwnerUserID)
	fmt.Fprintf(tw, "type\t%s\n", owner.DatasetType)
	fmt.Fprintf(tw, "migrated\t%s\n", owner.Time.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(tw, "run\t%s\n", owner.RunID)
	if owner.Invalid() {
		fmt.Fprintf(tw, "rejected\t%s\n", owner.FailureMessage)
	}
	for _, r := range recipients {
		fmt.Fprintf(tw, "shared with\t%s (%s)\n", r.RecipientUserID, r.Time.Format("2006-01-02 15:04:05 MST"))
	}
	return tw.Flush()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(list []etl.DatasetType, t etl.DatasetType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
