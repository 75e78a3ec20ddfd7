package etl

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/BartekS5/udmigrate/internal/ledger"
	"github.com/BartekS5/udmigrate/internal/source"
	"github.com/BartekS5/udmigrate/internal/vdi"
	"github.com/BartekS5/udmigrate/pkg/logger"
	"github.com/BartekS5/udmigrate/pkg/models"
)

// Options scope a run. Zero limits mean no limit.
type Options struct {
	CountLimit int
	ShareLimit int
	// Projects restricts the owner pass to datasets whose primary project is
	// listed. Empty means every project.
	Projects []string
	// Types restricts the owner pass to these dataset types. Empty means all.
	Types  []DatasetType
	DryRun bool
	Policy FailurePolicy
	RunID  string
}

// Pipeline migrates a snapshot of UD records into VDI in two phases: the
// owner pass uploads datasets and offers their shares, the recipient pass
// accepts those shares on behalf of the recipients. The ledger makes both
// phases safe to repeat.
type Pipeline struct {
	Ledger     ledger.Store
	Validator  *Validator
	Translator *Transformer
	Stager     Stager
	Uploader   Uploader
	Waiter     CompletionWaiter
	Sharer     Sharer
	Options    Options

	log *zap.SugaredLogger
}

func NewPipeline(store ledger.Store, validator *Validator, stager Stager, uploader Uploader,
	waiter CompletionWaiter, sharer Sharer, opts Options) *Pipeline {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Pipeline{
		Ledger:     store,
		Validator:  validator,
		Translator: NewTransformer(),
		Stager:     stager,
		Uploader:   uploader,
		Waiter:     waiter,
		Sharer:     sharer,
		Options:    opts,
	}
}

// runState is what the two phases share within one run.
type runState struct {
	stats Stats
	// invalid holds legacy ids whose import VDI rejected during this run.
	invalid map[int64]bool
}

// Run executes both phases over records, which must not be modified while the
// run is in progress. Records are processed in ascending id order in the owner
// pass regardless of input order. The returned stats are valid even when an
// error aborts the run.
func (p *Pipeline) Run(ctx context.Context, records []models.LegacyDataset) (Stats, error) {
	if p.log == nil {
		p.log = logger.With("run", p.Options.RunID)
	}
	state := &runState{invalid: map[int64]bool{}}
	start := time.Now()

	p.log.Infof("Starting migration of %d record(s). Limit: %d, Share limit: %d, Projects: %v, DryRun: %v",
		len(records), p.Options.CountLimit, p.Options.ShareLimit, p.Options.Projects, p.Options.DryRun)

	sorted := make([]models.LegacyDataset, len(records))
	copy(sorted, records)
	source.SortByID(sorted)

	if err := p.ownerPass(ctx, sorted, state); err != nil {
		p.log.Errorf("Owner pass aborted: %v", err)
		return state.stats, err
	}
	p.log.Infof("Owner pass done: %s", state.stats.OwnerSummary())

	if err := p.recipientPass(ctx, records, state); err != nil {
		p.log.Errorf("Recipient pass aborted: %v", err)
		return state.stats, err
	}
	p.log.Infof("Recipient pass done: shared=%d already-shared=%d invalid=%d not-yet-migrated=%d receipt-skipped=%d",
		state.stats.Shared, state.stats.AlreadyShared, state.stats.ShareSkippedInvalid,
		state.stats.NotYetMigrated, state.stats.ReceiptSkipped)

	p.log.Infof("SUMMARY: %s in %s", state.stats, time.Since(start).Round(time.Second))
	return state.stats, nil
}

func (p *Pipeline) inScope(ds *models.LegacyDataset) bool {
	if len(p.Options.Projects) > 0 && !containsString(p.Options.Projects, ds.PrimaryProject()) {
		return false
	}
	if len(p.Options.Types) > 0 && !containsType(p.Options.Types, DatasetType(ds.Type.Name)) {
		return false
	}
	return true
}

func (p *Pipeline) ownerPass(ctx context.Context, records []models.LegacyDataset, state *runState) error {
	for i := range records {
		ds := &records[i]
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}

		if len(ds.Projects) == 0 || !p.inScope(ds) {
			state.stats.Ignored++
			continue
		}
		if !ds.IsOwnerRecord() {
			continue
		}

		done, err := p.Ledger.HasOwnerEntry(ctx, ds.ID)
		if err != nil {
			return errors.Annotatef(err, "checking ledger for UD %d", ds.ID)
		}
		if done {
			state.stats.AlreadyMigrated++
			continue
		}

		if limit := p.Options.CountLimit; limit > 0 && state.stats.Migrated >= limit {
			p.log.Infof("Reached migration limit of %d", limit)
			break
		}

		if err := p.migrate(ctx, ds, state); err != nil {
			return err
		}
	}
	return nil
}

// migrate moves one owner record. Per-record problems are counted and
// swallowed; the returned error stops the run.
func (p *Pipeline) migrate(ctx context.Context, ds *models.LegacyDataset, state *runState) error {
	files, err := p.Validator.SelectFiles(ds)
	if errors.Is(err, ErrIrregularLayout) {
		state.stats.Irregular++
		p.log.Warnf("UD %d (%s) has an irregular file layout, skipping", ds.ID, ds.Type.Name)
		return nil
	}
	if err != nil {
		return err
	}

	if p.Options.DryRun {
		p.log.Infof("[DRY RUN] Would migrate UD %d (%s, %d file(s)) for user %s",
			ds.ID, ds.Type.Name, len(files), ds.OwnerUserID)
		state.stats.Migrated++
		return nil
	}

	p.log.Infof("Migrating UD %d (%s) owned by %s", ds.ID, ds.Type.Name, ds.OwnerUserID)

	dir, err := p.Stager.Prepare()
	if err != nil {
		return errors.Trace(err)
	}
	if err := p.Stager.Stage(ctx, files, ds.OwnerUserID, ds.ID, dir); err != nil {
		if p.Options.Policy.tolerate(StepDownload, err) {
			state.stats.DownloadSkipped++
			p.log.Warnf("Skipping UD %d, download failed: %v", ds.ID, err)
			return nil
		}
		return errors.Annotatef(err, "staging UD %d", ds.ID)
	}
	archive, err := p.Stager.Package(dir)
	if err != nil {
		return errors.Annotatef(err, "packaging UD %d", ds.ID)
	}

	actor := vdi.ActingAs(ds.OwnerUserID)
	destID, err := p.Uploader.Submit(ctx, p.Translator.Translate(ds), archive, actor)
	if err != nil {
		return errors.Annotatef(err, "uploading UD %d", ds.ID)
	}
	p.log.Infof("UD %d uploaded as VDI %s, waiting for import", ds.ID, destID)

	failure, err := p.Waiter.AwaitCompletion(ctx, destID, actor)
	if err != nil {
		return errors.Annotatef(err, "waiting for import of UD %d (VDI %s)", ds.ID, destID)
	}

	if failure != "" {
		state.invalid[ds.ID] = true
		p.log.Warnf("VDI rejected UD %d (VDI %s): %s", ds.ID, destID, failure)
	} else if recipients := shareRecipients(ds); len(recipients) > 0 {
		if err := p.Sharer.OfferShares(ctx, destID, recipients, actor); err != nil {
			if !p.Options.Policy.tolerate(StepShareOffer, err) {
				return errors.Annotatef(err, "offering shares of UD %d (VDI %s)", ds.ID, destID)
			}
			// The dataset exists in VDI now, so it is still recorded below.
			state.stats.OfferSkipped++
			p.log.Warnf("Share offers for UD %d (VDI %s) failed: %v", ds.ID, destID, err)
		}
	}

	entry := ledger.OwnerEntry{
		LegacyID:       ds.ID,
		DestinationID:  destID,
		OwnerUserID:    ds.OwnerUserID,
		DatasetType:    ds.Type.Name,
		FailureMessage: failure,
		RunID:          p.Options.RunID,
	}
	if err := p.Ledger.AppendOwnerEntry(ctx, entry); err != nil {
		return errors.Annotatef(err, "recording UD %d as VDI %s", ds.ID, destID)
	}

	state.stats.Migrated++
	if failure != "" {
		state.stats.Invalid++
	}
	return nil
}

func (p *Pipeline) recipientPass(ctx context.Context, records []models.LegacyDataset, state *runState) error {
	for i := range records {
		ds := &records[i]
		if ds.IsOwnerRecord() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}

		if state.invalid[ds.ID] {
			state.stats.ShareSkippedInvalid++
			continue
		}
		owner, err := p.Ledger.OwnerEntry(ctx, ds.ID)
		if errors.Is(err, errors.NotFound) {
			state.stats.NotYetMigrated++
			continue
		}
		if err != nil {
			return errors.Annotatef(err, "reading ledger for UD %d", ds.ID)
		}
		if owner.Invalid() {
			state.stats.ShareSkippedInvalid++
			continue
		}

		shared, err := p.Ledger.HasRecipientEntry(ctx, ds.ID, ds.UserID)
		if err != nil {
			return errors.Annotatef(err, "checking ledger for UD %d share to %s", ds.ID, ds.UserID)
		}
		if shared {
			state.stats.AlreadyShared++
			continue
		}

		if limit := p.Options.ShareLimit; limit > 0 && state.stats.Shared >= limit {
			p.log.Infof("Reached share limit of %d", limit)
			break
		}

		if p.Options.DryRun {
			p.log.Infof("[DRY RUN] Would accept share of VDI %s (UD %d) for user %s", owner.DestinationID, ds.ID, ds.UserID)
			state.stats.Shared++
			continue
		}

		if err := p.Sharer.AcceptShare(ctx, owner.DestinationID, ds.UserID, vdi.ActingAs(ds.OwnerUserID)); err != nil {
			if p.Options.Policy.tolerate(StepShareReceipt, err) {
				state.stats.ReceiptSkipped++
				p.log.Warnf("Share receipt for UD %d to user %s failed: %v", ds.ID, ds.UserID, err)
				continue
			}
			return errors.Annotatef(err, "accepting share of UD %d (VDI %s) for user %s", ds.ID, owner.DestinationID, ds.UserID)
		}

		entry := ledger.RecipientEntry{
			LegacyID:        ds.ID,
			DestinationID:   owner.DestinationID,
			RecipientUserID: ds.UserID,
			DatasetType:     ds.Type.Name,
			RunID:           p.Options.RunID,
		}
		if err := p.Ledger.AppendRecipientEntry(ctx, entry); err != nil {
			return errors.Annotatef(err, "recording share of UD %d to user %s", ds.ID, ds.UserID)
		}
		state.stats.Shared++
		p.log.Infof("Shared VDI %s (UD %d) with user %s", owner.DestinationID, ds.ID, ds.UserID)
	}
	return nil
}

// shareRecipients lists each distinct recipient of ds once, in listing order.
func shareRecipients(ds *models.LegacyDataset) []models.UserID {
	seen := map[models.UserID]bool{ds.OwnerUserID: true}
	var out []models.UserID
	for _, s := range ds.SharedWith {
		if seen[s.User] {
			continue
		}
		seen[s.User] = true
		out = append(out, s.User)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(list []DatasetType, t DatasetType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}
