package etl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/udmigrate/internal/ledger"
	"github.com/BartekS5/udmigrate/internal/transport"
	"github.com/BartekS5/udmigrate/internal/vdi"
	"github.com/BartekS5/udmigrate/pkg/models"
)

type fakeStager struct {
	staged   []int64
	stageErr error
}

func (s *fakeStager) Prepare() (string, error) { return "/scratch/download", nil }

func (s *fakeStager) Stage(_ context.Context, _ []string, _ models.UserID, legacyID int64, _ string) error {
	if s.stageErr != nil {
		return s.stageErr
	}
	s.staged = append(s.staged, legacyID)
	return nil
}

func (s *fakeStager) Package(dir string) (string, error) { return dir + "/dataset.tgz", nil }

type share struct {
	dest      string
	recipient models.UserID
	actor     models.UserID
}

// fakeVDI plays uploader, waiter and sharer. Datasets are keyed by name,
// which the tests set to "ud-<id>".
type fakeVDI struct {
	submitted []string
	rejected  map[string]string
	offers    []share
	accepts   []share
	offerErr  error
	acceptErr error
}

func (v *fakeVDI) Submit(_ context.Context, payload models.CreatePayload, archive string, actor vdi.Actor) (string, error) {
	v.submitted = append(v.submitted, payload.Name)
	return "vdi-" + payload.Name, nil
}

func (v *fakeVDI) AwaitCompletion(_ context.Context, id string, _ vdi.Actor) (string, error) {
	return v.rejected[strings.TrimPrefix(id, "vdi-")], nil
}

func (v *fakeVDI) OfferShares(_ context.Context, id string, recipients []models.UserID, actor vdi.Actor) error {
	if v.offerErr != nil {
		return v.offerErr
	}
	for _, r := range recipients {
		v.offers = append(v.offers, share{dest: id, recipient: r, actor: actor.UserID})
	}
	return nil
}

func (v *fakeVDI) AcceptShare(_ context.Context, id string, recipient models.UserID, actor vdi.Actor) error {
	if v.acceptErr != nil {
		return v.acceptErr
	}
	v.accepts = append(v.accepts, share{dest: id, recipient: recipient, actor: actor.UserID})
	return nil
}

type harness struct {
	store  ledger.Store
	stager *fakeStager
	vdi    *fakeVDI
	sink   *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return &harness{
		store:  store,
		stager: &fakeStager{},
		vdi:    &fakeVDI{rejected: map[string]string{}},
		sink:   &bytes.Buffer{},
	}
}

func (h *harness) pipeline(opts Options) *Pipeline {
	return NewPipeline(h.store, NewValidator(NewWriterSink(h.sink)), h.stager, h.vdi, h.vdi, h.vdi, opts)
}

func (h *harness) run(t *testing.T, opts Options, records []models.LegacyDataset) Stats {
	t.Helper()
	stats, err := h.pipeline(opts).Run(context.Background(), records)
	require.NoError(t, err)
	return stats
}

func owned(id int64, owner models.UserID, typ string, files []string, sharedWith ...models.UserID) models.LegacyDataset {
	ds := models.LegacyDataset{
		ID:          id,
		OwnerUserID: owner,
		UserID:      owner,
		Type:        models.TypeInfo{Name: typ, Version: "1"},
		Projects:    []string{"PlasmoDB"},
		Meta:        models.Meta{Name: fmt.Sprintf("ud-%d", id)},
	}
	for _, f := range files {
		ds.Datafiles = append(ds.Datafiles, models.DataFile{Name: f, Size: 10})
	}
	for _, u := range sharedWith {
		ds.SharedWith = append(ds.SharedWith, models.ShareGrant{User: u})
	}
	return ds
}

func geneList(id int64, owner models.UserID, sharedWith ...models.UserID) models.LegacyDataset {
	return owned(id, owner, "GeneList", []string{"genelist.txt"}, sharedWith...)
}

// recipientRow is the listing entry the recipient sees for a shared dataset.
func recipientRow(ds models.LegacyDataset, recipient models.UserID) models.LegacyDataset {
	ds.UserID = recipient
	return ds
}

func TestOwnerPassRunsInAscendingOrder(t *testing.T) {
	h := newHarness(t)
	records := []models.LegacyDataset{geneList(30, 1), geneList(10, 1), geneList(20, 2)}

	stats := h.run(t, Options{}, records)
	assert.Equal(t, []string{"ud-10", "ud-20", "ud-30"}, h.vdi.submitted)
	assert.Equal(t, []int64{10, 20, 30}, h.stager.staged)
	assert.Equal(t, 3, stats.Migrated)
}

func TestSecondRunDoesNothing(t *testing.T) {
	h := newHarness(t)
	ds := geneList(1, 7, 8, 9)
	records := []models.LegacyDataset{ds, recipientRow(ds, 8), recipientRow(ds, 9), geneList(2, 7)}

	first := h.run(t, Options{}, records)
	assert.Equal(t, 2, first.Migrated)
	assert.Equal(t, 2, first.Shared)

	h.vdi.submitted = nil
	h.vdi.accepts = nil
	second := h.run(t, Options{}, records)
	assert.Empty(t, h.vdi.submitted)
	assert.Empty(t, h.vdi.accepts)
	assert.Equal(t, 0, second.Migrated)
	assert.Equal(t, 2, second.AlreadyMigrated)
	assert.Equal(t, 0, second.Shared)
	assert.Equal(t, 2, second.AlreadyShared)

	stats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.Stats{Owners: 2, Recipients: 2}, stats)
}

func TestProjectScope(t *testing.T) {
	h := newHarness(t)
	toxo := geneList(2, 1)
	toxo.Projects = []string{"ToxoDB", "PlasmoDB"}
	none := geneList(3, 1)
	none.Projects = nil

	stats := h.run(t, Options{Projects: []string{"PlasmoDB"}}, []models.LegacyDataset{geneList(1, 1), toxo, none})
	assert.Equal(t, []string{"ud-1"}, h.vdi.submitted)
	assert.Equal(t, 2, stats.Ignored)
}

func TestNoProjectsIsIgnoredWithoutFilter(t *testing.T) {
	h := newHarness(t)
	ds := geneList(1, 1)
	ds.Projects = nil

	stats := h.run(t, Options{}, []models.LegacyDataset{ds})
	assert.Empty(t, h.vdi.submitted)
	assert.Equal(t, 1, stats.Ignored)
}

func TestTypeFilter(t *testing.T) {
	h := newHarness(t)
	records := []models.LegacyDataset{
		geneList(1, 1),
		owned(2, 1, "BIOM", []string{"otu.biom"}),
	}

	stats := h.run(t, Options{Types: []DatasetType{BIOM}}, records)
	assert.Equal(t, []string{"ud-2"}, h.vdi.submitted)
	assert.Equal(t, 1, stats.Ignored)
}

func TestCountLimitMigratesExactlyN(t *testing.T) {
	h := newHarness(t)
	var records []models.LegacyDataset
	for id := int64(1); id <= 5; id++ {
		records = append(records, geneList(id, 1))
	}

	stats := h.run(t, Options{CountLimit: 2}, records)
	assert.Equal(t, 2, stats.Migrated)
	assert.Equal(t, []string{"ud-1", "ud-2"}, h.vdi.submitted)

	// The next run picks up where the ledger says this one stopped.
	h.vdi.submitted = nil
	stats = h.run(t, Options{CountLimit: 2}, records)
	assert.Equal(t, 2, stats.Migrated)
	assert.Equal(t, 2, stats.AlreadyMigrated)
	assert.Equal(t, []string{"ud-3", "ud-4"}, h.vdi.submitted)
}

func TestInvalidImportCountsTowardLimit(t *testing.T) {
	h := newHarness(t)
	h.vdi.rejected["ud-1"] = "bad gene ids"

	stats := h.run(t, Options{CountLimit: 1}, []models.LegacyDataset{geneList(1, 1), geneList(2, 1)})
	assert.Equal(t, 1, stats.Migrated)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, []string{"ud-1"}, h.vdi.submitted)
}

func TestIrregularLayoutIsReportedAndSkipped(t *testing.T) {
	h := newHarness(t)
	records := []models.LegacyDataset{
		owned(1, 1, "GeneList", []string{"genes.csv"}),
		owned(2, 1, "RnaSeq", []string{"a.txt", "b.txt"}),
		owned(3, 1, "RnaSeq", []string{"manifest.txt", "a.txt"}),
	}

	stats := h.run(t, Options{CountLimit: 1}, records)
	assert.Equal(t, []string{"ud-3"}, h.vdi.submitted)
	assert.Equal(t, 2, stats.Irregular)
	assert.Equal(t, 1, stats.Migrated)
	assert.Equal(t,
		"BUM UD: 1\tGeneList\tgenes.csv\nBUM UD: 2\tRnaSeq\ta.txt, b.txt\n",
		h.sink.String())

	has, err := h.store.HasOwnerEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestUnknownTypeAbortsRun(t *testing.T) {
	h := newHarness(t)
	records := []models.LegacyDataset{owned(1, 1, "Spreadsheet", []string{"x.xls"}), geneList(2, 1)}

	_, err := h.pipeline(Options{}).Run(context.Background(), records)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotSupported), "got %v", err)
	assert.Empty(t, h.vdi.submitted)
}

func TestSharesOfferedAsOwnerAndAcceptedAsOwner(t *testing.T) {
	h := newHarness(t)
	ds := geneList(5, 7, 8, 9, 8)
	records := []models.LegacyDataset{recipientRow(ds, 8), ds, recipientRow(ds, 9)}

	stats := h.run(t, Options{}, records)
	assert.Equal(t, []share{
		{dest: "vdi-ud-5", recipient: 8, actor: 7},
		{dest: "vdi-ud-5", recipient: 9, actor: 7},
	}, h.vdi.offers)
	assert.Equal(t, []share{
		{dest: "vdi-ud-5", recipient: 8, actor: 7},
		{dest: "vdi-ud-5", recipient: 9, actor: 7},
	}, h.vdi.accepts)
	assert.Equal(t, 2, stats.Shared)

	entries, err := h.store.RecipientEntries(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "vdi-ud-5", entries[0].DestinationID)
}

func TestInvalidImportSuppressesSharing(t *testing.T) {
	h := newHarness(t)
	h.vdi.rejected["ud-1"] = "unknown gene ids, empty file"
	ds := geneList(1, 7, 8)
	records := []models.LegacyDataset{ds, recipientRow(ds, 8)}

	stats := h.run(t, Options{}, records)
	assert.Empty(t, h.vdi.offers)
	assert.Empty(t, h.vdi.accepts)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 1, stats.ShareSkippedInvalid)

	entry, err := h.store.OwnerEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "unknown gene ids, empty file", entry.FailureMessage)

	// A later run learns the rejection from the ledger alone.
	stats = h.run(t, Options{}, records)
	assert.Empty(t, h.vdi.accepts)
	assert.Equal(t, 1, stats.ShareSkippedInvalid)
	assert.Equal(t, 1, stats.AlreadyMigrated)
}

func TestShareNeedsMigratedOwner(t *testing.T) {
	h := newHarness(t)
	ds := geneList(1, 7, 8)
	ds.Projects = []string{"ToxoDB"}
	records := []models.LegacyDataset{ds, recipientRow(ds, 8)}

	stats := h.run(t, Options{Projects: []string{"PlasmoDB"}}, records)
	assert.Empty(t, h.vdi.accepts)
	assert.Equal(t, 1, stats.NotYetMigrated)
	assert.Equal(t, 0, stats.Shared)
}

func TestShareLimit(t *testing.T) {
	h := newHarness(t)
	ds := geneList(1, 7, 8, 9, 10)
	records := []models.LegacyDataset{ds, recipientRow(ds, 8), recipientRow(ds, 9), recipientRow(ds, 10)}

	stats := h.run(t, Options{ShareLimit: 2}, records)
	assert.Equal(t, 2, stats.Shared)
	assert.Len(t, h.vdi.accepts, 2)
}

func TestDownloadFailureAbortsByDefault(t *testing.T) {
	h := newHarness(t)
	h.stager.stageErr = &transport.RequestError{Op: "downloading from UD service", Method: http.MethodGet, URL: "https://ud/x", StatusCode: 404}

	stats, err := h.pipeline(Options{}).Run(context.Background(), []models.LegacyDataset{geneList(1, 1), geneList(2, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Empty(t, h.vdi.submitted)
	assert.Equal(t, 0, stats.Migrated)
}

func TestDownloadFailureSkippedByPolicy(t *testing.T) {
	h := newHarness(t)
	h.stager.stageErr = &transport.RequestError{Op: "downloading from UD service", Method: http.MethodGet, URL: "https://ud/x", StatusCode: 404}

	stats := h.run(t, Options{Policy: FailurePolicy{StepDownload: SkipRecord}}, []models.LegacyDataset{geneList(1, 1), geneList(2, 1)})
	assert.Equal(t, 2, stats.DownloadSkipped)
	assert.Empty(t, h.vdi.submitted)

	has, err := h.store.HasOwnerEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestLocalErrorsAreNeverSkipped(t *testing.T) {
	h := newHarness(t)
	h.stager.stageErr = errors.New("disk full")

	_, err := h.pipeline(Options{Policy: FailurePolicy{StepDownload: SkipRecord}}).
		Run(context.Background(), []models.LegacyDataset{geneList(1, 1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestOfferFailureStillRecordsOwner(t *testing.T) {
	h := newHarness(t)
	h.vdi.offerErr = &transport.RequestError{Op: "offering share", Method: http.MethodPut, URL: "https://vdi/x", StatusCode: 500}

	stats := h.run(t, Options{Policy: FailurePolicy{StepShareOffer: SkipRecord}}, []models.LegacyDataset{geneList(1, 7, 8)})
	assert.Equal(t, 1, stats.OfferSkipped)
	assert.Equal(t, 1, stats.Migrated)

	has, err := h.store.HasOwnerEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestReceiptFailureAbortsByDefault(t *testing.T) {
	h := newHarness(t)
	h.vdi.acceptErr = &transport.RequestError{Op: "accepting share", Method: http.MethodPut, URL: "https://vdi/x", StatusCode: 403}
	ds := geneList(1, 7, 8)

	stats, err := h.pipeline(Options{}).Run(context.Background(), []models.LegacyDataset{ds, recipientRow(ds, 8)})
	require.Error(t, err)
	assert.Equal(t, 1, stats.Migrated)

	has, err := h.store.HasRecipientEntry(context.Background(), 1, 8)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDryRunChangesNothing(t *testing.T) {
	h := newHarness(t)
	ds := geneList(1, 7, 8)
	records := []models.LegacyDataset{ds, recipientRow(ds, 8), owned(2, 7, "GeneList", []string{"bad.txt"})}

	stats := h.run(t, Options{DryRun: true}, records)
	assert.Equal(t, 1, stats.Migrated)
	assert.Equal(t, 1, stats.Irregular)
	assert.Empty(t, h.stager.staged)
	assert.Empty(t, h.vdi.submitted)
	assert.Contains(t, h.sink.String(), "BUM UD: 2")

	ledgerStats, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ledger.Stats{}, ledgerStats)
}

func TestRunIDIsStampedOnEntries(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(Options{})
	require.NotEmpty(t, p.Options.RunID)

	_, err := p.Run(context.Background(), []models.LegacyDataset{geneList(1, 1)})
	require.NoError(t, err)

	entry, err := h.store.OwnerEntry(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, p.Options.RunID, entry.RunID)
	assert.Equal(t, "vdi-ud-1", entry.DestinationID)
	assert.Equal(t, "GeneList", entry.DatasetType)
}

func TestIsRecoverable(t *testing.T) {
	reqErr := &transport.RequestError{Op: "x", Method: http.MethodGet, URL: "u", StatusCode: 502}
	assert.True(t, IsRecoverable(reqErr))
	assert.True(t, IsRecoverable(errors.Annotate(reqErr, "staging UD 1")))
	assert.False(t, IsRecoverable(errors.New("disk full")))
	assert.False(t, IsRecoverable(errors.Timeoutf("import of VDI x")))
	assert.False(t, IsRecoverable(&transport.RequestError{Op: "x", Err: context.Canceled}))
	assert.False(t, IsRecoverable(nil))
}
