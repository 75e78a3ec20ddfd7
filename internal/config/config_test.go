package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String(KeyLedger, "", "")
	fs.String(KeySource, "", "")
	fs.String(KeyVDIURL, "", "")
	fs.Int(KeyCountLimit, 0, "")
	fs.Int(KeyShareLimit, -1, "")
	fs.StringSlice(KeyProjects, nil, "")
	fs.Bool(KeyDryRun, false, "")
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadPrefersFlagsOverEnv(t *testing.T) {
	t.Setenv("UDMIGRATE_LEDGER", "from-env.db")
	t.Setenv("UDMIGRATE_SOURCE", "snapshot.json")

	cfg, err := Load(testFlags(t, "--ledger", "from-flag.db", "--projects", "PlasmoDB,ToxoDB"), "")
	require.NoError(t, err)
	assert.Equal(t, "from-flag.db", cfg.LedgerLocation)
	assert.Equal(t, "snapshot.json", cfg.Source)
	assert.Equal(t, []string{"PlasmoDB", "ToxoDB"}, cfg.Projects)
}

func TestLoadReadsBareCredentialVariables(t *testing.T) {
	t.Setenv("UD_AUTH_TKT", "ticket")
	t.Setenv("VDI_ADMIN_TOKEN", "admin")
	t.Setenv("UDMIGRATE_TYPES", "GeneList, BIOM")

	cfg, err := Load(testFlags(t), "")
	require.NoError(t, err)
	assert.Equal(t, "ticket", cfg.UDAuthTicket)
	assert.Equal(t, "admin", cfg.VDIAdminToken)
	assert.Equal(t, []string{"GeneList", "BIOM"}, cfg.Types)
}

func TestShareLimitFollowsCountLimit(t *testing.T) {
	cfg, err := Load(testFlags(t, "--count-limit", "25"), "")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.CountLimit)
	assert.Equal(t, 25, cfg.ShareLimit)

	cfg, err = Load(testFlags(t, "--count-limit", "25", "--share-limit", "0"), "")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.ShareLimit)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udmigrate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger: sqlite://ledger.db
vdi-url: https://vdi.example.org/
s3:
  endpoint: minio.internal:9000
  use-ssl: false
`), 0o644))

	cfg, err := Load(testFlags(t), path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite://ledger.db", cfg.LedgerLocation)
	assert.Equal(t, "https://vdi.example.org", cfg.VDIBaseURL)
	assert.Equal(t, "minio.internal:9000", cfg.S3.Endpoint)
	assert.False(t, cfg.S3.UseSSL)
	assert.Equal(t, ".", cfg.WorkDir)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(testFlags(t), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	full := Config{
		LedgerLocation: "ledger.db",
		Source:         "snapshot.json",
		WorkDir:        "/tmp/work",
		UDBaseURL:      "https://ud",
		UDAuthTicket:   "tkt",
		VDIBaseURL:     "https://vdi",
		VDIAdminToken:  "admin",
	}
	require.NoError(t, full.Validate())

	missing := full
	missing.VDIAdminToken = ""
	missing.UDBaseURL = ""
	err := missing.Validate()
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.EqualError(t, err, "missing --ud-url, VDI_ADMIN_TOKEN")

	dry := missing
	dry.DryRun = true
	assert.NoError(t, dry.Validate())

	noLedger := full
	noLedger.LedgerLocation = ""
	assert.EqualError(t, noLedger.Validate(), "missing --ledger")

	listing := full
	listing.Source = "ud"
	listing.UDAuthTicket = ""
	assert.Error(t, listing.ValidateSource())

	negative := full
	negative.CountLimit = -1
	assert.Error(t, negative.Validate())
}
