// Package config collects run settings from flags, environment variables and
// an optional config file. Flags win over the environment, which wins over the
// file.
package config

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "UDMIGRATE"

// Setting keys. Flags use the same names.
const (
	KeyLedger             = "ledger"
	KeySource             = "source"
	KeyWorkDir            = "workdir"
	KeyUDURL              = "ud-url"
	KeyUDAuthTicket       = "ud-auth-tkt"
	KeyVDIURL             = "vdi-url"
	KeyVDIAdminToken      = "vdi-admin-token"
	KeyCountLimit         = "count-limit"
	KeyShareLimit         = "share-limit"
	KeyProjects           = "projects"
	KeyTypes              = "types"
	KeyDryRun             = "dry-run"
	KeyInsecureSkipVerify = "insecure-skip-verify"
	KeySkipFailedDownload = "skip-failed-downloads"
	KeySkipFailedShares   = "skip-failed-shares"
	KeyLogFile            = "log-file"
	KeyDebug              = "debug"
	KeyS3Endpoint         = "s3.endpoint"
	KeyS3AccessKey        = "s3.access-key"
	KeyS3SecretKey        = "s3.secret-key"
	KeyS3Region           = "s3.region"
	KeyS3UseSSL           = "s3.use-ssl"
)

type S3 struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

type Config struct {
	LedgerLocation string
	Source         string
	WorkDir        string

	UDBaseURL     string
	UDAuthTicket  string
	VDIBaseURL    string
	VDIAdminToken string

	CountLimit int
	ShareLimit int
	Projects   []string
	Types      []string
	DryRun     bool

	InsecureSkipVerify  bool
	SkipFailedDownloads bool
	SkipFailedShares    bool

	LogFile string
	Debug   bool

	S3 S3
}

// NewViper returns a viper instance with the environment bindings in place.
// Besides UDMIGRATE_<KEY>, the two credentials are also read from the bare
// UD_AUTH_TKT and VDI_ADMIN_TOKEN variables, and the S3 keys from the usual
// AWS variables.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		KeyUDAuthTicket:  {"UDMIGRATE_UD_AUTH_TKT", "UD_AUTH_TKT"},
		KeyVDIAdminToken: {"UDMIGRATE_VDI_ADMIN_TOKEN", "VDI_ADMIN_TOKEN"},
		KeyS3AccessKey:   {"UDMIGRATE_S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
		KeyS3SecretKey:   {"UDMIGRATE_S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
		KeyS3Region:      {"UDMIGRATE_S3_REGION", "AWS_REGION"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, errors.Annotatef(err, "binding %s", key)
		}
	}

	v.SetDefault(KeyWorkDir, ".")
	v.SetDefault(KeyShareLimit, -1)
	v.SetDefault(KeyS3UseSSL, true)
	return v, nil
}

// Load builds a Config from flags, the environment and, when configFile is
// set, that file (any format viper reads).
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.Annotate(err, "binding flags")
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "reading config file %s", configFile)
		}
	}
	return FromViper(v), nil
}

func FromViper(v *viper.Viper) *Config {
	cfg := &Config{
		LedgerLocation:      v.GetString(KeyLedger),
		Source:              v.GetString(KeySource),
		WorkDir:             v.GetString(KeyWorkDir),
		UDBaseURL:           strings.TrimRight(v.GetString(KeyUDURL), "/"),
		UDAuthTicket:        v.GetString(KeyUDAuthTicket),
		VDIBaseURL:          strings.TrimRight(v.GetString(KeyVDIURL), "/"),
		VDIAdminToken:       v.GetString(KeyVDIAdminToken),
		CountLimit:          v.GetInt(KeyCountLimit),
		ShareLimit:          v.GetInt(KeyShareLimit),
		Projects:            stringList(v, KeyProjects),
		Types:               stringList(v, KeyTypes),
		DryRun:              v.GetBool(KeyDryRun),
		InsecureSkipVerify:  v.GetBool(KeyInsecureSkipVerify),
		SkipFailedDownloads: v.GetBool(KeySkipFailedDownload),
		SkipFailedShares:    v.GetBool(KeySkipFailedShares),
		LogFile:             v.GetString(KeyLogFile),
		Debug:               v.GetBool(KeyDebug),
		S3: S3{
			Endpoint:  v.GetString(KeyS3Endpoint),
			AccessKey: v.GetString(KeyS3AccessKey),
			SecretKey: v.GetString(KeyS3SecretKey),
			Region:    v.GetString(KeyS3Region),
			UseSSL:    v.GetBool(KeyS3UseSSL),
		},
	}
	// Recipient shares follow the migration limit unless set on their own.
	if cfg.ShareLimit < 0 {
		cfg.ShareLimit = cfg.CountLimit
	}
	return cfg
}

// stringList accepts both real lists and the comma separated strings that come
// from environment variables.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	if s, ok := v.Get(key).(string); ok {
		raw = strings.Split(s, ",")
	} else {
		raw = v.GetStringSlice(key)
	}
	var out []string
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func invalid(format string, args ...interface{}) error {
	return errors.NewNotValid(nil, fmt.Sprintf(format, args...))
}

// ValidateLedger checks the settings every command needs.
func (c *Config) ValidateLedger() error {
	if c.LedgerLocation == "" {
		return invalid("missing --%s", KeyLedger)
	}
	return nil
}

// ValidateSource checks the settings needed to read the UD records.
func (c *Config) ValidateSource() error {
	if c.Source == "" {
		return invalid("missing --%s", KeySource)
	}
	if c.Source == "ud" && (c.UDBaseURL == "" || c.UDAuthTicket == "") {
		return invalid("reading the UD listing needs --%s and UD_AUTH_TKT", KeyUDURL)
	}
	return nil
}

// Validate checks everything a migration needs. A dry run never talks to VDI
// or downloads files, so it needs less.
func (c *Config) Validate() error {
	if err := c.ValidateLedger(); err != nil {
		return err
	}
	if err := c.ValidateSource(); err != nil {
		return err
	}
	if c.CountLimit < 0 {
		return invalid("--%s must not be negative", KeyCountLimit)
	}
	if c.DryRun {
		return nil
	}

	var missing []string
	for _, s := range []struct{ name, value string }{
		{"--" + KeyWorkDir, c.WorkDir},
		{"--" + KeyUDURL, c.UDBaseURL},
		{"UD_AUTH_TKT", c.UDAuthTicket},
		{"--" + KeyVDIURL, c.VDIBaseURL},
		{"VDI_ADMIN_TOKEN", c.VDIAdminToken},
	} {
		if s.value == "" {
			missing = append(missing, s.name)
		}
	}
	if len(missing) > 0 {
		return invalid("missing %s", strings.Join(missing, ", "))
	}
	return nil
}
