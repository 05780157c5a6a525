package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	APIKey      string `mapstructure:"API_KEY"`
	PracticeID  string `mapstructure:"PRACTICE_ID"`

	// External collaborators.
	AddressVerifyURL    string `mapstructure:"ADDRESS_VERIFY_URL"`
	AddressVerifyKey    string `mapstructure:"ADDRESS_VERIFY_KEY"`
	RegistryURL         string `mapstructure:"REGISTRY_URL"`
	RegistryKey         string `mapstructure:"REGISTRY_KEY"`
	CarrierURL          string `mapstructure:"CARRIER_URL"`
	CarrierKey          string `mapstructure:"CARRIER_KEY"`
	ClearinghouseURL    string `mapstructure:"CLEARINGHOUSE_URL"`
	ClearinghouseKey    string `mapstructure:"CLEARINGHOUSE_KEY"`
	CollaboratorTimeout int    `mapstructure:"COLLABORATOR_TIMEOUT_SECONDS"`

	// Stage tuning.
	ValidationBatchCap   int `mapstructure:"VALIDATION_BATCH_CAP"`
	DuplicateGroupCap    int `mapstructure:"DUPLICATE_GROUP_CAP"`
	SyncBatchCap         int `mapstructure:"SYNC_BATCH_CAP"`
	OrderUploadCap       int `mapstructure:"ORDER_UPLOAD_CAP"`
	OrderUploadBatchSize int `mapstructure:"ORDER_UPLOAD_BATCH_SIZE"`
	ShardSize            int `mapstructure:"SHARD_SIZE"`
	SyncSkipMode         bool `mapstructure:"SYNC_SKIP_MODE"`

	// Program rules.
	CanonicalCarrier   string   `mapstructure:"CANONICAL_CARRIER"`
	EligibleCarriers   []string `mapstructure:"ELIGIBLE_CARRIERS"`
	MinorBirthYear     int      `mapstructure:"MINOR_BIRTH_YEAR_CUTOFF"`
	UnitsPerClaimUnit  int      `mapstructure:"UNITS_PER_CLAIM_UNIT"`
	InHouseMaxQuantity int      `mapstructure:"IN_HOUSE_MAX_QUANTITY"`
	LowVolumeStates    []string `mapstructure:"LOW_VOLUME_STATES"`

	// Registry defaults for dependent resources.
	RegistryDefaultProvider string `mapstructure:"REGISTRY_DEFAULT_PROVIDER"`
	RegistryDefaultLocation string `mapstructure:"REGISTRY_DEFAULT_LOCATION"`
	RegistryDefaultInsurer  string `mapstructure:"REGISTRY_DEFAULT_INSURER"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("PRACTICE_ID", "default")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("COLLABORATOR_TIMEOUT_SECONDS", 30)
	v.SetDefault("VALIDATION_BATCH_CAP", 500)
	v.SetDefault("DUPLICATE_GROUP_CAP", 25)
	v.SetDefault("SYNC_BATCH_CAP", 500)
	v.SetDefault("ORDER_UPLOAD_CAP", 4000)
	v.SetDefault("ORDER_UPLOAD_BATCH_SIZE", 100)
	v.SetDefault("SHARD_SIZE", 50)
	v.SetDefault("SYNC_SKIP_MODE", false)
	v.SetDefault("CANONICAL_CARRIER", "Kitflow Health Plan")
	v.SetDefault("ELIGIBLE_CARRIERS", "Kitflow Health Plan")
	v.SetDefault("MINOR_BIRTH_YEAR_CUTOFF", 2008)
	v.SetDefault("UNITS_PER_CLAIM_UNIT", 2)
	v.SetDefault("IN_HOUSE_MAX_QUANTITY", 8)
	v.SetDefault("LOW_VOLUME_STATES", "AK,HI,MT,WY,VT")
	v.SetDefault("REGISTRY_DEFAULT_PROVIDER", "")
	v.SetDefault("REGISTRY_DEFAULT_LOCATION", "")
	v.SetDefault("REGISTRY_DEFAULT_INSURER", "")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "API_KEY", "PRACTICE_ID",
		"ADDRESS_VERIFY_URL", "ADDRESS_VERIFY_KEY",
		"REGISTRY_URL", "REGISTRY_KEY",
		"CARRIER_URL", "CARRIER_KEY",
		"CLEARINGHOUSE_URL", "CLEARINGHOUSE_KEY",
		"COLLABORATOR_TIMEOUT_SECONDS",
		"VALIDATION_BATCH_CAP", "DUPLICATE_GROUP_CAP", "SYNC_BATCH_CAP",
		"ORDER_UPLOAD_CAP", "ORDER_UPLOAD_BATCH_SIZE", "SHARD_SIZE", "SYNC_SKIP_MODE",
		"CANONICAL_CARRIER", "ELIGIBLE_CARRIERS", "MINOR_BIRTH_YEAR_CUTOFF",
		"UNITS_PER_CLAIM_UNIT", "IN_HOUSE_MAX_QUANTITY", "LOW_VOLUME_STATES",
		"REGISTRY_DEFAULT_PROVIDER", "REGISTRY_DEFAULT_LOCATION", "REGISTRY_DEFAULT_INSURER",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated lists arrive as a single string when set via env, and
	// viper's own split keeps the whitespace around each element.
	if s := v.GetString("ELIGIBLE_CARRIERS"); s != "" {
		cfg.EligibleCarriers = splitTrimmed(s)
	}
	if s := v.GetString("LOW_VOLUME_STATES"); s != "" {
		cfg.LowVolumeStates = splitTrimmed(s)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); API key auth is disabled.")
	}

	return cfg, nil
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// the ops API must be protected, and every configured stage cap has to be
// positive so candidate queries stay bounded.
func (c *Config) Validate() error {
	if !c.IsDev() && c.APIKey == "" {
		return fmt.Errorf("API_KEY is required when ENV is not development")
	}
	for name, v := range map[string]int{
		"VALIDATION_BATCH_CAP":    c.ValidationBatchCap,
		"DUPLICATE_GROUP_CAP":     c.DuplicateGroupCap,
		"SYNC_BATCH_CAP":          c.SyncBatchCap,
		"ORDER_UPLOAD_CAP":        c.OrderUploadCap,
		"ORDER_UPLOAD_BATCH_SIZE": c.OrderUploadBatchSize,
		"SHARD_SIZE":              c.ShardSize,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.MinorBirthYear <= 1900 {
		return fmt.Errorf("MINOR_BIRTH_YEAR_CUTOFF must be a plausible year, got %d", c.MinorBirthYear)
	}
	return nil
}
