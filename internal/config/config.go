package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flexprice/revsync/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Configuration struct {
	Deployment     DeploymentConfig     `validate:"required"`
	Source         SourceConfig         `validate:"required"`
	ChartMogul     ChartMogulConfig     `validate:"required"`
	Sync           SyncConfig           `validate:"required"`
	Logging        LoggingConfig        `validate:"required"`
	Classification ClassificationConfig `validate:"required"`
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

// SourceConfig configures the billing source bulk-query client
type SourceConfig struct {
	BaseURL      string `validate:"required,url"`
	Username     string
	Password     string
	PollInterval time.Duration
	PollTimeout  time.Duration
}

type ChartMogulConfig struct {
	APIKey         string `validate:"required"`
	DataSourceName string `validate:"required"`
}

// SyncConfig tunes one reconciliation run
type SyncConfig struct {
	// UpdateMode tolerates duplicate-resource conflicts from the sink on
	// idempotent re-runs instead of failing the account
	UpdateMode bool
	// WriteOffMonths is how far past due an unpaid invoice must be
	// before its line items are written off as cancelled
	WriteOffMonths int `validate:"min=1"`
	// MaxConcurrentAccounts bounds the per-account fan-out
	MaxConcurrentAccounts int `validate:"min=1"`
	// SinkRequestsPerSecond caps the request rate against the sink
	SinkRequestsPerSecond float64 `validate:"gt=0"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

// ClassificationConfig is the versioned charge-name classification
// table. Charge names are business configuration: a new product SKU
// must be added here explicitly before it can be reconciled.
type ClassificationConfig struct {
	Version string `validate:"required"`
	// Rules maps a charge name to its category
	Rules map[string]types.ChargeCategory `validate:"required,min=1"`
}

// Categorize resolves a charge name against the table. The second
// return is false when the name is not configured at all.
func (c ClassificationConfig) Categorize(chargeName string) (types.ChargeCategory, bool) {
	category, ok := c.Rules[strings.TrimSpace(chargeName)]
	return category, ok
}

func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/revsync")

	// Set up environment variables support
	v.SetEnvPrefix("REVSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("deployment.mode", types.ModeLocal)
	v.SetDefault("logging.level", types.LogLevelInfo)
	v.SetDefault("source.pollinterval", 10*time.Second)
	v.SetDefault("source.polltimeout", 30*time.Minute)
	v.SetDefault("sync.updatemode", false)
	v.SetDefault("sync.writeoffmonths", 2)
	v.SetDefault("sync.maxconcurrentaccounts", 4)
	v.SetDefault("sync.sinkrequestspersecond", 5.0)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for local development
// and tests. The classification table mirrors the product catalog the
// fixtures use.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Sync: SyncConfig{
			WriteOffMonths:        2,
			MaxConcurrentAccounts: 1,
			SinkRequestsPerSecond: 5,
		},
		Classification: ClassificationConfig{
			Version: "test",
			Rules: map[string]types.ChargeCategory{
				"Users":                       types.ChargeCategoryBase,
				"Users - Proration":           types.ChargeCategoryProration,
				"Users - Proration Credit":    types.ChargeCategorySeatCredit,
				"Capacity":                    types.ChargeCategoryBase,
				"Capacity - Proration":        types.ChargeCategoryProration,
				"Capacity - Proration Credit": types.ChargeCategoryCapacityCredit,
				"Discount":                    types.ChargeCategoryDiscount,
				"Free Tier":                   types.ChargeCategoryIgnored,
			},
		},
	}
}
