// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var ErrMissing = errors.New("config: required setting missing")

type Config struct {
	ServiceName string
	Env         string
	LogLevel    string
	LogFile     string
	Port        int
	// TimeZone renders order times for clients.
	TimeZone string

	APIKey          string
	ProviderBaseURL string
	Country         int

	AuthorizedIDs string
	AdminIDs      string

	OrderStorePath string
	AuditLogPath   string
	CompletionDir  string
	CatalogPath    string

	EwalletURL string
	// EwalletAccountTypes maps wallet type to its account_type token, from "dana=..,ovo=..".
	EwalletAccountTypes map[string]string

	WebhookURL string

	PollCadence       time.Duration
	MaxPollCycles     int
	ProvisionalCancel time.Duration
	NoSMSTimeout      time.Duration
	CancelGrace       time.Duration
	ShutdownTimeout   time.Duration
}

var defaults = map[string]any{
	"SERVICE_NAME":        "otpbroker",
	"ENV":                 "dev",
	"LOG_LEVEL":           "info",
	"LOG_FILE":            "",
	"PORT":                5000,
	"TIMEZONE":            "Asia/Jakarta",
	"SMSVIRTUAL_BASE_URL": "https://api.smsvirtual.co/v1/",
	"COUNTRY_ID":          7,
	"ORDER_STORE_PATH":    "order_storage.json",
	"AUDIT_LOG_PATH":      "logorder.txt",
	"COMPLETION_DIR":      ".",
	"CATALOG_PATH":        "serviceotp.txt",
	"POLL_CADENCE":        "10s",
	"MAX_POLL_CYCLES":     60,
	"PROVISIONAL_CANCEL":  "130s",
	"NO_SMS_TIMEOUT":      "600s",
	"CANCEL_GRACE":        "5s",
	"SHUTDOWN_TIMEOUT":    "10s",
}

// Load reads envFile when it exists, then the process environment. Values
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing file is fine: deployments configure through the environment.
		_ = godotenv.Load(envFile)
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ServiceName:         v.GetString("SERVICE_NAME"),
		Env:                 v.GetString("ENV"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFile:             v.GetString("LOG_FILE"),
		Port:                v.GetInt("PORT"),
		TimeZone:            v.GetString("TIMEZONE"),
		APIKey:              strings.TrimSpace(v.GetString("SMSVIRTUAL_API_KEY")),
		ProviderBaseURL:     v.GetString("SMSVIRTUAL_BASE_URL"),
		Country:             v.GetInt("COUNTRY_ID"),
		AuthorizedIDs:       v.GetString("AUTHORIZED_IDS"),
		AdminIDs:            v.GetString("ADMIN_IDS"),
		OrderStorePath:      v.GetString("ORDER_STORE_PATH"),
		AuditLogPath:        v.GetString("AUDIT_LOG_PATH"),
		CompletionDir:       v.GetString("COMPLETION_DIR"),
		CatalogPath:         v.GetString("CATALOG_PATH"),
		EwalletURL:          v.GetString("EWALLET_URL"),
		EwalletAccountTypes: parsePairs(v.GetString("EWALLET_ACCOUNT_TYPES")),
		WebhookURL:          v.GetString("WEBHOOK_URL"),
		PollCadence:         v.GetDuration("POLL_CADENCE"),
		MaxPollCycles:       v.GetInt("MAX_POLL_CYCLES"),
		ProvisionalCancel:   v.GetDuration("PROVISIONAL_CANCEL"),
		NoSMSTimeout:        v.GetDuration("NO_SMS_TIMEOUT"),
		CancelGrace:         v.GetDuration("CANCEL_GRACE"),
		ShutdownTimeout:     v.GetDuration("SHUTDOWN_TIMEOUT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, fmt.Errorf("%w: SMSVIRTUAL_API_KEY", ErrMissing))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: PORT %d out of range", c.Port))
	}
	if c.PollCadence <= 0 || c.MaxPollCycles <= 0 {
		errs = append(errs, errors.New("config: poll cadence and cycles must be positive"))
	}
	if c.NoSMSTimeout <= 0 || c.ProvisionalCancel <= 0 {
		errs = append(errs, errors.New("config: timeouts must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }

// Location resolves TimeZone, falling back to the process zone.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

// parsePairs reads "k=v,k2=v2". Malformed items are skipped.
func parsePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(item), "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			continue
		}
		out[strings.ToLower(k)] = val
	}
	return out
}
