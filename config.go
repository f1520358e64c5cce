package main

import (
	"fmt"
	"net"
	"time"

	"github.com/driftmail/keel/helpers"
)

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	TLSMode  bool   `toml:"tls_mode"`
	Debug    bool   `toml:"debug"`
}

// S3Config holds object store configuration.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseTLS    bool   `toml:"use_tls"`
}

// CacheConfig holds the local blob cache configuration.
type CacheConfig struct {
	Path          string `toml:"path"`
	Capacity      string `toml:"capacity"`
	MaxObjectSize string `toml:"max_object_size"`
	PurgeInterval string `toml:"purge_interval"`
}

func (c *CacheConfig) GetCapacity() (int64, error) {
	if c.Capacity == "" {
		c.Capacity = "1gb"
	}
	return helpers.ParseSize(c.Capacity)
}

func (c *CacheConfig) GetMaxObjectSize() (int64, error) {
	if c.MaxObjectSize == "" {
		c.MaxObjectSize = "5mb"
	}
	return helpers.ParseSize(c.MaxObjectSize)
}

func (c *CacheConfig) GetPurgeInterval() (time.Duration, error) {
	if c.PurgeInterval == "" {
		c.PurgeInterval = "12h"
	}
	return helpers.ParseDuration(c.PurgeInterval)
}

// IMAPIDConfig feeds the ID exchange (RFC 2971).
type IMAPIDConfig struct {
	Name       string `toml:"name"`
	Version    string `toml:"version"`
	Vendor     string `toml:"vendor"`
	SupportURL string `toml:"support_url"`
}

// IMAPConfig holds the IMAP listener configuration.
type IMAPConfig struct {
	Start          bool         `toml:"start"`
	Host           string       `toml:"host"`
	Port           string       `toml:"port"`
	MaxMessageSize string       `toml:"max_message_size"`
	MaxStorage     string       `toml:"max_storage"`
	TLS            bool         `toml:"tls"`
	TLSCertFile    string       `toml:"tls_cert_file"`
	TLSKeyFile     string       `toml:"tls_key_file"`
	InsecureAuth   bool         `toml:"insecure_auth"`
	Debug          bool         `toml:"debug"`
	ID             IMAPIDConfig `toml:"id"`
}

func (c *IMAPConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// GetMaxMessageSize caps APPEND and LMTP literals. Zero disables the
// cap.
func (c *IMAPConfig) GetMaxMessageSize() (int64, error) {
	if c.MaxMessageSize == "" {
		return 0, nil
	}
	return helpers.ParseSize(c.MaxMessageSize)
}

// GetMaxStorage is the default quota for users without one of their
// own. Zero means unlimited.
func (c *IMAPConfig) GetMaxStorage() (int64, error) {
	if c.MaxStorage == "" {
		return 0, nil
	}
	return helpers.ParseSize(c.MaxStorage)
}

// LMTPConfig holds the LMTP listener configuration.
type LMTPConfig struct {
	Start         bool   `toml:"start"`
	Host          string `toml:"host"`
	Port          string `toml:"port"`
	ExternalRelay string `toml:"external_relay"`
	TLSCertFile   string `toml:"tls_cert_file"`
	TLSKeyFile    string `toml:"tls_key_file"`
	Debug         bool   `toml:"debug"`
}

func (c *LMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// AuthConfig holds authentication tuning.
type AuthConfig struct {
	LoginLimit  int    `toml:"login_limit"`
	LoginWindow string `toml:"login_window"`
	TokenSecret string `toml:"token_secret"`
}

func (c *AuthConfig) GetLoginWindow() (time.Duration, error) {
	if c.LoginWindow == "" {
		c.LoginWindow = "60s"
	}
	return helpers.ParseDuration(c.LoginWindow)
}

// UploaderConfig holds upload worker configuration.
type UploaderConfig struct {
	Path          string `toml:"path"`
	BatchSize     int    `toml:"batch_size"`
	Concurrency   int    `toml:"concurrency"`
	RetryInterval string `toml:"retry_interval"`
}

func (c *UploaderConfig) GetRetryInterval() (time.Duration, error) {
	if c.RetryInterval == "" {
		c.RetryInterval = "30s"
	}
	return helpers.ParseDuration(c.RetryInterval)
}

// CleanerConfig holds cleanup worker configuration.
type CleanerConfig struct {
	Interval         string `toml:"interval"`
	GracePeriod      string `toml:"grace_period"`
	JournalRetention string `toml:"journal_retention"`
}

func (c *CleanerConfig) GetInterval() (time.Duration, error) {
	if c.Interval == "" {
		c.Interval = "1h"
	}
	return helpers.ParseDuration(c.Interval)
}

func (c *CleanerConfig) GetGracePeriod() (time.Duration, error) {
	if c.GracePeriod == "" {
		c.GracePeriod = "14d"
	}
	return helpers.ParseDuration(c.GracePeriod)
}

func (c *CleanerConfig) GetJournalRetention() (time.Duration, error) {
	if c.JournalRetention == "" {
		c.JournalRetention = "14d"
	}
	return helpers.ParseDuration(c.JournalRetention)
}

// MetricsConfig holds the Prometheus listener configuration.
type MetricsConfig struct {
	Start bool   `toml:"start"`
	Host  string `toml:"host"`
	Port  string `toml:"port"`
}

func (c *MetricsConfig) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// Config holds all configuration for the application.
type Config struct {
	LogOutput string         `toml:"log_output"`
	Database  DatabaseConfig `toml:"database"`
	S3        S3Config       `toml:"s3"`
	Cache     CacheConfig    `toml:"cache"`
	IMAP      IMAPConfig     `toml:"imap"`
	LMTP      LMTPConfig     `toml:"lmtp"`
	Auth      AuthConfig     `toml:"auth"`
	Uploader  UploaderConfig `toml:"uploader"`
	Cleaner   CleanerConfig  `toml:"cleaner"`
	Metrics   MetricsConfig  `toml:"metrics"`
}

func (c *Config) validate() error {
	if c.S3.AccessKey == "" || c.S3.SecretKey == "" || c.S3.Bucket == "" {
		return fmt.Errorf("missing S3 credentials: access_key, secret_key and bucket are required")
	}
	if !c.IMAP.Start && !c.LMTP.Start {
		return fmt.Errorf("no servers enabled: enable at least one of [imap] or [lmtp]")
	}
	return nil
}

// newDefaultConfig creates a Config struct with default values.
func newDefaultConfig() Config {
	return Config{
		LogOutput: "stderr",
		Database: DatabaseConfig{
			Host: "localhost",
			Port: "5432",
			User: "postgres",
			Name: "keel_mail_db",
		},
		Cache: CacheConfig{
			Path:          "/tmp/keel/cache",
			Capacity:      "1gb",
			MaxObjectSize: "5mb",
			PurgeInterval: "12h",
		},
		IMAP: IMAPConfig{
			Start: true,
			Host:  "",
			Port:  "143",
			ID: IMAPIDConfig{
				Name: "keel",
			},
		},
		LMTP: LMTPConfig{
			Start: true,
			Host:  "",
			Port:  "24",
		},
		Auth: AuthConfig{
			LoginLimit:  100,
			LoginWindow: "60s",
		},
		Uploader: UploaderConfig{
			Path:          "/tmp/keel/uploads",
			BatchSize:     10,
			Concurrency:   20,
			RetryInterval: "30s",
		},
		Cleaner: CleanerConfig{
			Interval:         "1h",
			GracePeriod:      "14d",
			JournalRetention: "14d",
		},
		Metrics: MetricsConfig{
			Start: false,
			Host:  "localhost",
			Port:  "9090",
		},
	}
}
