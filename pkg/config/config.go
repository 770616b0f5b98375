// Package config loads the assessor configuration from YAML, applies
// defaults and environment overrides, and validates the result.
package config

import (
	"time"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	"github.com/jphoke/mailtls-assessor/pkg/certchain"
	"github.com/jphoke/mailtls-assessor/pkg/rules"
	"github.com/jphoke/mailtls-assessor/pkg/scanner"
	"github.com/jphoke/mailtls-assessor/pkg/trust"
)

// Config is the complete service configuration.
type Config struct {
	Mode    string `yaml:"mode" validate:"oneof=chain matrix"`
	Workers int    `yaml:"workers" validate:"min=1,max=512"`
	// HostTimeout bounds the wall-clock time spent on one host.
	HostTimeout       time.Duration `yaml:"host_timeout" validate:"min=1s"`
	MatrixConcurrency int           `yaml:"matrix_concurrency" validate:"min=1,max=64"`

	Batch        BatchConfig       `yaml:"batch"`
	SMTP         SMTPConfig        `yaml:"smtp"`
	DNS          DNSConfig         `yaml:"dns"`
	Queue        QueueConfig       `yaml:"queue"`
	Redis        RedisConfig       `yaml:"redis"`
	Database     DatabaseConfig    `yaml:"database"`
	Publish      PublishConfig     `yaml:"publish"`
	Certificates CertificateConfig `yaml:"certificates"`
	Revocation   RevocationConfig  `yaml:"revocation"`
	Trust        TrustConfig       `yaml:"trust"`
	Ciphers      CipherConfig      `yaml:"ciphers"`
	HTTP         HTTPConfig        `yaml:"http"`
	Log          LogConfig         `yaml:"log"`
}

// BatchConfig controls how results are grouped before publishing.
type BatchConfig struct {
	Size          int           `yaml:"size" validate:"min=1,max=10000"`
	FlushInterval time.Duration `yaml:"flush_interval" validate:"min=10ms"`
}

// SMTPConfig configures the handshake driver.
type SMTPConfig struct {
	Port           int           `yaml:"port" validate:"min=1,max=65535"`
	EHLOName       string        `yaml:"ehlo_name" validate:"required,hostname_rfc1123"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"min=100ms"`
	IOTimeout      time.Duration `yaml:"io_timeout" validate:"min=100ms"`
}

// DNSConfig configures host resolution.
type DNSConfig struct {
	Servers []string      `yaml:"servers" validate:"dive,required"`
	Timeout time.Duration `yaml:"timeout" validate:"min=100ms"`
}

// QueueConfig selects the host queue.
type QueueConfig struct {
	Driver       string        `yaml:"driver" validate:"oneof=redis postgres"`
	Key          string        `yaml:"key" validate:"required_if=Driver redis"`
	Table        string        `yaml:"table" validate:"required_if=Driver postgres"`
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=10ms"`
}

// RedisConfig locates the Redis server.
type RedisConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

// DatabaseConfig locates the Postgres server.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// PublishConfig enables result publishers.
type PublishConfig struct {
	RedisChannel  string `yaml:"redis_channel"`
	PostgresTable string `yaml:"postgres_table"`
	Stream        bool   `yaml:"stream"`
}

// CertificateConfig holds the certificate thresholds.
type CertificateConfig struct {
	MinRSABits        int `yaml:"min_rsa_bits" validate:"min=1024"`
	MinECBits         int `yaml:"min_ec_bits" validate:"min=160"`
	ExpiryWarningDays int `yaml:"expiry_warning_days" validate:"min=0"`
}

// RevocationConfig controls OCSP and CRL checking.
type RevocationConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Timeout  time.Duration `yaml:"timeout" validate:"min=100ms"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"min=0"`
	Cache    string        `yaml:"cache" validate:"oneof=memory redis"`
}

// TrustConfig locates the trusted roots.
type TrustConfig struct {
	File   string `yaml:"file"`
	Dir    string `yaml:"dir"`
	System bool   `yaml:"system"`
}

// CipherConfig overrides the cipher policy. Names are IANA suite names.
type CipherConfig struct {
	Recommended []string `yaml:"recommended"`
	Weak        []string `yaml:"weak"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Listen string `yaml:"listen" validate:"required"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Human bool   `yaml:"human"`
}

// Default returns the configuration used when a value is not set.
func Default() Config {
	return Config{
		Mode:              string(assess.ModeChain),
		Workers:           8,
		HostTimeout:       2 * time.Minute,
		MatrixConcurrency: 4,
		Batch:             BatchConfig{Size: 20, FlushInterval: 5 * time.Second},
		SMTP: SMTPConfig{
			Port:           25,
			EHLOName:       "mailtls-assessor.localdomain",
			ConnectTimeout: 10 * time.Second,
			IOTimeout:      30 * time.Second,
		},
		DNS:   DNSConfig{Timeout: 5 * time.Second},
		Queue: QueueConfig{Driver: "redis", Key: "mailtls:hosts", Table: "assessment_queue", PollInterval: time.Second},
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		Publish: PublishConfig{
			RedisChannel: "mailtls:results",
			Stream:       true,
		},
		Certificates: CertificateConfig{MinRSABits: 2048, MinECBits: 256, ExpiryWarningDays: 30},
		Revocation:   RevocationConfig{Enabled: true, Timeout: 10 * time.Second, CacheTTL: time.Hour, Cache: "memory"},
		Trust:        TrustConfig{System: true},
		HTTP:         HTTPConfig{Listen: ":8080"},
		Log:          LogConfig{Level: "info"},
	}
}

// DriverConfig is the handshake driver configuration.
func (c Config) DriverConfig() scanner.Config {
	return scanner.Config{
		Port:           c.SMTP.Port,
		EHLOName:       c.SMTP.EHLOName,
		ConnectTimeout: c.SMTP.ConnectTimeout,
		IOTimeout:      c.SMTP.IOTimeout,
	}
}

// Thresholds are the certificate thresholds.
func (c Config) Thresholds() certchain.Thresholds {
	return certchain.Thresholds{
		MinRSABits:    c.Certificates.MinRSABits,
		MinECDSABits:  c.Certificates.MinECBits,
		ExpiryWarning: time.Duration(c.Certificates.ExpiryWarningDays) * 24 * time.Hour,
	}
}

// TrustOptions are the root store sources.
func (c Config) TrustOptions() trust.LoadOptions {
	return trust.LoadOptions{File: c.Trust.File, Dir: c.Trust.Dir, System: c.Trust.System}
}

// Policy builds the cipher policy. Unset lists keep the defaults.
func (c Config) Policy() (rules.CipherPolicy, error) {
	return rules.NewPolicy(c.Ciphers.Recommended, c.Ciphers.Weak)
}

// AssessConfig is the per-host assessor configuration.
func (c Config) AssessConfig() (assess.Config, error) {
	policy, err := c.Policy()
	if err != nil {
		return assess.Config{}, err
	}
	return assess.Config{
		Mode:        assess.Mode(c.Mode),
		Concurrency: c.MatrixConcurrency,
		Policy:      policy,
	}, nil
}
