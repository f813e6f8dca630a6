// Package config loads and validates shadowd's single JSON configuration
// document, following the same load-then-validate-then-decode shape the
// teacher's internal/config.Init uses for its own ProgramConfig: read
// the file, validate it against a JSON Schema, then decode with
// DisallowUnknownFields so typos in a config file fail loudly instead
// of being silently ignored.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// StorageConfig selects and configures the primary and, optionally, a
// cold-archival mirror storage backend.
type StorageConfig struct {
	SqlitePath string `json:"sqlite-path"`

	S3 *S3Config `json:"s3,omitempty"`
}

// S3Config configures the optional cold-archival mirror.
type S3Config struct {
	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	AccessKey    string `json:"access-key"`
	SecretKey    string `json:"secret-key"`
	Region       string `json:"region"`
	UsePathStyle bool   `json:"use-path-style"`
}

// NatsConfig configures the connection to the fabric's NATS deployment.
type NatsConfig struct {
	URL         string `json:"url"`
	Credentials string `json:"credentials-file,omitempty"`
}

// SubscriptionConfig holds subscription interval and backoff bounds.
// Init rejects a minimum above the maximum; the values are not passed
// to the subscription engine (C4), which uses its own fixed bounds.
type SubscriptionConfig struct {
	MinIntervalSeconds uint32 `json:"min-interval-seconds"`
	MaxIntervalSeconds uint32 `json:"max-interval-seconds"`
	MaxBackoffSeconds  int    `json:"max-backoff-seconds"`
}

// AuthConfig configures bearer-token authentication for the write and
// invoke control-plane endpoints.
type AuthConfig struct {
	Disabled      bool   `json:"disabled"`
	PublicKey     string `json:"public-key"`
	PrivateKey    string `json:"private-key,omitempty"`
	TokenMaxAgeMs int64  `json:"token-max-age-ms,omitempty"`
}

// TokenMaxAge is AuthConfig.TokenMaxAgeMs as a time.Duration, or zero
// (no expiry) if unset.
func (a AuthConfig) TokenMaxAge() time.Duration {
	return time.Duration(a.TokenMaxAgeMs) * time.Millisecond
}

// ProgramConfig is the root shape of shadowd's configuration file.
type ProgramConfig struct {
	Addr            string `json:"addr"`
	MetricsAddr     string `json:"metrics-addr"`
	WorkQueueRate   float64 `json:"work-queue-rate-per-second"`
	FlushIntervalMs int64   `json:"flush-interval-ms"`

	Storage      StorageConfig      `json:"storage"`
	Nats         NatsConfig         `json:"nats"`
	Subscription SubscriptionConfig `json:"subscription"`
	Auth         AuthConfig         `json:"auth"`
}

// FlushInterval is FlushIntervalMs as a time.Duration.
func (c ProgramConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// Keys holds the process-wide configuration, populated by Init.
var Keys = ProgramConfig{
	Addr:            ":8080",
	MetricsAddr:     ":9090",
	WorkQueueRate:   50,
	FlushIntervalMs: 30000,
	Storage:         StorageConfig{SqlitePath: "./var/shadow.db"},
	Nats:            NatsConfig{URL: "nats://127.0.0.1:4222"},
	Subscription: SubscriptionConfig{
		MinIntervalSeconds: 1,
		MaxIntervalSeconds: 60,
		MaxBackoffSeconds:  3600,
	},
	Auth: AuthConfig{Disabled: true},
}

// Init reads the config file at path, validates it against Schema, and
// decodes it over the defaults in Keys. A missing file is not an
// error: the defaults above are used as-is, the same convenience the
// teacher's Init extends for an absent config.json.
func Init(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Fatal(err)
		}
		return
	}

	if err := Validate(Schema, bytes.NewReader(raw)); err != nil {
		cclog.Fatalf("config: validate %s: %v", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Fatal(err)
	}

	if Keys.Subscription.MinIntervalSeconds > Keys.Subscription.MaxIntervalSeconds {
		cclog.Fatal("config: subscription.min-interval-seconds must not exceed max-interval-seconds")
	}
}
