// Package config loads evidence pipeline configuration from defaults, an
// optional YAML file and EVIDENCE_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/kms"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/kms/credentials"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "EVIDENCE_"

// Storage backends
const (
	BackendSQLite  = "sqlite"
	BackendMongoDB = "mongodb"
	BackendMemory  = "memory"
)

// Audit logger types
const (
	AuditStdout = "stdout"
	AuditMemory = "memory"
)

// Config is the root configuration
type Config struct {
	CollectorID       string               `yaml:"collectorId" env:"COLLECTOR_ID"`
	HashChain         bool                 `yaml:"hashChain" env:"HASH_CHAIN"`
	VerifyConcurrency int                  `yaml:"verifyConcurrency" env:"VERIFY_CONCURRENCY"`
	LogLevel          string               `yaml:"logLevel" env:"LOG_LEVEL"`
	Storage           StorageConfig        `yaml:"storage" envPrefix:"STORAGE_"`
	KMS               KMSConfig            `yaml:"kms" envPrefix:"KMS_"`
	Keys              KeysConfig           `yaml:"keys" envPrefix:"KEYS_"`
	Cache             types.CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
	Audit             types.AuditLogConfig `yaml:"audit" envPrefix:"AUDIT_"`

	// RunLogPath is the append-only verification run log; empty disables it
	RunLogPath string `yaml:"runLogPath" env:"RUN_LOG_PATH"`

	// CredentialsKey is the base64 key that opens ENC[...] KMS credentials.
	// It is only read from the environment.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// StorageConfig selects and configures the record backend
type StorageConfig struct {
	Backend       string `yaml:"backend" env:"BACKEND"`
	SQLitePath    string `yaml:"sqlitePath" env:"SQLITE_PATH"`
	MongoURI      string `yaml:"mongoUri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongoDatabase" env:"MONGO_DATABASE"`
}

// KMSConfig configures the key encryption key provider.
// An aead provider without a key runs on an ephemeral in-memory KEK.
type KMSConfig struct {
	Provider     types.ProviderType   `yaml:"provider" env:"PROVIDER"`
	KeyID        string               `yaml:"keyId" env:"KEY_ID"`
	KeyBase64    string               `yaml:"keyBase64" env:"KEY_BASE64"`
	Region       string               `yaml:"region" env:"REGION"`
	VaultAddress string               `yaml:"vaultAddress" env:"VAULT_ADDRESS"`
	VaultMount   string               `yaml:"vaultMount" env:"VAULT_MOUNT"`
	ResourceName string               `yaml:"resourceName" env:"RESOURCE_NAME"`
	Credentials  types.KMSCredentials `yaml:"credentials" envPrefix:"CREDENTIALS_"`
}

// KeysConfig configures data keys
type KeysConfig struct {
	Algorithm   types.Algorithm `yaml:"algorithm" env:"ALGORITHM"`
	RotateAfter time.Duration   `yaml:"rotateAfter" env:"ROTATE_AFTER"`
}

// Default returns the built-in configuration: SQLite storage, an ephemeral
// local KEK, AES-256-GCM data keys and stdout audit logging.
func Default() Config {
	return Config{
		CollectorID:       "collector-01",
		VerifyConcurrency: 8,
		LogLevel:          zerolog.InfoLevel.String(),
		Storage: StorageConfig{
			Backend:       BackendSQLite,
			SQLitePath:    "evidence.db",
			MongoDatabase: "evidence",
		},
		KMS:  KMSConfig{Provider: types.ProviderAead},
		Keys: KeysConfig{Algorithm: types.AlgorithmAES256GCM},
		Cache: types.CacheConfig{
			Enabled: true,
			TTL:     types.DefaultCacheTTLMinutes,
		},
		Audit: types.AuditLogConfig{Enabled: true, Type: AuditStdout},
	}
}

// Load applies the YAML file at path (if any) and then the environment over Default
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.openCredentials(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) openCredentials() error {
	if !credentials.HasSealed(c.KMS.Credentials) {
		return nil
	}
	if c.CredentialsKey == "" {
		return fmt.Errorf("kms credentials: %w (set %sCREDENTIALS_KEY)", credentials.ErrKeyRequired, EnvPrefix)
	}
	sealer, err := credentials.NewSealerFromBase64(c.CredentialsKey)
	if err != nil {
		return fmt.Errorf("kms credentials: %w", err)
	}
	if err := sealer.OpenCredentials(&c.KMS.Credentials); err != nil {
		return fmt.Errorf("kms credentials: %w", err)
	}
	return nil
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if strings.TrimSpace(c.CollectorID) == "" {
		return fmt.Errorf("collectorId is required")
	}
	if c.VerifyConcurrency < 0 {
		return fmt.Errorf("verifyConcurrency cannot be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
	}
	if err := validateStorage(c.Storage); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}
	if err := validateKMS(c.KMS); err != nil {
		return fmt.Errorf("invalid kms configuration: %w", err)
	}
	switch c.Keys.Algorithm {
	case "", types.AlgorithmAES256GCM, types.AlgorithmChaCha20Poly1305:
	default:
		return fmt.Errorf("unsupported key algorithm: %s", c.Keys.Algorithm)
	}
	if c.Keys.RotateAfter < 0 {
		return fmt.Errorf("keys.rotateAfter cannot be negative")
	}
	if c.Audit.Enabled {
		switch c.Audit.Type {
		case AuditStdout, AuditMemory:
		default:
			return fmt.Errorf("unsupported audit logger type: %s", c.Audit.Type)
		}
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch s.Backend {
	case BackendSQLite:
		if strings.TrimSpace(s.SQLitePath) == "" {
			return fmt.Errorf("sqlitePath is required for the sqlite backend")
		}
	case BackendMongoDB:
		if s.MongoURI == "" {
			return fmt.Errorf("mongoUri is required for the mongodb backend")
		}
		if s.MongoDatabase == "" {
			return fmt.Errorf("mongoDatabase is required for the mongodb backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unsupported backend: %q", s.Backend)
	}
	return nil
}

func validateKMS(k KMSConfig) error {
	switch k.Provider {
	case types.ProviderAead:
	case types.ProviderAWS, types.ProviderAzure, types.ProviderVault:
		if k.KeyID == "" {
			return fmt.Errorf("keyId is required for provider %s", k.Provider)
		}
	case types.ProviderGCP:
		if k.ResourceName == "" {
			return fmt.Errorf("resourceName is required for provider %s", k.Provider)
		}
	default:
		return fmt.Errorf("unsupported provider: %q", k.Provider)
	}
	return nil
}

// Ephemeral reports whether the KEK is generated in memory for this process
func (k KMSConfig) Ephemeral() bool {
	return k.Provider == types.ProviderAead && k.KeyBase64 == ""
}

// ProviderConfig converts to the kms package configuration
func (k KMSConfig) ProviderConfig() kms.Config {
	var creds *types.KMSCredentials
	if !k.Credentials.IsZero() {
		c := k.Credentials
		creds = &c
	}

	cfg := kms.Config{Type: k.Provider}
	switch k.Provider {
	case types.ProviderAWS:
		cfg.AWS = &kms.AWSConfig{KeyID: k.KeyID, Region: k.Region, Credentials: creds}
	case types.ProviderAzure:
		cfg.Azure = &kms.AzureConfig{KeyID: k.KeyID, VaultAddress: k.VaultAddress, Credentials: creds}
	case types.ProviderGCP:
		cfg.GCP = &kms.GCPConfig{ResourceName: k.ResourceName, Credentials: creds}
	case types.ProviderVault:
		cfg.Vault = &kms.VaultConfig{KeyID: k.KeyID, VaultAddress: k.VaultAddress, VaultMount: k.VaultMount, Credentials: creds}
	case types.ProviderAead:
		cfg.Aead = &kms.AeadConfig{KeyBase64: k.KeyBase64, KeyID: k.KeyID}
	}
	return cfg
}

// KeyConfig converts to the key manager configuration
func (c Config) KeyConfig() types.KeyConfig {
	return types.KeyConfig{
		Algorithm:   c.Keys.Algorithm,
		RotateAfter: c.Keys.RotateAfter,
		Provider:    c.KMS.Provider,
		AuditLogger: c.Audit.Enabled,
	}
}

// Level returns the parsed log level, info when unset or invalid
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}
