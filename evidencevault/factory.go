package evidencevault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/audit"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/cache"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/cache/storage"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/config"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/dek"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence/store/memory"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence/store/mongodb"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence/store/sqlite"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/kms"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/kms/credentials"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

func createAuditLogger(ctx context.Context, cfg config.Config) (interfaces.AuditLogger, error) {
	if !cfg.Audit.Enabled {
		return nil, nil
	}

	var logger interfaces.AuditLogger
	switch cfg.Audit.Type {
	case config.AuditMemory:
		logger = audit.NewMemoryAuditLogger()
	default:
		logger = audit.NewStdoutAuditLogger()
	}

	// Record which collector and backend this logger serves
	event := audit.NewAuditEvent(audit.EventTypeInitialization, audit.OperationInit)
	event.Metadata = map[string]interface{}{
		"backend":  cfg.Storage.Backend,
		"provider": string(cfg.KMS.Provider),
	}
	if err := logger.LogEvent(audit.WithCollector(ctx, cfg.CollectorID), event); err != nil {
		return nil, fmt.Errorf("failed to log initial audit event: %w", err)
	}
	return logger, nil
}

func createKMSProvider(ctx context.Context, cfg config.KMSConfig) (*kms.Provider, error) {
	if cfg.Ephemeral() {
		return kms.NewEphemeralProvider(ctx)
	}
	log.Debug().
		Str("provider", string(cfg.Provider)).
		Str("keyId", cfg.KeyID).
		Interface("credentials", credentials.Mask(cfg.Credentials)).
		Msg("Creating KMS provider")
	provider, err := kms.NewProvider(ctx, cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS provider: %w", err)
	}
	return provider, nil
}

func createKeyCache(cfg types.CacheConfig) (*cache.KeyCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.TTL < 1 {
		return nil, fmt.Errorf("cache TTL must be at least 1 minute")
	}
	return cache.NewKeyCache(cfg, storage.NewMemoryAdapter(cfg.GetEffectiveMaxEntries())), nil
}

func createKeyManager(ctx context.Context, cfg config.Config, provider interfaces.KMSProvider, keyCache *cache.KeyCache, auditLogger interfaces.AuditLogger) (*dek.Service, error) {
	var c types.Cache
	if keyCache != nil {
		c = keyCache
	}
	keys, err := dek.NewService(ctx, provider, c, auditLogger, cfg.KeyConfig(), log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create key manager: %w", err)
	}
	return keys, nil
}

func createBackend(ctx context.Context, cfg config.StorageConfig) (interfaces.RecordBackend, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ids, err := backend.IDs(ctx)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to inspect backend: %w", err)
	}
	if len(ids) > 0 {
		_ = backend.Close()
		return nil, fmt.Errorf("%w: %d records", ErrStoreNotEmpty, len(ids))
	}
	return backend, nil
}

// ResetStorage discards every record in the configured backend so a new
// vault can start from an empty store.
func ResetStorage(ctx context.Context, cfg config.StorageConfig) error {
	switch cfg.Backend {
	case config.BackendSQLite:
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(cfg.SQLitePath + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("remove %s: %w", cfg.SQLitePath+suffix, err)
			}
		}
	case config.BackendMongoDB:
		store, err := mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		return store.Drop(ctx)
	}
	log.Info().Str("backend", cfg.Backend).Msg("Evidence storage reset")
	return nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (interfaces.RecordBackend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlite.Open(cfg.SQLitePath)
	case config.BackendMongoDB:
		return mongodb.Open(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %q", cfg.Backend)
	}
}
