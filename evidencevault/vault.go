// Package evidencevault wires configuration into a running evidence pipeline
// and drives scenario runs and tamper drills against it.
package evidencevault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/audit"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/cache"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/collector"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/config"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/coordinator"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/dek"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/evidence"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

// Vault owns one collector, its key manager and its evidence store
type Vault struct {
	cfg         config.Config
	keyCache    *cache.KeyCache
	keys        *dek.Service
	store       *evidence.Service
	collector   *collector.Collector
	auditLogger interfaces.AuditLogger
	runLog      *audit.RunLog
	coordinator *coordinator.Coordinator
	logger      zerolog.Logger
	now         func() time.Time

	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// New validates cfg and builds the pipeline
func New(ctx context.Context, cfg config.Config) (*Vault, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	v := &Vault{
		cfg:         cfg,
		coordinator: coordinator.NewCoordinator(0),
		logger:      log.With().Str("component", "evidence_vault").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}

	auditLogger, err := createAuditLogger(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	v.auditLogger = auditLogger

	if cfg.RunLogPath != "" {
		if v.runLog, err = audit.NewRunLog(cfg.RunLogPath); err != nil {
			return nil, err
		}
	}

	provider, err := createKMSProvider(ctx, cfg.KMS)
	if err != nil {
		return nil, err
	}

	if v.keyCache, err = createKeyCache(cfg.Cache); err != nil {
		return nil, err
	}

	if v.keys, err = createKeyManager(ctx, cfg, provider, v.keyCache, auditLogger); err != nil {
		v.shutdownCache()
		return nil, err
	}

	backend, err := createBackend(ctx, cfg.Storage)
	if err != nil {
		v.shutdownCache()
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Storage.Backend, err)
	}

	storeOpts := []evidence.Option{
		evidence.WithCoordinator(v.coordinator),
		evidence.WithVerifyConcurrency(cfg.VerifyConcurrency),
	}
	collectorOpts := []collector.Option{
		collector.WithCollectorID(cfg.CollectorID),
		collector.WithHashChain(cfg.HashChain),
	}
	if auditLogger != nil {
		storeOpts = append(storeOpts, evidence.WithAuditLogger(auditLogger))
		collectorOpts = append(collectorOpts, collector.WithAuditLogger(auditLogger))
	}
	v.store = evidence.NewService(backend, storeOpts...)

	if v.collector, err = collector.New(v.store, v.keys, collectorOpts...); err != nil {
		_ = v.store.Close()
		v.shutdownCache()
		return nil, fmt.Errorf("failed to create collector: %w", err)
	}

	v.logger.Info().
		Str("collectorId", cfg.CollectorID).
		Str("backend", cfg.Storage.Backend).
		Str("provider", string(cfg.KMS.Provider)).
		Bool("hashChain", cfg.HashChain).
		Bool("cacheEnabled", v.keyCache != nil).
		Msg("Evidence vault initialized")
	return v, nil
}

// Keys returns the key manager
func (v *Vault) Keys() *dek.Service { return v.keys }

// Store returns the evidence store
func (v *Vault) Store() *evidence.Service { return v.store }

// Collector returns the collector
func (v *Vault) Collector() *collector.Collector { return v.collector }

// AuditLogger returns the audit logger, nil when auditing is disabled
func (v *Vault) AuditLogger() interfaces.AuditLogger { return v.auditLogger }

// Coordinator returns the tracker of scenario and verification runs
func (v *Vault) Coordinator() *coordinator.Coordinator { return v.coordinator }

func (v *Vault) checkOpen() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return ErrVaultClosed
	}
	return nil
}

// VerifyAll verifies every stored record and appends the run to the run log if one is configured
func (v *Vault) VerifyAll(ctx context.Context) (*types.VerificationReport, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	report, err := v.store.VerifyAll(ctx, v.keys)
	if err != nil {
		return nil, err
	}
	if v.runLog != nil {
		if err := v.runLog.Append(report); err != nil {
			return report, fmt.Errorf("failed to append run log: %w", err)
		}
	}
	return report, nil
}

func (v *Vault) shutdownCache() {
	if v.keyCache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.keyCache.Shutdown(ctx); err != nil {
		v.logger.Warn().Err(err).Msg("Key cache shutdown incomplete")
	}
}

// Close waits for tracked runs, then releases the backend and wipes cached key material
func (v *Vault) Close(ctx context.Context) error {
	var errs []error
	v.closeOnce.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()

		if err := v.coordinator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("coordinator shutdown: %w", err))
		}
		if err := v.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backend: %w", err))
		}
		v.shutdownCache()
		v.logger.Info().Msg("Evidence vault closed")
	})
	return errors.Join(errs...)
}
