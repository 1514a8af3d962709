// Package dek manages the data keys evidence is sealed under.
// Key material is held only in wrapped form; the KMS provider unwraps it on demand.
package dek

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/audit"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/interfaces"
	"github.com/root-sector-ltd-and-co-kg/forensic-evidence-module/types"
)

const (
	keyIDPrefix    = "key-"
	cacheKeyPrefix = "dek"
	wrapTimeout    = 5 * time.Second
)

// Service implements interfaces.KeyManager over an append-only table of wrapped keys
type Service struct {
	provider    interfaces.KMSProvider
	cache       types.Cache
	auditLogger interfaces.AuditLogger
	zLogger     zerolog.Logger
	cfg         types.KeyConfig
	now         func() time.Time

	mu           sync.RWMutex
	versions     map[string]*types.KeyVersion
	order        []string
	activeID     string
	activatedAt  time.Time
	lastRotation time.Time
}

var _ interfaces.KeyManager = (*Service)(nil)

// NewService creates the key table and registers key-1 as the active key.
// keyCache and auditLogger may be nil.
func NewService(ctx context.Context, provider interfaces.KMSProvider, keyCache types.Cache, auditLogger interfaces.AuditLogger, cfg types.KeyConfig, opLogger zerolog.Logger) (*Service, error) {
	if provider == nil {
		return nil, fmt.Errorf("KMS provider is required for NewService")
	}
	if provider.GetWrapper() == nil {
		return nil, fmt.Errorf("KMS wrapper not available from provider")
	}
	switch cfg.EffectiveAlgorithm() {
	case types.AlgorithmAES256GCM, types.AlgorithmChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", cfg.Algorithm)
	}

	if opLogger.GetLevel() == zerolog.Disabled {
		opLogger = log.Logger
	}

	s := &Service{
		provider:    provider,
		cache:       keyCache,
		auditLogger: auditLogger,
		zLogger:     opLogger.With().Str("component", "key_manager").Logger(),
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		versions:    make(map[string]*types.KeyVersion),
	}

	if _, err := s.Rotate(ctx); err != nil {
		return nil, fmt.Errorf("failed to create initial key: %w", err)
	}
	return s, nil
}

// generateKey draws fresh key material
func generateKey() ([]byte, error) {
	key := make([]byte, types.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate random key: %w", err)
	}

	isZero := true
	for _, b := range key {
		if b != 0 {
			isZero = false
			break
		}
	}
	if isZero {
		return nil, fmt.Errorf("generated key is all zeros")
	}
	return key, nil
}

func wrapContext(keyID string) []byte {
	return []byte("key:" + keyID)
}

func cacheKey(keyID string) string {
	return cacheKeyPrefix + ":" + keyID
}

// wrapKey wraps material under the KEK and proves the blob unwraps to the same bytes
func (s *Service) wrapKey(ctx context.Context, keyID string, seq int, material []byte) (*types.KeyVersion, error) {
	wrapper := s.provider.GetWrapper()
	aad := wrapContext(keyID)

	wrapCtx, cancel := context.WithTimeout(ctx, wrapTimeout)
	defer cancel()

	blobInfo, err := wrapper.Encrypt(wrapCtx, material, wrapping.WithAad(aad))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWrapFailed, err)
	}
	if blobInfo == nil {
		return nil, fmt.Errorf("%w: wrapped key info is nil", ErrWrapFailed)
	}

	unwrapped, err := wrapper.Decrypt(wrapCtx, blobInfo, wrapping.WithAad(aad))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify wrapped key: %w", ErrWrapFailed, err)
	}
	if !bytes.Equal(unwrapped, material) {
		return nil, fmt.Errorf("%w: unwrapped key does not match original", ErrWrapFailed)
	}

	return &types.KeyVersion{
		ID:          keyID,
		Sequence:    seq,
		Algorithm:   s.cfg.EffectiveAlgorithm(),
		BlobInfo:    blobInfo,
		CreatedAt:   s.now(),
		WrapContext: aad,
	}, nil
}

// createLocked registers a new key. Caller holds s.mu.
func (s *Service) createLocked(ctx context.Context) (*types.KeyVersion, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	seq := len(s.order) + 1
	keyID := fmt.Sprintf("%s%d", keyIDPrefix, seq)

	material, err := generateKey()
	if err != nil {
		return nil, nil, err
	}
	version, err := s.wrapKey(ctx, keyID, seq, material)
	if err != nil {
		return nil, nil, err
	}

	s.versions[keyID] = version
	s.order = append(s.order, keyID)

	s.zLogger.Debug().
		Str("keyId", keyID).
		Str("algorithm", string(version.Algorithm)).
		Str("kekId", version.GetKeyID()).
		Msg("Key created and wrapped")
	return version, material, nil
}

// CreateKey registers fresh key material without activating it
func (s *Service) CreateKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	version, material, err := s.createLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		s.logAuditEvent(ctx, audit.EventTypeKeyCreate, audit.OperationCreate, "", err)
		return "", err
	}
	s.cacheMaterial(ctx, version, material)
	s.logAuditEvent(ctx, audit.EventTypeKeyCreate, audit.OperationCreate, version.ID, nil)
	return version.ID, nil
}

// Rotate creates a key and makes it active. Earlier keys stay resolvable.
func (s *Service) Rotate(ctx context.Context) (string, error) {
	return s.rotate(ctx, false)
}

// rotate creates and activates a key. With onlyIfStale it re-checks the
// rotation threshold under the write lock and returns the current active id if
// another caller already rotated.
func (s *Service) rotate(ctx context.Context, onlyIfStale bool) (string, error) {
	s.mu.Lock()
	previous := s.activeID
	if onlyIfStale && !s.needsRotate() {
		s.mu.Unlock()
		return previous, nil
	}
	version, material, err := s.createLocked(ctx)
	if err == nil {
		s.activeID = version.ID
		s.activatedAt = version.CreatedAt
		s.lastRotation = version.CreatedAt
	}
	s.mu.Unlock()

	if err != nil {
		s.logAuditEvent(ctx, audit.EventTypeKeyRotate, audit.OperationRotate, previous, err)
		return "", err
	}
	s.cacheMaterial(ctx, version, material)
	s.logAuditEvent(ctx, audit.EventTypeKeyRotate, audit.OperationRotate, version.ID, nil)

	s.zLogger.Info().
		Str("keyId", version.ID).
		Str("previousKeyId", previous).
		Msg("Active key rotated")
	return version.ID, nil
}

func (s *Service) needsRotate() bool {
	return s.cfg.RotateAfter > 0 && s.now().Sub(s.activatedAt) >= s.cfg.RotateAfter
}

// ActiveKey returns the key new records are sealed under, rotating first
// when the active key is older than KeyConfig.RotateAfter.
func (s *Service) ActiveKey(ctx context.Context) (*types.Key, error) {
	s.mu.RLock()
	activeID := s.activeID
	stale := s.needsRotate()
	s.mu.RUnlock()

	if stale {
		id, err := s.rotate(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("automatic rotation failed: %w", err)
		}
		activeID = id
	}
	return s.GetKey(ctx, activeID)
}

// GetKey resolves keyID to unwrapped material
func (s *Service) GetKey(ctx context.Context, keyID string) (*types.Key, error) {
	s.mu.RLock()
	version, ok := s.versions[keyID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, keyID)
	}

	if s.cache != nil && s.cache.IsEnabled() {
		if cached, alg, found := s.cache.Get(ctx, cacheKey(keyID)); found {
			s.zLogger.Trace().Str("keyId", keyID).Msg("Using cached key material")
			return &types.Key{ID: keyID, Algorithm: alg, Material: cached.Get()}, nil
		}
	}

	material, err := s.unwrapKey(ctx, version)
	if err != nil {
		return nil, err
	}
	s.cacheMaterial(ctx, version, material)
	return &types.Key{ID: keyID, Algorithm: version.Algorithm, Material: material}, nil
}

// unwrapKey decrypts a stored version with the AAD it was wrapped under
func (s *Service) unwrapKey(ctx context.Context, version *types.KeyVersion) ([]byte, error) {
	if version.BlobInfo == nil {
		return nil, fmt.Errorf("%w: %s has no blob info", ErrUnwrapFailed, version.ID)
	}
	if len(version.WrapContext) == 0 {
		return nil, fmt.Errorf("%w: missing wrap context for %s", ErrUnwrapFailed, version.ID)
	}

	unwrapCtx, cancel := context.WithTimeout(ctx, wrapTimeout)
	defer cancel()

	material, err := s.provider.GetWrapper().Decrypt(unwrapCtx, version.BlobInfo, wrapping.WithAad(version.WrapContext))
	if err != nil {
		s.zLogger.Error().Err(err).Str("keyId", version.ID).Str("kekId", version.GetKeyID()).Msg("Failed to unwrap key")
		return nil, fmt.Errorf("%w: %s: %w", ErrUnwrapFailed, version.ID, err)
	}
	if len(material) != types.KeySize {
		return nil, fmt.Errorf("%w: %s unwrapped to %d bytes", ErrUnwrapFailed, version.ID, len(material))
	}
	return material, nil
}

func (s *Service) cacheMaterial(ctx context.Context, version *types.KeyVersion, material []byte) {
	if s.cache == nil || !s.cache.IsEnabled() {
		return
	}
	s.cache.Set(ctx, cacheKey(version.ID), material, version.Algorithm)
}

// FreshNonce returns types.NonceSize random bytes
func (s *Service) FreshNonce() ([]byte, error) {
	nonce := make([]byte, types.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// Status reports the key table without exposing material
func (s *Service) Status() types.KeyStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.KeyStatus{
		ActiveKeyID:  s.activeID,
		KeyCount:     len(s.order),
		Algorithm:    s.cfg.EffectiveAlgorithm(),
		Provider:     s.provider.Type(),
		LastRotation: s.lastRotation,
		NeedsRotate:  s.needsRotate(),
	}
	if len(s.order) > 0 {
		st.CreatedAt = s.versions[s.order[0]].CreatedAt
	}
	if v, ok := s.versions[s.activeID]; ok {
		st.ProviderKeyID = v.GetKeyID()
	}
	return st
}

// logAuditEvent logs an audit event when audit logging is enabled
func (s *Service) logAuditEvent(ctx context.Context, eventType, operation, keyID string, err error) {
	if s.auditLogger == nil || !s.cfg.AuditLogger {
		return
	}
	event := audit.NewAuditEvent(eventType, operation)
	event.KeyID = keyID
	if err != nil {
		audit.Fail(event, err)
	}
	if logErr := s.auditLogger.LogEvent(ctx, event); logErr != nil {
		s.zLogger.Warn().Err(logErr).Str("eventType", eventType).Msg("Failed to log audit event")
	}
}
