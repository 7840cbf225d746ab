package policy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maxiofs/storehub/internal/audit"
	"github.com/maxiofs/storehub/internal/keyvault"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/maxiofs/storehub/pkg/encryption"
	"github.com/sirupsen/logrus"
)

// ErrConfiguredKey is returned when rotating a provider whose key is set by an administrator
var ErrConfiguredKey = errors.New("provider uses a configured encryption key; change it through the provider settings")

// Key sources
const (
	SourceConfigured = "configured"
	SourceGenerated  = "generated"
)

// ProviderLookup resolves provider records
type ProviderLookup interface {
	Get(id string) (*provider.StorageProvider, error)
}

// KeyStore persists generated keys
type KeyStore interface {
	Get(ctx context.Context, providerID string) (*keyvault.Record, error)
	Put(ctx context.Context, rec *keyvault.Record) error
}

// Auditor records policy events
type Auditor interface {
	LogEvent(ctx context.Context, event *audit.AuditEvent) error
}

// Recorder observes key generation
type Recorder interface {
	RecordKeyGenerated(providerID string, algorithm string)
}

// ResolvedKey is the key material to encrypt a payload for a provider
type ResolvedKey struct {
	Key       []byte
	KeyID     string
	Algorithm encryption.Algorithm
	Source    string
	Version   int
}

// Tracker decides whether payloads are encrypted and which key they use
type Tracker struct {
	providers ProviderLookup
	keys      KeyStore
	auditor   Auditor
	recorder  Recorder
	logger    *logrus.Logger

	// one lock per provider so concurrent first uploads generate a single key
	keyLocks sync.Map
}

// NewTracker creates a tracker; auditor and recorder may be nil
func NewTracker(providers ProviderLookup, keys KeyStore, auditor Auditor, recorder Recorder, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		providers: providers,
		keys:      keys,
		auditor:   auditor,
		recorder:  recorder,
		logger:    logger,
	}
}

// ShouldEncrypt reports whether payloads for the provider are encrypted before transfer
func (t *Tracker) ShouldEncrypt(providerID string) (bool, error) {
	p, err := t.providers.Get(providerID)
	if err != nil {
		return false, err
	}
	return p.Encryption.Enabled, nil
}

// ResolveKey returns the configured key of the provider, or its generated
// key, generating and persisting one on first use. Repeated calls return the
// same key until RotateKey is called or the algorithm changes.
func (t *Tracker) ResolveKey(ctx context.Context, providerID string) (*ResolvedKey, error) {
	p, err := t.providers.Get(providerID)
	if err != nil {
		return nil, err
	}
	alg := algorithmOf(p)

	if p.Encryption.Key != "" {
		return configuredKey(p, alg)
	}

	mu := t.lockFor(providerID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := t.keys.Get(ctx, providerID)
	switch {
	case err == nil && rec.Algorithm == alg:
		return generatedKey(rec), nil
	case err == nil:
		return t.generate(ctx, p, alg, rec.Version+1, audit.EventTypeEncryptionKeyGenerated, audit.ActionGenerate, "algorithm_changed")
	case errors.Is(err, keyvault.ErrKeyNotFound):
		return t.generate(ctx, p, alg, 1, audit.EventTypeEncryptionKeyGenerated, audit.ActionGenerate, "first_use")
	default:
		return nil, fmt.Errorf("failed to load key for %s: %w", providerID, err)
	}
}

// RotateKey replaces the generated key of the provider with a new version.
// Earlier versions stay readable in the key store.
func (t *Tracker) RotateKey(ctx context.Context, providerID string) (*ResolvedKey, error) {
	p, err := t.providers.Get(providerID)
	if err != nil {
		return nil, err
	}
	if p.Encryption.Key != "" {
		return nil, ErrConfiguredKey
	}

	mu := t.lockFor(providerID)
	mu.Lock()
	defer mu.Unlock()

	version := 1
	rec, err := t.keys.Get(ctx, providerID)
	switch {
	case err == nil:
		version = rec.Version + 1
	case !errors.Is(err, keyvault.ErrKeyNotFound):
		return nil, fmt.Errorf("failed to load key for %s: %w", providerID, err)
	}

	return t.generate(ctx, p, algorithmOf(p), version, audit.EventTypeEncryptionKeyRotated, audit.ActionRotate, "rotation")
}

func (t *Tracker) generate(ctx context.Context, p *provider.StorageProvider, alg encryption.Algorithm, version int, eventType, action, reason string) (*ResolvedKey, error) {
	enc, err := encryption.NewEncryptor(alg)
	if err != nil {
		return nil, err
	}
	key, err := enc.GenerateKey()
	if err != nil {
		return nil, err
	}

	rec := &keyvault.Record{
		ProviderID: p.ID,
		Algorithm:  alg,
		Key:        key,
		Version:    version,
		CreatedAt:  time.Now().UTC(),
	}
	if err := t.keys.Put(ctx, rec); err != nil {
		t.logEvent(ctx, p, rec, eventType, action, audit.StatusFailed, reason)
		return nil, err
	}

	t.logEvent(ctx, p, rec, eventType, action, audit.StatusSuccess, reason)
	if t.recorder != nil {
		t.recorder.RecordKeyGenerated(p.ID, string(alg))
	}

	t.logger.WithFields(logrus.Fields{
		"provider_id": p.ID,
		"algorithm":   alg,
		"key_id":      rec.KeyID(),
		"reason":      reason,
	}).Info("Encryption key generated")

	return generatedKey(rec), nil
}

func (t *Tracker) logEvent(ctx context.Context, p *provider.StorageProvider, rec *keyvault.Record, eventType, action, status, reason string) {
	if t.auditor == nil {
		return
	}
	err := t.auditor.LogEvent(ctx, &audit.AuditEvent{
		EventType:    eventType,
		ResourceType: audit.ResourceTypeEncryptionKey,
		ResourceID:   p.ID,
		ResourceName: p.Name,
		Action:       action,
		Status:       status,
		Details: map[string]interface{}{
			"key_id":    rec.KeyID(),
			"algorithm": string(rec.Algorithm),
			"version":   rec.Version,
			"reason":    reason,
		},
	})
	if err != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"provider_id": p.ID,
			"event_type":  eventType,
			"key_id":      rec.KeyID(),
		}).Warn("Failed to record encryption key audit event")
	}
}

func (t *Tracker) lockFor(providerID string) *sync.Mutex {
	mu, _ := t.keyLocks.LoadOrStore(providerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func algorithmOf(p *provider.StorageProvider) encryption.Algorithm {
	if p.Encryption.Algorithm == "" {
		return encryption.AlgorithmAES256
	}
	return p.Encryption.Algorithm
}

// configuredKey uses a base64 key of the exact size directly and derives
// one with HKDF from any other configured secret
func configuredKey(p *provider.StorageProvider, alg encryption.Algorithm) (*ResolvedKey, error) {
	size, err := encryption.KeySize(alg)
	if err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(p.Encryption.Key)
	if err != nil || len(key) != size {
		enc, err := encryption.NewEncryptor(alg)
		if err != nil {
			return nil, err
		}
		key, err = enc.DeriveKey([]byte(p.Encryption.Key), []byte(p.ID))
		if err != nil {
			return nil, err
		}
	}

	return &ResolvedKey{
		Key:       key,
		KeyID:     p.ID + ":configured",
		Algorithm: alg,
		Source:    SourceConfigured,
	}, nil
}

func generatedKey(rec *keyvault.Record) *ResolvedKey {
	return &ResolvedKey{
		Key:       rec.Key,
		KeyID:     rec.KeyID(),
		Algorithm: rec.Algorithm,
		Source:    SourceGenerated,
		Version:   rec.Version,
	}
}
