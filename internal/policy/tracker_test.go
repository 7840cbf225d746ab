package policy

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/maxiofs/storehub/internal/audit"
	"github.com/maxiofs/storehub/internal/keyvault"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/maxiofs/storehub/pkg/encryption"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLookup map[string]*provider.StorageProvider

func (m mapLookup) Get(id string) (*provider.StorageProvider, error) {
	p, ok := m[id]
	if !ok {
		return nil, provider.ErrNotFound
	}
	return p.Clone(), nil
}

type captureAuditor struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
	err    error
}

func (c *captureAuditor) LogEvent(_ context.Context, event *audit.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, event)
	return nil
}

func (c *captureAuditor) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type countingRecorder struct {
	mu    sync.Mutex
	count int
}

func (r *countingRecorder) RecordKeyGenerated(string, string) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()
}

func setupTracker(t *testing.T, providers mapLookup) (*Tracker, *captureAuditor, *keyvault.Vault) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	vault, err := keyvault.Open(keyvault.Options{InMemory: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	auditor := &captureAuditor{}
	return NewTracker(providers, vault, auditor, nil, logger), auditor, vault
}

func encryptedProvider(id string, alg encryption.Algorithm) *provider.StorageProvider {
	return &provider.StorageProvider{
		ID:         id,
		Kind:       provider.KindS3,
		Name:       id,
		IsEnabled:  true,
		Encryption: provider.Encryption{Enabled: true, Algorithm: alg},
	}
}

func TestShouldEncrypt(t *testing.T) {
	plain := encryptedProvider("plain", encryption.AlgorithmAES256)
	plain.Encryption.Enabled = false
	tracker, _, _ := setupTracker(t, mapLookup{
		"enc":   encryptedProvider("enc", encryption.AlgorithmAES256),
		"plain": plain,
	})

	ok, err := tracker.ShouldEncrypt("enc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.ShouldEncrypt("plain")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = tracker.ShouldEncrypt("missing")
	assert.ErrorIs(t, err, provider.ErrNotFound)
}

func TestResolveKey_Idempotent(t *testing.T) {
	tracker, auditor, _ := setupTracker(t, mapLookup{
		"s3": encryptedProvider("s3", encryption.AlgorithmChaCha20),
	})
	ctx := context.Background()

	first, err := tracker.ResolveKey(ctx, "s3")
	require.NoError(t, err)
	assert.Len(t, first.Key, 32)
	assert.Equal(t, SourceGenerated, first.Source)
	assert.Equal(t, "s3:v1", first.KeyID)

	for i := 0; i < 5; i++ {
		again, err := tracker.ResolveKey(ctx, "s3")
		require.NoError(t, err)
		assert.True(t, bytes.Equal(first.Key, again.Key))
	}

	assert.Equal(t, 1, auditor.count(audit.EventTypeEncryptionKeyGenerated))
	event := auditor.events[0]
	assert.Equal(t, audit.ResourceTypeEncryptionKey, event.ResourceType)
	assert.Equal(t, "s3", event.ResourceID)
	assert.NotContains(t, event.Details, "key")
}

func TestResolveKey_ConcurrentFirstUseGeneratesOnce(t *testing.T) {
	tracker, auditor, _ := setupTracker(t, mapLookup{
		"r2": encryptedProvider("r2", encryption.AlgorithmAES256),
	})
	recorder := &countingRecorder{}
	tracker.recorder = recorder

	var wg sync.WaitGroup
	keys := make([][]byte, 16)
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := tracker.ResolveKey(context.Background(), "r2")
			if err == nil {
				keys[i] = k.Key
			}
		}(i)
	}
	wg.Wait()

	for _, k := range keys {
		assert.Equal(t, keys[0], k)
	}
	assert.Equal(t, 1, auditor.count(audit.EventTypeEncryptionKeyGenerated))
	assert.Equal(t, 1, recorder.count)
}

func TestResolveKey_Configured(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, 16)
	exact := encryptedProvider("exact", encryption.AlgorithmAES128)
	exact.Encryption.Key = base64.StdEncoding.EncodeToString(raw)
	derived := encryptedProvider("derived", encryption.AlgorithmAES256)
	derived.Encryption.Key = "correct horse battery staple"

	tracker, auditor, _ := setupTracker(t, mapLookup{"exact": exact, "derived": derived})
	ctx := context.Background()

	k, err := tracker.ResolveKey(ctx, "exact")
	require.NoError(t, err)
	assert.Equal(t, raw, k.Key)
	assert.Equal(t, SourceConfigured, k.Source)

	d1, err := tracker.ResolveKey(ctx, "derived")
	require.NoError(t, err)
	d2, err := tracker.ResolveKey(ctx, "derived")
	require.NoError(t, err)
	assert.Len(t, d1.Key, 32)
	assert.Equal(t, d1.Key, d2.Key)

	assert.Empty(t, auditor.events, "configured keys are not generated")

	_, err = tracker.RotateKey(ctx, "derived")
	assert.ErrorIs(t, err, ErrConfiguredKey)
}

func TestRotateKey(t *testing.T) {
	tracker, auditor, vault := setupTracker(t, mapLookup{
		"b2": encryptedProvider("b2", encryption.AlgorithmAES256),
	})
	ctx := context.Background()

	first, err := tracker.ResolveKey(ctx, "b2")
	require.NoError(t, err)

	rotated, err := tracker.RotateKey(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, 2, rotated.Version)
	assert.NotEqual(t, first.Key, rotated.Key)

	current, err := tracker.ResolveKey(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, rotated.Key, current.Key)

	old, err := vault.GetVersion(ctx, "b2", 1)
	require.NoError(t, err)
	assert.Equal(t, first.Key, old.Key)

	assert.Equal(t, 1, auditor.count(audit.EventTypeEncryptionKeyRotated))
}

func TestResolveKey_AlgorithmChangeGeneratesNewVersion(t *testing.T) {
	p := encryptedProvider("wasabi", encryption.AlgorithmAES256)
	lookup := mapLookup{"wasabi": p}
	tracker, _, _ := setupTracker(t, lookup)
	ctx := context.Background()

	first, err := tracker.ResolveKey(ctx, "wasabi")
	require.NoError(t, err)
	assert.Len(t, first.Key, 32)

	p.Encryption.Algorithm = encryption.AlgorithmAES128
	second, err := tracker.ResolveKey(ctx, "wasabi")
	require.NoError(t, err)
	assert.Len(t, second.Key, 16)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, encryption.AlgorithmAES128, second.Algorithm)
}

func TestResolveKey_AuditFailureIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()

	vault, err := keyvault.Open(keyvault.Options{InMemory: true, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { vault.Close() })

	auditor := &captureAuditor{err: errors.New("audit store unavailable")}
	tracker := NewTracker(mapLookup{
		"s3": encryptedProvider("s3", encryption.AlgorithmAES256),
	}, vault, auditor, nil, logger)

	key, err := tracker.ResolveKey(context.Background(), "s3")
	require.NoError(t, err, "a lost audit event must not fail key resolution")
	assert.Equal(t, "s3:v1", key.KeyID)

	var warning *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "Failed to record encryption key audit event" {
			warning = entry
		}
	}
	require.NotNil(t, warning, "expected a warning for the dropped audit event")
	assert.Equal(t, "s3", warning.Data["provider_id"])
	assert.Equal(t, audit.EventTypeEncryptionKeyGenerated, warning.Data["event_type"])
	assert.EqualError(t, warning.Data[logrus.ErrorKey].(error), "audit store unavailable")
}
