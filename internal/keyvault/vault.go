package keyvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxiofs/storehub/pkg/encryption"
	"github.com/sirupsen/logrus"
)

// ErrKeyNotFound is returned when no key has been generated for a provider
var ErrKeyNotFound = errors.New("encryption key not found")

const defaultCacheSize = 256

// Record is a generated key bound to a provider
type Record struct {
	ProviderID string               `json:"provider_id"`
	Algorithm  encryption.Algorithm `json:"algorithm"`
	Key        []byte               `json:"key"`
	Version    int                  `json:"version"`
	CreatedAt  time.Time            `json:"created_at"`
}

// KeyID identifies the key version stored alongside encrypted objects
func (r *Record) KeyID() string {
	return fmt.Sprintf("%s:v%d", r.ProviderID, r.Version)
}

func (r *Record) clone() *Record {
	c := *r
	c.Key = append([]byte(nil), r.Key...)
	return &c
}

// Options configures the vault
type Options struct {
	// DataDir holds the badger files under DataDir/keyvault
	DataDir string
	// InMemory keeps everything in memory, used by tests
	InMemory  bool
	CacheSize int
	Logger    *logrus.Logger
}

// Vault persists generated encryption keys in badger with an LRU read cache
type Vault struct {
	db     *badger.DB
	cache  *lru.Cache[string, *Record]
	logger *logrus.Logger

	stopGC    chan struct{}
	closeOnce sync.Once
}

// Open opens or creates the vault
func Open(opts Options) (*Vault, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}

	var badgerOpts badger.Options
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(filepath.Join(opts.DataDir, "keyvault")).
			WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.
		WithLogger(newBadgerLogger(opts.Logger)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open key vault: %w", err)
	}

	cache, err := lru.New[string, *Record](opts.CacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}

	v := &Vault{
		db:     db,
		cache:  cache,
		logger: opts.Logger,
		stopGC: make(chan struct{}),
	}

	if !opts.InMemory {
		go v.runGC()
	}

	opts.Logger.WithField("in_memory", opts.InMemory).Info("Key vault initialized")
	return v, nil
}

func currentKey(providerID string) []byte {
	return []byte("key:" + providerID)
}

func versionKey(providerID string, version int) []byte {
	return []byte(fmt.Sprintf("keyver:%s:%06d", providerID, version))
}

// Get returns the current key of a provider
func (v *Vault) Get(ctx context.Context, providerID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rec, ok := v.cache.Get(providerID); ok {
		return rec.clone(), nil
	}

	rec, err := v.read(currentKey(providerID))
	if err != nil {
		return nil, err
	}
	v.cache.Add(providerID, rec)
	return rec.clone(), nil
}

// GetVersion returns a specific key version, including rotated ones
func (v *Vault) GetVersion(ctx context.Context, providerID string, version int) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v.read(versionKey(providerID, version))
}

func (v *Vault) read(key []byte) (*Record, error) {
	var rec Record
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	return &rec, nil
}

// Put stores rec as the current key of its provider and archives the version
func (v *Vault) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ProviderID == "" {
		return errors.New("provider id is required")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode key record: %w", err)
	}

	err = v.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(currentKey(rec.ProviderID), data); err != nil {
			return err
		}
		return txn.Set(versionKey(rec.ProviderID, rec.Version), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store key for %s: %w", rec.ProviderID, err)
	}

	v.cache.Add(rec.ProviderID, rec.clone())
	return nil
}

// Close stops background GC and closes badger
func (v *Vault) Close() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.stopGC)
		v.cache.Purge()
		err = v.db.Close()
	})
	return err
}

func (v *Vault) runGC() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-v.stopGC:
			return
		case <-ticker.C:
			if err := v.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				v.logger.WithError(err).Warn("Key vault GC failed")
			}
		}
	}
}
