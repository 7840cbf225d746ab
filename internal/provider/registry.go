package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maxiofs/storehub/pkg/encryption"
	"github.com/sirupsen/logrus"
)

// Registry owns the provider records. Mutations are serialized under one
// lock and validated on a copy before being persisted and published, so a
// failed mutation leaves no trace. Readers get deep copies.
type Registry struct {
	mu        sync.RWMutex
	store     Store
	providers []*StorageProvider
	nextSeq   int64
	logger    *logrus.Logger
	now       func() time.Time
}

// NewRegistry loads the persisted providers, seeding the local provider on first start
func NewRegistry(ctx context.Context, store Store, logger *logrus.Logger) (*Registry, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	r := &Registry{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}

	if err := r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load(ctx context.Context) error {
	providers, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load providers: %w", err)
	}
	r.providers = providers
	for _, p := range providers {
		if p.seq >= r.nextSeq {
			r.nextSeq = p.seq + 1
		}
	}

	if r.find(LocalProviderID) == nil {
		if err := r.seedLocal(ctx); err != nil {
			return err
		}
	}

	if r.defaultProvider() == nil {
		r.logger.Warn("No default storage provider found, restoring local provider as default")
		if err := r.store.SwapDefault(ctx, "", LocalProviderID, r.now()); err != nil {
			return fmt.Errorf("failed to restore default provider: %w", err)
		}
		local := r.find(LocalProviderID)
		local.IsDefault = true
	}

	r.logger.WithField("providers", len(r.providers)).Info("Storage provider registry loaded")
	return nil
}

func (r *Registry) seedLocal(ctx context.Context) error {
	now := r.now()
	local := &StorageProvider{
		ID:        LocalProviderID,
		Kind:      KindDefault,
		Name:      KindDefault.Info().Label,
		IsDefault: r.defaultProvider() == nil,
		IsEnabled: true,
		Encryption: Encryption{
			Algorithm: encryption.AlgorithmAES256,
		},
		CreatedAt: now,
		UpdatedAt: now,
		seq:       r.nextSeq,
	}

	if err := r.store.Insert(ctx, local); err != nil {
		return fmt.Errorf("failed to seed local provider: %w", err)
	}
	r.nextSeq++
	r.providers = append(r.providers, local)

	r.logger.WithField("provider_id", LocalProviderID).Info("Seeded local storage provider")
	return nil
}

// List returns all providers in registration order; never empty
func (r *Registry) List() []*StorageProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*StorageProvider, len(r.providers))
	for i, p := range r.providers {
		out[i] = p.Clone()
	}
	return out
}

// Get returns a provider by id
func (r *Registry) Get(id string) (*StorageProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := r.find(id)
	if p == nil {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Default returns the current default provider
func (r *Registry) Default() *StorageProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.defaultProvider(); p != nil {
		return p.Clone()
	}
	return nil
}

// Create registers a new provider. New providers are appended after all
// existing ones and are never default.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*StorageProvider, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if req.Kind.IsLocal() {
		return nil, &ValidationError{Field: "kind", Reason: "the local disk provider is built in and cannot be created again"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if r.find(id) != nil {
		return nil, &ValidationError{Field: "id", Reason: fmt.Sprintf("provider %s already exists", id)}
	}

	now := r.now()
	p := &StorageProvider{
		ID:              id,
		Kind:            req.Kind,
		Name:            req.Name,
		IsEnabled:       req.IsEnabled,
		Credentials:     req.Credentials,
		CDN:             req.CDN,
		Encryption:      req.Encryption,
		RoutingPriority: req.RoutingPriority,
		RoutingRules:    req.RoutingRules.Normalize(),
		CreatedAt:       now,
		UpdatedAt:       now,
		seq:             r.nextSeq,
	}
	if p.Encryption.Algorithm == "" {
		p.Encryption.Algorithm = encryption.AlgorithmAES256
	}

	if err := checkInvariants(p); err != nil {
		return nil, err
	}
	if err := r.store.Insert(ctx, p); err != nil {
		return nil, err
	}

	r.nextSeq++
	r.providers = append(r.providers, p)

	r.logger.WithFields(logrus.Fields{
		"provider_id": p.ID,
		"kind":        p.Kind,
		"enabled":     p.IsEnabled,
	}).Info("Storage provider created")

	return p.Clone(), nil
}

// UpsertFields applies a partial update and returns the updated provider
// together with the names of the changed fields
func (r *Registry) UpsertFields(ctx context.Context, id string, patch Patch) (*StorageProvider, []string, error) {
	if err := validateStruct(patch); err != nil {
		return nil, nil, err
	}
	if patch.RoutingRules != nil && patch.ClearRoutingRules {
		return nil, nil, &ValidationError{Field: "routing_rules", Reason: "cannot set and clear routing rules in one patch"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.find(id)
	if current == nil {
		return nil, nil, ErrNotFound
	}
	if patch.Empty() {
		return current.Clone(), nil, nil
	}

	next := current.Clone()
	changed := patch.apply(next)
	if next.Encryption.Algorithm == "" {
		next.Encryption.Algorithm = encryption.AlgorithmAES256
	}
	next.UpdatedAt = r.now()

	if err := checkInvariants(next); err != nil {
		return nil, nil, err
	}
	if err := r.store.Update(ctx, next); err != nil {
		return nil, nil, err
	}

	r.replace(next)

	r.logger.WithFields(logrus.Fields{
		"provider_id": id,
		"fields":      changed,
	}).Info("Storage provider updated")

	return next.Clone(), changed, nil
}

// SetDefault makes id the default provider. The previous default is cleared
// in the same transaction; readers never observe zero or two defaults.
// It returns the new default and the id of the previous one.
func (r *Registry) SetDefault(ctx context.Context, id string) (*StorageProvider, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.find(id)
	if target == nil {
		return nil, "", ErrNotFound
	}

	previous := r.defaultProvider()
	if previous != nil && previous.ID == id {
		return target.Clone(), id, nil
	}

	if !target.IsEnabled {
		return nil, "", &PreconditionFailedError{
			ProviderID:   id,
			Precondition: PreconditionEnabled,
			Reason:       "provider is disabled",
		}
	}
	if !target.Configured() {
		return nil, "", &PreconditionFailedError{
			ProviderID:   id,
			Precondition: PreconditionCredentials,
			Reason:       "missing " + strings.Join(target.MissingConfig(), ", "),
		}
	}

	previousID := ""
	if previous != nil {
		previousID = previous.ID
	}

	now := r.now()
	if err := r.store.SwapDefault(ctx, previousID, id, now); err != nil {
		return nil, "", err
	}

	nextTarget := target.Clone()
	nextTarget.IsDefault = true
	nextTarget.UpdatedAt = now
	if previous != nil {
		nextPrevious := previous.Clone()
		nextPrevious.IsDefault = false
		nextPrevious.UpdatedAt = now
		r.replace(nextPrevious)
	}
	r.replace(nextTarget)

	r.logger.WithFields(logrus.Fields{
		"provider_id": id,
		"previous_id": previousID,
	}).Info("Default storage provider changed")

	return nextTarget.Clone(), previousID, nil
}

// find returns the live record; callers must hold the lock
func (r *Registry) find(id string) *StorageProvider {
	for _, p := range r.providers {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Registry) defaultProvider() *StorageProvider {
	for _, p := range r.providers {
		if p.IsDefault {
			return p
		}
	}
	return nil
}

// replace swaps in a new record for the same id. Records are never mutated
// in place so clones handed out earlier stay consistent.
func (r *Registry) replace(p *StorageProvider) {
	for i, existing := range r.providers {
		if existing.ID == p.ID {
			r.providers[i] = p
			return
		}
	}
}
