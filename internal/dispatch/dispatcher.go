package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/maxiofs/storehub/internal/backend"
	"github.com/maxiofs/storehub/internal/policy"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/maxiofs/storehub/internal/routing"
	"github.com/maxiofs/storehub/pkg/encryption"
	"github.com/sirupsen/logrus"
)

// Object metadata written next to encrypted payloads
const (
	MetaEncryption  = "x-storehub-encryption"
	MetaKeyID       = "x-storehub-key-id"
	MetaPlainSize   = "x-storehub-plain-size"
	MetaContentType = "x-storehub-content-type"
)

// encryptedContentType is stored for encrypted payloads; the original type goes to metadata
const encryptedContentType = "application/octet-stream"

var (
	// ErrSizeMismatch is returned when the body length differs from the declared size
	ErrSizeMismatch = errors.New("body length does not match declared size")

	// ErrTooLarge is returned when the body exceeds the configured upload limit
	ErrTooLarge = errors.New("upload exceeds maximum size")
)

// Router picks the destination provider
type Router interface {
	Decide(c routing.Candidate) (routing.Decision, error)
}

// KeyPolicy decides on encryption and supplies keys
type KeyPolicy interface {
	ShouldEncrypt(providerID string) (bool, error)
	ResolveKey(ctx context.Context, providerID string) (*policy.ResolvedKey, error)
}

// TransferFactory builds the transfer for a provider
type TransferFactory interface {
	For(p *provider.StorageProvider) (backend.Transfer, error)
}

// UsageRecorder accumulates per-provider usage
type UsageRecorder interface {
	RecordUpload(ctx context.Context, providerID string, storedBytes, transferredBytes int64, at time.Time) error
}

// Recorder observes uploads
type Recorder interface {
	RecordUpload(providerID string, encrypted bool, bytes int64, duration time.Duration, err error)
}

// Config holds the dispatcher collaborators. Usage and Recorder are optional.
type Config struct {
	Router        Router
	Policy        KeyPolicy
	Transfers     TransferFactory
	Usage         UsageRecorder
	Recorder      Recorder
	SpoolDir      string
	MaxUploadSize int64
}

// Request is one upload
type Request struct {
	Key         string
	ContentType string
	// Size is the declared length or routing.UnknownSize
	Size     int64
	Body     io.Reader
	Metadata map[string]string
}

// Plan is the routing outcome for a candidate without moving any bytes
type Plan struct {
	ProviderID   string               `json:"provider_id"`
	ProviderName string               `json:"provider_name"`
	Kind         provider.Kind        `json:"kind"`
	Stage        routing.Stage        `json:"stage"`
	Encrypt      bool                 `json:"encrypt"`
	Algorithm    encryption.Algorithm `json:"algorithm,omitempty"`
	Candidate    routing.Candidate    `json:"candidate"`
}

// Result describes a stored upload
type Result struct {
	Key        string               `json:"key"`
	ProviderID string               `json:"provider_id"`
	Stage      routing.Stage        `json:"stage"`
	Location   string               `json:"location"`
	ETag       string               `json:"etag,omitempty"`
	Size       int64                `json:"size"`
	StoredSize int64                `json:"stored_size"`
	Encrypted  bool                 `json:"encrypted"`
	KeyID      string               `json:"key_id,omitempty"`
	Algorithm  encryption.Algorithm `json:"algorithm,omitempty"`
}

// Dispatcher runs an upload through routing, encryption and transfer
type Dispatcher struct {
	cfg Config
}

// NewDispatcher creates a dispatcher and its spool directory
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Router == nil || cfg.Policy == nil || cfg.Transfers == nil {
		return nil, errors.New("dispatcher requires a router, a key policy and a transfer factory")
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}
	return &Dispatcher{cfg: cfg}, nil
}

// Plan returns where a candidate would be stored and whether it would be encrypted
func (d *Dispatcher) Plan(c routing.Candidate) (*Plan, error) {
	decision, err := d.cfg.Router.Decide(c)
	if err != nil {
		return nil, err
	}
	p := decision.Provider

	encrypt, err := d.cfg.Policy.ShouldEncrypt(p.ID)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ProviderID:   p.ID,
		ProviderName: p.Name,
		Kind:         p.Kind,
		Stage:        decision.Stage,
		Encrypt:      encrypt,
		Candidate:    c.Normalize(),
	}
	if encrypt {
		plan.Algorithm = p.Encryption.Algorithm
	}
	return plan, nil
}

// Upload spools the body, routes it, encrypts it when the provider requires
// it and hands it to the provider's transfer. Usage is recorded on success.
func (d *Dispatcher) Upload(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()
	var providerID string
	var encrypted bool
	var size int64
	defer func() {
		if d.cfg.Recorder != nil && providerID != "" {
			d.cfg.Recorder.RecordUpload(providerID, encrypted, size, time.Since(start), err)
		}
	}()

	spool, size, err := d.spool(req.Body, req.Size)
	if err != nil {
		return nil, err
	}
	defer removeTemp(spool)

	decision, err := d.cfg.Router.Decide(routing.CandidateFromName(req.Key, req.ContentType, size))
	if err != nil {
		return nil, err
	}
	p := decision.Provider
	providerID = p.ID

	transfer, err := d.cfg.Transfers.For(p)
	if err != nil {
		return nil, err
	}

	encrypted, err = d.cfg.Policy.ShouldEncrypt(p.ID)
	if err != nil {
		return nil, err
	}

	body := io.ReadSeeker(spool)
	bodySize := size
	contentType := req.ContentType
	metadata := copyMetadata(req.Metadata)

	result = &Result{
		Key:        req.Key,
		ProviderID: p.ID,
		Stage:      decision.Stage,
		Size:       size,
		Encrypted:  encrypted,
	}

	if encrypted {
		sealed, meta, key, err := d.encrypt(ctx, p.ID, spool)
		if err != nil {
			return nil, err
		}
		defer removeTemp(sealed)

		body = sealed
		bodySize = meta.EncryptedSize
		if contentType != "" {
			metadata[MetaContentType] = contentType
		}
		contentType = encryptedContentType
		metadata[MetaEncryption] = string(key.Algorithm)
		metadata[MetaKeyID] = key.KeyID
		metadata[MetaPlainSize] = strconv.FormatInt(size, 10)

		result.KeyID = key.KeyID
		result.Algorithm = key.Algorithm
	}

	put, err := transfer.Put(ctx, req.Key, body, bodySize, contentType, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s on %s: %w", req.Key, p.ID, err)
	}
	result.Location = put.Location
	result.ETag = put.ETag
	result.StoredSize = put.Size

	if d.cfg.Usage != nil {
		if uerr := d.cfg.Usage.RecordUpload(ctx, p.ID, size, bodySize, time.Now().UTC()); uerr != nil {
			logrus.WithError(uerr).WithField("provider_id", p.ID).Warn("Failed to record provider usage")
		}
	}

	logrus.WithFields(logrus.Fields{
		"key":         req.Key,
		"provider_id": p.ID,
		"stage":       decision.Stage,
		"size":        size,
		"encrypted":   encrypted,
	}).Info("Object dispatched")

	return result, nil
}

// spool copies body to a temp file so its exact size is known and the
// transfer can rewind it
func (d *Dispatcher) spool(body io.Reader, declared int64) (*os.File, int64, error) {
	if d.cfg.MaxUploadSize > 0 && declared > d.cfg.MaxUploadSize {
		return nil, 0, ErrTooLarge
	}

	f, err := os.CreateTemp(d.cfg.SpoolDir, "upload-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create spool file: %w", err)
	}

	src := body
	if d.cfg.MaxUploadSize > 0 {
		src = io.LimitReader(body, d.cfg.MaxUploadSize+1)
	}

	n, err := io.Copy(f, src)
	if err != nil {
		removeTemp(f)
		return nil, 0, fmt.Errorf("failed to spool upload: %w", err)
	}
	if d.cfg.MaxUploadSize > 0 && n > d.cfg.MaxUploadSize {
		removeTemp(f)
		return nil, 0, ErrTooLarge
	}
	if declared != routing.UnknownSize && n != declared {
		removeTemp(f)
		return nil, 0, fmt.Errorf("%w: declared %d, received %d", ErrSizeMismatch, declared, n)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		removeTemp(f)
		return nil, 0, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return f, n, nil
}

func (d *Dispatcher) encrypt(ctx context.Context, providerID string, plain *os.File) (*os.File, *encryption.EncryptionMetadata, *policy.ResolvedKey, error) {
	key, err := d.cfg.Policy.ResolveKey(ctx, providerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to resolve encryption key: %w", err)
	}

	encryptor, err := encryption.NewEncryptor(key.Algorithm)
	if err != nil {
		return nil, nil, nil, err
	}

	sealed, err := os.CreateTemp(d.cfg.SpoolDir, "sealed-*")
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	meta, err := encryptor.EncryptStream(plain, sealed, key.Key)
	if err != nil {
		removeTemp(sealed)
		return nil, nil, nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		removeTemp(sealed)
		return nil, nil, nil, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return sealed, meta, key, nil
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func removeTemp(f *os.File) {
	name := f.Name()
	f.Close()
	os.Remove(name)
}
