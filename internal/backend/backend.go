package backend

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/maxiofs/storehub/internal/provider"
)

var (
	// ErrInvalidKey is returned for object keys that are empty or escape the root
	ErrInvalidKey = errors.New("invalid object key")

	// ErrEndpointRequired is returned when a provider kind has no known endpoint and none is configured
	ErrEndpointRequired = errors.New("endpoint is required for this provider kind")
)

// PutResult describes a stored object
type PutResult struct {
	Location string `json:"location"`
	ETag     string `json:"etag,omitempty"`
	Size     int64  `json:"size"`
}

// Transfer moves payloads to one provider and probes its reachability
type Transfer interface {
	// Put stores body under key. size is the exact body length.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, metadata map[string]string) (*PutResult, error)
	// Probe checks reachability without writing anything
	Probe(ctx context.Context) error
}

// S3ClientFactory builds the S3 API client for a provider; replaced in tests
type S3ClientFactory func(p *provider.StorageProvider) (S3API, error)

// Factory builds transfers for providers
type Factory struct {
	localRoot string
	s3Factory S3ClientFactory
}

// NewFactory creates a factory that stores local objects under localRoot
func NewFactory(localRoot string) *Factory {
	return &Factory{localRoot: localRoot, s3Factory: NewS3Client}
}

// NewFactoryWithS3 creates a factory with a custom S3 client constructor
func NewFactoryWithS3(localRoot string, s3Factory S3ClientFactory) *Factory {
	return &Factory{localRoot: localRoot, s3Factory: s3Factory}
}

// LocalRoot returns the directory used by the local provider
func (f *Factory) LocalRoot() string {
	return f.localRoot
}

// For returns the transfer for p
func (f *Factory) For(p *provider.StorageProvider) (Transfer, error) {
	if p.Kind.IsLocal() {
		return NewLocalTransfer(f.localRoot)
	}

	client, err := f.s3Factory(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", p.ID, err)
	}
	return &S3Transfer{
		client:   client,
		bucket:   p.Credentials.Bucket,
		endpoint: ResolveEndpoint(p),
	}, nil
}

// ResolveEndpoint returns the configured endpoint or the kind's default for the region
func ResolveEndpoint(p *provider.StorageProvider) string {
	if p.Credentials.Endpoint != "" {
		return p.Credentials.Endpoint
	}
	return p.Kind.Endpoint(p.Credentials.Region)
}

// ResolveRegion returns the configured region or the kind's default
func ResolveRegion(p *provider.StorageProvider) string {
	if p.Credentials.Region != "" {
		return p.Credentials.Region
	}
	if r := p.Kind.Info().DefaultRegion; r != "" {
		return r
	}
	return "us-east-1"
}
