package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"github.com/maxiofs/storehub/internal/backend"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a probe when none is configured
const DefaultTimeout = 10 * time.Second

// ConnectionError is a failed probe. Reason is safe to show to users.
type ConnectionError struct {
	ProviderID string `json:"provider_id"`
	Reason     string `json:"reason"`
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to provider %s failed: %s", e.ProviderID, e.Reason)
}

// ProviderLookup resolves provider records
type ProviderLookup interface {
	Get(id string) (*provider.StorageProvider, error)
	List() []*provider.StorageProvider
}

// TransferFactory builds the probe target for a provider
type TransferFactory interface {
	For(p *provider.StorageProvider) (backend.Transfer, error)
}

// Recorder observes probe outcomes
type Recorder interface {
	RecordConnectionTest(providerID string, ok bool, duration time.Duration)
}

// Result is the outcome of a probe
type Result struct {
	ProviderID string    `json:"provider_id"`
	OK         bool      `json:"ok"`
	LatencyMs  int64     `json:"latency_ms"`
	Reason     string    `json:"reason,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// Validator probes providers. It never writes to the registry.
type Validator struct {
	providers ProviderLookup
	factory   TransferFactory
	timeout   time.Duration
	recorder  Recorder
}

// NewValidator creates a validator; recorder may be nil
func NewValidator(providers ProviderLookup, factory TransferFactory, timeout time.Duration, recorder Recorder) *Validator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Validator{
		providers: providers,
		factory:   factory,
		timeout:   timeout,
		recorder:  recorder,
	}
}

// Timeout returns the probe timeout
func (v *Validator) Timeout() time.Duration {
	return v.timeout
}

// TestConnection probes the provider within the configured timeout. A failed
// probe returns the result together with a *ConnectionError; a missing
// provider returns provider.ErrNotFound. Nothing is retried.
func (v *Validator) TestConnection(ctx context.Context, providerID string) (*Result, error) {
	p, err := v.providers.Get(providerID)
	if err != nil {
		return nil, err
	}
	return v.probe(ctx, p)
}

func (v *Validator) probe(ctx context.Context, p *provider.StorageProvider) (*Result, error) {
	start := time.Now()
	result := &Result{ProviderID: p.ID, CheckedAt: start.UTC()}

	err := v.runProbe(ctx, p)
	elapsed := time.Since(start)
	result.LatencyMs = elapsed.Milliseconds()

	if v.recorder != nil {
		v.recorder.RecordConnectionTest(p.ID, err == nil, elapsed)
	}

	if err != nil {
		reason := scrub(describe(err, v.timeout), p.Credentials)
		result.Reason = reason

		logrus.WithFields(logrus.Fields{
			"provider_id": p.ID,
			"kind":        p.Kind,
			"latency_ms":  result.LatencyMs,
			"reason":      reason,
		}).Warn("Storage provider connection test failed")

		return result, &ConnectionError{ProviderID: p.ID, Reason: reason}
	}

	result.OK = true
	logrus.WithFields(logrus.Fields{
		"provider_id": p.ID,
		"kind":        p.Kind,
		"latency_ms":  result.LatencyMs,
	}).Debug("Storage provider connection test succeeded")

	return result, nil
}

// runProbe runs the backend probe in its own goroutine so a client that
// ignores cancellation cannot hold the caller past the timeout
func (v *Validator) runProbe(ctx context.Context, p *provider.StorageProvider) error {
	if !p.Configured() {
		return fmt.Errorf("missing credentials: %s", strings.Join(p.MissingConfig(), ", "))
	}

	transfer, err := v.factory.For(p)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- transfer.Probe(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// describe turns a probe error into a short human readable reason
func describe(err error, timeout time.Duration) string {
	var apiErr smithy.APIError
	var netErr net.Error
	var dnsErr *net.DNSError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timed out after %s", timeout)
	case errors.Is(err, context.Canceled):
		return "probe cancelled"
	case errors.Is(err, backend.ErrEndpointRequired):
		return "no endpoint configured for this provider kind"
	case errors.As(err, &apiErr):
		switch apiErr.ErrorCode() {
		case "Forbidden", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return "access denied: check the access key, secret key and bucket permissions"
		case "NotFound", "NoSuchBucket":
			return "bucket not found"
		}
		if msg := apiErr.ErrorMessage(); msg != "" {
			return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), msg)
		}
		return apiErr.ErrorCode()
	case errors.As(err, &dnsErr):
		return fmt.Sprintf("endpoint host %s could not be resolved", dnsErr.Name)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Sprintf("timed out after %s", timeout)
	}
	return err.Error()
}

// scrub removes credential values from a reason
func scrub(reason string, creds provider.Credentials) string {
	for _, secret := range []string{creds.SecretKey, creds.AccessKey} {
		if len(secret) >= 4 {
			reason = strings.ReplaceAll(reason, secret, "****")
		}
	}
	return reason
}
