package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/maxiofs/storehub/internal/backend"
	"github.com/maxiofs/storehub/internal/policy"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/maxiofs/storehub/internal/routing"
	"github.com/maxiofs/storehub/pkg/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	providers []*provider.StorageProvider
}

func (s *staticSource) List() []*provider.StorageProvider {
	return s.providers
}

type fakePolicy struct {
	encrypt map[string]bool
	key     *policy.ResolvedKey
	calls   int
}

func (f *fakePolicy) ShouldEncrypt(providerID string) (bool, error) {
	return f.encrypt[providerID], nil
}

func (f *fakePolicy) ResolveKey(ctx context.Context, providerID string) (*policy.ResolvedKey, error) {
	f.calls++
	return f.key, nil
}

type usageCall struct {
	providerID  string
	stored      int64
	transferred int64
}

type fakeUsage struct {
	mu    sync.Mutex
	calls []usageCall
}

func (f *fakeUsage) RecordUpload(ctx context.Context, providerID string, storedBytes, transferredBytes int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, usageCall{providerID, storedBytes, transferredBytes})
	return nil
}

type fakeRecorder struct {
	providerID string
	err        error
}

func (f *fakeRecorder) RecordUpload(providerID string, encrypted bool, bytes int64, duration time.Duration, err error) {
	f.providerID = providerID
	f.err = err
}

// recordingS3 captures the last PutObject call
type recordingS3 struct {
	bucket string
	key    string
}

func (r *recordingS3) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	r.bucket = aws.ToString(params.Bucket)
	r.key = aws.ToString(params.Key)
	return &s3.PutObjectOutput{ETag: aws.String(`"etag"`)}, nil
}

func (r *recordingS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func localProvider() *provider.StorageProvider {
	return &provider.StorageProvider{
		ID:        provider.LocalProviderID,
		Kind:      provider.KindDefault,
		Name:      "Local",
		IsDefault: true,
		IsEnabled: true,
	}
}

type testEnv struct {
	dispatcher *Dispatcher
	policy     *fakePolicy
	usage      *fakeUsage
	recorder   *fakeRecorder
	localRoot  string
	spoolDir   string
}

func setupTestDispatcher(t *testing.T, providers []*provider.StorageProvider, transfers TransferFactory) *testEnv {
	root := t.TempDir()
	localRoot := filepath.Join(root, "objects")
	spoolDir := filepath.Join(root, "spool")

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	env := &testEnv{
		policy: &fakePolicy{
			encrypt: make(map[string]bool),
			key: &policy.ResolvedKey{
				Key:       key,
				KeyID:     "local:v1",
				Algorithm: encryption.AlgorithmAES256,
				Source:    policy.SourceGenerated,
				Version:   1,
			},
		},
		usage:     &fakeUsage{},
		recorder:  &fakeRecorder{},
		localRoot: localRoot,
		spoolDir:  spoolDir,
	}
	if transfers == nil {
		transfers = backend.NewFactory(localRoot)
	}

	d, err := NewDispatcher(Config{
		Router:    routing.NewEvaluator(&staticSource{providers: providers}, nil),
		Policy:    env.policy,
		Transfers: transfers,
		Usage:     env.usage,
		Recorder:  env.recorder,
		SpoolDir:  spoolDir,
	})
	require.NoError(t, err)
	env.dispatcher = d
	return env
}

func assertSpoolEmpty(t *testing.T, dir string) {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool files should be removed")
}

func TestUpload_PlainToLocal(t *testing.T) {
	env := setupTestDispatcher(t, []*provider.StorageProvider{localProvider()}, nil)
	payload := []byte("hello storehub")

	result, err := env.dispatcher.Upload(context.Background(), Request{
		Key:         "docs/readme.txt",
		ContentType: "text/plain",
		Size:        int64(len(payload)),
		Body:        bytes.NewReader(payload),
	})
	require.NoError(t, err)

	assert.Equal(t, provider.LocalProviderID, result.ProviderID)
	assert.Equal(t, routing.StageRuleFree, result.Stage)
	assert.False(t, result.Encrypted)
	assert.Equal(t, int64(len(payload)), result.Size)
	assert.Equal(t, int64(len(payload)), result.StoredSize)

	stored, err := os.ReadFile(filepath.Join(env.localRoot, "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	require.Len(t, env.usage.calls, 1)
	assert.Equal(t, usageCall{provider.LocalProviderID, int64(len(payload)), int64(len(payload))}, env.usage.calls[0])
	assert.Equal(t, provider.LocalProviderID, env.recorder.providerID)
	assert.NoError(t, env.recorder.err)
	assert.Equal(t, 0, env.policy.calls)
	assertSpoolEmpty(t, env.spoolDir)
}

func TestUpload_EncryptsWhenPolicyRequires(t *testing.T) {
	env := setupTestDispatcher(t, []*provider.StorageProvider{localProvider()}, nil)
	env.policy.encrypt[provider.LocalProviderID] = true
	payload := bytes.Repeat([]byte("secret payload "), 10000)

	result, err := env.dispatcher.Upload(context.Background(), Request{
		Key:         "vault/data.bin",
		ContentType: "application/x-custom",
		Size:        routing.UnknownSize,
		Body:        bytes.NewReader(payload),
	})
	require.NoError(t, err)
	assert.True(t, result.Encrypted)
	assert.Equal(t, "local:v1", result.KeyID)
	assert.Equal(t, encryption.EncryptedSize(int64(len(payload)), encryption.DefaultChunkSize), result.StoredSize)

	path := filepath.Join(env.localRoot, "vault", "data.bin")
	sealed, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, payload, sealed)

	encryptor, err := encryption.NewEncryptor(encryption.AlgorithmAES256)
	require.NoError(t, err)
	var plain bytes.Buffer
	require.NoError(t, encryptor.DecryptStream(bytes.NewReader(sealed), &plain, env.policy.key.Key))
	assert.Equal(t, payload, plain.Bytes())

	metaData, err := os.ReadFile(path + backend.MetadataSuffix)
	require.NoError(t, err)
	var meta map[string]string
	require.NoError(t, json.Unmarshal(metaData, &meta))
	assert.Equal(t, "AES-256", meta[MetaEncryption])
	assert.Equal(t, "local:v1", meta[MetaKeyID])
	assert.Equal(t, "150000", meta[MetaPlainSize])
	assert.Equal(t, "application/x-custom", meta[MetaContentType])
	assert.Equal(t, encryptedContentType, meta["content-type"])

	require.Len(t, env.usage.calls, 1)
	assert.Equal(t, int64(len(payload)), env.usage.calls[0].stored)
	assert.Equal(t, result.StoredSize, env.usage.calls[0].transferred)
	assertSpoolEmpty(t, env.spoolDir)
}

func TestUpload_RoutesByRules(t *testing.T) {
	images := &provider.StorageProvider{
		ID:        "images",
		Kind:      provider.KindMinIO,
		Name:      "Images",
		IsEnabled: true,
		Credentials: provider.Credentials{
			AccessKey: "minio",
			SecretKey: "minio-secret",
			Bucket:    "images",
			Endpoint:  "http://minio:9000",
		},
		RoutingPriority: 50,
		RoutingRules:    &provider.RoutingRules{FileTypes: []string{"png"}},
	}

	client := &recordingS3{}
	transfers := backend.NewFactoryWithS3(filepath.Join(t.TempDir(), "objects"), func(p *provider.StorageProvider) (backend.S3API, error) {
		return client, nil
	})

	env := setupTestDispatcher(t, []*provider.StorageProvider{localProvider(), images}, transfers)

	result, err := env.dispatcher.Upload(context.Background(), Request{
		Key:  "photos/cat.png",
		Size: 3,
		Body: strings.NewReader("png"),
	})
	require.NoError(t, err)
	assert.Equal(t, "images", result.ProviderID)
	assert.Equal(t, routing.StageRules, result.Stage)
	assert.Equal(t, "photos/cat.png", client.key)
	assert.Equal(t, "images", client.bucket)
}

func TestUpload_SizeMismatch(t *testing.T) {
	env := setupTestDispatcher(t, []*provider.StorageProvider{localProvider()}, nil)

	_, err := env.dispatcher.Upload(context.Background(), Request{
		Key:  "short.txt",
		Size: 100,
		Body: strings.NewReader("only a few bytes"),
	})
	assert.ErrorIs(t, err, ErrSizeMismatch)
	assert.Empty(t, env.usage.calls)
	assertSpoolEmpty(t, env.spoolDir)
}

func TestUpload_TooLarge(t *testing.T) {
	env := setupTestDispatcher(t, []*provider.StorageProvider{localProvider()}, nil)
	env.dispatcher.cfg.MaxUploadSize = 8

	_, err := env.dispatcher.Upload(context.Background(), Request{
		Key:  "big.txt",
		Size: routing.UnknownSize,
		Body: strings.NewReader("more than eight bytes"),
	})
	assert.ErrorIs(t, err, ErrTooLarge)
	assertSpoolEmpty(t, env.spoolDir)
}

func TestUpload_NoProvider(t *testing.T) {
	disabled := localProvider()
	disabled.IsEnabled = false
	env := setupTestDispatcher(t, []*provider.StorageProvider{disabled}, nil)

	_, err := env.dispatcher.Upload(context.Background(), Request{
		Key:  "a.txt",
		Size: 1,
		Body: strings.NewReader("a"),
	})
	assert.True(t, errors.Is(err, provider.ErrNoProviderAvailable))
	assertSpoolEmpty(t, env.spoolDir)
}

func TestUpload_InvalidKey(t *testing.T) {
	env := setupTestDispatcher(t, []*provider.StorageProvider{localProvider()}, nil)

	_, err := env.dispatcher.Upload(context.Background(), Request{
		Key:  "../escape.txt",
		Size: 1,
		Body: strings.NewReader("a"),
	})
	assert.ErrorIs(t, err, backend.ErrInvalidKey)
	assert.ErrorIs(t, env.recorder.err, backend.ErrInvalidKey)
	assert.Empty(t, env.usage.calls)
}

func TestPlan(t *testing.T) {
	p := localProvider()
	p.Encryption = provider.Encryption{Enabled: true, Algorithm: encryption.AlgorithmChaCha20}
	env := setupTestDispatcher(t, []*provider.StorageProvider{p}, nil)
	env.policy.encrypt[provider.LocalProviderID] = true

	plan, err := env.dispatcher.Plan(routing.Candidate{Extension: ".PDF", MimeType: "application/pdf", SizeBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, provider.LocalProviderID, plan.ProviderID)
	assert.True(t, plan.Encrypt)
	assert.Equal(t, encryption.AlgorithmChaCha20, plan.Algorithm)
	assert.Equal(t, "pdf", plan.Candidate.Extension)
	assert.Equal(t, 0, env.policy.calls)
}

func TestNewDispatcher_RequiresCollaborators(t *testing.T) {
	_, err := NewDispatcher(Config{})
	assert.Error(t, err)
}
