package usage

import (
	"context"
	"testing"
	"time"

	"github.com/maxiofs/storehub/internal/db"
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestUsage(t *testing.T) (*Store, *provider.Registry) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	conn, err := db.Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	registry, err := provider.NewRegistry(context.Background(), provider.NewSQLiteStore(conn), logger)
	require.NoError(t, err)

	_, err = registry.Create(context.Background(), provider.CreateRequest{
		ID:        "r2-media",
		Kind:      provider.KindR2,
		Name:      "R2 Media",
		IsEnabled: true,
		Credentials: provider.Credentials{
			AccessKey: "AKIAR2EXAMPLE",
			SecretKey: "r2-secret",
			Bucket:    "media",
			Endpoint:  "https://account.r2.cloudflarestorage.com",
		},
	})
	require.NoError(t, err)

	return NewStore(conn), registry
}

func TestStore_RecordUpload(t *testing.T) {
	store, _ := setupTestUsage(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RecordUpload(ctx, "r2-media", 1000, 1100, at))
	require.NoError(t, store.RecordUpload(ctx, "r2-media", 500, 560, at.Add(time.Hour)))

	c, err := store.Get(ctx, "r2-media")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.FilesCount)
	assert.Equal(t, int64(1500), c.BytesStored)
	assert.Equal(t, int64(1660), c.BandwidthBytes)
	require.NotNil(t, c.LastUploadAt)
	assert.Equal(t, at.Add(time.Hour), *c.LastUploadAt)
}

func TestStore_GetWithoutUploads(t *testing.T) {
	store, _ := setupTestUsage(t)

	c, err := store.Get(context.Background(), provider.LocalProviderID)
	require.NoError(t, err)
	assert.Equal(t, provider.LocalProviderID, c.ProviderID)
	assert.Zero(t, c.FilesCount)
	assert.Nil(t, c.LastUploadAt)
}

func TestStore_RecordUploadUnknownProvider(t *testing.T) {
	store, _ := setupTestUsage(t)

	err := store.RecordUpload(context.Background(), "ghost", 1, 1, time.Now())
	assert.Error(t, err)
}

func TestAggregator_Stats(t *testing.T) {
	store, registry := setupTestUsage(t)
	ctx := context.Background()

	require.NoError(t, store.RecordUpload(ctx, provider.LocalProviderID, 2048, 2048, time.Now()))
	require.NoError(t, store.RecordUpload(ctx, "r2-media", 10*bytesPerGB, 10*bytesPerGB, time.Now()))

	aggregator := NewAggregator(store, registry, t.TempDir())
	stats, err := aggregator.Stats(ctx)
	require.NoError(t, err)

	require.Len(t, stats.Providers, 2)
	assert.Equal(t, provider.LocalProviderID, stats.Providers[0].ProviderID)
	assert.True(t, stats.Providers[0].IsDefault)
	assert.Zero(t, stats.Providers[0].EstimatedMonthlyCost)

	r2 := stats.Providers[1]
	assert.Equal(t, "r2-media", r2.ProviderID)
	assert.Equal(t, int64(1), r2.FilesCount)
	assert.InDelta(t, 0.15, r2.EstimatedMonthlyCost, 0.0001)

	assert.Equal(t, int64(2), stats.TotalFiles)
	assert.Equal(t, int64(10*bytesPerGB+2048), stats.TotalBytes)
	assert.InDelta(t, 0.15, stats.EstimatedMonthlyCost, 0.0001)

	require.NotNil(t, stats.LocalDisk)
	assert.Greater(t, stats.LocalDisk.TotalBytes, uint64(0))
}

func TestAggregator_NoLocalRoot(t *testing.T) {
	store, registry := setupTestUsage(t)

	stats, err := NewAggregator(store, registry, "").Stats(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stats.LocalDisk)
}

func TestEstimateMonthlyCost(t *testing.T) {
	assert.Equal(t, 0.0, EstimateMonthlyCost(0, 0.02))
	assert.Equal(t, 0.0, EstimateMonthlyCost(bytesPerGB, 0))
	assert.Equal(t, 0.02, EstimateMonthlyCost(bytesPerGB, 0.02))
	assert.Equal(t, 0.69, EstimateMonthlyCost(100*bytesPerGB, 0.0069))
}
