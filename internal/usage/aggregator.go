package usage

import (
	"context"
	"time"

	"github.com/maxiofs/storehub/internal/provider"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
)

const bytesPerGB = 1024 * 1024 * 1024

// ProviderLister lists the registered providers
type ProviderLister interface {
	List() []*provider.StorageProvider
}

// ProviderStats is the usage of one provider with its estimated cost
type ProviderStats struct {
	ProviderID           string     `json:"provider_id"`
	Name                 string     `json:"name"`
	Kind                 string     `json:"kind"`
	IsDefault            bool       `json:"is_default"`
	IsEnabled            bool       `json:"is_enabled"`
	FilesCount           int64      `json:"files_count"`
	BytesStored          int64      `json:"bytes_stored"`
	BandwidthBytes       int64      `json:"bandwidth_bytes"`
	LastUploadAt         *time.Time `json:"last_upload_at,omitempty"`
	PricePerGBMonth      float64    `json:"price_per_gb_month"`
	EstimatedMonthlyCost float64    `json:"estimated_monthly_cost"`
}

// DiskCapacity describes the filesystem holding the local provider's root
type DiskCapacity struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Stats aggregates usage across providers
type Stats struct {
	Providers            []ProviderStats `json:"providers"`
	TotalFiles           int64           `json:"total_files"`
	TotalBytes           int64           `json:"total_bytes"`
	TotalBandwidth       int64           `json:"total_bandwidth_bytes"`
	EstimatedMonthlyCost float64         `json:"estimated_monthly_cost"`
	LocalDisk            *DiskCapacity   `json:"local_disk,omitempty"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// Aggregator builds storage stats from the registry and the usage counters
type Aggregator struct {
	store     *Store
	providers ProviderLister
	localRoot string
}

// NewAggregator creates an aggregator. localRoot may be empty to skip disk capacity.
func NewAggregator(store *Store, providers ProviderLister, localRoot string) *Aggregator {
	return &Aggregator{store: store, providers: providers, localRoot: localRoot}
}

// Stats returns per-provider usage in registration order plus totals
func (a *Aggregator) Stats(ctx context.Context) (*Stats, error) {
	counters, err := a.store.All(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Providers:   []ProviderStats{},
		GeneratedAt: time.Now().UTC(),
	}

	for _, p := range a.providers.List() {
		info := p.Kind.Info()
		ps := ProviderStats{
			ProviderID:      p.ID,
			Name:            p.Name,
			Kind:            string(p.Kind),
			IsDefault:       p.IsDefault,
			IsEnabled:       p.IsEnabled,
			PricePerGBMonth: info.PricePerGBMonth,
		}
		if c, ok := counters[p.ID]; ok {
			ps.FilesCount = c.FilesCount
			ps.BytesStored = c.BytesStored
			ps.BandwidthBytes = c.BandwidthBytes
			ps.LastUploadAt = c.LastUploadAt
		}
		ps.EstimatedMonthlyCost = EstimateMonthlyCost(ps.BytesStored, info.PricePerGBMonth)

		stats.TotalFiles += ps.FilesCount
		stats.TotalBytes += ps.BytesStored
		stats.TotalBandwidth += ps.BandwidthBytes
		stats.EstimatedMonthlyCost += ps.EstimatedMonthlyCost
		stats.Providers = append(stats.Providers, ps)
	}

	if a.localRoot != "" {
		usage, err := disk.UsageWithContext(ctx, a.localRoot)
		if err != nil {
			logrus.WithError(err).WithField("path", a.localRoot).Warn("Failed to read local disk capacity")
		} else {
			stats.LocalDisk = &DiskCapacity{
				Path:        a.localRoot,
				TotalBytes:  usage.Total,
				UsedBytes:   usage.Used,
				FreeBytes:   usage.Free,
				UsedPercent: usage.UsedPercent,
			}
		}
	}

	return stats, nil
}

// EstimateMonthlyCost prices bytes at pricePerGB per month, rounded to cents
func EstimateMonthlyCost(bytes int64, pricePerGB float64) float64 {
	if bytes <= 0 || pricePerGB <= 0 {
		return 0
	}
	cost := float64(bytes) / bytesPerGB * pricePerGB
	return float64(int64(cost*100+0.5)) / 100
}
