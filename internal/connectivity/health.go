package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Health statuses
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
)

// ProviderHealth is the probe outcome for one provider
type ProviderHealth struct {
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	IsDefault  bool   `json:"is_default"`
	// Critical marks the default provider, which receives every unmatched file
	Critical bool    `json:"critical"`
	Result   *Result `json:"result"`
}

// HealthReport summarizes all enabled providers
type HealthReport struct {
	Status          string           `json:"status"`
	CheckedAt       time.Time        `json:"checked_at"`
	Providers       []ProviderHealth `json:"providers"`
	Recommendations []string         `json:"recommendations"`
}

// CheckAll probes every enabled provider concurrently. Each probe is bounded
// by the validator timeout, so the whole check is too.
func (v *Validator) CheckAll(ctx context.Context) *HealthReport {
	var enabled []ProviderHealth
	for _, p := range v.providers.List() {
		if !p.IsEnabled {
			continue
		}
		enabled = append(enabled, ProviderHealth{
			ProviderID: p.ID,
			Name:       p.Name,
			Kind:       string(p.Kind),
			IsDefault:  p.IsDefault,
			Critical:   p.IsDefault,
		})
	}

	var wg sync.WaitGroup
	for i := range enabled {
		wg.Add(1)
		go func(h *ProviderHealth) {
			defer wg.Done()
			p, err := v.providers.Get(h.ProviderID)
			if err != nil {
				h.Result = &Result{ProviderID: h.ProviderID, Reason: err.Error(), CheckedAt: time.Now().UTC()}
				return
			}
			h.Result, _ = v.probe(ctx, p)
		}(&enabled[i])
	}
	wg.Wait()

	report := &HealthReport{
		Status:          StatusOperational,
		CheckedAt:       time.Now().UTC(),
		Providers:       enabled,
		Recommendations: []string{},
	}

	for _, h := range enabled {
		if h.Result.OK {
			continue
		}
		report.Status = StatusDegraded
		if h.Critical {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Default provider %q is unreachable (%s); unmatched uploads will fail until it recovers or another default is set", h.Name, h.Result.Reason))
		} else {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("Provider %q is unreachable (%s); check its credentials or disable it", h.Name, h.Result.Reason))
		}
	}

	return report
}
