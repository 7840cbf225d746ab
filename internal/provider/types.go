package provider

import (
	"sort"
	"strings"
	"time"

	"github.com/maxiofs/storehub/pkg/encryption"
)

// LocalProviderID is the id of the seeded local disk provider
const LocalProviderID = "local"

// Algorithm is the client-side encryption cipher of a provider
type Algorithm = encryption.Algorithm

// Credentials holds the connection settings of a cloud backend
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket"`
	Endpoint  string `json:"endpoint,omitempty"`
}

// Complete reports whether access key, secret key and bucket are all present
func (c Credentials) Complete() bool {
	return len(c.Missing()) == 0
}

// Missing lists the required credential fields that are empty
func (c Credentials) Missing() []string {
	var missing []string
	if strings.TrimSpace(c.AccessKey) == "" {
		missing = append(missing, "access_key")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		missing = append(missing, "secret_key")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	return missing
}

// CDN is the optional delivery network in front of a provider
type CDN struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url,omitempty"`
}

// Encryption is the client-side encryption policy of a provider
type Encryption struct {
	Enabled   bool      `json:"enabled"`
	Algorithm Algorithm `json:"algorithm" validate:"omitempty,encryption_algorithm"`
	// Key is optional configured key material; empty means a key is generated on first use
	Key string `json:"key,omitempty"`
}

// RoutingRules restricts which files a provider accepts.
// A nil slice or pointer imposes no constraint.
type RoutingRules struct {
	FileTypes    []string `json:"file_types,omitempty"`
	ContentTypes []string `json:"content_types,omitempty"`
	MinSize      *int64   `json:"min_size,omitempty"`
	MaxSize      *int64   `json:"max_size,omitempty"`
}

// Empty reports whether the rules impose no constraint at all
func (r *RoutingRules) Empty() bool {
	return r == nil || (len(r.FileTypes) == 0 && len(r.ContentTypes) == 0 && r.MinSize == nil && r.MaxSize == nil)
}

// Normalize lowercases extensions and content types, strips leading dots,
// drops duplicates and returns nil when nothing remains
func (r *RoutingRules) Normalize() *RoutingRules {
	if r == nil {
		return nil
	}
	out := &RoutingRules{
		FileTypes:    normalizeList(r.FileTypes, true),
		ContentTypes: normalizeList(r.ContentTypes, false),
		MinSize:      copyInt64(r.MinSize),
		MaxSize:      copyInt64(r.MaxSize),
	}
	if out.Empty() {
		return nil
	}
	return out
}

func (r *RoutingRules) clone() *RoutingRules {
	if r == nil {
		return nil
	}
	return &RoutingRules{
		FileTypes:    append([]string(nil), r.FileTypes...),
		ContentTypes: append([]string(nil), r.ContentTypes...),
		MinSize:      copyInt64(r.MinSize),
		MaxSize:      copyInt64(r.MaxSize),
	}
}

func normalizeList(in []string, stripDot bool) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if stripDot {
			v = strings.TrimLeft(v, ".")
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// StorageProvider is a configured storage backend
type StorageProvider struct {
	ID              string        `json:"id"`
	Kind            Kind          `json:"kind"`
	Name            string        `json:"name"`
	IsDefault       bool          `json:"is_default"`
	IsEnabled       bool          `json:"is_enabled"`
	Credentials     Credentials   `json:"credentials"`
	CDN             CDN           `json:"cdn"`
	Encryption      Encryption    `json:"encryption"`
	RoutingPriority int           `json:"routing_priority"`
	RoutingRules    *RoutingRules `json:"routing_rules,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	// seq is the registration order used for tie-breaks
	seq int64
}

// Seq returns the registration sequence number
func (p *StorageProvider) Seq() int64 {
	return p.seq
}

// Configured reports whether the provider has what it needs to accept data.
// The local kind needs no credentials.
func (p *StorageProvider) Configured() bool {
	return p.Kind.IsLocal() || len(p.MissingConfig()) == 0
}

// MissingConfig lists the settings that keep the provider from accepting
// data: credential fields, plus the endpoint for kinds that have no
// well-known one.
func (p *StorageProvider) MissingConfig() []string {
	if p.Kind.IsLocal() {
		return nil
	}
	missing := p.Credentials.Missing()
	if p.Kind.RequiresEndpoint() && strings.TrimSpace(p.Credentials.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	return missing
}

// Routable reports whether routing may select the provider
func (p *StorageProvider) Routable() bool {
	return p.IsEnabled && p.Configured()
}

// HasRules reports whether the provider carries any routing constraint
func (p *StorageProvider) HasRules() bool {
	return !p.RoutingRules.Empty()
}

// Clone returns a deep copy
func (p *StorageProvider) Clone() *StorageProvider {
	c := *p
	c.RoutingRules = p.RoutingRules.clone()
	return &c
}

// ProviderView is the API representation with secrets removed
type ProviderView struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	KindLabel       string          `json:"kind_label"`
	Name            string          `json:"name"`
	IsDefault       bool            `json:"is_default"`
	IsEnabled       bool            `json:"is_enabled"`
	Configured      bool            `json:"configured"`
	Credentials     CredentialsView `json:"credentials"`
	CDN             CDN             `json:"cdn"`
	Encryption      EncryptionView  `json:"encryption"`
	RoutingPriority int             `json:"routing_priority"`
	RoutingRules    *RoutingRules   `json:"routing_rules,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CredentialsView exposes credentials without the secret
type CredentialsView struct {
	AccessKey    string `json:"access_key,omitempty"`
	HasSecretKey bool   `json:"has_secret_key"`
	Region       string `json:"region,omitempty"`
	Bucket       string `json:"bucket,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
}

// EncryptionView exposes the encryption policy without key material
type EncryptionView struct {
	Enabled   bool      `json:"enabled"`
	Algorithm Algorithm `json:"algorithm"`
	HasKey    bool      `json:"has_key"`
}

// View returns the redacted representation of the provider
func (p *StorageProvider) View() ProviderView {
	return ProviderView{
		ID:         p.ID,
		Kind:       p.Kind,
		KindLabel:  p.Kind.Info().Label,
		Name:       p.Name,
		IsDefault:  p.IsDefault,
		IsEnabled:  p.IsEnabled,
		Configured: p.Configured(),
		Credentials: CredentialsView{
			AccessKey:    MaskSecret(p.Credentials.AccessKey),
			HasSecretKey: p.Credentials.SecretKey != "",
			Region:       p.Credentials.Region,
			Bucket:       p.Credentials.Bucket,
			Endpoint:     p.Credentials.Endpoint,
		},
		CDN: p.CDN,
		Encryption: EncryptionView{
			Enabled:   p.Encryption.Enabled,
			Algorithm: p.Encryption.Algorithm,
			HasKey:    p.Encryption.Key != "",
		},
		RoutingPriority: p.RoutingPriority,
		RoutingRules:    p.RoutingRules.clone(),
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// MaskSecret keeps the first four characters of a value
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", len(s)-4)
}
