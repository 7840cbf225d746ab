package provider

// CreateRequest describes a new provider
type CreateRequest struct {
	ID              string        `json:"id,omitempty" validate:"omitempty,max=64,printascii,excludesall=/?#% "`
	Kind            Kind          `json:"kind" validate:"required,provider_kind"`
	Name            string        `json:"name" validate:"required,max=128"`
	IsEnabled       bool          `json:"is_enabled"`
	Credentials     Credentials   `json:"credentials"`
	CDN             CDN           `json:"cdn"`
	Encryption      Encryption    `json:"encryption"`
	RoutingPriority int           `json:"routing_priority" validate:"min=0,max=100"`
	RoutingRules    *RoutingRules `json:"routing_rules,omitempty"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Name              *string           `json:"name,omitempty" validate:"omitempty,min=1,max=128"`
	IsEnabled         *bool             `json:"is_enabled,omitempty"`
	Credentials       *CredentialsPatch `json:"credentials,omitempty"`
	CDN               *CDNPatch         `json:"cdn,omitempty"`
	Encryption        *EncryptionPatch  `json:"encryption,omitempty"`
	RoutingPriority   *int              `json:"routing_priority,omitempty" validate:"omitempty,min=0,max=100"`
	RoutingRules      *RoutingRules     `json:"routing_rules,omitempty"`
	ClearRoutingRules bool              `json:"clear_routing_rules,omitempty"`
}

// CredentialsPatch updates individual credential fields; an empty string clears one
type CredentialsPatch struct {
	AccessKey *string `json:"access_key,omitempty"`
	SecretKey *string `json:"secret_key,omitempty"`
	Region    *string `json:"region,omitempty"`
	Bucket    *string `json:"bucket,omitempty"`
	Endpoint  *string `json:"endpoint,omitempty" validate:"omitempty,url"`
}

// CDNPatch updates the CDN settings
type CDNPatch struct {
	Enabled *bool   `json:"enabled,omitempty"`
	URL     *string `json:"url,omitempty"`
}

// EncryptionPatch updates the encryption policy; an empty Key removes a configured key
type EncryptionPatch struct {
	Enabled   *bool      `json:"enabled,omitempty"`
	Algorithm *Algorithm `json:"algorithm,omitempty" validate:"omitempty,encryption_algorithm"`
	Key       *string    `json:"key,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p *Patch) Empty() bool {
	return p.Name == nil && p.IsEnabled == nil && p.Credentials == nil && p.CDN == nil &&
		p.Encryption == nil && p.RoutingPriority == nil && p.RoutingRules == nil && !p.ClearRoutingRules
}

// apply writes the patch onto p and returns the names of the touched fields
func (p *Patch) apply(sp *StorageProvider) []string {
	var changed []string

	if p.Name != nil {
		sp.Name = *p.Name
		changed = append(changed, "name")
	}
	if p.IsEnabled != nil {
		sp.IsEnabled = *p.IsEnabled
		changed = append(changed, "is_enabled")
	}
	if c := p.Credentials; c != nil {
		setString(&sp.Credentials.AccessKey, c.AccessKey)
		setString(&sp.Credentials.SecretKey, c.SecretKey)
		setString(&sp.Credentials.Region, c.Region)
		setString(&sp.Credentials.Bucket, c.Bucket)
		setString(&sp.Credentials.Endpoint, c.Endpoint)
		changed = append(changed, "credentials")
	}
	if c := p.CDN; c != nil {
		if c.Enabled != nil {
			sp.CDN.Enabled = *c.Enabled
		}
		setString(&sp.CDN.URL, c.URL)
		changed = append(changed, "cdn")
	}
	if e := p.Encryption; e != nil {
		if e.Enabled != nil {
			sp.Encryption.Enabled = *e.Enabled
		}
		if e.Algorithm != nil {
			sp.Encryption.Algorithm = *e.Algorithm
		}
		setString(&sp.Encryption.Key, e.Key)
		changed = append(changed, "encryption")
	}
	if p.RoutingPriority != nil {
		sp.RoutingPriority = *p.RoutingPriority
		changed = append(changed, "routing_priority")
	}
	if p.ClearRoutingRules {
		sp.RoutingRules = nil
		changed = append(changed, "routing_rules")
	} else if p.RoutingRules != nil {
		sp.RoutingRules = p.RoutingRules.Normalize()
		changed = append(changed, "routing_rules")
	}

	return changed
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
