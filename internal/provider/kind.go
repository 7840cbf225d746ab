package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the backend vendor of a storage provider
type Kind string

const (
	KindDefault  Kind = "default"
	KindS3       Kind = "s3"
	KindR2       Kind = "r2"
	KindB2       Kind = "b2"
	KindWasabi   Kind = "wasabi"
	KindSpaces   Kind = "spaces"
	KindLinode   Kind = "linode"
	KindVultr    Kind = "vultr"
	KindScaleway Kind = "scaleway"
	KindOVH      Kind = "ovh"
	KindIDrive   Kind = "idrive"
	KindStorj    Kind = "storj"
	KindFilebase Kind = "filebase"
	KindMinIO    Kind = "minio"
	KindCeph     Kind = "ceph"
	KindGCS      Kind = "gcs"
	KindAzure    Kind = "azure"
	KindOracle   Kind = "oracle"
	KindIBM      Kind = "ibm"
	KindAlibaba  Kind = "alibaba"
	KindTencent  Kind = "tencent"
	KindHetzner  Kind = "hetzner"
	KindContabo  Kind = "contabo"
	KindBunny    Kind = "bunny"
	KindUpCloud  Kind = "upcloud"
)

// KindInfo describes the static properties of a provider kind
type KindInfo struct {
	Kind  Kind   `json:"kind"`
	Label string `json:"label"`
	// EndpointTemplate builds the S3 endpoint; {region} is substituted.
	// Empty means the SDK resolves the endpoint (AWS) or it must be configured.
	EndpointTemplate string  `json:"endpoint_template,omitempty"`
	DefaultRegion    string  `json:"default_region,omitempty"`
	PricePerGBMonth  float64 `json:"price_per_gb_month"`
}

var kinds = map[Kind]KindInfo{
	KindDefault:  {Label: "Local Disk", PricePerGBMonth: 0},
	KindS3:       {Label: "Amazon S3", DefaultRegion: "us-east-1", PricePerGBMonth: 0.023},
	KindR2:       {Label: "Cloudflare R2", DefaultRegion: "auto", PricePerGBMonth: 0.015},
	KindB2:       {Label: "Backblaze B2", EndpointTemplate: "https://s3.{region}.backblazeb2.com", DefaultRegion: "us-west-004", PricePerGBMonth: 0.006},
	KindWasabi:   {Label: "Wasabi", EndpointTemplate: "https://s3.{region}.wasabisys.com", DefaultRegion: "us-east-1", PricePerGBMonth: 0.0069},
	KindSpaces:   {Label: "DigitalOcean Spaces", EndpointTemplate: "https://{region}.digitaloceanspaces.com", DefaultRegion: "nyc3", PricePerGBMonth: 0.02},
	KindLinode:   {Label: "Akamai Object Storage", EndpointTemplate: "https://{region}.linodeobjects.com", DefaultRegion: "us-east-1", PricePerGBMonth: 0.02},
	KindVultr:    {Label: "Vultr Object Storage", EndpointTemplate: "https://{region}.vultrobjects.com", DefaultRegion: "ewr1", PricePerGBMonth: 0.02},
	KindScaleway: {Label: "Scaleway Object Storage", EndpointTemplate: "https://s3.{region}.scw.cloud", DefaultRegion: "fr-par", PricePerGBMonth: 0.0146},
	KindOVH:      {Label: "OVHcloud Object Storage", EndpointTemplate: "https://s3.{region}.io.cloud.ovh.net", DefaultRegion: "gra", PricePerGBMonth: 0.007},
	KindIDrive:   {Label: "IDrive e2", DefaultRegion: "us-east-1", PricePerGBMonth: 0.004},
	KindStorj:    {Label: "Storj", EndpointTemplate: "https://gateway.storjshare.io", DefaultRegion: "global", PricePerGBMonth: 0.004},
	KindFilebase: {Label: "Filebase", EndpointTemplate: "https://s3.filebase.com", DefaultRegion: "us-east-1", PricePerGBMonth: 0.0059},
	KindMinIO:    {Label: "MinIO", DefaultRegion: "us-east-1", PricePerGBMonth: 0},
	KindCeph:     {Label: "Ceph RGW", DefaultRegion: "default", PricePerGBMonth: 0},
	KindGCS:      {Label: "Google Cloud Storage", EndpointTemplate: "https://storage.googleapis.com", DefaultRegion: "auto", PricePerGBMonth: 0.02},
	KindAzure:    {Label: "Azure Blob (S3 gateway)", DefaultRegion: "eastus", PricePerGBMonth: 0.018},
	KindOracle:   {Label: "Oracle Cloud Object Storage", DefaultRegion: "us-ashburn-1", PricePerGBMonth: 0.0255},
	KindIBM:      {Label: "IBM Cloud Object Storage", EndpointTemplate: "https://s3.{region}.cloud-object-storage.appdomain.cloud", DefaultRegion: "us-south", PricePerGBMonth: 0.022},
	KindAlibaba:  {Label: "Alibaba Cloud OSS", EndpointTemplate: "https://oss-{region}.aliyuncs.com", DefaultRegion: "cn-hangzhou", PricePerGBMonth: 0.017},
	KindTencent:  {Label: "Tencent Cloud COS", EndpointTemplate: "https://cos.{region}.myqcloud.com", DefaultRegion: "ap-guangzhou", PricePerGBMonth: 0.018},
	KindHetzner:  {Label: "Hetzner Object Storage", EndpointTemplate: "https://{region}.your-objectstorage.com", DefaultRegion: "fsn1", PricePerGBMonth: 0.0059},
	KindContabo:  {Label: "Contabo Object Storage", EndpointTemplate: "https://{region}.contabostorage.com", DefaultRegion: "eu2", PricePerGBMonth: 0.0026},
	KindBunny:    {Label: "Bunny Storage", EndpointTemplate: "https://{region}.storage.bunnycdn.com", DefaultRegion: "de", PricePerGBMonth: 0.01},
	KindUpCloud:  {Label: "UpCloud Object Storage", DefaultRegion: "europe-1", PricePerGBMonth: 0.005},
}

func init() {
	for k, info := range kinds {
		info.Kind = k
		kinds[k] = info
	}
}

// Kinds returns all known kinds sorted with the local kind first
func Kinds() []KindInfo {
	out := make([]KindInfo, 0, len(kinds))
	for _, info := range kinds {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind == KindDefault || out[j].Kind == KindDefault {
			return out[i].Kind == KindDefault
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// ParseKind converts a string into a Kind, rejecting unknown values
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := kinds[k]; !ok {
		return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown provider kind %q", s)}
	}
	return k, nil
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// IsLocal reports whether the kind is the local disk backend
func (k Kind) IsLocal() bool {
	return k == KindDefault
}

// RequiresEndpoint reports whether credentials must carry an endpoint.
// AWS is resolved by the SDK; the other kinds without a template are
// account or self-hosted endpoints.
func (k Kind) RequiresEndpoint() bool {
	return !k.IsLocal() && k != KindS3 && kinds[k].EndpointTemplate == ""
}

// Info returns static metadata for the kind
func (k Kind) Info() KindInfo {
	return kinds[k]
}

// Endpoint resolves the S3 endpoint for the kind in region.
// An empty result lets the SDK pick the endpoint.
func (k Kind) Endpoint(region string) string {
	tmpl := kinds[k].EndpointTemplate
	if tmpl == "" {
		return ""
	}
	if region == "" {
		region = kinds[k].DefaultRegion
	}
	return strings.ReplaceAll(tmpl, "{region}", region)
}

// UnmarshalJSON rejects unknown kinds at decode time
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return &ValidationError{Field: "kind", Reason: "must be a string"}
	}
	parsed, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
