package provider

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/maxiofs/storehub/pkg/encryption"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator with the provider tags registered
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report json names in error messages
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})

		_ = validate.RegisterValidation("provider_kind", func(fl validator.FieldLevel) bool {
			return Kind(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("encryption_algorithm", func(fl validator.FieldLevel) bool {
			return encryption.Algorithm(fl.Field().String()).Valid()
		})
	})
	return validate
}

// validateStruct runs tag validation and converts the first failure into a ValidationError
func validateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}

	first := fieldErrs[0]
	return &ValidationError{
		Field:  fieldPath(first.Namespace()),
		Reason: describeTag(first),
	}
}

// fieldPath drops the struct name prefix from a validator namespace
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeTag(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "url":
		return "must be a valid URL"
	case "provider_kind":
		return fmt.Sprintf("unknown provider kind %q", e.Value())
	case "encryption_algorithm":
		return fmt.Sprintf("algorithm must be one of %v", encryption.Algorithms())
	case "printascii", "excludesall":
		return "contains characters that are not allowed"
	default:
		return "is invalid"
	}
}

// checkInvariants verifies a fully materialized provider record
func checkInvariants(p *StorageProvider) error {
	if !p.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown provider kind %q", p.Kind)}
	}
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if p.RoutingPriority < 0 || p.RoutingPriority > 100 {
		return &ValidationError{Field: "routing_priority", Reason: "must be between 0 and 100"}
	}

	if p.Kind.IsLocal() && !p.IsEnabled {
		return &ValidationError{Field: "is_enabled", Reason: "the local default provider cannot be disabled"}
	}
	if p.IsDefault && !p.IsEnabled {
		return &ValidationError{Field: "is_enabled", Reason: "the default provider cannot be disabled; set another default first"}
	}
	if p.IsDefault && !p.Configured() {
		return &ValidationError{
			Field:  "credentials",
			Reason: "the default provider requires " + strings.Join(p.MissingConfig(), ", "),
		}
	}

	if p.CDN.Enabled && strings.TrimSpace(p.CDN.URL) == "" {
		return &ValidationError{Field: "cdn.url", Reason: "is required when the CDN is enabled"}
	}
	if p.CDN.URL != "" {
		if u, err := url.Parse(p.CDN.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: "cdn.url", Reason: "must be an http(s) URL"}
		}
	}

	if !p.Encryption.Algorithm.Valid() {
		return &ValidationError{Field: "encryption.algorithm", Reason: fmt.Sprintf("algorithm must be one of %v", encryption.Algorithms())}
	}

	return checkRules(p.RoutingRules)
}

func checkRules(r *RoutingRules) error {
	if r == nil {
		return nil
	}
	if r.MinSize != nil && *r.MinSize < 0 {
		return &ValidationError{Field: "routing_rules.min_size", Reason: "must not be negative"}
	}
	if r.MaxSize != nil && *r.MaxSize < 0 {
		return &ValidationError{Field: "routing_rules.max_size", Reason: "must not be negative"}
	}
	if r.MinSize != nil && r.MaxSize != nil && *r.MinSize > *r.MaxSize {
		return &ValidationError{Field: "routing_rules", Reason: "min_size must not exceed max_size"}
	}
	for _, pattern := range r.ContentTypes {
		if _, err := path.Match(pattern, ""); err != nil {
			return &ValidationError{Field: "routing_rules.content_types", Reason: fmt.Sprintf("invalid pattern %q", pattern)}
		}
	}
	return nil
}
