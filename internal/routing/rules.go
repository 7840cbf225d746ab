package routing

import (
	"path"
	"strings"

	"github.com/maxiofs/storehub/internal/provider"
)

// Matches reports whether every present field of rules accepts the candidate.
// The candidate must already be normalized.
func Matches(rules *provider.RoutingRules, c Candidate) bool {
	if rules.Empty() {
		return true
	}

	if len(rules.FileTypes) > 0 && !containsString(rules.FileTypes, c.Extension) {
		return false
	}

	if len(rules.ContentTypes) > 0 {
		matched := false
		for _, pattern := range rules.ContentTypes {
			if matchesContentType(pattern, c.MimeType) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if rules.MinSize != nil || rules.MaxSize != nil {
		if c.SizeBytes < 0 {
			return false
		}
		if rules.MinSize != nil && c.SizeBytes < *rules.MinSize {
			return false
		}
		if rules.MaxSize != nil && c.SizeBytes > *rules.MaxSize {
			return false
		}
	}

	return true
}

// matchesContentType supports exact types, "*", "type/*" and glob patterns
func matchesContentType(pattern, mimeType string) bool {
	if mimeType == "" {
		return false
	}
	if pattern == "*" || pattern == "*/*" || pattern == mimeType {
		return true
	}
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(mimeType, strings.TrimSuffix(pattern, "*"))
	}
	ok, err := path.Match(pattern, mimeType)
	return err == nil && ok
}

func containsString(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
