package routing

import (
	"mime"
	"path"
	"strings"
)

// UnknownSize marks a candidate whose size is not known up front.
// Size-bounded rules never match such a candidate.
const UnknownSize int64 = -1

// Candidate describes a file about to be stored
type Candidate struct {
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// CandidateFromName builds a candidate from an object key. An empty
// contentType is inferred from the extension.
func CandidateFromName(name, contentType string, size int64) Candidate {
	ext := path.Ext(name)
	if contentType == "" && ext != "" {
		contentType = mime.TypeByExtension(ext)
	}
	return Candidate{
		Extension: ext,
		MimeType:  contentType,
		SizeBytes: size,
	}.Normalize()
}

// Normalize lowercases the extension without its dot and strips MIME parameters
func (c Candidate) Normalize() Candidate {
	c.Extension = strings.ToLower(strings.TrimLeft(strings.TrimSpace(c.Extension), "."))

	mt := strings.TrimSpace(c.MimeType)
	if mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			mt = parsed
		}
	}
	c.MimeType = strings.ToLower(mt)
	return c
}
