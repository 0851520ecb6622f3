package receipt

import (
	"mime"
	"path/filepath"
	"slices"
	"strings"
)

// Limits bounds what an upload may be
type Limits struct {
	MaxUploadBytes   int64
	AllowedMIMETypes []string
}

// DefaultLimits accepts JPEG and PNG up to 10MB
var DefaultLimits = Limits{
	MaxUploadBytes:   10 << 20,
	AllowedMIMETypes: []string{"image/jpeg", "image/png"},
}

// Allows reports whether contentType may be parsed
func (l Limits) Allows(contentType string) bool {
	return slices.Contains(l.AllowedMIMETypes, NormalizeContentType(contentType))
}

// NormalizeContentType lowercases a MIME type and strips its parameters
func NormalizeContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return contentType
}

// contentTypeFromFilename guesses a MIME type when the upload has none
func contentTypeFromFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}
