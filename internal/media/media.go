// Package media maps between audio content types and file extensions.
package media

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// DefaultContentType is used when a device or file does not report one.
const DefaultContentType = "audio/webm"

var audioExtensions = map[string]string{
	"audio/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/mpeg":  ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/flac":  ".flac",
	"audio/aac":   ".aac",
}

var extensionTypes = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".aac":  "audio/aac",
}

// BaseType strips parameters such as codecs from a content type.
func BaseType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

// Extension returns the file extension (with dot) for a content type.
func Extension(contentType string) string {
	base := BaseType(contentType)
	if ext, ok := audioExtensions[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// ContentTypeFor guesses the content type of a file from its extension.
func ContentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return BaseType(ct)
	}
	return "application/octet-stream"
}

// IsAudio reports whether contentType is an audio/* type.
func IsAudio(contentType string) bool {
	return strings.HasPrefix(BaseType(contentType), "audio/")
}

// FormatDuration renders seconds as m:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
