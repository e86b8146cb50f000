package media

import (
	"strings"

	"musicbox/internal/config"
)

var audioContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
}

// UploadPolicy holds validation rules for uploaded audio
type UploadPolicy struct {
	MaxBytes       int64
	AllowedFormats []string // extensions including the dot
}

// DefaultUploadPolicy returns the default upload policy
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{
		MaxBytes:       config.DefaultMaxUploadBytes,
		AllowedFormats: []string{".mp3", ".wav", ".flac", ".m4a", ".aac", ".ogg", ".opus"},
	}
}

// PolicyFromConfig adapts upload settings.
func PolicyFromConfig(cfg config.UploadConfig) UploadPolicy {
	p := UploadPolicy{MaxBytes: cfg.MaxBytes}
	for _, f := range cfg.AllowedFormats {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" && !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		p.AllowedFormats = append(p.AllowedFormats, f)
	}
	return p
}

// Fits reports whether a payload of n bytes is within the ceiling.
func (p UploadPolicy) Fits(n int64) bool {
	return n <= p.MaxBytes
}

// Allows reports whether the file's extension is an accepted format. An
// empty allow-list accepts everything.
func (p UploadPolicy) Allows(fileName string) bool {
	if len(p.AllowedFormats) == 0 {
		return true
	}
	ext := Ext(fileName)
	for _, f := range p.AllowedFormats {
		if f == ext {
			return true
		}
	}
	return false
}

// ContentType picks the stored content type, preferring a known audio type
// for the extension over what the client declared.
func ContentType(fileName, declared string) string {
	if ct, ok := audioContentTypes[Ext(fileName)]; ok {
		return ct
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}
