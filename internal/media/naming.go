package media

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxNameBytes = 200

var hostileChars = strings.NewReplacer(
	`\`, "", "/", "", ":", "", "*", "", "?", "", `"`, "", "<", "", ">", "", "|", "",
)

// SanitizeName strips filesystem-hostile characters and collapses runs of
// whitespace into a single underscore.
func SanitizeName(name string) string {
	name = hostileChars.Replace(name)

	var b strings.Builder
	inSpace := false
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			inSpace = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte('_')
		}
		inSpace = false
		b.WriteRune(r)
	}

	clean := truncateUTF8(b.String(), maxNameBytes)
	if clean == "" || clean == "." || clean == ".." {
		return "untitled"
	}
	return clean
}

// DisplayName derives a song title from an uploaded file name.
func DisplayName(fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, `\`, "/"))
	name := strings.TrimSpace(strings.TrimSuffix(base, path.Ext(base)))
	if name == "" || name == "." || name == "/" {
		return strings.TrimSpace(base)
	}
	return name
}

// BlobKey builds a collision-resistant object key: upload time in unix
// milliseconds, a unique suffix and the sanitized file name.
func BlobKey(uploadedAt time.Time, suffix, fileName string) string {
	return fmt.Sprintf("%d-%s-%s", uploadedAt.UnixMilli(), suffix, SanitizeName(fileName))
}

// CoverKey places the cover next to its audio blob under covers/.
func CoverKey(blobKey, ext string) string {
	stem := strings.TrimSuffix(blobKey, path.Ext(blobKey))
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "img"
	}
	return "covers/" + stem + "." + ext
}

// Ext returns the lower-cased extension of fileName including the dot.
func Ext(fileName string) string {
	return strings.ToLower(path.Ext(fileName))
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
