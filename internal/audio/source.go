package audio

import (
	"context"
	"errors"
	"io"
	"net/url"
	"path"
	"strings"
)

// ErrUnsupported is returned for sources no decoder handles.
var ErrUnsupported = errors.New("unsupported audio format")

// Opener fetches a track source by URL.
type Opener func(ctx context.Context, url string) (io.ReadCloser, error)

// FormatOf returns the lower-cased extension of a source URL's path.
func FormatOf(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}
