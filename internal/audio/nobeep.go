//go:build !((linux && cgo) || windows || darwin)

package audio

import "musicbox/internal/player"

// Available reports whether this build can play sound. Speaker output
// needs cgo on this platform.
const Available = false

// NewElement returns the best element this build supports.
func NewElement(Opener) player.MediaElement {
	return NewSilentElement()
}
