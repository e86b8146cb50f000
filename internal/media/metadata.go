package media

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Cover is an embedded picture pulled from audio tags.
type Cover struct {
	Data     []byte
	MIMEType string
	Ext      string
}

// CoverExtractor finds embedded cover art. It returns nil, nil when the
// audio carries no picture.
type CoverExtractor interface {
	ExtractCover(data []byte) (*Cover, error)
}

// DurationProber measures playback length. Unknown formats yield zero.
type DurationProber interface {
	Probe(fileName string, data []byte) (time.Duration, error)
}

// id3v1Size is the length of the trailing ID3v1 block the tag reader
// seeks back to when no leading tag is found.
const id3v1Size = 128

// TagCoverExtractor reads ID3, MP4, FLAC and OGG tags.
type TagCoverExtractor struct{}

func (TagCoverExtractor) ExtractCover(data []byte) (*Cover, error) {
	m, err := tag.ReadFrom(bytes.NewReader(data))
	if err != nil {
		// Input shorter than an ID3v1 block without a leading tag cannot
		// carry a picture.
		if errors.Is(err, tag.ErrNoTagsFound) || len(data) < id3v1Size {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil, nil
	}

	ext := strings.ToLower(pic.Ext)
	if ext == "" {
		switch pic.MIMEType {
		case "image/png":
			ext = "png"
		case "image/jpeg", "image/jpg":
			ext = "jpg"
		}
	}
	mimeType := pic.MIMEType
	if mimeType == "" {
		mimeType = "image/" + strings.Replace(ext, "jpg", "jpeg", 1)
	}

	return &Cover{Data: pic.Data, MIMEType: mimeType, Ext: ext}, nil
}

// AudioProber decodes MP3 frames and WAV headers to compute duration.
type AudioProber struct{}

func (AudioProber) Probe(fileName string, data []byte) (time.Duration, error) {
	switch Ext(fileName) {
	case ".mp3":
		return probeMP3(data)
	case ".wav":
		return probeWAV(data)
	default:
		return 0, nil
	}
}

func probeMP3(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode mp3: %w", err)
	}
	length := dec.Length()
	if length <= 0 || dec.SampleRate() <= 0 {
		return 0, nil
	}
	// decoded stream is 16-bit stereo: 4 bytes per sample frame
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate()), nil
}

func probeWAV(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("failed to find wav data chunk: %w", err)
	}
	frameSize := int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if frameSize <= 0 || dec.SampleRate == 0 {
		return 0, errors.New("invalid wav format")
	}
	// duration covers the data chunk only, not the header chunks
	frames := dec.PCMLen() / frameSize
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate), nil
}
