package catalog

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies catalog failures for callers that map them to responses.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindStorage    Kind = "storage"
	KindInternal   Kind = "internal"
)

// Validation failures. They are returned before any side effect.
var (
	ErrInvalidName       = errors.New("name must not be empty")
	ErrReservedName      = errors.New("playlist name is reserved")
	ErrDuplicateName     = errors.New("playlist name already exists")
	ErrPayloadTooLarge   = errors.New("upload exceeds the size limit")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrEmptyUpload       = errors.New("upload is empty")
)

// Lookup failures.
var (
	ErrSongNotFound     = errors.New("song not found")
	ErrPlaylistNotFound = errors.New("playlist not found")
)

// StorageError reports a failed blob or record store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: pkgerrors.WithStack(err)}
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, target := range []error{ErrInvalidName, ErrReservedName, ErrDuplicateName, ErrPayloadTooLarge, ErrUnsupportedFormat, ErrEmptyUpload} {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	if errors.Is(err, ErrSongNotFound) || errors.Is(err, ErrPlaylistNotFound) {
		return KindNotFound
	}
	var se *StorageError
	if errors.As(err, &se) {
		return KindStorage
	}
	return KindInternal
}
