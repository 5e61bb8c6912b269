package gap

import "github.com/pkg/errors"

var (
	ErrNotFound          = errors.New("gap: not found")
	ErrPeerNotFound      = errors.New("gap: peer not found")
	ErrCanceled          = errors.New("gap: canceled")
	ErrTimedOut          = errors.New("gap: timed out")
	ErrAlreadyRegistered = errors.New("gap: link already registered")
	ErrFailed            = errors.New("gap: failed")
	ErrNotSupported      = errors.New("gap: not supported")
)
