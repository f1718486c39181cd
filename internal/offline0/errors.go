package offline0

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState   = errors.New("invalid worker state")
	ErrUnknownEvent   = errors.New("unknown event kind")
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrUnknownStrat   = errors.New("unknown strategy")
	ErrEntryTooLarge  = errors.New("entry exceeds partition size limit")
)

// FetchError is a transport-level failure: the network produced no response.
// A non-2xx status is not a FetchError.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// IsNetworkFailure reports whether err is (or wraps) a FetchError.
func IsNetworkFailure(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
