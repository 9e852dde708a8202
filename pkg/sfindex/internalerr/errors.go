package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNoLabel          = errors.New("no label")
	ErrRemoteQuery      = errors.New("remote query failed")
	ErrDecode           = errors.New("decode failed")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)
