package domain

import "errors"

// Error kinds shared by every layer. Wrap them with fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidation          = errors.New("validation failed")
	ErrIO                  = errors.New("io error")
)

// ErrorKind is the stable, user-visible name of an error kind.
type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindValidation          ErrorKind = "validation"
	KindIO                  ErrorKind = "io"
	KindInternal            ErrorKind = "internal"
)

// KindOf classifies err into one of the known kinds.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may succeed by simply trying again later.
func (k ErrorKind) Retryable() bool {
	return k == KindUpstreamUnavailable || k == KindConflict
}
