package network

import (
	"errors"
	"syscall"
)

// Failure kinds. Use errors.Is against a failed Progress error to test for one.
var (
	ErrURL       = errors.New("network: url configuration error")
	ErrData      = errors.New("network: expected payload is missing")
	ErrSpace     = errors.New("network: out of space on device")
	ErrDecode    = errors.New("network: decode error")
	ErrCancelled = errors.New("network: cancelled")
	ErrKey       = errors.New("network: missing private key")
	ErrUnknown   = errors.New("network: unknown error")
)

// Failure pairs a failure kind with the error that caused it.
//
// Both are reachable through errors.Is and errors.As.
type Failure struct {
	Kind error
	Err  error
}

// Fail returns a Failure of the given kind. cause may be nil.
func Fail(kind, cause error) *Failure {
	return &Failure{Kind: kind, Err: cause}
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.Error()
	}
	return f.Kind.Error() + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Err}
}

// Kind reports the failure kind of err. Errors that carry no kind are ErrUnknown.
func Kind(err error) error {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	for _, kind := range []error{ErrURL, ErrData, ErrSpace, ErrDecode, ErrCancelled, ErrKey} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrUnknown
}

// AsFailure returns err as a *Failure, wrapping it with kind when it is not
// one already.
func AsFailure(err error, kind error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return Fail(kind, err)
}

// TransferFailure classifies an error reported by a download or upload.
// Running out of disk is ErrSpace, anything else ErrUnknown.
func TransferFailure(err error) *Failure {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, ErrSpace) {
		return Fail(ErrSpace, err)
	}
	return Fail(ErrUnknown, err)
}
