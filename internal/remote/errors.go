package remote

import (
	"errors"
	"fmt"
)

var (
	ErrRemoteUnreachable = errors.New("remote gateway unreachable")
	ErrRemoteCallFailed  = errors.New("remote gateway call failed")
	ErrRemoteProtocol    = errors.New("remote gateway protocol error")
)

// UnreachableError reports a transport failure: DNS, refused connection, timeout.
type UnreachableError struct {
	URL   string
	Cause error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("remote gateway unreachable at %s: %v", e.URL, e.Cause)
}

func (e *UnreachableError) Unwrap() []error {
	return []error{ErrRemoteUnreachable, e.Cause}
}

// CallFailedError reports a non-2xx response. The body is not trusted.
type CallFailedError struct {
	URL        string
	StatusCode int
}

func (e *CallFailedError) Error() string {
	return fmt.Sprintf("remote gateway returned HTTP %d for %s", e.StatusCode, e.URL)
}

func (e *CallFailedError) Unwrap() error {
	return ErrRemoteCallFailed
}

// ProtocolError reports a 2xx response whose body could not be decoded.
type ProtocolError struct {
	URL   string
	Cause error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("remote gateway protocol error for %s: %v", e.URL, e.Cause)
}

func (e *ProtocolError) Unwrap() []error {
	return []error{ErrRemoteProtocol, e.Cause}
}

// IsRemoteFailure reports whether err came from a remote call rather than
// from local processing.
func IsRemoteFailure(err error) bool {
	return errors.Is(err, ErrRemoteUnreachable) ||
		errors.Is(err, ErrRemoteCallFailed) ||
		errors.Is(err, ErrRemoteProtocol)
}
