// Package failure classifies errors into failure kinds, records them, and
// flags components whose failure rate crosses a threshold.
package failure

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"regwatch/internal/domain/entity"
)

// Kinded is implemented by errors that know their own failure kind.
// Adapters wrap library errors so classification happens once, at the boundary.
type Kinded interface {
	FailureKind() entity.FailureKind
}

// Error attaches a failure kind to an underlying error.
type Error struct {
	Kind entity.FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// FailureKind implements Kinded.
func (e *Error) FailureKind() entity.FailureKind { return e.Kind }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind entity.FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf formats a new error tagged with kind.
func Wrapf(kind entity.FailureKind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// FailureKind maps the status code onto the taxonomy.
func (e *HTTPError) FailureKind() entity.FailureKind {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return entity.FailureAuth
	case e.StatusCode == http.StatusTooManyRequests:
		return entity.FailureRateLimit
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusGatewayTimeout:
		return entity.FailureTimeout
	case e.StatusCode >= 500:
		return entity.FailureNetwork
	case e.StatusCode >= 400:
		return entity.FailureValidation
	}
	return entity.FailureUnknown
}

// Classify returns the failure kind of err. Kinded errors anywhere in the
// chain win; otherwise well-known standard library errors are inspected.
func Classify(err error) entity.FailureKind {
	if err == nil {
		return entity.FailureUnknown
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.FailureKind()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return entity.FailureTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return entity.FailureTimeout
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return entity.FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return entity.FailureNetwork
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return entity.FailureNetwork
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var xmlErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &xmlErr) {
		return entity.FailureParsing
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) || errors.Is(err, driver.ErrBadConn) {
		return entity.FailureStorage
	}

	return entity.FailureUnknown
}
