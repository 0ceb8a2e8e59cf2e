package fetcher

import "errors"

var (
	// ErrInvalidURL indicates the URL is malformed or uses a disallowed scheme.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrPrivateIP indicates the URL resolves to a private, loopback or link-local address.
	ErrPrivateIP = errors.New("private IP address not allowed")

	// ErrTooManyRedirects indicates the redirect limit was exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrBodyTooLarge indicates the response exceeded MaxBodySize.
	ErrBodyTooLarge = errors.New("response body too large")

	// ErrNoContent indicates readability found nothing to extract.
	ErrNoContent = errors.New("no readable content found")
)
