package esclient

import "errors"

var (
	// ErrMappingFailed is returned when a mapping operation (create,
	// delete, get, put) against the search cluster fails.
	ErrMappingFailed = errors.New("mapping operation failed")

	// ErrBulkFailed is returned when a bulk request is rejected by the
	// search cluster or returns a non-2xx response.
	ErrBulkFailed = errors.New("bulk request failed")

	// ErrPoolExhausted is returned when a request could not acquire a
	// pool slot within CheckoutTimeout.
	ErrPoolExhausted = errors.New("search client pool exhausted")
)
