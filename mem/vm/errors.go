package vm

import "errors"

var (
	// ErrResourceExhausted is returned when no frame can be produced, either
	// because swap is full or because writing an evicted page back failed.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrInvalidMapping is returned for misaligned, empty or overlapping
	// memory mappings. No state is changed when it is returned.
	ErrInvalidMapping = errors.New("invalid mapping")

	// ErrShortRead is returned when a file yields fewer bytes than a page
	// entry declares.
	ErrShortRead = errors.New("short read")

	// ErrNotFound is returned when an address or mapping is unknown.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyMapped is returned when installing a page over a present one
	// or declaring a page twice.
	ErrAlreadyMapped = errors.New("already mapped")

	// ErrBadAddress is returned for accesses the process is not allowed to
	// make, such as writes to read-only pages or kernel addresses.
	ErrBadAddress = errors.New("bad address")
)
