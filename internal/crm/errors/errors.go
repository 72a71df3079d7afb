package errors

import (
	"fmt"
)

var (
	ErrNotFound       = fmt.Errorf("not found")
	ErrDuplicateEmail = fmt.Errorf("duplicate email")
	ErrInvalidInput   = fmt.Errorf("invalid input")
	// ErrPersistence marks a write-through save that did not complete; the
	// mutation that triggered it was not applied.
	ErrPersistence = fmt.Errorf("persistence failure")
	// ErrPersistenceDegraded marks an unreadable snapshot. It is logged by the
	// persistence backends and never returned from Load.
	ErrPersistenceDegraded = fmt.Errorf("persistence degraded")
)
