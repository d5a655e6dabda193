package tile

import (
	"errors"
	"fmt"
)

var (
	errNegative         = errors.New("must not be negative")
	errNotPositive      = errors.New("must be positive")
	errNotEvenPositive  = errors.New("must be a positive even number")
	errOutOfRange1to100 = errors.New("must be between 1 and 100")
)

// ConfigError reports invalid CLI configuration: missing flags, an
// unsupported SRS, a non-even tile size. Always fatal at startup.
type ConfigError struct {
	Flag string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Flag, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// InvariantViolation reports a cache or scheduler state that should be
// structurally impossible — a duplicate fingerprint insert, a completed
// group with no entry, etc. Always fatal: it signals a bug, not bad input.
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string {
	return "invariant violation: " + e.What
}
