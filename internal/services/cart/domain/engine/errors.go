package engine

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"

	apperrors "github.com/louisbranch/shopping-cart/internal/platform/errors"
)

var (
	// ErrDurability marks an append whose commit state is unknown.
	ErrDurability = errors.New("journal append outcome unknown")
	// ErrStopped is returned once the shard has been stopped.
	ErrStopped = errors.New("shard stopped")
	// ErrPassivated is returned when an entity keeps passivating under a sender.
	ErrPassivated = errors.New("entity passivated")
)

// nonRetryableError wraps an error to signal that retrying the operation
// would be harmful, for example resending a command whose append may have
// committed. StatusFromError uses IsNonRetryable so such a failure is never
// reported with a retryable code.
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable returns true from IsNonRetryable checks.
func (e *nonRetryableError) NonRetryable() bool { return true }

func wrapNonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable returns true when the error (or any error in its chain)
// signals that the command must not be retried.
func IsNonRetryable(err error) bool {
	var target interface{ NonRetryable() bool }
	if errors.As(err, &target) {
		return target.NonRetryable()
	}
	return false
}

func unavailable(cartID string, cause error) error {
	return apperrors.Wrap(apperrors.CodeCartUnavailable, fmt.Sprintf("cart %s unavailable: %v", cartID, cause), cause)
}

func ambiguous(cartID string, cause error) error {
	return apperrors.Wrap(apperrors.CodeCartAmbiguous,
		fmt.Sprintf("cart %s command outcome unknown: %v", cartID, cause),
		wrapNonRetryable(fmt.Errorf("%w: %w", ErrDurability, cause)))
}

// Ambiguous reports a cart command whose outcome cannot be known by the
// caller, such as a forwarded mutation whose reply never arrived.
func Ambiguous(cartID string, cause error) error {
	return ambiguous(cartID, cause)
}

func conflict(cartID string, cause error) error {
	return apperrors.Wrap(apperrors.CodeCartConflict, fmt.Sprintf("cart %s changed concurrently: %v", cartID, cause), cause)
}

// Outcome labels an error for metrics and logs.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperrors.GetCode(err).GRPCCode() {
	case codes.InvalidArgument:
		return "invalid_argument"
	case codes.FailedPrecondition:
		return "invalid_state"
	case codes.Aborted:
		return "conflict"
	case codes.Unavailable:
		return "unavailable"
	case codes.Unknown:
		return "ambiguous"
	default:
		return "error"
	}
}
