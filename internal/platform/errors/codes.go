// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeNotFound is returned when a requested resource does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// Cart command errors
	CodeCartInvalidArgument Code = "CART_INVALID_ARGUMENT"
	CodeCartEmptyID         Code = "CART_EMPTY_ID"
	CodeCartEmptyProductID  Code = "CART_EMPTY_PRODUCT_ID"
	CodeCartInvalidQuantity Code = "CART_INVALID_QUANTITY"
	CodeCartItemNotInCart   Code = "CART_ITEM_NOT_IN_CART"
	CodeCartRemoveTooMany   Code = "CART_REMOVE_EXCEEDS_QUANTITY"
	CodeCartInvalidState    Code = "CART_INVALID_STATE"
	CodeCartCheckedOut      Code = "CART_CHECKED_OUT"
	CodeCartEmpty           Code = "CART_EMPTY"

	// Runtime errors
	CodeCartConflict    Code = "CART_CONFLICT"
	CodeCartUnavailable Code = "CART_UNAVAILABLE"
	CodeCartAmbiguous   Code = "CART_AMBIGUOUS"

	// Read model errors
	CodePopularityEmptyProductID Code = "POPULARITY_EMPTY_PRODUCT_ID"
	CodePopularityInvalidLimit   Code = "POPULARITY_INVALID_LIMIT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCartInvalidArgument,
		CodeCartEmptyID,
		CodeCartEmptyProductID,
		CodeCartInvalidQuantity,
		CodeCartItemNotInCart,
		CodeCartRemoveTooMany,
		CodePopularityEmptyProductID,
		CodePopularityInvalidLimit:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeCartInvalidState,
		CodeCartCheckedOut,
		CodeCartEmpty:
		return codes.FailedPrecondition

	// Aborted - the command raced another writer and was rejected
	case CodeCartConflict:
		return codes.Aborted

	// Unavailable - retryable by the caller
	case CodeCartUnavailable:
		return codes.Unavailable

	// Unknown - outcome cannot be determined, callers must not retry blindly
	case CodeCartAmbiguous:
		return codes.Unknown

	case CodeNotFound:
		return codes.NotFound

	default:
		return codes.Internal
	}
}

// Retryable reports whether a client may safely resend a command that failed
// with this code.
func (c Code) Retryable() bool {
	return c == CodeCartUnavailable
}
