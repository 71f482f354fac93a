package errors

import (
	stderrors "errors"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Domain tags ErrorInfo details produced by this module.
const Domain = "github.com/louisbranch/shopping-cart"

// RetryDelay is the backoff suggested to clients for retryable codes.
const RetryDelay = time.Second

// Error is a cart failure with a stable code. Message is for operators;
// clients get a localized message rendered from Code and Metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

// New returns an error with code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithMetadata returns an error whose metadata feeds the message templates.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// Wrap returns an error with code that keeps cause in the chain.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// GetCode returns the code of the first *Error in err's chain, CodeUnknown
// if there is none.
func GetCode(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ToGRPCStatus renders e as a status carrying ErrorInfo (reason = code) and a
// LocalizedMessage in locale. Retryable codes also carry RetryInfo.
func (e *Error) ToGRPCStatus(locale string, userMessage string) error {
	base := status.New(e.Code.GRPCCode(), e.Error())
	details := []protoadapt.MessageV1{
		&errdetails.ErrorInfo{Reason: string(e.Code), Domain: Domain, Metadata: e.Metadata},
		&errdetails.LocalizedMessage{Locale: locale, Message: userMessage},
	}
	if e.Code.Retryable() {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(RetryDelay)})
	}
	detailed, err := base.WithDetails(details...)
	if err != nil {
		return base.Err()
	}
	return detailed.Err()
}

// ReasonFromStatus recovers the code attached by ToGRPCStatus, CodeUnknown
// when st carries none.
func ReasonFromStatus(st *status.Status) Code {
	if st == nil {
		return CodeUnknown
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if ok && info.GetDomain() == Domain {
			return Code(info.GetReason())
		}
	}
	return CodeUnknown
}

// RetryDelayFromStatus returns the delay suggested by st's RetryInfo, false
// when st carries none.
func RetryDelayFromStatus(st *status.Status) (time.Duration, bool) {
	if st == nil {
		return 0, false
	}
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.RetryInfo); ok {
			return info.GetRetryDelay().AsDuration(), true
		}
	}
	return 0, false
}
