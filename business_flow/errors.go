// Package businessflow contains the core logic of the relay: the session lifecycle and message dispatch
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Session errors
	ErrNotConnected      = errors.New("whatsapp is not connected")
	ErrSessionStoreRead  = errors.New("failed to read session from store")
	ErrClientUnavailable = errors.New("whatsapp client is unavailable")

	// Validation errors
	ErrPhoneRequired           = errors.New("phone is required")
	ErrMessageRequired         = errors.New("message is required")
	ErrInvalidPhone            = errors.New("phone must contain digits")
	ErrInvalidCorrelationID    = errors.New("message_id must be a UUID")
	ErrEmptyBatch              = errors.New("messages must not be empty")
	ErrBatchTooLarge           = errors.New("too many messages in batch")
	ErrDuplicateSend           = errors.New("message is already being sent")
	ErrMessageAlreadyFinalized = errors.New("message has already been sent or failed")

	// Send errors
	ErrSendFailed    = errors.New("failed to send message")
	ErrSendTimeout   = errors.New("send timed out")
	ErrSendCancelled = errors.New("send cancelled")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

func IsSessionStoreRead(err error) bool {
	return errors.Is(err, ErrSessionStoreRead)
}

// IsValidationError reports whether err was caused by malformed input
func IsValidationError(err error) bool {
	return errors.Is(err, ErrPhoneRequired) ||
		errors.Is(err, ErrMessageRequired) ||
		errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, ErrInvalidCorrelationID) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrBatchTooLarge)
}

func IsDuplicateSend(err error) bool {
	return errors.Is(err, ErrDuplicateSend)
}

func IsMessageAlreadyFinalized(err error) bool {
	return errors.Is(err, ErrMessageAlreadyFinalized)
}

func IsSendTimeout(err error) bool {
	return errors.Is(err, ErrSendTimeout)
}

func IsSendFailed(err error) bool {
	return errors.Is(err, ErrSendFailed)
}

// BusinessErrorCode returns the machine readable code carried by err, if any
func BusinessErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
