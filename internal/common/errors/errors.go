package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Operator / input errors
	CodeConfiguration     = "CONFIGURATION_ERROR"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeContractInterface = "CONTRACT_INTERFACE_ERROR"

	// Chain errors
	CodeNetwork       = "NETWORK_ERROR"
	CodeOnChainRevert = "ONCHAIN_REVERT"

	// Internal errors
	CodeInternal = "INTERNAL_ERROR"
	CodeDBError  = "DB_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Retryable reports whether the failure is transient. Only RPC failures are;
// reverts and interface mismatches fail the same way on every attempt.
func (e *AppError) Retryable() bool {
	return e.Code == CodeNetwork
}

// Error constructors

// Configuration is returned before any network call when required settings are missing.
func Configuration(message string) *AppError {
	return &AppError{
		Code:       CodeConfiguration,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

// ContractInterface means the target contract does not expose the expected
// method or returned data that does not match the ABI.
func ContractInterface(contract, method string, err error) *AppError {
	return &AppError{
		Code:       CodeContractInterface,
		Message:    fmt.Sprintf("contract %s does not support %s", contract, method),
		StatusCode: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"contract": contract,
			"method":   method,
		},
		Err: err,
	}
}

func Network(op string, err error) *AppError {
	return &AppError{
		Code:       CodeNetwork,
		Message:    fmt.Sprintf("rpc %s failed", op),
		StatusCode: http.StatusBadGateway,
		Details:    map[string]any{"op": op},
		Err:        err,
	}
}

// OnChainRevert covers transactions the node refused before mining and
// transactions mined with a failed status. reason is whatever the node returned.
func OnChainRevert(method, reason, txHash string) *AppError {
	msg := fmt.Sprintf("%s reverted", method)
	if reason != "" {
		msg = fmt.Sprintf("%s reverted: %s", method, reason)
	}
	details := map[string]any{"method": method}
	if reason != "" {
		details["reason"] = reason
	}
	if txHash != "" {
		details["tx_hash"] = txHash
	}
	return &AppError{
		Code:       CodeOnChainRevert,
		Message:    msg,
		StatusCode: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func DBError(err error) *AppError {
	return &AppError{
		Code:       CodeDBError,
		Message:    "Database error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// AsAppError finds the first AppError in err's chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err carries an AppError with the given code
func IsCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
