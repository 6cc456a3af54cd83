// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrClassification       = errors.New("unrecognized instrument")
	ErrDirection            = errors.New("unrecognized trade direction")
	ErrUnsupportedTradeType = errors.New("unsupported trade type")
	ErrQuoteFetch           = errors.New("quote fetch failed")
	ErrMissingPrice         = errors.New("price missing from snapshot")
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrTimeout              = errors.New("operation timed out")
	ErrConfigInvalid        = errors.New("invalid configuration")
)

// ClassificationError reports an instrument name that matches no known
// Deribit naming pattern.
type ClassificationError struct {
	Instrument string
	Reason     string
	Err        error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification error [%s]: %s: %v", e.Instrument, e.Reason, e.Err)
	}
	return fmt.Sprintf("classification error [%s]: %s", e.Instrument, e.Reason)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

func (e *ClassificationError) Is(target error) bool {
	return target == ErrClassification
}

// NewClassificationError creates a new ClassificationError.
func NewClassificationError(instrument, reason string, err error) *ClassificationError {
	return &ClassificationError{
		Instrument: instrument,
		Reason:     reason,
		Err:        err,
	}
}

// DirectionError reports a transaction side without a buy/sell token.
type DirectionError struct {
	RecordID int64
	Side     string
}

func (e *DirectionError) Error() string {
	return fmt.Sprintf("direction error [record %d]: cannot derive direction from side %q", e.RecordID, e.Side)
}

func (e *DirectionError) Is(target error) bool {
	return target == ErrDirection
}

// NewDirectionError creates a new DirectionError.
func NewDirectionError(recordID int64, side string) *DirectionError {
	return &DirectionError{
		RecordID: recordID,
		Side:     side,
	}
}

// UnsupportedTradeTypeError reports a PnL or settlement computation requested
// for a trade type it is not defined for.
type UnsupportedTradeTypeError struct {
	Instrument string
	TradeType  string
	Operation  string
}

func (e *UnsupportedTradeTypeError) Error() string {
	return fmt.Sprintf("unsupported trade type [%s] %s for %s", e.TradeType, e.Operation, e.Instrument)
}

func (e *UnsupportedTradeTypeError) Is(target error) bool {
	return target == ErrUnsupportedTradeType
}

// NewUnsupportedTradeTypeError creates a new UnsupportedTradeTypeError.
func NewUnsupportedTradeTypeError(instrument, tradeType, operation string) *UnsupportedTradeTypeError {
	return &UnsupportedTradeTypeError{
		Instrument: instrument,
		TradeType:  tradeType,
		Operation:  operation,
	}
}

// QuoteFetchError represents a failed price fetch. Kind is one of
// "mark", "index" or "settlement"; Key is the instrument, currency or index.
type QuoteFetchError struct {
	Kind string
	Key  string
	Err  error
}

func (e *QuoteFetchError) Error() string {
	return fmt.Sprintf("quote fetch error [%s] %s: %v", e.Kind, e.Key, e.Err)
}

func (e *QuoteFetchError) Unwrap() error {
	return e.Err
}

func (e *QuoteFetchError) Is(target error) bool {
	return target == ErrQuoteFetch
}

// NewQuoteFetchError creates a new QuoteFetchError.
func NewQuoteFetchError(kind, key string, err error) *QuoteFetchError {
	return &QuoteFetchError{
		Kind: kind,
		Key:  key,
		Err:  err,
	}
}

// MissingPriceError reports a snapshot that lacks a price referenced by a trade.
type MissingPriceError struct {
	Kind string // instrument, currency
	Key  string
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("missing %s price for %s", e.Kind, e.Key)
}

func (e *MissingPriceError) Is(target error) bool {
	return target == ErrMissingPrice
}

// NewMissingPriceError creates a new MissingPriceError.
func NewMissingPriceError(kind, key string) *MissingPriceError {
	return &MissingPriceError{
		Kind: kind,
		Key:  key,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
