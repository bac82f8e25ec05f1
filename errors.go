package forage

import (
	"fmt"
	"strings"
)

const (
	// ErrCodeMissingCredential is returned when a required credential
	// field is absent or empty.
	ErrCodeMissingCredential = "MISSING_CREDENTIAL"
	// ErrCodeMissingField is returned when a required argument field is absent.
	ErrCodeMissingField = "MISSING_FIELD"
	// ErrCodeOutOfRange is returned when a numeric field violates its declared bounds.
	ErrCodeOutOfRange = "OUT_OF_RANGE"
	// ErrCodeInvalidEnum is returned when a field holds a value outside its enum set.
	ErrCodeInvalidEnum = "INVALID_ENUM"
	// ErrCodeMissingContent is returned when a raw response item lacks its content field.
	ErrCodeMissingContent = "MISSING_CONTENT"
	// ErrCodeMalformedResponse is returned when a raw response cannot be decoded.
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
)

// ConfigError reports missing or invalid provider credentials. It is
// raised before any network call is attempted.
type ConfigError struct {
	Provider Provider `json:"provider"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "missing credential"
	}
	return fmt.Sprintf("%s: %s: %s: %s", e.Provider, ErrCodeMissingCredential, e.Field, msg)
}

// Code returns the machine-readable error code.
func (e *ConfigError) Code() string {
	return ErrCodeMissingCredential
}

func newConfigError(provider Provider, field, format string, args ...any) *ConfigError {
	return &ConfigError{
		Provider: provider,
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ValidationError reports an argument value that violates a declared
// constraint. FieldCode is one of the ErrCode* constants.
type ValidationError struct {
	Provider  Provider `json:"provider"`
	Field     string   `json:"field"`
	FieldCode string   `json:"code"`
	Message   string   `json:"message"`
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %s: %s", e.Provider, e.FieldCode, e.Field, e.Message)
}

// Code returns the machine-readable error code.
func (e *ValidationError) Code() string {
	return e.FieldCode
}

func newValidationError(provider Provider, field, code, format string, args ...any) *ValidationError {
	return &ValidationError{
		Provider:  provider,
		Field:     field,
		FieldCode: code,
		Message:   fmt.Sprintf(format, args...),
	}
}

// NormalizationError reports a raw provider response that cannot be
// mapped to the common document shape. The raw payload should be
// preserved by the caller for diagnosis.
type NormalizationError struct {
	Provider  Provider `json:"provider"`
	Field     string   `json:"field,omitempty"`
	FieldCode string   `json:"code"`
	Message   string   `json:"message"`
	Cause     error    `json:"-"`
}

func (e *NormalizationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s: %s", e.Provider, e.FieldCode, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.FieldCode, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *NormalizationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Code returns the machine-readable error code.
func (e *NormalizationError) Code() string {
	return e.FieldCode
}

func newNormalizationError(provider Provider, field, code, format string, args ...any) *NormalizationError {
	return &NormalizationError{
		Provider:  provider,
		Field:     field,
		FieldCode: code,
		Message:   fmt.Sprintf(format, args...),
	}
}
