package forage

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// Shared assertion helpers for the provider tests.

func asConfigError(err error, target **ConfigError) bool {
	return errors.As(err, target)
}

func asValidationError(err error, target **ValidationError) bool {
	return errors.As(err, target)
}

func asNormalizationError(err error, target **NormalizationError) bool {
	return errors.As(err, target)
}

func TestConfigError_Error(t *testing.T) {
	err := newConfigError(ProviderSpider, "spider_api_key", "spider_api_key is required")

	msg := err.Error()
	for _, want := range []string{"spider", ErrCodeMissingCredential, "spider_api_key"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if err.Code() != ErrCodeMissingCredential {
		t.Errorf("Code() = %q, want %q", err.Code(), ErrCodeMissingCredential)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := newValidationError(ProviderLlamaParse, "num_workers", ErrCodeOutOfRange,
		"num_workers %d is out of range [1,10]", 15)

	msg := err.Error()
	for _, want := range []string{"llama_parse", ErrCodeOutOfRange, "num_workers", "15"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestNormalizationError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("bad payload")
	err := &NormalizationError{
		Provider:  ProviderSpider,
		FieldCode: ErrCodeMalformedResponse,
		Message:   "response is not JSON",
		Cause:     cause,
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !strings.Contains(err.Error(), ErrCodeMalformedResponse) {
		t.Errorf("Error() = %q, missing code", err.Error())
	}
}

func TestNormalizationError_ErrorWithField(t *testing.T) {
	err := newNormalizationError(ProviderLlamaParse, "text", ErrCodeMissingContent,
		"item 0 is missing the \"text\" field")

	if !strings.Contains(err.Error(), "text") {
		t.Errorf("Error() = %q, missing field name", err.Error())
	}
}
