package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"invalid format", ErrInvalidKeyFormat, CodeInvalidFormat},
		{"invalid email", ErrInvalidEmail, CodeInvalidEmail},
		{"insecure transport", ErrInsecureTransport, CodeInsecureTransport},
		{"network", ErrRegistryUnreachable, CodeNetworkError},
		{"registry tampered", ErrRegistryTampered, CodeIntegrityError},
		{"record tampered", ErrRecordTampered, CodeIntegrityError},
		{"unsigned record", ErrUnsignedRecord, CodeIntegrityError},
		{"registry empty", ErrRegistryEmpty, CodeRegistryEmpty},
		{"key not found", ErrKeyNotFound, CodeKeyNotFound},
		{"entry invalid", ErrEntryInvalid, CodeEntryInvalid},
		{"expired", ErrLicenseExpired, CodeExpired},
		{"not activated", ErrLicenseNotActivated, CodeNotActivated},
		{"rate limited", ErrRateLimited, CodeRateLimited},
		{"unknown", errors.New("boom"), CodeInternal},
		{"wrapped", fmt.Errorf("context: %w", ErrKeyNotFound), CodeKeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CodeFor(tt.err))
		})
	}
}

func TestRegistryEmptyAndNotFoundAreDistinct(t *testing.T) {
	assert.NotEqual(t, CodeFor(ErrRegistryEmpty), CodeFor(ErrKeyNotFound))
	assert.NotEqual(t, UserMessage(ErrRegistryEmpty), UserMessage(ErrKeyNotFound))
}

func TestLicenseErrorUnwrap(t *testing.T) {
	le := NewLicenseError(CodeKeyNotFound, "key missing", ErrKeyNotFound)

	assert.True(t, errors.Is(le, ErrKeyNotFound))
	assert.Contains(t, le.Error(), "key missing")

	var target *LicenseError
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", le), &target))
	assert.Equal(t, CodeKeyNotFound, target.Code)
}

func TestUserMessageNeverEmpty(t *testing.T) {
	for _, err := range []error{
		ErrInvalidKeyFormat, ErrInvalidEmail, ErrRegistryUnreachable,
		ErrInsecureTransport, ErrRegistryTampered, ErrRecordTampered,
		ErrRegistryEmpty, ErrKeyNotFound, ErrEntryInvalid,
		ErrLicenseExpired, ErrLicenseNotActivated, ErrRateLimited,
		errors.New("anything"),
	} {
		assert.NotEmpty(t, UserMessage(err))
	}
}
