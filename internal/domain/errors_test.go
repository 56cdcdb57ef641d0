package domain

import (
	"errors"
	"testing"
)

func TestDurabilityError(t *testing.T) {
	baseErr := errors.New("disk I/O error")

	t.Run("retriable error", func(t *testing.T) {
		err := NewDurabilityError("push", baseErr)

		if !err.IsRetriable() {
			t.Error("Expected error to be retriable")
		}

		if err.Error() != "push: disk I/O error" {
			t.Errorf("Error message = %q, want %q", err.Error(), "push: disk I/O error")
		}

		if !errors.Is(err, baseErr) {
			t.Error("Expected error to wrap baseErr")
		}
	})

	t.Run("IsRetriable helper", func(t *testing.T) {
		durable := NewDurabilityError("pop", baseErr)
		invalid := &ValidationError{Field: "price", Value: 1.5, Err: ErrProbabilityOutOfRange}
		plain := errors.New("plain error")

		if !IsRetriable(durable) {
			t.Error("IsRetriable should return true for durability error")
		}

		if IsRetriable(invalid) {
			t.Error("IsRetriable should return false for validation error")
		}

		if IsRetriable(plain) {
			t.Error("IsRetriable should return false for plain error")
		}
	})
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "probability", Value: -0.2, Err: ErrProbabilityOutOfRange}

	if !errors.Is(err, ErrProbabilityOutOfRange) {
		t.Error("Expected ValidationError to wrap ErrProbabilityOutOfRange")
	}

	expected := "invalid probability (-0.2): probability out of range [0,1]"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "vault.hard_floor", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [vault.hard_floor]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}
