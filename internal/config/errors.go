package config

import (
	"errors"
	"fmt"
)

// ErrMissingCredential is wrapped by ConfigurationError when a required secret
// is absent from the environment.
var ErrMissingCredential = errors.New("missing credential")

// ConfigurationError reports a setting that prevents a component from starting.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil && !errors.Is(e.Err, ErrMissingCredential) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// RequireEnv returns the value of the environment variable named by envName,
// or a ConfigurationError for field when it is unset or empty.
func RequireEnv(field, envName string) (string, error) {
	if envName == "" {
		return "", &ConfigurationError{Field: field, Reason: "no environment variable configured", Err: ErrMissingCredential}
	}
	v := lookupEnv(envName)
	if v == "" {
		return "", &ConfigurationError{
			Field:  field,
			Reason: fmt.Sprintf("environment variable %s is not set", envName),
			Err:    ErrMissingCredential,
		}
	}
	return v, nil
}
