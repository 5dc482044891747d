package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// FormatValidationError wraps err with the file it came from.
func FormatValidationError(source string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid configuration in %s: %w", source, err)
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateHTTPURL checks that value is an absolute http(s) URL.
func ValidateHTTPURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ValidationError{Field: field, Value: value, Message: "must be an absolute http(s) URL"}
	}
	return nil
}

// ValidateOrigin checks that value is a bare web origin such as
// https://app.example.com:8443, with no path.
func ValidateOrigin(field, value string) error {
	if err := ValidateHTTPURL(field, value); err != nil {
		return err
	}
	u, _ := url.Parse(value)
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
		return ValidationError{Field: field, Value: value, Message: "must be an origin without path, query or fragment"}
	}
	return nil
}

// Validate checks the configuration and returns every problem found.
func (c GisauthConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(err error) {
		if ve, ok := err.(ValidationError); ok {
			errs = append(errs, ve)
		}
	}

	add(ValidateHTTPURL("portal", c.Portal))
	if c.RedirectURI != "" {
		add(ValidateHTTPURL("redirectUri", c.RedirectURI))
	}
	if c.TokenDuration < 0 {
		errs.Add("tokenDuration", "must not be negative", c.TokenDuration)
	}
	add(ValidateOneOf("storage.backend", c.Storage.Backend, []string{"file", "keyring", "memory"}))
	if c.Callback.Port < 0 || c.Callback.Port > 65535 {
		errs.Add("callback.port", "must be between 0 and 65535", c.Callback.Port)
	}
	if c.Callback.Path != "" && !strings.HasPrefix(c.Callback.Path, "/") {
		errs.Add("callback.path", "must start with /", c.Callback.Path)
	}
	for i, origin := range c.Bridge.Origins {
		add(ValidateOrigin(fmt.Sprintf("bridge.origins[%d]", i), origin))
	}
	for i, domain := range c.TrustedDomains {
		if strings.TrimSpace(domain) == "" {
			errs.Add(fmt.Sprintf("trustedDomains[%d]", i), "must not be empty")
		}
	}
	if c.Timeouts.HTTP < 0 || c.Timeouts.Popup < 0 || c.Timeouts.Bridge < 0 {
		errs.Add("timeouts", "must not be negative")
	}
	return errs
}
