package domain

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidKey is returned when a form key cannot be used as a storage name.
var ErrInvalidKey = errors.New("invalid form key")

var formKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateKey checks that key is safe to use as a directory name.
func ValidateKey(key string) error {
	if len(key) > 200 || !formKeyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// DraftKey returns the stable key under which in-progress edits for formType are autosaved.
func DraftKey(formType string) string {
	return formType + "_draft"
}

// TimestampedKey returns the permanent key for a finalized save of formType.
func TimestampedKey(formType string, at Millis) string {
	return fmt.Sprintf("%s_%d", formType, int64(at))
}
