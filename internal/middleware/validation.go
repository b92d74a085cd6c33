package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateThreadID validates a thread ID.
func ValidateThreadID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid thread ID format")
	}
	return nil
}

// ValidateRunID validates a client supplied run ID. Run IDs become subject
// tokens in the event log, so dots and wildcards are rejected.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return errors.New("invalid run ID format")
	}
	return nil
}

// ValidateTenantID validates a tenant ID.
func ValidateTenantID(id string) error {
	if len(id) == 0 {
		return errors.New("tenant ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("tenant ID exceeds maximum length")
	}
	return nil
}

// ValidateTitle validates a thread title.
func ValidateTitle(title string) error {
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
