package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrProvider      = errors.New("provider error")
	ErrTimeout       = errors.New("timeout")
	ErrCancelled     = errors.New("cancellation requested")
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient failure")
)

// ErrorKind is the coarse failure classification stored on terminal records.
type ErrorKind string

const (
	ErrorKindNone       ErrorKind = ""
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindProvider   ErrorKind = "provider"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindCancelled  ErrorKind = "cancelled"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to the record error kind. Context deadline errors count as
// timeouts even when a provider returns them unwrapped.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrValidation):
		return ErrorKindValidation
	default:
		return ErrorKindProvider
	}
}

// Message returns the human-readable description persisted with a failed record.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "generation failed without error detail"
	}
	return msg
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
