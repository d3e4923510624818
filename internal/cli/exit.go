package cli

import (
	"context"
	"errors"

	"github.com/vk/conntool/internal/registry"
)

// Exit codes beyond the generic failure code 1.
const (
	ExitUsage       = 2
	ExitInterrupted = 130
)

// ToExitError maps an error returned by the application to the exit code of
// the process. A nil error stays nil.
func ToExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &ExitError{Code: ExitInterrupted, Message: "Interrupted: " + err.Error()}
	case errors.Is(err, registry.ErrInvalidParams):
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	default:
		return &ExitError{Code: 1, Message: err.Error()}
	}
}
