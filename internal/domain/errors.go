package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyDeployed   = errors.New("strategy already deployed")
	ErrAutomationOff     = errors.New("automated trading disabled")
)

// ValidationError carries every human-readable reason a definition was rejected.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// RiskRejection means a trade was never submitted because a limit was breached.
type RiskRejection struct {
	Reason            string
	SuggestedQuantity int64
}

func (e *RiskRejection) Error() string {
	if e.SuggestedQuantity > 0 {
		return fmt.Sprintf("risk rejected: %s (suggested quantity %d)", e.Reason, e.SuggestedQuantity)
	}
	return "risk rejected: " + e.Reason
}

func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
