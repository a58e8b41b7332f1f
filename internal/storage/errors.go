package storage

import (
	"errors"

	"github.com/camuig/autotrader/internal/domain"
)

var (
	// ErrNotFound aliases the domain sentinel so callers can test either.
	ErrNotFound = domain.ErrNotFound

	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")
)
