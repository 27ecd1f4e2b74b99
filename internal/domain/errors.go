package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateOperation  = errors.New("duplicate operation")
	ErrSourceTooLarge      = errors.New("source image too large")
	ErrUnsupportedModel    = errors.New("unsupported model")
)
