package engine

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrSaveFailed   = errors.New("failed to save config")
)
