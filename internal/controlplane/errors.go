package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrTodoNotFound    = errors.New("todo not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidSettings = errors.New("invalid settings")
	ErrInvalidImport   = errors.New("invalid import")
)
