package ledger

import "errors"

// Sentinel errors for ledger operations.
var (
	ErrAlreadyExists       = errors.New("account already exists")
	ErrNotFound            = errors.New("account not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be a positive number of seconds")
	ErrSameAccount         = errors.New("source and destination accounts are the same")
	ErrInvalidName         = errors.New("account name must not be empty")
	ErrReservedAccount     = errors.New("system accounts cannot be renamed or deleted")
)
