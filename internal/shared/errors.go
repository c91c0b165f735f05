package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrPeriodClosed indicates the accounting period covering the operation date is not open.
	ErrPeriodClosed = errors.New("accounting period closed")
	// ErrLockNotObtained indicates another worker holds the advisory lock.
	ErrLockNotObtained = errors.New("advisory lock not obtained")
)
