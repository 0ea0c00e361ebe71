package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrLockHeld        = errors.New("lock already held")
	ErrStalePrice      = errors.New("stale price")
	ErrInvalidPosition = errors.New("invalid position")
	ErrPositionClosed  = errors.New("position closed")
)
