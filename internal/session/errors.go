package session

import "errors"

var (
	ErrInvalidSession   = errors.New("invalid or expired session")
	ErrSessionNotActive = errors.New("session not active")
	ErrSessionExists    = errors.New("session already exists")
	ErrMaxSessions      = errors.New("maximum sessions reached")
)
