package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotActive          = errors.New("market is not active")
	ErrNotResolved        = errors.New("market has not been resolved yet")
	ErrDeadlineNotReached = errors.New("market deadline has not been reached yet")
	ErrDeadlineInPast     = errors.New("market deadline must be in the future")
	ErrInvalidAmount      = errors.New("bet amount must be positive")
	ErrInvalidOutcome     = errors.New("invalid outcome")
	ErrNoWinningBet       = errors.New("no winning bet found")
	ErrNotHomeNode        = errors.New("not the market's home node")
	ErrBadEnvelope        = errors.New("invalid relay envelope")
)
