package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrLockHeld           = errors.New("lock already held")
	ErrInvalidPositionKey = errors.New("invalid position key")
	ErrChainNotSupported  = errors.New("chain not supported")
	ErrNegativeAmount     = errors.New("negative amount")
)
