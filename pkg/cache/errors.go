package cache

import "errors"

var (
	ErrCacheMiss    = errors.New("cache miss")
	ErrInvalidValue = errors.New("invalid cache value")
)
