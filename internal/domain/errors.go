package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("rate limited")
	ErrNoPosition     = errors.New("no position for market")
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
	ErrIndeterminate  = errors.New("indeterminate settlement outcome")
	ErrWSDisconnect   = errors.New("websocket disconnected")
)
