package testutil

import "errors"

// Common test errors
var (
	ErrNotConnected = errors.New("relay not connected")
	ErrTestFailure  = errors.New("test failure")
)
