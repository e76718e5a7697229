package connection

import "errors"

var (
	ErrAlreadyConnected   = errors.New("connection already established or in progress")
	ErrConnectTimeout     = errors.New("connect attempt timed out")
	ErrMaxAttemptsReached = errors.New("maximum reconnect attempts exceeded")
	ErrManagerClosed      = errors.New("connection manager is closed")
)
