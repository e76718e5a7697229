package relay

import "errors"

var (
	ErrPeerClosed        = errors.New("peer connection is closed")
	ErrWriteTimeout      = errors.New("write to peer timed out")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrChannelFull       = errors.New("hub channel is full")
)
