package router

import "errors"

var (
	ErrRouterClosed = errors.New("event router is closed")
)
