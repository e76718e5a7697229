package rest

import "errors"

var (
	ErrRequestFailed = errors.New("collaborator request failed")
	ErrEmptyResponse = errors.New("collaborator returned an empty record")
)
