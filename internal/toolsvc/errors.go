package toolsvc

import "errors"

var (
	ErrEmptyCommand    = errors.New("toolsvc: command must not be empty")
	ErrInvalidPort     = errors.New("toolsvc: port must be in [1, 65535]")
	ErrNoSSHConnection = errors.New("toolsvc: no ssh connection on this session")
	ErrUnknownMethod   = errors.New("toolsvc: unknown method")
)
