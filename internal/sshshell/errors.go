package sshshell

import "errors"

// ErrClosed is returned by Write after the remote session has ended.
var ErrClosed = errors.New("sshshell: closed")
