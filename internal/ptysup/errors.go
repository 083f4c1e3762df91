package ptysup

import "errors"

// ErrClosed is returned by Write after the supervisor has been closed or the
// child process has exited.
var ErrClosed = errors.New("ptysup: closed")
