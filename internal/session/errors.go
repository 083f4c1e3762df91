package session

import "errors"

// ErrSessionNotFound is wrapped by apperr.Error when Registry.End or a
// lookup targets an id that is not (or no longer) registered.
var ErrSessionNotFound = errors.New("session: not found")
