package supervisor

import "errors"

// ErrNotRunning is returned for calls or restarts before Start succeeded or
// after Stop.
var ErrNotRunning = errors.New("supervisor: wrappee not running")

// ErrAlreadyRunning is returned by Start when a wrappee is already up.
var ErrAlreadyRunning = errors.New("supervisor: wrappee already running")
