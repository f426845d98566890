package listener

import "errors"

// ErrStalled is returned by Fence when the listener hasn't drained the
// sentinel event before the timeout, or has reported itself stalled.
var ErrStalled = errors.New("listener: fence timed out waiting for the change stream to catch up")
