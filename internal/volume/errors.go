package volume

import (
	"errors"
	"fmt"
)

var errNotMounted = errors.New("container spec does not mount the volume")

// LifecycleError is an impossible volume state transition. Cleanup paths
// log it and carry on.
type LifecycleError struct {
	Volume string
	From   State
	To     State
	Err    error
}

func (e *LifecycleError) Error() string {
	msg := fmt.Sprintf("volume %s: cannot go from %s to %s", e.Volume, e.From, e.To)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
