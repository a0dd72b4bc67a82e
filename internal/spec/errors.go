package spec

import "fmt"

// SpecError reports a mount or socket requirement that cannot be satisfied
// on this host. It is raised before any backend subprocess runs.
type SpecError struct {
	Mount  string // offending mount spec or feature name
	Reason string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("cannot build container spec: %s: %s", e.Mount, e.Reason)
}
