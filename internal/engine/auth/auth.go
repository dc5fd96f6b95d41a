package auth

import "fmt"

// Capabilities checked before mutating workflow operations.
const (
	CapRequestsManage = "requests_manage"
	CapContentManage  = "content_manage"
)

// Actor is the authenticated user a mutation runs as.
type Actor struct {
	ID           string
	Capabilities []string
}

// ForbiddenError indicates a missing capability.
type ForbiddenError struct {
	Capability string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("capability %s required", e.Capability)
}

// Has reports whether the actor holds the capability.
func (a Actor) Has(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Require returns a ForbiddenError unless the actor holds the capability.
// Callers run it before touching the store so a denial has no side
// effects.
func Require(a Actor, capability string) error {
	if a.ID == "" || !a.Has(capability) {
		return ForbiddenError{Capability: capability}
	}
	return nil
}
