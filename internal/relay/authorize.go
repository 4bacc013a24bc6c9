package relay

import (
	"fmt"

	"github.com/HelloWorldSungin/claude-strategist/internal/auth"
)

// Authorizer admits exactly one configured principal.
type Authorizer struct {
	principal string
}

// NewAuthorizer creates an authorizer for principalID. An empty id is
// accepted here and refuses every request.
func NewAuthorizer(principalID string) *Authorizer {
	return &Authorizer{principal: principalID}
}

// Configured reports whether a principal is set.
func (a *Authorizer) Configured() bool { return a != nil && a.principal != "" }

// Authorize returns nil only when principal matches the configured id.
func (a *Authorizer) Authorize(principal string) error {
	if !a.Configured() {
		return fmt.Errorf("%w: no authorized principal configured", ErrAuthorization)
	}
	if !auth.Equal(a.principal, principal) {
		return ErrAuthorization
	}
	return nil
}
