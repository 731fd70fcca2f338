package broker

import (
	"fmt"

	"github.com/selim2309/TenantGate/internal/policy"
)

// NoRoleMatchedError reports an exchange outcome with no configured role.
// There is no implicit default role: the exchange is refused until an
// operator attaches one.
type NoRoleMatchedError struct {
	State policy.AuthState
}

func (e *NoRoleMatchedError) Error() string {
	return fmt.Sprintf("no role configured for %s exchange outcome", e.State)
}

// AmbiguousResolution is the deterministic tie-break used when an exchange
// outcome maps to more than one role.
type AmbiguousResolution string

const (
	// ResolveFirst picks the first role in configured order.
	ResolveFirst AmbiguousResolution = "first"
	// ResolveLexical picks the lexically smallest role name, making the
	// choice independent of configuration order.
	ResolveLexical AmbiguousResolution = "lexical"
)

// RoleSelector maps the two exchange outcomes to roles. Exactly one role
// is selected per exchange; the selector never defers the choice to the
// caller.
type RoleSelector struct {
	rules      map[policy.AuthState][]string
	resolution AmbiguousResolution
}

// NewRoleSelector validates the rule set. Both outcomes are a closed enum:
// a rule for an unknown state is rejected rather than silently ignored.
func NewRoleSelector(rules map[policy.AuthState][]string, resolution AmbiguousResolution) (*RoleSelector, error) {
	for state := range rules {
		if state != policy.Authenticated && state != policy.Unauthenticated {
			return nil, fmt.Errorf("role rule for unknown auth state %q", state)
		}
	}
	switch resolution {
	case "", ResolveFirst:
		resolution = ResolveFirst
	case ResolveLexical:
	default:
		return nil, fmt.Errorf("unknown ambiguous resolution %q", resolution)
	}
	return &RoleSelector{rules: rules, resolution: resolution}, nil
}

// SelectRole picks the single role for an exchange outcome.
func (s *RoleSelector) SelectRole(state policy.AuthState) (string, error) {
	candidates := s.rules[state]
	if len(candidates) == 0 {
		return "", &NoRoleMatchedError{State: state}
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}
	switch s.resolution {
	case ResolveLexical:
		best := candidates[0]
		for _, c := range candidates[1:] {
			if c < best {
				best = c
			}
		}
		return best, nil
	default:
		return candidates[0], nil
	}
}
