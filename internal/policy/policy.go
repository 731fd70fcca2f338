package policy

import "strings"

// Document represents a policy document.
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement represents a single policy statement.
type Statement struct {
	Sid       string                         `json:"Sid,omitempty"`
	Effect    string                         `json:"Effect"`
	Action    []string                       `json:"Action"`
	Resource  []string                       `json:"Resource"`
	Condition map[string]map[string][]string `json:"Condition,omitempty"`
}

const (
	EffectAllow = "Allow"
	EffectDeny  = "Deny"

	// Version carried by every generated document.
	DocumentVersion = "2012-10-17"
)

// Broker actions referenced by trust policies.
const (
	ActionExchangeToken = "sts:ExchangeToken"
	ActionTagSession    = "sts:TagSession"
)

// Storage actions referenced by access policies.
const (
	ActionListPartition = "storage:ListPartition"
	ActionGetObject     = "storage:GetObject"
	ActionPutObject     = "storage:PutObject"
)

// AuthState is the authentication outcome of a credential exchange. Exactly
// two states exist; there is no transition between them, each exchange is
// classified independently.
type AuthState string

const (
	Authenticated   AuthState = "authenticated"
	Unauthenticated AuthState = "unauthenticated"
)

// Evaluate checks all documents against an action and resource.
// Returns true if access is allowed, false if denied.
// Logic: explicit Deny wins, then explicit Allow, else default deny.
func Evaluate(docs []Document, action, resource string) bool {
	return EvaluateWithContext(docs, action, resource, nil)
}

// EvaluateWithContext evaluates documents with request context available to
// condition predicates and policy-variable substitution. Resource patterns
// containing variables that the context cannot resolve never match: a
// missing session tag fails closed instead of widening the pattern.
func EvaluateWithContext(docs []Document, action, resource string, ctx map[string]string) bool {
	hasAllow := false

	for _, doc := range docs {
		for _, stmt := range doc.Statement {
			if !matchesAny(stmt.Action, action) {
				continue
			}
			if !resourceMatches(stmt.Resource, resource, ctx) {
				continue
			}
			if len(stmt.Condition) > 0 && !evaluateConditions(stmt.Condition, ctx) {
				continue
			}
			if stmt.Effect == EffectDeny {
				return false
			}
			if stmt.Effect == EffectAllow {
				hasAllow = true
			}
		}
	}

	return hasAllow
}

func resourceMatches(patterns []string, resource string, ctx map[string]string) bool {
	for _, p := range patterns {
		resolved, ok := SubstituteVariables(p, ctx)
		if !ok {
			continue
		}
		if matchWildcard(resolved, resource) {
			return true
		}
	}
	return false
}

// matchesAny checks if the value matches any of the patterns.
func matchesAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if matchWildcard(p, value) {
			return true
		}
	}
	return false
}

// matchWildcard matches a pattern against a value.
// Supports "*" matching everything, "svc:*" matching any action of a
// service, and trailing "/*" for path-prefix matching.
func matchWildcard(pattern, value string) bool {
	if pattern == "*" {
		return true
	}

	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(value, prefix)
	}

	// Path patterns like resource/tenant/* match the prefix and anything under it
	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return value == prefix || strings.HasPrefix(value, prefix+"/")
	}

	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(value, prefix)
	}

	return pattern == value
}
