package policy

import (
	"net"
	"strings"
	"time"
)

// evaluateConditions checks all condition operators. Every operator and
// every key must pass for the statement to apply.
func evaluateConditions(conditions map[string]map[string][]string, ctx map[string]string) bool {
	for operator, kvs := range conditions {
		for key, values := range kvs {
			ctxVal := ctx[key]
			if !evaluateOperator(operator, ctxVal, values) {
				return false
			}
		}
	}
	return true
}

func evaluateOperator(operator, actual string, expected []string) bool {
	switch operator {
	case "StringEquals":
		return stringEquals(actual, expected)
	case "StringNotEquals":
		return !stringEquals(actual, expected)
	case "StringLike":
		return stringLike(actual, expected)
	case "StringNotLike":
		return !stringLike(actual, expected)
	case "StringEqualsIgnoreCase":
		return stringEqualsIgnoreCase(actual, expected)
	case "IpAddress":
		return ipAddress(actual, expected)
	case "NotIpAddress":
		return !ipAddress(actual, expected)
	case "DateLessThan":
		return dateLessThan(actual, expected)
	case "DateGreaterThan":
		return dateGreaterThan(actual, expected)
	case "Bool":
		return stringEquals(actual, expected)
	default:
		return false // unknown operator = deny
	}
}

func stringEquals(actual string, expected []string) bool {
	for _, v := range expected {
		if actual == v {
			return true
		}
	}
	return false
}

func stringEqualsIgnoreCase(actual string, expected []string) bool {
	for _, v := range expected {
		if strings.EqualFold(actual, v) {
			return true
		}
	}
	return false
}

func stringLike(actual string, expected []string) bool {
	for _, v := range expected {
		if matchWildcard(v, actual) {
			return true
		}
	}
	return false
}

func ipAddress(actual string, cidrs []string) bool {
	ip := net.ParseIP(actual)
	if ip == nil {
		return false
	}
	for _, cidr := range cidrs {
		if strings.Contains(cidr, "/") {
			_, network, err := net.ParseCIDR(cidr)
			if err != nil {
				continue
			}
			if network.Contains(ip) {
				return true
			}
		} else {
			if actual == cidr {
				return true
			}
		}
	}
	return false
}

func dateLessThan(actual string, expected []string) bool {
	t, err := time.Parse(time.RFC3339, actual)
	if err != nil {
		return false
	}
	for _, v := range expected {
		threshold, err := time.Parse(time.RFC3339, v)
		if err != nil {
			continue
		}
		if t.Before(threshold) {
			return true
		}
	}
	return false
}

func dateGreaterThan(actual string, expected []string) bool {
	t, err := time.Parse(time.RFC3339, actual)
	if err != nil {
		return false
	}
	for _, v := range expected {
		threshold, err := time.Parse(time.RFC3339, v)
		if err != nil {
			continue
		}
		if t.After(threshold) {
			return true
		}
	}
	return false
}

// SubstituteVariables resolves ${key} references in a policy string from
// the request context. The second return is false when any reference stays
// unresolved; callers must treat such a pattern as non-matching.
func SubstituteVariables(s string, ctx map[string]string) (string, bool) {
	if !strings.Contains(s, "${") {
		return s, true
	}

	var b strings.Builder
	rest := s
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			b.WriteString(rest)
			break
		}
		j := strings.Index(rest[i:], "}")
		if j < 0 {
			// Unterminated reference: malformed pattern, never match.
			return "", false
		}
		key := rest[i+2 : i+j]
		val, ok := ctx[key]
		if !ok || val == "" {
			return "", false
		}
		b.WriteString(rest[:i])
		b.WriteString(val)
		rest = rest[i+j+1:]
	}
	return b.String(), true
}
