package schema

import (
	"fmt"
	"regexp"
	"strconv"
)

// AttributeType is the primitive type of a custom attribute.
type AttributeType string

const (
	TypeString AttributeType = "string"
	TypeNumber AttributeType = "number"
)

// Attribute declares the shape of a single identity attribute.
type Attribute struct {
	Name             string        `json:"name" yaml:"name"`
	Type             AttributeType `json:"type" yaml:"type"`
	MinLen           int           `json:"min_len" yaml:"min_len"`
	MaxLen           int           `json:"max_len" yaml:"max_len"`
	Mutable          bool          `json:"mutable" yaml:"mutable"`
	RequiredAtSignup bool          `json:"required_at_signup" yaml:"required_at_signup"`
	// Pattern, when set, restricts the value's charset. Attributes that end
	// up as path segments in resource patterns must set this: an unbounded
	// value substituted into a path is a traversal / prefix-collision risk.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	re *regexp.Regexp
}

// ValidationError reports an attribute value rejected at the identity
// boundary. It is user-visible and recoverable by resubmission.
type ValidationError struct {
	Attribute string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("attribute %q: %s", e.Attribute, e.Reason)
}

// Schema is the declared set of attributes an identity record may carry.
type Schema struct {
	attrs map[string]*Attribute
}

// TenantAttribute is the custom attribute whose value scopes storage access.
const TenantAttribute = "client"

// tenantValueRe is deliberately strict: the value is substituted verbatim
// into a resource path segment, so anything beyond lowercase alphanumerics
// and interior hyphens is rejected here, never escaped downstream.
var tenantValueRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Default returns the built-in schema: the required standard name fields
// plus the tenant-scoping attribute (string, length 3-60).
func Default() *Schema {
	s := New()
	s.MustAdd(Attribute{Name: "given_name", Type: TypeString, MinLen: 1, MaxLen: 256, Mutable: true, RequiredAtSignup: true})
	s.MustAdd(Attribute{Name: "family_name", Type: TypeString, MinLen: 1, MaxLen: 256, Mutable: true, RequiredAtSignup: true})
	s.MustAdd(Attribute{
		Name:             TenantAttribute,
		Type:             TypeString,
		MinLen:           3,
		MaxLen:           60,
		Mutable:          true,
		RequiredAtSignup: true,
		Pattern:          tenantValueRe.String(),
	})
	return s
}

// New returns an empty schema.
func New() *Schema {
	return &Schema{attrs: make(map[string]*Attribute)}
}

// Add declares an attribute. Redeclaring a name or supplying degenerate
// bounds is a programming error surfaced before any value is accepted.
func (s *Schema) Add(a Attribute) error {
	if a.Name == "" {
		return fmt.Errorf("attribute name must not be empty")
	}
	if _, ok := s.attrs[a.Name]; ok {
		return fmt.Errorf("attribute %q already declared", a.Name)
	}
	if a.MinLen < 1 || a.MaxLen < a.MinLen {
		return fmt.Errorf("attribute %q: bounds must satisfy 1 <= min <= max, got %d..%d", a.Name, a.MinLen, a.MaxLen)
	}
	if a.Pattern != "" {
		re, err := regexp.Compile(a.Pattern)
		if err != nil {
			return fmt.Errorf("attribute %q: invalid pattern: %w", a.Name, err)
		}
		a.re = re
	}
	s.attrs[a.Name] = &a
	return nil
}

// MustAdd is Add for statically-known declarations.
func (s *Schema) MustAdd(a Attribute) {
	if err := s.Add(a); err != nil {
		panic(err)
	}
}

// Lookup returns the declaration for name.
func (s *Schema) Lookup(name string) (*Attribute, bool) {
	a, ok := s.attrs[name]
	return a, ok
}

// Required returns the names of attributes that must be present at signup.
func (s *Schema) Required() []string {
	var names []string
	for name, a := range s.attrs {
		if a.RequiredAtSignup {
			names = append(names, name)
		}
	}
	return names
}

// Validate checks a proposed value against the declared bounds. The policy
// is reject, never truncate or escape: truncation could collide two distinct
// tenants into the same partition.
func (s *Schema) Validate(name, value string) error {
	a, ok := s.attrs[name]
	if !ok {
		return &ValidationError{Attribute: name, Reason: "not declared in schema"}
	}
	if len(value) < a.MinLen {
		return &ValidationError{Attribute: name, Reason: fmt.Sprintf("value shorter than %d characters", a.MinLen)}
	}
	if len(value) > a.MaxLen {
		return &ValidationError{Attribute: name, Reason: fmt.Sprintf("value longer than %d characters", a.MaxLen)}
	}
	if a.re != nil && !a.re.MatchString(value) {
		return &ValidationError{Attribute: name, Reason: "value contains characters outside the allowed set"}
	}
	if a.Type == TypeNumber {
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return &ValidationError{Attribute: name, Reason: "value is not a number"}
		}
	}
	return nil
}

// ValidateAll validates a full attribute map, additionally requiring every
// RequiredAtSignup attribute when required is true.
func (s *Schema) ValidateAll(attrs map[string]string, required bool) error {
	for name, value := range attrs {
		if err := s.Validate(name, value); err != nil {
			return err
		}
	}
	if required {
		for _, name := range s.Required() {
			if _, ok := attrs[name]; !ok {
				return &ValidationError{Attribute: name, Reason: "required at signup"}
			}
		}
	}
	return nil
}
