package schema

import (
	"errors"
	"strings"
	"testing"
)

func TestValidate_TenantBounds(t *testing.T) {
	s := Default()

	tests := []struct {
		value string
		ok    bool
	}{
		{"abc", true},
		{"acme", true},
		{"acme-west-2", true},
		{strings.Repeat("a", 60), true},
		{"ab", false},                       // below min
		{strings.Repeat("a", 61), false},    // above max
		{"", false},                         // empty
		{"Acme", false},                     // uppercase
		{"acme/../other", false},            // path traversal attempt
		{"-acme", false},                    // leading hyphen
		{"acme corp", false},                // whitespace
	}
	for _, tt := range tests {
		err := s.Validate(TenantAttribute, tt.value)
		if tt.ok && err != nil {
			t.Errorf("Validate(%q) = %v, want accept", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("Validate(%q) accepted, want reject", tt.value)
		}
	}
}

func TestValidate_ReturnsValidationError(t *testing.T) {
	s := Default()
	err := s.Validate(TenantAttribute, "ab")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if verr.Attribute != TenantAttribute {
		t.Errorf("Attribute = %q, want %q", verr.Attribute, TenantAttribute)
	}
}

func TestValidate_UndeclaredAttribute(t *testing.T) {
	s := Default()
	if err := s.Validate("favorite_color", "blue"); err == nil {
		t.Error("expected reject for undeclared attribute")
	}
}

func TestValidateAll_RequiredAtSignup(t *testing.T) {
	s := Default()

	full := map[string]string{
		"given_name":  "Ada",
		"family_name": "Lovelace",
		"client":      "acme",
	}
	if err := s.ValidateAll(full, true); err != nil {
		t.Fatalf("ValidateAll(full) = %v", err)
	}

	missing := map[string]string{
		"given_name":  "Ada",
		"family_name": "Lovelace",
	}
	if err := s.ValidateAll(missing, true); err == nil {
		t.Error("expected reject when client is missing at signup")
	}
	// Partial updates don't require the full set.
	if err := s.ValidateAll(missing, false); err != nil {
		t.Errorf("ValidateAll(partial, required=false) = %v", err)
	}
}

func TestValidate_NumberType(t *testing.T) {
	s := New()
	s.MustAdd(Attribute{Name: "seat_count", Type: TypeNumber, MinLen: 1, MaxLen: 10})

	tests := []struct {
		value string
		ok    bool
	}{
		{"42", true},
		{"0", true},
		{"-3.5", true},
		{"1e3", true},
		{"forty-two", false},
		{"12abc", false},
	}
	for _, tt := range tests {
		err := s.Validate("seat_count", tt.value)
		if tt.ok && err != nil {
			t.Errorf("Validate(%q) = %v, want accept", tt.value, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("Validate(%q) accepted, want reject", tt.value)
		}
	}
}

func TestAdd_RejectsDegenerateBounds(t *testing.T) {
	s := New()
	if err := s.Add(Attribute{Name: "x", Type: TypeString, MinLen: 0, MaxLen: 10}); err == nil {
		t.Error("expected error for zero min length")
	}
	if err := s.Add(Attribute{Name: "y", Type: TypeString, MinLen: 5, MaxLen: 3}); err == nil {
		t.Error("expected error for max < min")
	}
}

func TestAdd_RejectsDuplicate(t *testing.T) {
	s := New()
	a := Attribute{Name: "dept", Type: TypeString, MinLen: 1, MaxLen: 10}
	if err := s.Add(a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(a); err == nil {
		t.Error("expected error on duplicate declaration")
	}
}
