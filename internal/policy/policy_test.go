package policy

import "testing"

func TestEvaluate_AllowAll(t *testing.T) {
	docs := []Document{{
		Version: DocumentVersion,
		Statement: []Statement{{
			Effect:   EffectAllow,
			Action:   []string{"storage:*"},
			Resource: []string{"*"},
		}},
	}}
	if !Evaluate(docs, ActionGetObject, "bucket/file.txt") {
		t.Error("expected Allow for storage:* / *")
	}
}

func TestEvaluate_DefaultDeny(t *testing.T) {
	docs := []Document{{Version: DocumentVersion}}
	if Evaluate(docs, ActionGetObject, "bucket/file.txt") {
		t.Error("expected default Deny with no statements")
	}
}

func TestEvaluate_ExplicitDenyWins(t *testing.T) {
	docs := []Document{{
		Version: DocumentVersion,
		Statement: []Statement{
			{Effect: EffectAllow, Action: []string{"storage:*"}, Resource: []string{"*"}},
			{Effect: EffectDeny, Action: []string{ActionPutObject}, Resource: []string{"*"}},
		},
	}}
	if Evaluate(docs, ActionPutObject, "bucket/file.txt") {
		t.Error("expected Deny to override Allow")
	}
	if !Evaluate(docs, ActionGetObject, "bucket/file.txt") {
		t.Error("expected Allow for non-denied action")
	}
}

func TestEvaluateWithContext_TagSubstitution(t *testing.T) {
	doc, err := BuildAccessPolicy("bucket", "client")
	if err != nil {
		t.Fatalf("BuildAccessPolicy: %v", err)
	}
	docs := []Document{doc}
	ctx := TagContext(map[string]string{"client": "acme"})

	if !EvaluateWithContext(docs, ActionGetObject, "bucket/acme/file.txt", ctx) {
		t.Error("expected Allow for own partition")
	}
	if !EvaluateWithContext(docs, ActionPutObject, "bucket/acme/reports/q3.csv", ctx) {
		t.Error("expected Allow for nested key in own partition")
	}
	if EvaluateWithContext(docs, ActionGetObject, "bucket/other/file.txt", ctx) {
		t.Error("expected Deny for another tenant's partition")
	}
	if EvaluateWithContext(docs, ActionGetObject, "bucket/file.txt", ctx) {
		t.Error("expected Deny for bare prefix outside any partition")
	}
	if !EvaluateWithContext(docs, ActionListPartition, "bucket", ctx) {
		t.Error("expected Allow for unscoped listing")
	}
}

// Credentials tagged for one tenant must never satisfy the statement scoped
// to another, in either direction.
func TestEvaluateWithContext_TenantIsolation(t *testing.T) {
	doc, err := BuildAccessPolicy("bucket", "client")
	if err != nil {
		t.Fatalf("BuildAccessPolicy: %v", err)
	}
	docs := []Document{doc}

	ctxA := TagContext(map[string]string{"client": "acme"})
	ctxB := TagContext(map[string]string{"client": "globex"})

	if EvaluateWithContext(docs, ActionGetObject, "bucket/globex/file.txt", ctxA) {
		t.Error("tenant acme reached globex partition")
	}
	if EvaluateWithContext(docs, ActionGetObject, "bucket/acme/file.txt", ctxB) {
		t.Error("tenant globex reached acme partition")
	}
}

func TestEvaluateWithContext_MissingTagFailsClosed(t *testing.T) {
	doc, err := BuildAccessPolicy("bucket", "client")
	if err != nil {
		t.Fatalf("BuildAccessPolicy: %v", err)
	}
	docs := []Document{doc}

	// No session tag at all: the scoped statement must not widen.
	if EvaluateWithContext(docs, ActionGetObject, "bucket/acme/file.txt", nil) {
		t.Error("expected Deny when session tag is absent")
	}
	// Empty tag value likewise.
	ctx := TagContext(map[string]string{"client": ""})
	if EvaluateWithContext(docs, ActionGetObject, "bucket/acme/file.txt", ctx) {
		t.Error("expected Deny when session tag is empty")
	}
}

func TestEvaluateWithContext_Conditions(t *testing.T) {
	docs := []Document{{
		Version: DocumentVersion,
		Statement: []Statement{{
			Effect:   EffectAllow,
			Action:   []string{ActionExchangeToken},
			Resource: []string{"*"},
			Condition: map[string]map[string][]string{
				"StringEquals": {CondAudience: {"client-web"}},
				"Bool":         {CondAuthenticated: {"true"}},
			},
		}},
	}}

	ok := map[string]string{CondAudience: "client-web", CondAuthenticated: "true"}
	if !EvaluateWithContext(docs, ActionExchangeToken, "*", ok) {
		t.Error("expected Allow for matching conditions")
	}

	wrongAud := map[string]string{CondAudience: "other-app", CondAuthenticated: "true"}
	if EvaluateWithContext(docs, ActionExchangeToken, "*", wrongAud) {
		t.Error("expected Deny for audience mismatch")
	}

	unauthed := map[string]string{CondAudience: "client-web", CondAuthenticated: "false"}
	if EvaluateWithContext(docs, ActionExchangeToken, "*", unauthed) {
		t.Error("expected Deny for auth-state mismatch")
	}
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"*", "anything", true},
		{"storage:*", ActionGetObject, true},
		{"storage:Get*", ActionGetObject, true},
		{"storage:Get*", ActionPutObject, false},
		{"bucket/acme/*", "bucket/acme/key", true},
		{"bucket/acme/*", "bucket/acme", true},
		{"bucket/acme/*", "bucket/acmecorp/key", false},
		{"bucket", "bucket", true},
		{"bucket", "other", false},
	}
	for _, tt := range tests {
		got := matchWildcard(tt.pattern, tt.value)
		if got != tt.want {
			t.Errorf("matchWildcard(%q, %q) = %v, want %v", tt.pattern, tt.value, got, tt.want)
		}
	}
}

func TestSubstituteVariables(t *testing.T) {
	ctx := map[string]string{"tag:client": "acme"}

	got, ok := SubstituteVariables("bucket/${tag:client}/*", ctx)
	if !ok || got != "bucket/acme/*" {
		t.Errorf("got (%q, %v), want (bucket/acme/*, true)", got, ok)
	}

	if _, ok := SubstituteVariables("bucket/${tag:missing}/*", ctx); ok {
		t.Error("expected unresolved variable to fail")
	}
	if _, ok := SubstituteVariables("bucket/${tag:client/*", ctx); ok {
		t.Error("expected unterminated reference to fail")
	}
	if got, ok := SubstituteVariables("bucket/static", nil); !ok || got != "bucket/static" {
		t.Errorf("static string should pass through, got (%q, %v)", got, ok)
	}
}
