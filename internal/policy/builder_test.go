package policy

import (
	"errors"
	"reflect"
	"testing"
)

func TestBuildTrustPolicies_BothStates(t *testing.T) {
	doc, err := BuildTrustPolicies("client-web")
	if err != nil {
		t.Fatalf("BuildTrustPolicies: %v", err)
	}
	if len(doc.Statement) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(doc.Statement))
	}

	authed, unauthed := doc.Statement[0], doc.Statement[1]

	// Identical action sets, differing only by auth-state condition.
	if !reflect.DeepEqual(authed.Action, unauthed.Action) {
		t.Errorf("action sets differ: %v vs %v", authed.Action, unauthed.Action)
	}
	wantActions := []string{ActionExchangeToken, ActionTagSession}
	if !reflect.DeepEqual(authed.Action, wantActions) {
		t.Errorf("actions = %v, want %v", authed.Action, wantActions)
	}

	if got := authed.Condition["Bool"][CondAuthenticated]; !reflect.DeepEqual(got, []string{"true"}) {
		t.Errorf("authenticated condition = %v", got)
	}
	if got := unauthed.Condition["Bool"][CondAuthenticated]; !reflect.DeepEqual(got, []string{"false"}) {
		t.Errorf("unauthenticated condition = %v", got)
	}

	for _, stmt := range doc.Statement {
		if got := stmt.Condition["StringEquals"][CondAudience]; !reflect.DeepEqual(got, []string{"client-web"}) {
			t.Errorf("statement %s audience condition = %v", stmt.Sid, got)
		}
	}
}

func TestBuildTrustPolicies_Idempotent(t *testing.T) {
	a, err := BuildTrustPolicies("client-web")
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	b, err := BuildTrustPolicies("client-web")
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("identical inputs produced different documents")
	}
}

func TestBuildTrustPolicy_EmptyAudience(t *testing.T) {
	_, err := BuildTrustPolicy("", Authenticated)
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConfigError for empty audience, got %v", err)
	}
}

func TestBuildTrustPolicy_UnknownState(t *testing.T) {
	if _, err := BuildTrustPolicy("client-web", AuthState("guest")); err == nil {
		t.Error("expected error for unknown auth state")
	}
}

func TestBuildAccessPolicy_Shape(t *testing.T) {
	doc, err := BuildAccessPolicy("bucket", "client")
	if err != nil {
		t.Fatalf("BuildAccessPolicy: %v", err)
	}
	if len(doc.Statement) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(doc.Statement))
	}

	list, scoped := doc.Statement[0], doc.Statement[1]
	if !reflect.DeepEqual(list.Action, []string{ActionListPartition}) {
		t.Errorf("list actions = %v", list.Action)
	}
	if !reflect.DeepEqual(list.Resource, []string{"bucket"}) {
		t.Errorf("list resource = %v", list.Resource)
	}

	wantPattern := "bucket/${tag:client}/*"
	if !reflect.DeepEqual(scoped.Resource, []string{wantPattern}) {
		t.Errorf("scoped resource = %v, want [%s]", scoped.Resource, wantPattern)
	}
}

func TestBuildAccessPolicy_MissingInputs(t *testing.T) {
	if _, err := BuildAccessPolicy("", "client"); err == nil {
		t.Error("expected error for empty resource id")
	}
	if _, err := BuildAccessPolicy("bucket", ""); err == nil {
		t.Error("expected error for empty tag key")
	}
}

func TestCheckSubstitutionPoints_RejectsUnscopedReadWrite(t *testing.T) {
	doc := Document{
		Version: DocumentVersion,
		Statement: []Statement{{
			Sid:      "BadReadWrite",
			Effect:   EffectAllow,
			Action:   []string{ActionGetObject},
			Resource: []string{"bucket/*"}, // no substitution point: cross-tenant grant
		}},
	}
	if err := checkSubstitutionPoints(doc); err == nil {
		t.Error("expected config error for read/write statement without substitution point")
	}
}
