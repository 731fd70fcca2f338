package identity

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/selim2309/TenantGate/internal/schema"
	"github.com/selim2309/TenantGate/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, schema.Default(), NewTokenService("test-secret"))
}

func signupAda(t *testing.T, svc *Service) *store.Identity {
	t.Helper()
	rec, err := svc.Signup(SignupRequest{
		Username:   "ada",
		Password:   "correct-horse",
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		Attributes: map[string]string{"client": "acme"},
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	return rec
}

func TestSignup_ValidatesAttributes(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Signup(SignupRequest{
		Username:   "bob",
		Password:   "correct-horse",
		GivenName:  "Bob",
		FamilyName: "Builder",
		Attributes: map[string]string{"client": "ab"}, // below min length
	})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}

	// Missing required attribute
	_, err = svc.Signup(SignupRequest{
		Username:   "bob",
		Password:   "correct-horse",
		GivenName:  "Bob",
		FamilyName: "Builder",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError for missing client, got %v", err)
	}
}

func TestIssueFederated_ValidatesAttributes(t *testing.T) {
	svc := newTestService(t)

	// A path-escaping value from an upstream provider must be refused at
	// intake, exactly like a local signup.
	_, err := svc.IssueFederated("oidc:sub-1", "client-web", map[string]string{
		"client": "acme/../other",
	}, time.Hour)
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if verr.Attribute != "client" {
		t.Errorf("Attribute = %q, want %q", verr.Attribute, "client")
	}

	// Undeclared attribute names fail closed too.
	_, err = svc.IssueFederated("oidc:sub-1", "client-web", map[string]string{
		"tenant_id": "acme",
	}, time.Hour)
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError for undeclared attribute, got %v", err)
	}
}

func TestIssueFederated_ValidValue(t *testing.T) {
	svc := newTestService(t)

	token, err := svc.IssueFederated("oidc:sub-1", "client-web", map[string]string{
		"client": "acme",
	}, time.Hour)
	if err != nil {
		t.Fatalf("IssueFederated: %v", err)
	}

	claims, err := svc.Tokens().Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AuthState != "authenticated" {
		t.Errorf("AuthState = %q", claims.AuthState)
	}
	if claims.Attributes["client"] != "acme" {
		t.Errorf("client = %q", claims.Attributes["client"])
	}
}

func TestSignup_PersistsRecord(t *testing.T) {
	svc := newTestService(t)
	rec := signupAda(t, svc)

	if rec.ID == "" {
		t.Error("expected generated id")
	}
	if rec.Attributes["client"] != "acme" {
		t.Errorf("client = %q", rec.Attributes["client"])
	}
	if len(rec.PasswordHash) == 0 {
		t.Error("expected password hash")
	}
	if rec.Verified {
		t.Error("record must not start verified")
	}
}

func TestAuthenticate_IssuesVerifiedToken(t *testing.T) {
	svc := newTestService(t)
	rec := signupAda(t, svc)

	// Unverified identities cannot authenticate.
	if _, _, err := svc.Authenticate("ada", "correct-horse", "client-web", time.Hour); err == nil {
		t.Fatal("expected error for unverified identity")
	}

	if err := svc.MarkVerified(rec.ID); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}

	token, _, err := svc.Authenticate("ada", "correct-horse", "client-web", time.Hour)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	claims, err := svc.tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Sub != rec.ID {
		t.Errorf("sub = %q, want %q", claims.Sub, rec.ID)
	}
	if claims.Aud != "client-web" {
		t.Errorf("aud = %q", claims.Aud)
	}
	if claims.AuthState != "authenticated" {
		t.Errorf("auth_state = %q", claims.AuthState)
	}
	if claims.Attributes["client"] != "acme" {
		t.Errorf("client claim = %q", claims.Attributes["client"])
	}
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	svc := newTestService(t)
	rec := signupAda(t, svc)
	svc.MarkVerified(rec.ID)

	if _, _, err := svc.Authenticate("ada", "wrong", "client-web", time.Hour); err == nil {
		t.Error("expected error for wrong password")
	}
	if _, _, err := svc.Authenticate("nobody", "correct-horse", "client-web", time.Hour); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestUpdateProfile_ValidatesAndPersists(t *testing.T) {
	svc := newTestService(t)
	rec := signupAda(t, svc)

	updated, err := svc.UpdateProfile(rec.ID, map[string]string{
		"given_name": "Augusta",
		"client":     "globex",
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.GivenName != "Augusta" {
		t.Errorf("GivenName = %q", updated.GivenName)
	}
	if updated.Attributes["client"] != "globex" {
		t.Errorf("client = %q", updated.Attributes["client"])
	}

	// Out-of-bounds value rejected, record untouched
	if _, err := svc.UpdateProfile(rec.ID, map[string]string{"client": "x"}); err == nil {
		t.Error("expected reject for short client value")
	}
	again, _ := svc.store.GetIdentity(rec.ID)
	if again.Attributes["client"] != "globex" {
		t.Errorf("client after failed update = %q", again.Attributes["client"])
	}
}

func TestTokenService_Verify(t *testing.T) {
	ts := NewTokenService("secret")
	rec := &store.Identity{ID: "u1", Attributes: map[string]string{"client": "acme"}}

	token, err := ts.Issue(rec, "client-web", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := ts.Verify(token); err != nil {
		t.Errorf("Verify: %v", err)
	}

	// Tampered token
	if _, err := ts.Verify(token + "x"); err == nil {
		t.Error("expected error for tampered signature")
	}

	// Different key
	other := NewTokenService("other-secret")
	if _, err := other.Verify(token); err == nil {
		t.Error("expected error for token signed under another key")
	}

	// Expired
	expired, err := ts.Issue(rec, "client-web", -time.Minute)
	if err != nil {
		t.Fatalf("Issue expired: %v", err)
	}
	if _, err := ts.Verify(expired); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestTokenService_GuestToken(t *testing.T) {
	ts := NewTokenService("secret")
	token, err := ts.IssueGuest("client-web", time.Hour)
	if err != nil {
		t.Fatalf("IssueGuest: %v", err)
	}
	claims, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AuthState != "unauthenticated" {
		t.Errorf("auth_state = %q", claims.AuthState)
	}
	if len(claims.Attributes) != 0 {
		t.Errorf("guest token must carry no attributes, got %v", claims.Attributes)
	}
}
