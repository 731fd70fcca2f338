package broker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/selim2309/TenantGate/internal/federation"
	"github.com/selim2309/TenantGate/internal/identity"
	"github.com/selim2309/TenantGate/internal/policy"
	"github.com/selim2309/TenantGate/internal/schema"
	"github.com/selim2309/TenantGate/internal/store"
)

type testEnv struct {
	store    *store.Store
	tokens   *identity.TokenService
	identity *identity.Service
	broker   *Broker
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	tokens := identity.NewTokenService("test-secret")
	idsvc := identity.NewService(st, schema.Default(), tokens)

	trustDoc, err := policy.BuildTrustPolicies("client-web")
	if err != nil {
		t.Fatalf("BuildTrustPolicies: %v", err)
	}
	err = st.PutRole(store.Role{
		Name:        "tenant-access",
		AuthState:   string(policy.Authenticated),
		TrustPolicy: trustDoc,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("PutRole: %v", err)
	}

	selector, err := NewRoleSelector(map[policy.AuthState][]string{
		policy.Authenticated: {"tenant-access"},
	}, ResolveFirst)
	if err != nil {
		t.Fatalf("NewRoleSelector: %v", err)
	}

	table, err := federation.NewTable([]federation.Mapping{
		{SourceClaim: "client", TagKey: "client", Audience: "client-web"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if opts.ResourceID == "" {
		opts.ResourceID = "bucket"
	}
	if opts.TagKey == "" {
		opts.TagKey = "client"
	}
	b, err := New(st, tokens, selector, table, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &testEnv{store: st, tokens: tokens, identity: idsvc, broker: b}
}

func (e *testEnv) signupAndLogin(t *testing.T, username, client string) string {
	t.Helper()
	rec, err := e.identity.Signup(identity.SignupRequest{
		Username:   username,
		Password:   "correct-horse",
		GivenName:  "Test",
		FamilyName: "User",
		Attributes: map[string]string{"client": client},
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := e.identity.MarkVerified(rec.ID); err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	token, _, err := e.identity.Authenticate(username, "correct-horse", "client-web", time.Hour)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return token
}

func TestExchange_EndToEnd(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	token := env.signupAndLogin(t, "u1", "acme")

	creds, err := env.broker.Exchange(ctx, token, 0)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if creds.SessionTags["client"] != "acme" {
		t.Errorf("session tag = %q, want acme", creds.SessionTags["client"])
	}
	if creds.Role != "tenant-access" {
		t.Errorf("role = %q", creds.Role)
	}
	if creds.AccessKey == "" || creds.SecretKey == "" || creds.SessionToken == "" {
		t.Error("expected minted key material")
	}

	// Policy evaluation scoped by the issued tag
	allow, err := env.broker.Authorize(ctx, creds.SessionToken, policy.ActionGetObject, "bucket/acme/file.txt")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !allow {
		t.Error("expected allow on own partition")
	}

	deny, err := env.broker.Authorize(ctx, creds.SessionToken, policy.ActionGetObject, "bucket/other/file.txt")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if deny {
		t.Error("expected deny on foreign partition")
	}

	list, err := env.broker.Authorize(ctx, creds.SessionToken, policy.ActionListPartition, "bucket")
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !list {
		t.Error("expected allow for unscoped listing")
	}
}

func TestExchange_Isolation(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	credsA, err := env.broker.Exchange(ctx, env.signupAndLogin(t, "ua", "acme"), 0)
	if err != nil {
		t.Fatalf("Exchange A: %v", err)
	}
	credsB, err := env.broker.Exchange(ctx, env.signupAndLogin(t, "ub", "globex"), 0)
	if err != nil {
		t.Fatalf("Exchange B: %v", err)
	}

	if ok, _ := env.broker.Authorize(ctx, credsA.SessionToken, policy.ActionGetObject, "bucket/globex/x"); ok {
		t.Error("credentials for acme satisfied globex scope")
	}
	if ok, _ := env.broker.Authorize(ctx, credsB.SessionToken, policy.ActionGetObject, "bucket/acme/x"); ok {
		t.Error("credentials for globex satisfied acme scope")
	}
}

func TestExchange_UnmappedAudienceFailsClosed(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	token := env.signupAndLogin(t, "u1", "acme")

	// Swap in an empty table: the operator apply never happened.
	empty, err := federation.NewTable(nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	env.broker.SetTable(empty)

	creds, err := env.broker.Exchange(ctx, token, 0)
	var uerr *federation.UnmappedAttributeError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected *UnmappedAttributeError, got %v", err)
	}
	if creds != nil {
		t.Error("exchange must issue no credential when unmapped")
	}
}

func TestExchange_TrustDeniedForForeignAudience(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	// Role trusts client-web only; a token for another audience must fail
	// the trust evaluation even if a mapping exists for it.
	table, err := federation.NewTable([]federation.Mapping{
		{SourceClaim: "client", TagKey: "client", Audience: "client-web"},
		{SourceClaim: "client", TagKey: "client", Audience: "rogue-app"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	env.broker.SetTable(table)

	rec, err := env.identity.Signup(identity.SignupRequest{
		Username: "u1", Password: "correct-horse",
		GivenName: "Test", FamilyName: "User",
		Attributes: map[string]string{"client": "acme"},
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	env.identity.MarkVerified(rec.ID)
	token, _, err := env.identity.Authenticate("u1", "correct-horse", "rogue-app", time.Hour)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if _, err := env.broker.Exchange(ctx, token, 0); !errors.Is(err, ErrTrustDenied) {
		t.Errorf("expected ErrTrustDenied, got %v", err)
	}
}

func TestExchange_UnauthenticatedGate(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	guest, err := env.tokens.IssueGuest("client-web", time.Hour)
	if err != nil {
		t.Fatalf("IssueGuest: %v", err)
	}

	// No unauthenticated role configured at all.
	_, err = env.broker.Exchange(ctx, guest, 0)
	var nerr *NoRoleMatchedError
	if !errors.As(err, &nerr) {
		t.Fatalf("expected *NoRoleMatchedError, got %v", err)
	}
}

func TestExchange_DurationClamp(t *testing.T) {
	env := newTestEnv(t, Options{MaxDurationSecs: 600})
	ctx := context.Background()

	token := env.signupAndLogin(t, "u1", "acme")

	if _, err := env.broker.Exchange(ctx, token, 601); err == nil {
		t.Error("expected error for duration above maximum")
	}

	creds, err := env.broker.Exchange(ctx, token, 0)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	// Default duration applies, clamped within max
	if time.Until(creds.Expiration) > 11*time.Minute {
		t.Errorf("expiration too far out: %v", creds.Expiration)
	}
}

func TestAuthorize_ExpiredCredential(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	now := time.Now().UTC()
	err := env.store.CreateCredential(store.Credential{
		AccessKey:    "ak",
		SecretKey:    "sk",
		SessionToken: "stale",
		SessionTags:  map[string]string{"client": "acme"},
		IssuedAt:     now.Add(-2 * time.Hour),
		ExpiresAt:    now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	if _, err := env.broker.Authorize(ctx, "stale", policy.ActionGetObject, "bucket/acme/x"); err == nil {
		t.Error("expected error for expired credential")
	}
}

func TestSelfCheck(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()

	if err := env.broker.SelfCheck(ctx, "client-web"); err != nil {
		t.Errorf("SelfCheck with mapping applied: %v", err)
	}

	empty, _ := federation.NewTable(nil)
	env.broker.SetTable(empty)
	if err := env.broker.SelfCheck(ctx, "client-web"); err == nil {
		t.Error("expected SelfCheck failure with empty mapping table")
	}
}
