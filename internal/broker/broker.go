package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/selim2309/TenantGate/internal/federation"
	"github.com/selim2309/TenantGate/internal/identity"
	"github.com/selim2309/TenantGate/internal/policy"
	"github.com/selim2309/TenantGate/internal/store"
)

// ErrTrustDenied reports an exchange whose trust policy evaluation failed.
// Surfaced as an authorization failure, not a system fault.
var ErrTrustDenied = errors.New("trust policy denied exchange")

// ErrUnauthenticatedDisabled reports a guest exchange while the feature is
// gated off. The unauthenticated trust statement still exists; the gate is
// checked after role selection so a missing role is still reported as the
// configuration defect it is.
var ErrUnauthenticatedDisabled = errors.New("unauthenticated exchange is not enabled")

// ScopedCredentials is the result of a successful exchange: short-lived
// keys carrying the session tag that scope every subsequent storage call.
type ScopedCredentials struct {
	AccessKey    string            `json:"accessKey"`
	SecretKey    string            `json:"secretKey"`
	SessionToken string            `json:"sessionToken"`
	Expiration   time.Time         `json:"expiration"`
	Role         string            `json:"role"`
	SessionTags  map[string]string `json:"sessionTags"`
}

// Options configures the broker.
type Options struct {
	ResourceID           string
	TagKey               string
	DefaultDurationSecs  int
	MaxDurationSecs      int
	AllowUnauthenticated bool
}

// Broker exchanges verified identity tokens for scoped credentials. The
// request path is stateless and lock-free: every call reads the caller's
// token plus immutable snapshots of the mapping table and policy
// documents. Mutation (mapping apply, role changes) swaps snapshots from
// the administrative path.
type Broker struct {
	store    *store.Store
	tokens   *identity.TokenService
	selector *RoleSelector
	cache    *SessionCache // optional
	opts     Options

	table        atomic.Pointer[federation.Table]
	accessPolicy policy.Document
}

// New builds a broker. The access policy is constructed once here; a
// malformed policy configuration fails startup instead of surfacing per
// request.
func New(st *store.Store, tokens *identity.TokenService, selector *RoleSelector, table *federation.Table, opts Options) (*Broker, error) {
	if opts.DefaultDurationSecs <= 0 {
		opts.DefaultDurationSecs = 3600
	}
	if opts.MaxDurationSecs <= 0 {
		opts.MaxDurationSecs = 43200
	}
	if opts.DefaultDurationSecs > opts.MaxDurationSecs {
		opts.DefaultDurationSecs = opts.MaxDurationSecs
	}

	accessDoc, err := policy.BuildAccessPolicy(opts.ResourceID, opts.TagKey)
	if err != nil {
		return nil, err
	}

	b := &Broker{
		store:        st,
		tokens:       tokens,
		selector:     selector,
		opts:         opts,
		accessPolicy: accessDoc,
	}
	b.table.Store(table)
	return b, nil
}

// SetSessionCache attaches an optional read-through credential cache.
func (b *Broker) SetSessionCache(c *SessionCache) {
	b.cache = c
}

// Table returns the current federation mapping snapshot.
func (b *Broker) Table() *federation.Table {
	return b.table.Load()
}

// SetTable swaps the federation mapping snapshot. Called from the
// administrative apply path only.
func (b *Broker) SetTable(t *federation.Table) {
	b.table.Store(t)
}

// AccessPolicy returns the resource policy document the broker enforces.
func (b *Broker) AccessPolicy() policy.Document {
	return b.accessPolicy
}

// Exchange turns a verified identity token into scoped credentials:
// verify → trust check → role selection → tag resolution → mint. Any
// failure issues no credential; there is no unscoped fallback.
func (b *Broker) Exchange(ctx context.Context, identityToken string, durationSecs int) (*ScopedCredentials, error) {
	claims, err := b.tokens.Verify(identityToken)
	if err != nil {
		return nil, fmt.Errorf("verify identity token: %w", err)
	}
	return b.exchangeClaims(ctx, claims, durationSecs, true)
}

func (b *Broker) exchangeClaims(ctx context.Context, claims *identity.Claims, durationSecs int, persist bool) (*ScopedCredentials, error) {
	state := policy.AuthState(claims.AuthState)
	if state != policy.Authenticated && state != policy.Unauthenticated {
		return nil, fmt.Errorf("token carries unknown auth state %q", claims.AuthState)
	}

	roleName, err := b.selector.SelectRole(state)
	if err != nil {
		return nil, err
	}
	if state == policy.Unauthenticated && !b.opts.AllowUnauthenticated {
		return nil, ErrUnauthenticatedDisabled
	}

	role, err := b.store.GetRole(roleName)
	if err != nil {
		return nil, fmt.Errorf("load role %q: %w", roleName, err)
	}

	trustCtx := map[string]string{
		policy.CondAudience:      claims.Aud,
		policy.CondAuthenticated: "false",
	}
	if state == policy.Authenticated {
		trustCtx[policy.CondAuthenticated] = "true"
	}
	if !policy.EvaluateWithContext([]policy.Document{role.TrustPolicy}, policy.ActionExchangeToken, "*", trustCtx) {
		return nil, ErrTrustDenied
	}
	if !policy.EvaluateWithContext([]policy.Document{role.TrustPolicy}, policy.ActionTagSession, "*", trustCtx) {
		return nil, ErrTrustDenied
	}

	tagKey, tagValue, err := b.Table().ResolveTag(claims.ClaimMap(), claims.Aud)
	if err != nil {
		return nil, err
	}

	duration := durationSecs
	if duration <= 0 {
		duration = b.opts.DefaultDurationSecs
	}
	if duration > b.opts.MaxDurationSecs {
		return nil, fmt.Errorf("requested duration %d exceeds maximum %d", duration, b.opts.MaxDurationSecs)
	}

	accessKey, err := randomHexStr(10)
	if err != nil {
		return nil, err
	}
	secretKey, err := randomHexStr(20)
	if err != nil {
		return nil, err
	}
	sessionToken, err := randomHexStr(16)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	creds := &ScopedCredentials{
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		SessionToken: sessionToken,
		Expiration:   now.Add(time.Duration(duration) * time.Second),
		Role:         roleName,
		SessionTags:  map[string]string{tagKey: tagValue},
	}

	if persist {
		rec := store.Credential{
			AccessKey:    accessKey,
			SecretKey:    secretKey,
			SessionToken: sessionToken,
			IdentityID:   claims.Sub,
			RoleName:     roleName,
			Audience:     claims.Aud,
			AuthState:    string(state),
			SessionTags:  creds.SessionTags,
			IssuedAt:     now,
			ExpiresAt:    creds.Expiration,
		}
		if err := b.store.CreateCredential(rec); err != nil {
			return nil, fmt.Errorf("persist credential: %w", err)
		}
		if b.cache != nil {
			if err := b.cache.Put(ctx, rec); err != nil {
				slog.Warn("session cache write failed", "error", err)
			}
		}
	}

	return creds, nil
}

// Authorize evaluates an action/resource pair against the access policy
// using the session tags of an issued credential. A deny here is the
// steady-state enforcement mechanism, not an anomaly.
func (b *Broker) Authorize(ctx context.Context, sessionToken, action, resource string) (bool, error) {
	cred, err := b.lookupCredential(ctx, sessionToken)
	if err != nil {
		return false, err
	}
	if cred.Expired(time.Now().UTC()) {
		return false, fmt.Errorf("credential expired")
	}

	tagCtx := policy.TagContext(cred.SessionTags)
	return policy.EvaluateWithContext([]policy.Document{b.accessPolicy}, action, resource, tagCtx), nil
}

func (b *Broker) lookupCredential(ctx context.Context, sessionToken string) (*store.Credential, error) {
	if b.cache != nil {
		if cred, err := b.cache.Get(ctx, sessionToken); err == nil && cred != nil {
			return cred, nil
		}
	}
	return b.store.GetCredential(sessionToken)
}

// SelfCheck runs a synthetic, non-persisted exchange for the audience and
// asserts the resulting credential carries a non-empty session tag. This
// is the deployment-precondition check for the out-of-band mapping apply:
// run at startup and from the federation health endpoint.
func (b *Broker) SelfCheck(ctx context.Context, audience string) error {
	table := b.Table()
	if table.Empty() {
		return fmt.Errorf("federation mapping table is empty; the operator apply step has not run")
	}

	var sourceClaim string
	for _, m := range table.Entries() {
		if m.Audience == audience {
			sourceClaim = m.SourceClaim
			break
		}
	}
	if sourceClaim == "" {
		return &federation.UnmappedAttributeError{Audience: audience}
	}

	claims := &identity.Claims{
		Sub:        "selfcheck",
		Aud:        audience,
		AuthState:  string(policy.Authenticated),
		Attributes: map[string]string{sourceClaim: "selfcheck"},
	}
	creds, err := b.exchangeClaims(ctx, claims, 0, false)
	if err != nil {
		return fmt.Errorf("synthetic exchange: %w", err)
	}
	return table.VerifyTags(audience, creds.SessionTags)
}

func randomHexStr(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
