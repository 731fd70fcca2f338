package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/selim2309/TenantGate/internal/store"
)

// TokenService signs and verifies identity tokens (HS256 JWT). These are
// the verified tokens the broker exchanges for scoped credentials; the
// custom attributes ride along as claims.
type TokenService struct {
	secret []byte
}

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// Claims is the verified payload of an identity token.
type Claims struct {
	Sub        string            `json:"sub"`
	Aud        string            `json:"aud"`
	Iat        int64             `json:"iat"`
	Exp        int64             `json:"exp"`
	AuthState  string            `json:"auth_state"`
	Attributes map[string]string `json:"attrs,omitempty"`
}

// ClaimMap flattens the attributes for federation mapping lookup.
func (c *Claims) ClaimMap() map[string]string {
	m := make(map[string]string, len(c.Attributes)+1)
	for k, v := range c.Attributes {
		m[k] = v
	}
	m["sub"] = c.Sub
	return m
}

func NewTokenService(secret string) *TokenService {
	h := hmac.New(sha256.New, []byte("tenantgate-token-signing-key"))
	h.Write([]byte(secret))
	return &TokenService{secret: h.Sum(nil)}
}

// Issue signs a token for an authenticated identity.
func (t *TokenService) Issue(rec *store.Identity, audience string, ttl time.Duration) (string, error) {
	if audience == "" {
		return "", fmt.Errorf("audience is required")
	}
	now := time.Now()
	claims := Claims{
		Sub:        rec.ID,
		Aud:        audience,
		Iat:        now.Unix(),
		Exp:        now.Add(ttl).Unix(),
		AuthState:  "authenticated",
		Attributes: rec.Attributes,
	}
	return t.sign(claims)
}

// IssueGuest signs an unauthenticated token for an audience. No attributes
// are carried; any exchange of it can only succeed if an unauthenticated
// role is configured.
func (t *TokenService) IssueGuest(audience string, ttl time.Duration) (string, error) {
	if audience == "" {
		return "", fmt.Errorf("audience is required")
	}
	now := time.Now()
	claims := Claims{
		Sub:       "anonymous",
		Aud:       audience,
		Iat:       now.Unix(),
		Exp:       now.Add(ttl).Unix(),
		AuthState: "unauthenticated",
	}
	return t.sign(claims)
}

// IssueFederated signs a token for a subject verified by an external
// source (OIDC, LDAP). The source's mapped attributes ride along exactly
// like local ones.
func (t *TokenService) IssueFederated(sub, audience string, attributes map[string]string, ttl time.Duration) (string, error) {
	if sub == "" {
		return "", fmt.Errorf("subject is required")
	}
	if audience == "" {
		return "", fmt.Errorf("audience is required")
	}
	now := time.Now()
	claims := Claims{
		Sub:        sub,
		Aud:        audience,
		Iat:        now.Unix(),
		Exp:        now.Add(ttl).Unix(),
		AuthState:  "authenticated",
		Attributes: attributes,
	}
	return t.sign(claims)
}

func (t *TokenService) sign(claims Claims) (string, error) {
	header := jwtHeader{Alg: "HS256", Typ: "JWT"}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	claimsB64 := base64.RawURLEncoding.EncodeToString(claimsJSON)

	signingInput := headerB64 + "." + claimsB64
	sig := t.hmac([]byte(signingInput))
	sigB64 := base64.RawURLEncoding.EncodeToString(sig)

	return signingInput + "." + sigB64, nil
}

// Verify checks the signature and expiry and returns the claims.
func (t *TokenService) Verify(tokenStr string) (*Claims, error) {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid token format")
	}

	signingInput := parts[0] + "." + parts[1]
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}

	expected := t.hmac([]byte(signingInput))
	if !hmac.Equal(sig, expected) {
		return nil, fmt.Errorf("invalid signature")
	}

	claimsJSON, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid claims encoding")
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return nil, fmt.Errorf("invalid claims: %w", err)
	}

	if time.Now().Unix() > claims.Exp {
		return nil, fmt.Errorf("token expired")
	}
	if claims.Aud == "" {
		return nil, fmt.Errorf("token missing audience")
	}

	return &claims, nil
}

func (t *TokenService) hmac(data []byte) []byte {
	h := hmac.New(sha256.New, t.secret)
	h.Write(data)
	return h.Sum(nil)
}
