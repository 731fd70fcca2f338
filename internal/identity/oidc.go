package identity

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// OIDCConfig configures an upstream OIDC identity source. AttributeClaim
// names the upstream claim whose value becomes the tenant attribute on the
// verified token; it must be mapped by the federation table before any
// exchange can succeed.
type OIDCConfig struct {
	IssuerURL      string `json:"issuer_url" yaml:"issuer_url"`
	ClientID       string `json:"client_id" yaml:"client_id"`
	AttributeClaim string `json:"attribute_claim" yaml:"attribute_claim"`
	CacheSecs      int    `json:"cache_secs" yaml:"cache_secs"`
}

// OIDCSource verifies upstream ID tokens against the issuer's JWKS and
// extracts the attribute claim. It lets an external identity provider, not
// just the local record store, act as the verified attribute source.
type OIDCSource struct {
	cfg       OIDCConfig
	issuerURL string
	jwksURI   string

	keysMu        sync.RWMutex
	keys          map[string]*rsa.PublicKey
	lastFetch     time.Time
	cacheDuration time.Duration

	httpClient *http.Client
}

type oidcJWTHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksResponse struct {
	Keys []jwksKey `json:"keys"`
}

type openidConfig struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// NewOIDCSource fetches the discovery document and initial JWKS.
func NewOIDCSource(cfg OIDCConfig) (*OIDCSource, error) {
	if cfg.AttributeClaim == "" {
		return nil, fmt.Errorf("oidc source requires attribute_claim")
	}
	cacheSecs := cfg.CacheSecs
	if cacheSecs <= 0 {
		cacheSecs = 300
	}
	s := &OIDCSource{
		cfg:           cfg,
		issuerURL:     strings.TrimRight(cfg.IssuerURL, "/"),
		keys:          make(map[string]*rsa.PublicKey),
		cacheDuration: time.Duration(cacheSecs) * time.Second,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
	}

	if err := s.fetchDiscovery(); err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}
	if err := s.refreshKeys(); err != nil {
		return nil, fmt.Errorf("oidc jwks: %w", err)
	}
	return s, nil
}

func (s *OIDCSource) fetchDiscovery() error {
	url := s.issuerURL + "/.well-known/openid-configuration"
	resp, err := s.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("discovery returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var cfg openidConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return fmt.Errorf("parse discovery: %w", err)
	}
	if cfg.JWKSURI == "" {
		return fmt.Errorf("discovery missing jwks_uri")
	}

	s.jwksURI = cfg.JWKSURI
	return nil
}

func (s *OIDCSource) refreshKeys() error {
	resp, err := s.httpClient.Get(s.jwksURI)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return fmt.Errorf("parse jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	s.keysMu.Lock()
	s.keys = keys
	s.lastFetch = time.Now()
	s.keysMu.Unlock()

	return nil
}

func parseRSAPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, fmt.Errorf("decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, fmt.Errorf("decode e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

func (s *OIDCSource) getKey(kid string) (*rsa.PublicKey, error) {
	s.keysMu.RLock()
	key, ok := s.keys[kid]
	expired := time.Since(s.lastFetch) > s.cacheDuration
	s.keysMu.RUnlock()

	if ok && !expired {
		return key, nil
	}

	if err := s.refreshKeys(); err != nil {
		if ok {
			return key, nil // stale key beats no key
		}
		return nil, err
	}

	s.keysMu.RLock()
	key, ok = s.keys[kid]
	s.keysMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown key id: %s", kid)
	}
	return key, nil
}

// Verify checks an upstream ID token and returns the identity claims,
// including the configured attribute claim. Absence of the attribute claim
// is an error: a token that cannot yield a tag must never enter the
// exchange.
func (s *OIDCSource) Verify(idToken string) (*Claims, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid token format")
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	var header oidcJWTHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if header.Alg != "RS256" {
		return nil, fmt.Errorf("unsupported algorithm: %s", header.Alg)
	}

	key, err := s.getKey(header.Kid)
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}

	signingInput := parts[0] + "." + parts[1]
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	hash := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, hash[:], signature); err != nil {
		return nil, fmt.Errorf("invalid signature")
	}

	claimsBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(claimsBytes, &raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}

	iss, _ := raw["iss"].(string)
	if iss != s.issuerURL {
		return nil, fmt.Errorf("invalid issuer: %s", iss)
	}
	if !audienceMatches(raw["aud"], s.cfg.ClientID) {
		return nil, fmt.Errorf("invalid audience")
	}

	now := time.Now().Unix()
	exp, _ := raw["exp"].(float64)
	if now > int64(exp) {
		return nil, fmt.Errorf("token expired")
	}
	iat, _ := raw["iat"].(float64)
	if iat > 0 && int64(iat) > now+300 {
		return nil, fmt.Errorf("token issued in the future")
	}

	sub, _ := raw["sub"].(string)
	attrVal, _ := raw[s.cfg.AttributeClaim].(string)
	if attrVal == "" {
		return nil, fmt.Errorf("token missing attribute claim %q", s.cfg.AttributeClaim)
	}

	return &Claims{
		Sub:        sub,
		Aud:        s.cfg.ClientID,
		Iat:        int64(iat),
		Exp:        int64(exp),
		AuthState:  "authenticated",
		Attributes: map[string]string{s.cfg.AttributeClaim: attrVal},
	}, nil
}

func audienceMatches(aud interface{}, clientID string) bool {
	switch v := aud.(type) {
	case string:
		return v == clientID
	case []interface{}:
		for _, a := range v {
			if s, ok := a.(string); ok && s == clientID {
				return true
			}
		}
	}
	return false
}
