package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/selim2309/TenantGate/internal/schema"
	"github.com/selim2309/TenantGate/internal/store"
)

// Service owns identity records across their lifecycle: creation at
// signup, mutation through profile updates, and authentication. Attribute
// values are validated here, at intake, and nowhere else; by the time a
// value reaches policy construction it is already known to be path-safe.
type Service struct {
	store  *store.Store
	schema *schema.Schema
	tokens *TokenService
}

func NewService(st *store.Store, sc *schema.Schema, tokens *TokenService) *Service {
	return &Service{store: st, schema: sc, tokens: tokens}
}

// Tokens exposes the token service for callers that mint or verify
// identity tokens outside the password flow.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// SignupRequest carries the attributes collected at sign-up.
type SignupRequest struct {
	Username   string
	Password   string
	GivenName  string
	FamilyName string
	Attributes map[string]string
}

// Signup validates all attributes against the schema and persists a new
// record. Validation failures never reach the broker; they are returned to
// the caller for resubmission.
func (s *Service) Signup(req SignupRequest) (*store.Identity, error) {
	if req.Username == "" {
		return nil, &schema.ValidationError{Attribute: "username", Reason: "must not be empty"}
	}
	if len(req.Password) < 8 {
		return nil, &schema.ValidationError{Attribute: "password", Reason: "must be at least 8 characters"}
	}

	attrs := make(map[string]string, len(req.Attributes)+2)
	for k, v := range req.Attributes {
		attrs[k] = v
	}
	attrs["given_name"] = req.GivenName
	attrs["family_name"] = req.FamilyName

	if err := s.schema.ValidateAll(attrs, true); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := randomHexStr(16)
	if err != nil {
		return nil, err
	}

	delete(attrs, "given_name")
	delete(attrs, "family_name")

	now := time.Now().UTC()
	rec := store.Identity{
		ID:           id,
		Username:     req.Username,
		GivenName:    req.GivenName,
		FamilyName:   req.FamilyName,
		PasswordHash: hash,
		Attributes:   attrs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateIdentity(rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateProfile mutates standard fields and custom attributes on an
// existing record. Each value is validated before persist; immutable
// attributes reject any change. An attribute change only affects future
// exchanges: credentials already issued keep their original session tag
// until natural expiry.
func (s *Service) UpdateProfile(id string, updates map[string]string) (*store.Identity, error) {
	rec, err := s.store.GetIdentity(id)
	if err != nil {
		return nil, err
	}

	for name, value := range updates {
		if err := s.schema.Validate(name, value); err != nil {
			return nil, err
		}
		attr, _ := s.schema.Lookup(name)
		switch name {
		case "given_name":
			rec.GivenName = value
		case "family_name":
			rec.FamilyName = value
		default:
			if !attr.Mutable {
				if existing, ok := rec.Attributes[name]; ok && existing != value {
					return nil, &schema.ValidationError{Attribute: name, Reason: "immutable once set"}
				}
			}
			if rec.Attributes == nil {
				rec.Attributes = make(map[string]string)
			}
			rec.Attributes[name] = value
		}
	}

	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateIdentity(*rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkVerified flips the record's verification flag. Verification delivery
// (email etc.) happens outside this system; the broker only checks the
// flag.
func (s *Service) MarkVerified(id string) error {
	rec, err := s.store.GetIdentity(id)
	if err != nil {
		return err
	}
	rec.Verified = true
	rec.UpdatedAt = time.Now().UTC()
	return s.store.UpdateIdentity(*rec)
}

// IssueFederated validates externally sourced attributes against the
// schema and signs a verified token for the subject. An upstream provider
// is a claim source, not a trusted one: its values get the same intake
// validation as local signups, and a value the schema rejects refuses the
// login rather than being stripped or escaped.
func (s *Service) IssueFederated(sub, audience string, attributes map[string]string, ttl time.Duration) (string, error) {
	if err := s.schema.ValidateAll(attributes, false); err != nil {
		return "", err
	}
	return s.tokens.IssueFederated(sub, audience, attributes, ttl)
}

// Authenticate verifies a password and issues a verified identity token
// for the given audience. The token carries the custom attributes as
// claims; the federation mapping later picks one of them as the session
// tag source.
func (s *Service) Authenticate(username, password, audience string, ttl time.Duration) (string, *store.Identity, error) {
	rec, err := s.store.GetIdentityByUsername(username)
	if err != nil {
		return "", nil, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(rec.PasswordHash, []byte(password)); err != nil {
		return "", nil, fmt.Errorf("invalid credentials")
	}
	if !rec.Verified {
		return "", nil, fmt.Errorf("identity not verified")
	}

	token, err := s.tokens.Issue(rec, audience, ttl)
	if err != nil {
		return "", nil, err
	}
	return token, rec, nil
}

func randomHexStr(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
