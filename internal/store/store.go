package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/selim2309/TenantGate/internal/federation"
	"github.com/selim2309/TenantGate/internal/policy"
)

var (
	identitiesBucket  = []byte("identities")
	usernameIdxBucket = []byte("identities_by_username")
	rolesBucket       = []byte("roles")
	mappingsBucket    = []byte("federation_mappings")
	credentialsBucket = []byte("credentials")
	auditBucket       = []byte("audit_trail")
)

// Store is the bbolt-backed metadata store. All request-path reads are
// snapshot reads; mutation happens only through administrative operations.
type Store struct {
	db       *bolt.DB
	auditSeq atomic.Uint32
}

// Identity is a persisted identity record. ID is immutable; the standard
// name fields and the custom attributes mutate through profile updates.
type Identity struct {
	ID           string            `json:"id"`
	Username     string            `json:"username"`
	GivenName    string            `json:"given_name"`
	FamilyName   string            `json:"family_name"`
	PasswordHash []byte            `json:"password_hash,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Verified     bool              `json:"verified"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Role is an assumable exchange role with its trust policy.
type Role struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	AuthState   string          `json:"auth_state"` // which exchange outcome this role serves
	TrustPolicy policy.Document `json:"trust_policy"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Credential is an issued scoped credential. It keeps its session tags for
// its full lifetime; attribute changes never rewrite an issued credential.
type Credential struct {
	AccessKey    string            `json:"access_key"`
	SecretKey    string            `json:"secret_key"`
	SessionToken string            `json:"session_token"`
	IdentityID   string            `json:"identity_id"`
	RoleName     string            `json:"role_name"`
	Audience     string            `json:"audience"`
	AuthState    string            `json:"auth_state"`
	SessionTags  map[string]string `json:"session_tags,omitempty"`
	IssuedAt     time.Time         `json:"issued_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

// Expired reports whether the credential is past its expiry.
func (c *Credential) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// AuditEntry records one exchange or authorization decision.
type AuditEntry struct {
	Time       int64             `json:"time"` // unix nanos
	IdentityID string            `json:"identity_id,omitempty"`
	Audience   string            `json:"audience,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource,omitempty"`
	Outcome    string            `json:"outcome"` // issued, denied, allow, deny, error
	ErrorClass string            `json:"error_class,omitempty"`
	SourceIP   string            `json:"source_ip,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

func NewStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			identitiesBucket, usernameIdxBucket, rolesBucket,
			mappingsBucket, credentialsBucket, auditBucket,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init metadata db: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Identity operations

func (s *Store) CreateIdentity(id Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identitiesBucket)
		idx := tx.Bucket(usernameIdxBucket)
		if idx.Get([]byte(id.Username)) != nil {
			return fmt.Errorf("username already exists: %s", id.Username)
		}
		data, err := json.Marshal(id)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id.ID), data); err != nil {
			return err
		}
		return idx.Put([]byte(id.Username), []byte(id.ID))
	})
}

func (s *Store) GetIdentity(id string) (*Identity, error) {
	var rec *Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(identitiesBucket).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("identity not found: %s", id)
		}
		rec = &Identity{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

func (s *Store) GetIdentityByUsername(username string) (*Identity, error) {
	var rec *Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(usernameIdxBucket).Get([]byte(username))
		if id == nil {
			return fmt.Errorf("identity not found: %s", username)
		}
		data := tx.Bucket(identitiesBucket).Get(id)
		if data == nil {
			return fmt.Errorf("identity index stale for %s", username)
		}
		rec = &Identity{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

func (s *Store) UpdateIdentity(id Identity) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identitiesBucket)
		if b.Get([]byte(id.ID)) == nil {
			return fmt.Errorf("identity not found: %s", id.ID)
		}
		data, err := json.Marshal(id)
		if err != nil {
			return err
		}
		return b.Put([]byte(id.ID), data)
	})
}

func (s *Store) ListIdentities() ([]Identity, error) {
	var out []Identity
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(identitiesBucket).ForEach(func(_, v []byte) error {
			var rec Identity
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteIdentity(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(identitiesBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("identity not found: %s", id)
		}
		var rec Identity
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if err := tx.Bucket(usernameIdxBucket).Delete([]byte(rec.Username)); err != nil {
			return err
		}
		return b.Delete([]byte(id))
	})
}

// Role operations

func (s *Store) PutRole(role Role) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(role)
		if err != nil {
			return err
		}
		return tx.Bucket(rolesBucket).Put([]byte(role.Name), data)
	})
}

func (s *Store) GetRole(name string) (*Role, error) {
	var role *Role
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(rolesBucket).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("role not found: %s", name)
		}
		role = &Role{}
		return json.Unmarshal(data, role)
	})
	return role, err
}

func (s *Store) ListRoles() ([]Role, error) {
	var out []Role
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(rolesBucket).ForEach(func(_, v []byte) error {
			var role Role
			if err := json.Unmarshal(v, &role); err != nil {
				return err
			}
			out = append(out, role)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteRole(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rolesBucket)
		if b.Get([]byte(name)) == nil {
			return fmt.Errorf("role not found: %s", name)
		}
		return b.Delete([]byte(name))
	})
}

// Federation mapping operations. Keyed by audience: the table invariant of
// one tag per audience is enforced by federation.NewTable on load, and the
// keying here makes a second apply for the same audience a replace, not a
// silent duplicate.

func (s *Store) PutMapping(m federation.Mapping) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return tx.Bucket(mappingsBucket).Put([]byte(m.Audience), data)
	})
}

func (s *Store) ListMappings() ([]federation.Mapping, error) {
	var out []federation.Mapping
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(mappingsBucket).ForEach(func(_, v []byte) error {
			var m federation.Mapping
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

func (s *Store) DeleteMapping(audience string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingsBucket)
		if b.Get([]byte(audience)) == nil {
			return fmt.Errorf("mapping not found for audience: %s", audience)
		}
		return b.Delete([]byte(audience))
	})
}

// Credential operations

func (s *Store) CreateCredential(c Credential) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		if b.Get([]byte(c.SessionToken)) != nil {
			return fmt.Errorf("session token collision")
		}
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put([]byte(c.SessionToken), data)
	})
}

func (s *Store) GetCredential(sessionToken string) (*Credential, error) {
	var c *Credential
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(credentialsBucket).Get([]byte(sessionToken))
		if data == nil {
			return fmt.Errorf("credential not found")
		}
		c = &Credential{}
		return json.Unmarshal(data, c)
	})
	return c, err
}

// PurgeExpiredCredentials removes credentials past expiry and returns how
// many were removed.
func (s *Store) PurgeExpiredCredentials(now time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(credentialsBucket)
		c := b.Cursor()
		var stale [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cred Credential
			if err := json.Unmarshal(v, &cred); err != nil {
				continue
			}
			if cred.Expired(now) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Audit trail

// auditKey orders entries by timestamp with a per-process sequence suffix
// so that two decisions landing in the same nanosecond get distinct keys.
func auditKey(nanos int64, seq uint32) []byte {
	k := make([]byte, 12)
	binary.BigEndian.PutUint64(k[:8], uint64(nanos))
	binary.BigEndian.PutUint32(k[8:], seq)
	return k
}

func (s *Store) AppendAudit(entry AuditEntry) error {
	key := auditKey(entry.Time, s.auditSeq.Add(1))
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(auditBucket).Put(key, data)
	})
}

// ListAudit returns the most recent entries, newest first, up to limit.
func (s *Store) ListAudit(limit int) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}

// PruneAudit removes audit entries older than the cutoff.
func (s *Store) PruneAudit(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(auditBucket)
		c := b.Cursor()
		max := auditKey(cutoff.UnixNano(), 0)
		var stale [][]byte
		for k, _ := c.First(); k != nil && string(k) < string(max); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			stale = append(stale, key)
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
