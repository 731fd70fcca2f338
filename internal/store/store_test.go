package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/selim2309/TenantGate/internal/federation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_IdentityCRUD(t *testing.T) {
	s := newTestStore(t)

	id := Identity{
		ID:         "u1",
		Username:   "ada",
		GivenName:  "Ada",
		FamilyName: "Lovelace",
		Attributes: map[string]string{"client": "acme"},
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.CreateIdentity(id); err != nil {
		t.Fatalf("CreateIdentity: %v", err)
	}

	got, err := s.GetIdentity("u1")
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if got.Attributes["client"] != "acme" {
		t.Errorf("client attribute = %q", got.Attributes["client"])
	}

	byName, err := s.GetIdentityByUsername("ada")
	if err != nil {
		t.Fatalf("GetIdentityByUsername: %v", err)
	}
	if byName.ID != "u1" {
		t.Errorf("ID = %q", byName.ID)
	}

	// Duplicate username
	dup := id
	dup.ID = "u2"
	if err := s.CreateIdentity(dup); err == nil {
		t.Error("expected error on duplicate username")
	}

	// Update mutates attributes, not identity of the record
	got.Attributes["client"] = "globex"
	if err := s.UpdateIdentity(*got); err != nil {
		t.Fatalf("UpdateIdentity: %v", err)
	}
	again, _ := s.GetIdentity("u1")
	if again.Attributes["client"] != "globex" {
		t.Errorf("client after update = %q", again.Attributes["client"])
	}

	if err := s.DeleteIdentity("u1"); err != nil {
		t.Fatalf("DeleteIdentity: %v", err)
	}
	if _, err := s.GetIdentityByUsername("ada"); err == nil {
		t.Error("expected username index to be cleaned up")
	}
}

func TestStore_MappingReplaceByAudience(t *testing.T) {
	s := newTestStore(t)

	m := federation.Mapping{SourceClaim: "client", TagKey: "client", Audience: "client-web"}
	if err := s.PutMapping(m); err != nil {
		t.Fatalf("PutMapping: %v", err)
	}

	// A second apply for the same audience replaces, never duplicates.
	m.SourceClaim = "tenant"
	if err := s.PutMapping(m); err != nil {
		t.Fatalf("PutMapping replace: %v", err)
	}

	list, err := s.ListMappings()
	if err != nil {
		t.Fatalf("ListMappings: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(list))
	}
	if list[0].SourceClaim != "tenant" {
		t.Errorf("SourceClaim = %q", list[0].SourceClaim)
	}

	if err := s.DeleteMapping("client-web"); err != nil {
		t.Fatalf("DeleteMapping: %v", err)
	}
	if err := s.DeleteMapping("client-web"); err == nil {
		t.Error("expected error deleting absent mapping")
	}
}

func TestStore_CredentialLifecycle(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC()
	cred := Credential{
		AccessKey:    "ak",
		SecretKey:    "sk",
		SessionToken: "tok-1",
		IdentityID:   "u1",
		Audience:     "client-web",
		SessionTags:  map[string]string{"client": "acme"},
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	}
	if err := s.CreateCredential(cred); err != nil {
		t.Fatalf("CreateCredential: %v", err)
	}

	got, err := s.GetCredential("tok-1")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if got.SessionTags["client"] != "acme" {
		t.Errorf("session tag = %q", got.SessionTags["client"])
	}
	if got.Expired(now) {
		t.Error("credential should not be expired yet")
	}
	if !got.Expired(now.Add(2 * time.Hour)) {
		t.Error("credential should be expired after its window")
	}

	expired := cred
	expired.SessionToken = "tok-2"
	expired.ExpiresAt = now.Add(-time.Minute)
	if err := s.CreateCredential(expired); err != nil {
		t.Fatalf("CreateCredential expired: %v", err)
	}

	removed, err := s.PurgeExpiredCredentials(now)
	if err != nil {
		t.Fatalf("PurgeExpiredCredentials: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.GetCredential("tok-1"); err != nil {
		t.Error("live credential purged")
	}
	if _, err := s.GetCredential("tok-2"); err == nil {
		t.Error("expired credential survived purge")
	}
}

func TestStore_AuditTrail(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		err := s.AppendAudit(AuditEntry{
			Time:    base.Add(time.Duration(i) * time.Second).UnixNano(),
			Action:  "sts:ExchangeToken",
			Outcome: "issued",
		})
		if err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	entries, err := s.ListAudit(3)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Newest first
	if entries[0].Time < entries[1].Time {
		t.Error("expected newest-first ordering")
	}

	removed, err := s.PruneAudit(base.Add(2500 * time.Millisecond))
	if err != nil {
		t.Fatalf("PruneAudit: %v", err)
	}
	if removed != 3 {
		t.Errorf("pruned = %d, want 3", removed)
	}
}

func TestStore_AuditSameTimestamp(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().UnixNano()
	outcomes := []string{"issued", "denied", "issued"}
	for _, outcome := range outcomes {
		err := s.AppendAudit(AuditEntry{
			Time:    now,
			Action:  "sts:ExchangeToken",
			Outcome: outcome,
		})
		if err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}

	entries, err := s.ListAudit(10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != len(outcomes) {
		t.Fatalf("expected %d entries, got %d", len(outcomes), len(entries))
	}
}
