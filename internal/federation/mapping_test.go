package federation

import (
	"errors"
	"testing"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable([]Mapping{
		{SourceClaim: "client", TagKey: "client", Audience: "client-web"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func TestResolveTag(t *testing.T) {
	tbl := testTable(t)

	key, val, err := tbl.ResolveTag(map[string]string{"client": "acme"}, "client-web")
	if err != nil {
		t.Fatalf("ResolveTag: %v", err)
	}
	if key != "client" || val != "acme" {
		t.Errorf("got (%q, %q), want (client, acme)", key, val)
	}
}

func TestResolveTag_UnmappedAudience(t *testing.T) {
	tbl := testTable(t)

	_, _, err := tbl.ResolveTag(map[string]string{"client": "acme"}, "unknown-app")
	var uerr *UnmappedAttributeError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected *UnmappedAttributeError, got %v", err)
	}
	if uerr.Audience != "unknown-app" {
		t.Errorf("Audience = %q", uerr.Audience)
	}
}

func TestResolveTag_MissingClaimFailsClosed(t *testing.T) {
	tbl := testTable(t)

	if _, _, err := tbl.ResolveTag(map[string]string{}, "client-web"); err == nil {
		t.Error("expected error for absent source claim")
	}
	if _, _, err := tbl.ResolveTag(map[string]string{"client": ""}, "client-web"); err == nil {
		t.Error("expected error for empty source claim")
	}
}

func TestNewTable_RejectsDuplicates(t *testing.T) {
	_, err := NewTable([]Mapping{
		{SourceClaim: "client", TagKey: "client", Audience: "client-web"},
		{SourceClaim: "dept", TagKey: "client", Audience: "client-web"},
	})
	if err == nil {
		t.Error("expected error for duplicate (audience, tag) pair")
	}
}

func TestNewTable_RejectsIncomplete(t *testing.T) {
	_, err := NewTable([]Mapping{{SourceClaim: "client", TagKey: "", Audience: "client-web"}})
	if err == nil {
		t.Error("expected error for missing tag key")
	}
}

func TestVersion_StableAcrossOrder(t *testing.T) {
	a, err := NewTable([]Mapping{
		{SourceClaim: "client", TagKey: "client", Audience: "app-one"},
		{SourceClaim: "client", TagKey: "client", Audience: "app-two"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	b, err := NewTable([]Mapping{
		{SourceClaim: "client", TagKey: "client", Audience: "app-two"},
		{SourceClaim: "client", TagKey: "client", Audience: "app-one"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if a.Version() != b.Version() {
		t.Errorf("versions differ across entry order: %s vs %s", a.Version(), b.Version())
	}

	c, _ := NewTable([]Mapping{{SourceClaim: "dept", TagKey: "client", Audience: "app-one"}})
	if a.Version() == c.Version() {
		t.Error("different tables share a version")
	}
}

func TestVerifyTags(t *testing.T) {
	tbl := testTable(t)

	if err := tbl.VerifyTags("client-web", map[string]string{"client": "acme"}); err != nil {
		t.Errorf("VerifyTags with tag present: %v", err)
	}
	if err := tbl.VerifyTags("client-web", map[string]string{}); err == nil {
		t.Error("expected error when session tag is absent")
	}
	if err := tbl.VerifyTags("client-web", map[string]string{"client": ""}); err == nil {
		t.Error("expected error when session tag is empty")
	}
}
