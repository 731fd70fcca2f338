package federation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Mapping links one verified-token claim to one session tag for one trust
// audience. The table of these is operator-applied configuration with a
// lifecycle outside automated provisioning: the daemon can persist and
// inspect it, but only an explicit administrative apply creates entries.
type Mapping struct {
	SourceClaim string `json:"source_claim" yaml:"source_claim"`
	TagKey      string `json:"tag_key" yaml:"tag_key"`
	Audience    string `json:"audience" yaml:"audience"`
}

// UnmappedAttributeError reports a token exchange whose audience has no
// mapping entry. The exchange fails closed; there is no default tag to
// fall back to. Not retryable without operator action.
type UnmappedAttributeError struct {
	Audience string
}

func (e *UnmappedAttributeError) Error() string {
	return fmt.Sprintf("no federation mapping for audience %q", e.Audience)
}

// Table is the explicit, inspectable mapping table. It is immutable after
// construction; the request path only reads it.
type Table struct {
	entries []Mapping
	byAud   map[string]Mapping
}

// NewTable validates and indexes a set of mappings. Exactly one mapping may
// exist per (audience, tag key) pair; a second one is a configuration
// defect rejected at apply time, not at exchange time.
func NewTable(mappings []Mapping) (*Table, error) {
	t := &Table{
		entries: make([]Mapping, 0, len(mappings)),
		byAud:   make(map[string]Mapping, len(mappings)),
	}
	seen := make(map[[2]string]bool, len(mappings))
	for _, m := range mappings {
		if m.SourceClaim == "" || m.TagKey == "" || m.Audience == "" {
			return nil, fmt.Errorf("mapping %+v: source claim, tag key and audience are all required", m)
		}
		pair := [2]string{m.Audience, m.TagKey}
		if seen[pair] {
			return nil, fmt.Errorf("duplicate mapping for audience %q tag %q", m.Audience, m.TagKey)
		}
		seen[pair] = true
		if _, ok := t.byAud[m.Audience]; ok {
			return nil, fmt.Errorf("audience %q already mapped; one tag per audience", m.Audience)
		}
		t.entries = append(t.entries, m)
		t.byAud[m.Audience] = m
	}
	return t, nil
}

// Entries returns a copy of the table for inspection.
func (t *Table) Entries() []Mapping {
	out := make([]Mapping, len(t.entries))
	copy(out, t.entries)
	return out
}

// Empty reports whether the operator apply step has not happened yet.
func (t *Table) Empty() bool {
	return len(t.entries) == 0
}

// ResolveTag turns verified token claims into the session tag for the given
// audience. Unmapped audiences and absent or empty source claims fail
// closed with no tag.
func (t *Table) ResolveTag(claims map[string]string, audience string) (tagKey, tagValue string, err error) {
	m, ok := t.byAud[audience]
	if !ok {
		return "", "", &UnmappedAttributeError{Audience: audience}
	}
	v, ok := claims[m.SourceClaim]
	if !ok || v == "" {
		return "", "", fmt.Errorf("verified token missing source claim %q for audience %q", m.SourceClaim, audience)
	}
	return m.TagKey, v, nil
}

// Version is a fingerprint of the table contents, stable across entry
// order. Operators compare it against the deployed artifact to verify the
// out-of-band apply actually happened.
func (t *Table) Version() string {
	entries := t.Entries()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Audience != entries[j].Audience {
			return entries[i].Audience < entries[j].Audience
		}
		return entries[i].TagKey < entries[j].TagKey
	})
	b, _ := json.Marshal(entries)
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// VerifyTags asserts that a credential's session tags carry a non-empty
// value for the tag key mapped to the audience. This is the loud detector
// for a missing or ineffective mapping apply: exchanged credentials with an
// empty tag mean the out-of-band step was skipped or mis-keyed.
func (t *Table) VerifyTags(audience string, tags map[string]string) error {
	m, ok := t.byAud[audience]
	if !ok {
		return &UnmappedAttributeError{Audience: audience}
	}
	if tags[m.TagKey] == "" {
		return fmt.Errorf("exchanged credential carries no %q session tag; federation mapping for audience %q is not effective", m.TagKey, audience)
	}
	return nil
}
