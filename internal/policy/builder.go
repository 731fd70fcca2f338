package policy

import (
	"fmt"
	"strings"
)

// Condition keys understood by the broker's trust evaluation.
const (
	CondAudience      = "sts:aud"
	CondAuthenticated = "sts:authenticated"
)

// TagContextPrefix namespaces session tags inside the request context that
// policy variables and conditions resolve against.
const TagContextPrefix = "tag:"

// ConfigError reports a defect in policy construction inputs. It is a
// deployment problem, not a request problem: callers surface it at startup
// or at apply time and refuse to serve.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "policy config: " + e.Reason
}

// BuildTrustPolicy produces the single trust statement for one
// authentication state: allow token exchange and session tagging, on the
// condition that the caller's audience matches exactly and its
// authentication state matches the statement's.
//
// The audience condition is mandatory. A trust statement without it would
// let any audience assume the role, so an empty audience is rejected here
// rather than detected at exchange time.
func BuildTrustPolicy(audience string, state AuthState) (Statement, error) {
	if audience == "" {
		return Statement{}, &ConfigError{Reason: "trust statement requires a non-empty audience"}
	}
	if state != Authenticated && state != Unauthenticated {
		return Statement{}, &ConfigError{Reason: fmt.Sprintf("unknown auth state %q", state)}
	}

	authed, sid := "false", "TrustExchangeUnauthenticated"
	if state == Authenticated {
		authed, sid = "true", "TrustExchangeAuthenticated"
	}

	return Statement{
		Sid:      sid,
		Effect:   EffectAllow,
		Action:   []string{ActionExchangeToken, ActionTagSession},
		Resource: []string{"*"},
		Condition: map[string]map[string][]string{
			"StringEquals": {CondAudience: {audience}},
			"Bool":         {CondAuthenticated: {authed}},
		},
	}, nil
}

// BuildTrustPolicies emits both trust statements for an audience. The
// unauthenticated statement exists even when unauthenticated exchange is
// feature-gated off: the broker's role attachment needs a non-ambiguous
// entry for every state it can classify, or evaluation hits an undefined
// role.
func BuildTrustPolicies(audience string) (Document, error) {
	doc := Document{Version: DocumentVersion}
	for _, state := range []AuthState{Authenticated, Unauthenticated} {
		stmt, err := BuildTrustPolicy(audience, state)
		if err != nil {
			return Document{}, err
		}
		doc.Statement = append(doc.Statement, stmt)
	}
	return doc, nil
}

// BuildAccessPolicy produces the resource policy for a tag-partitioned
// storage resource: an unscoped listing statement (discovery has to
// enumerate before it can read or write) and a read/write statement whose
// resource pattern embeds the session-tag substitution point. One document
// serves every tenant; the engine substitutes the tag at request time.
func BuildAccessPolicy(resourceID, tagKey string) (Document, error) {
	if resourceID == "" {
		return Document{}, &ConfigError{Reason: "access policy requires a resource id"}
	}
	if tagKey == "" {
		return Document{}, &ConfigError{Reason: "access policy requires a tag key"}
	}

	scoped := Statement{
		Sid:      "TenantReadWrite",
		Effect:   EffectAllow,
		Action:   []string{ActionGetObject, ActionPutObject},
		Resource: []string{resourceID + "/${" + TagContextPrefix + tagKey + "}/*"},
	}
	doc := Document{
		Version: DocumentVersion,
		Statement: []Statement{
			{
				Sid:      "TenantList",
				Effect:   EffectAllow,
				Action:   []string{ActionListPartition},
				Resource: []string{resourceID},
			},
			scoped,
		},
	}

	if err := checkSubstitutionPoints(doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// checkSubstitutionPoints asserts that every statement allowing object
// reads or writes carries exactly one substitution point. A read/write
// statement without one grants cross-tenant access.
func checkSubstitutionPoints(doc Document) error {
	for _, stmt := range doc.Statement {
		if stmt.Effect != EffectAllow {
			continue
		}
		if !matchesAny(stmt.Action, ActionGetObject) && !matchesAny(stmt.Action, ActionPutObject) {
			continue
		}
		for _, r := range stmt.Resource {
			if strings.Count(r, "${") != 1 {
				return &ConfigError{Reason: fmt.Sprintf("statement %q: resource %q must carry exactly one substitution point", stmt.Sid, r)}
			}
		}
	}
	return nil
}

// TagContext converts session tags into the request-context map the
// evaluator consumes, applying the tag namespace prefix.
func TagContext(tags map[string]string) map[string]string {
	ctx := make(map[string]string, len(tags))
	for k, v := range tags {
		ctx[TagContextPrefix+k] = v
	}
	return ctx
}
