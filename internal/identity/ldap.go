package identity

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// LDAPConfig configures a directory-backed identity source. AttributeMap
// translates directory attributes into schema attributes, e.g.
// "ou" -> "client".
type LDAPConfig struct {
	ServerURL     string            `json:"server_url" yaml:"server_url"`
	BindDN        string            `json:"bind_dn" yaml:"bind_dn"`
	BindPassword  string            `json:"bind_password" yaml:"bind_password"`
	BaseDN        string            `json:"base_dn" yaml:"base_dn"`
	UserFilter    string            `json:"user_filter" yaml:"user_filter"` // e.g. "(uid=%s)"
	AttributeMap  map[string]string `json:"attribute_map" yaml:"attribute_map"`
	TLSSkipVerify bool              `json:"tls_skip_verify" yaml:"tls_skip_verify"`
	StartTLS      bool              `json:"start_tls" yaml:"start_tls"`
}

// LDAPSource authenticates against a directory and retrieves the mapped
// identity attributes from the user's entry.
type LDAPSource struct {
	cfg LDAPConfig
}

func NewLDAPSource(cfg LDAPConfig) *LDAPSource {
	return &LDAPSource{cfg: cfg}
}

// Authenticate binds as the user and returns the schema attributes found
// on the directory entry.
func (l *LDAPSource) Authenticate(username, password string) (map[string]string, error) {
	conn, err := l.connect()
	if err != nil {
		return nil, fmt.Errorf("ldap connect: %w", err)
	}
	defer conn.Close()

	if l.cfg.BindDN != "" {
		if err := conn.Bind(l.cfg.BindDN, l.cfg.BindPassword); err != nil {
			return nil, fmt.Errorf("ldap service bind: %w", err)
		}
	}

	filter := strings.ReplaceAll(l.cfg.UserFilter, "%s", ldap.EscapeFilter(username))
	attrs := []string{"dn"}
	for dirAttr := range l.cfg.AttributeMap {
		attrs = append(attrs, dirAttr)
	}

	sr, err := conn.Search(ldap.NewSearchRequest(
		l.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		1, 0, false,
		filter,
		attrs,
		nil,
	))
	if err != nil {
		return nil, fmt.Errorf("ldap search: %w", err)
	}
	if len(sr.Entries) != 1 {
		return nil, fmt.Errorf("user not found")
	}
	entry := sr.Entries[0]

	// Bind as the user to verify the password
	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	out := make(map[string]string, len(l.cfg.AttributeMap))
	for dirAttr, schemaAttr := range l.cfg.AttributeMap {
		if v := entry.GetAttributeValue(dirAttr); v != "" {
			out[schemaAttr] = v
		}
	}
	return out, nil
}

func (l *LDAPSource) connect() (*ldap.Conn, error) {
	conn, err := ldap.DialURL(l.cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if l.cfg.StartTLS {
		tlsCfg := &tls.Config{InsecureSkipVerify: l.cfg.TLSSkipVerify}
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return conn, nil
}
