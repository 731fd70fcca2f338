package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenantgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
auth:
  token_secret: test-secret
broker:
  resource_id: tenant-data
  roles:
    authenticated: [tenant-access]
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Defaults applied around the provided values
	if cfg.Server.Port != 9700 {
		t.Errorf("Port = %d, want default 9700", cfg.Server.Port)
	}
	if cfg.Broker.TagKey != "client" {
		t.Errorf("TagKey = %q, want default client", cfg.Broker.TagKey)
	}
	if cfg.Broker.MaxDurationSecs != 43200 {
		t.Errorf("MaxDurationSecs = %d", cfg.Broker.MaxDurationSecs)
	}
	if cfg.Broker.ResourceID != "tenant-data" {
		t.Errorf("ResourceID = %q", cfg.Broker.ResourceID)
	}
	if cfg.ListenAddr() != "0.0.0.0:9700" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  address: 127.0.0.1
  port: 8080
auth:
  token_secret: test-secret
broker:
  resource_id: tenant-data
  tag_key: tenant
  allow_unauthenticated: true
  roles:
    authenticated: [tenant-access]
    unauthenticated: [guest-access]
    ambiguous_resolution: lexical
cache:
  redis:
    enabled: true
    addr: localhost:6379
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr() != "127.0.0.1:8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr())
	}
	if cfg.Broker.TagKey != "tenant" {
		t.Errorf("TagKey = %q", cfg.Broker.TagKey)
	}
	if !cfg.Broker.AllowUnauthenticated {
		t.Error("AllowUnauthenticated not set")
	}
	if cfg.Broker.Roles.AmbiguousResolution != "lexical" {
		t.Errorf("AmbiguousResolution = %q", cfg.Broker.Roles.AmbiguousResolution)
	}
	if !cfg.Cache.Redis.Enabled || cfg.Cache.Redis.Addr != "localhost:6379" {
		t.Errorf("redis cache config = %+v", cfg.Cache.Redis)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, content string
	}{
		{"missing token secret", `
broker:
  resource_id: tenant-data
  roles:
    authenticated: [tenant-access]
`},
		{"missing resource id", `
auth:
  token_secret: s
broker:
  roles:
    authenticated: [tenant-access]
`},
		{"no authenticated role", `
auth:
  token_secret: s
broker:
  resource_id: tenant-data
`},
		{"max below default", `
auth:
  token_secret: s
broker:
  resource_id: tenant-data
  default_duration_secs: 7200
  max_duration_secs: 3600
  roles:
    authenticated: [tenant-access]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
