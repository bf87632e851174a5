package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file must yield defaults, got %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %v, want 30s", cfg.Server.ReadTimeout)
	}
	if !cfg.Guardrails.Enabled || !cfg.Guardrails.CheckJailbreak {
		t.Error("guardrails must default to fully enabled")
	}
	if !cfg.Memory.EnforcePatientIsolation {
		t.Error("patient isolation must default on")
	}
	if !cfg.Audit.Enabled || cfg.Audit.Dir != "audit-logs" {
		t.Errorf("audit defaults = %+v", cfg.Audit)
	}
	if cfg.Scheduler.RetentionDays != 90 {
		t.Errorf("retention = %d days, want 90", cfg.Scheduler.RetentionDays)
	}
	if cfg.Auth.AccessTokenExpiry != 15*time.Minute {
		t.Errorf("access token expiry = %v, want 15m", cfg.Auth.AccessTokenExpiry)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  enabled: true
  user: medguard
  password: secret
  database: medguard
guardrails:
  enabled: true
  check_jailbreak: true
  blocked_terms:
    - verboden
audit:
  dir: /var/log/medguard
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("unset host not defaulted: %q", cfg.Server.Host)
	}
	if !cfg.Database.Enabled {
		t.Error("database.enabled not read")
	}
	if cfg.Audit.Dir != "/var/log/medguard" {
		t.Errorf("audit dir = %q", cfg.Audit.Dir)
	}
	if len(cfg.Guardrails.BlockedTerms) != 1 {
		t.Errorf("blocked terms = %v", cfg.Guardrails.BlockedTerms)
	}
	// An explicitly configured guardrails section is left alone: topic
	// checking stays off because the file did not enable it.
	if cfg.Guardrails.CheckTopic {
		t.Error("explicit guardrails config must not be overwritten by defaults")
	}
}

func TestLoad_ExplicitDisable(t *testing.T) {
	path := writeConfig(t, `
guardrails:
  enabled: false
memory:
  enforce_patient_isolation: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.Guardrails.Enabled {
		t.Error("explicit guardrails.enabled=false was overwritten by defaults")
	}
	if cfg.Guardrails.CheckJailbreak {
		t.Error("defaults applied over an explicitly disabled guardrails section")
	}
	if cfg.Memory.EnforcePatientIsolation {
		t.Error("explicit enforce_patient_isolation=false was overwritten by defaults")
	}
	// The key that was not set still gets its default.
	if !cfg.Memory.SharedReadForAll {
		t.Error("absent shared_read_for_all must default on")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("MEDGUARD_TEST_SECRET", "from-env")

	path := writeConfig(t, `
auth:
  jwt_secret: ${MEDGUARD_TEST_SECRET}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt secret = %q, want the env value", cfg.Auth.JWTSecret)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"archive without bucket",
			"archive:\n  enabled: true\n",
		},
		{
			"database without user",
			"database:\n  enabled: true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [not a mapping")); err == nil {
		t.Error("malformed yaml must fail loading")
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "db", Port: 5432, User: "medguard", Password: "pw",
		Database: "medguard", SSLMode: "disable",
	}
	want := "host=db port=5432 user=medguard password=pw dbname=medguard sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestRedisAddr(t *testing.T) {
	c := RedisConfig{Host: "cache", Port: 6379}
	if got := c.Addr(); got != "cache:6379" {
		t.Errorf("Addr() = %q, want cache:6379", got)
	}
}
