package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/praktijkzorg/medguard/internal/auth"
	"github.com/praktijkzorg/medguard/internal/config"
	"github.com/praktijkzorg/medguard/internal/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	cfg.Audit.Dir = t.TempDir()

	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("building server: %v", err)
	}
	t.Cleanup(func() { _ = s.jsonl.Close() })
	return s
}

// tokenForRole seeds a user with the given role and logs it in.
func tokenForRole(t *testing.T, s *Server, role models.Role) string {
	t.Helper()
	ctx := context.Background()

	hash, err := auth.HashPassword("wachtwoord123")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}

	email := string(role) + "@praktijk.nl"
	user := &auth.User{
		Email:    email,
		Name:     "Test " + string(role),
		Password: hash,
		Role:     role,
	}
	if role == models.RolePatient {
		user.PatientID = "patient-1"
	}
	if err := s.userStore.CreateUser(ctx, user); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	pair, err := s.authService.Login(ctx, email, "wachtwoord123")
	if err != nil {
		t.Fatalf("logging in: %v", err)
	}
	return pair.AccessToken
}

func TestAuditRoutes_AuditorOnly(t *testing.T) {
	s := newTestServer(t)

	tokens := map[models.Role]string{
		models.RoleAuditor: tokenForRole(t, s, models.RoleAuditor),
		models.RoleAdmin:   tokenForRole(t, s, models.RoleAdmin),
		models.RoleGP:      tokenForRole(t, s, models.RoleGP),
	}

	paths := []string{
		"/api/v1/audit/cloud-queries",
		"/api/v1/audit/guardrail-events",
		"/api/v1/audit/isolation-checks",
		"/api/v1/reports/effectiveness",
	}

	tests := []struct {
		name string
		role models.Role
		want int
	}{
		{"auditor reads audit data", models.RoleAuditor, http.StatusOK},
		{"admin has no audit permission", models.RoleAdmin, http.StatusForbidden},
		{"gp has no audit permission", models.RoleGP, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, path := range paths {
				req := httptest.NewRequest("GET", path, nil)
				req.Header.Set("Authorization", "Bearer "+tokens[tt.role])
				rec := httptest.NewRecorder()
				s.router.ServeHTTP(rec, req)

				if rec.Code != tt.want {
					t.Errorf("GET %s as %s = %d, want %d", path, tt.role, rec.Code, tt.want)
				}
			}
		})
	}
}

func TestAuditRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/audit/cloud-queries", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated audit read = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
