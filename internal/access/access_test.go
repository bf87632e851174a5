package access

import (
	"errors"
	"testing"

	"github.com/praktijkzorg/medguard/internal/models"
)

func TestGetRolePermissions(t *testing.T) {
	rp, err := GetRolePermissions(models.RoleGP)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rp.Role != models.RoleGP || len(rp.Permissions) == 0 {
		t.Errorf("unexpected permission set: %+v", rp)
	}

	// Mutating the returned copy must not affect later lookups.
	rp.Permissions[0] = models.PermManageUsers
	fresh, _ := GetRolePermissions(models.RoleGP)
	if fresh.Permissions[0] == models.PermManageUsers {
		t.Error("returned permission slice aliases the role table")
	}

	if _, err := GetRolePermissions(models.Role("intruder")); !errors.Is(err, ErrUnknownRole) {
		t.Errorf("expected ErrUnknownRole, got %v", err)
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		name       string
		role       models.Role
		permission models.Permission
		expected   bool
	}{
		{"gp reads all records", models.RoleGP, models.PermReadAllRecords, true},
		{"gp uses cloud llm", models.RoleGP, models.PermUseCloudLLM, true},
		{"gp cannot manage users", models.RoleGP, models.PermManageUsers, false},
		{"patient reads own records", models.RolePatient, models.PermReadOwnRecords, true},
		{"patient cannot use cloud llm", models.RolePatient, models.PermUseCloudLLM, false},
		{"patient cannot read all records", models.RolePatient, models.PermReadAllRecords, false},
		{"admin manages users", models.RoleAdmin, models.PermManageUsers, true},
		{"admin holds no data access", models.RoleAdmin, models.PermReadAllRecords, false},
		{"auditor views audit logs", models.RoleAuditor, models.PermViewAuditLogs, true},
		{"auditor cannot modify config", models.RoleAuditor, models.PermManageConfig, false},
		{"auditor holds no data access", models.RoleAuditor, models.PermReadOwnRecords, false},
		{"unknown role holds nothing", models.Role("intruder"), models.PermUseLocalLLM, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasPermission(tt.role, tt.permission); got != tt.expected {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.permission, got, tt.expected)
			}
		})
	}
}

func TestNewDataScope(t *testing.T) {
	gp := NewDataScope("user-1", models.RoleGP)
	if gp.PatientFilter != "" {
		t.Errorf("gp scope has patient filter %q", gp.PatientFilter)
	}

	patient := NewDataScope("patient-7", models.RolePatient)
	if patient.PatientFilter != "patient-7" {
		t.Errorf("patient filter = %q, want patient-7", patient.PatientFilter)
	}
}

func TestApplyToQuery(t *testing.T) {
	params := map[string]string{"type": "consult"}

	patient := NewDataScope("patient-7", models.RolePatient)
	scoped, err := patient.ApplyToQuery(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scoped["patient_id"] != "patient-7" {
		t.Errorf("patient_id = %q, want patient-7", scoped["patient_id"])
	}
	if scoped["type"] != "consult" {
		t.Error("existing parameters must be preserved")
	}
	if _, ok := params["patient_id"]; ok {
		t.Error("input parameter map was mutated")
	}

	gp := NewDataScope("user-1", models.RoleGP)
	scoped, err = gp.ApplyToQuery(params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := scoped["patient_id"]; ok {
		t.Error("gp queries must not be narrowed to one patient")
	}

	for _, role := range []models.Role{models.RoleAdmin, models.RoleAuditor} {
		scope := NewDataScope("user-2", role)
		if _, err := scope.ApplyToQuery(params); !errors.Is(err, ErrPermissionDenied) {
			t.Errorf("role %s: expected ErrPermissionDenied, got %v", role, err)
		}
	}
}

func TestCanAccessPatient(t *testing.T) {
	tests := []struct {
		name      string
		scope     DataScope
		patientID string
		expected  bool
	}{
		{"gp any patient", NewDataScope("u1", models.RoleGP), "patient-9", true},
		{"patient own record", NewDataScope("patient-7", models.RolePatient), "patient-7", true},
		{"patient other record", NewDataScope("patient-7", models.RolePatient), "patient-9", false},
		{"patient empty id", NewDataScope("patient-7", models.RolePatient), "", false},
		{"admin no patient data", NewDataScope("u1", models.RoleAdmin), "patient-7", false},
		{"auditor no patient data", NewDataScope("u1", models.RoleAuditor), "patient-7", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.CanAccessPatient(tt.patientID); got != tt.expected {
				t.Errorf("CanAccessPatient(%q) = %v, want %v", tt.patientID, got, tt.expected)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	granted := Check(NewDataScope("u1", models.RoleGP), models.PermUseCloudLLM)
	if !granted.Granted || granted.Reason != "granted" {
		t.Errorf("expected grant, got %+v", granted)
	}

	denied := Check(NewDataScope("p1", models.RolePatient), models.PermUseCloudLLM)
	if denied.Granted {
		t.Error("patient must not be granted cloud llm use")
	}
	if denied.Reason == "" {
		t.Error("denial must carry a reason")
	}

	invalid := Check(DataScope{UserID: "x", Role: models.Role("intruder")}, models.PermUseLocalLLM)
	if invalid.Granted || invalid.Reason != "unknown role" {
		t.Errorf("expected unknown-role denial, got %+v", invalid)
	}
}
