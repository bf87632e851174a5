// Package access implements the stateless role matrix: which permissions a
// role holds and which patient records a request may touch. The four role
// tables are package-private constants in all but name; the public surface
// hands out copies only, so a "grant" can never mutate a table in place.
package access

import (
	"errors"
	"fmt"

	"github.com/praktijkzorg/medguard/internal/models"
)

var (
	ErrUnknownRole      = errors.New("unknown role")
	ErrPermissionDenied = errors.New("permission denied")
)

// RolePermissions is a role's frozen permission set.
type RolePermissions struct {
	Role        models.Role         `json:"role"`
	Permissions []models.Permission `json:"permissions"`
}

// Has reports whether the set contains the permission.
func (rp RolePermissions) Has(p models.Permission) bool {
	for _, got := range rp.Permissions {
		if got == p {
			return true
		}
	}
	return false
}

// roleTables is the constitution. Admin and Auditor hold zero data-access
// permissions; Auditor holds zero system-modification permissions. Any
// change to a role's capabilities is a new table in a new release, never a
// runtime edit.
var roleTables = map[models.Role][]models.Permission{
	models.RoleGP: {
		models.PermReadAllRecords,
		models.PermWriteRecords,
		models.PermUseLocalLLM,
		models.PermUseCloudLLM,
	},
	models.RolePatient: {
		models.PermReadOwnRecords,
		models.PermUseLocalLLM,
	},
	models.RoleAdmin: {
		models.PermManageUsers,
		models.PermManageConfig,
	},
	models.RoleAuditor: {
		models.PermViewAuditLogs,
		models.PermExportAuditLogs,
	},
}

// GetRolePermissions returns a copy of the role's permission set.
func GetRolePermissions(role models.Role) (RolePermissions, error) {
	perms, ok := roleTables[role]
	if !ok {
		return RolePermissions{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	out := make([]models.Permission, len(perms))
	copy(out, perms)
	return RolePermissions{Role: role, Permissions: out}, nil
}

// HasPermission reports whether the role holds the permission. Unknown
// roles hold nothing.
func HasPermission(role models.Role, p models.Permission) bool {
	rp, err := GetRolePermissions(role)
	if err != nil {
		return false
	}
	return rp.Has(p)
}

// DataScope is the per-request access boundary: who is asking, as what
// role, and which patient's data they may see.
type DataScope struct {
	UserID        string      `json:"user_id"`
	Role          models.Role `json:"role"`
	PatientFilter string      `json:"patient_filter,omitempty"`
}

// NewDataScope builds the scope for a request. A patient is always scoped
// to their own record.
func NewDataScope(userID string, role models.Role) DataScope {
	scope := DataScope{UserID: userID, Role: role}
	if role == models.RolePatient {
		scope.PatientFilter = userID
	}
	return scope
}

// ApplyToQuery narrows query parameters to the scope. Roles without any
// data-access permission cannot query patient data at all.
func (s DataScope) ApplyToQuery(params map[string]string) (map[string]string, error) {
	rp, err := GetRolePermissions(s.Role)
	if err != nil {
		return nil, err
	}

	hasData := false
	for _, p := range rp.Permissions {
		if p.IsDataAccess() {
			hasData = true
			break
		}
	}
	if !hasData {
		return nil, fmt.Errorf("%w: role %s has no data access", ErrPermissionDenied, s.Role)
	}

	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if s.PatientFilter != "" {
		out["patient_id"] = s.PatientFilter
	}
	return out, nil
}

// CanAccessPatient reports whether the scope may read the given patient's
// data. GPs see their whole practice; patients see only themselves;
// Admin and Auditor see no patient data.
func (s DataScope) CanAccessPatient(patientID string) bool {
	switch s.Role {
	case models.RoleGP:
		return true
	case models.RolePatient:
		return patientID != "" && patientID == s.PatientFilter
	default:
		return false
	}
}

// Decision is the outcome of a permission check, suitable for audit
// forwarding.
type Decision struct {
	Granted    bool              `json:"granted"`
	Reason     string            `json:"reason"`
	Scope      DataScope         `json:"scope"`
	Permission models.Permission `json:"permission"`
}

// Check evaluates a single permission for a scope and returns a decision
// value rather than an error; denial is an expected outcome, not a fault.
func Check(scope DataScope, p models.Permission) Decision {
	d := Decision{Scope: scope, Permission: p}
	if !scope.Role.Valid() {
		d.Reason = "unknown role"
		return d
	}
	if !HasPermission(scope.Role, p) {
		d.Reason = fmt.Sprintf("role %s does not hold %s", scope.Role, p)
		return d
	}
	d.Granted = true
	d.Reason = "granted"
	return d
}
