// Package memoryaccess enforces per-agent-role memory isolation and
// per-session patient-context isolation for agents running inside the
// assistant pipeline.
package memoryaccess

import (
	"fmt"
	"sync"
	"time"
)

// Operation is a memory operation an agent may attempt.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
	OpSearch Operation = "search"
)

// MemoryType partitions agent memory.
type MemoryType string

const (
	MemoryEntity       MemoryType = "entity"
	MemoryConversation MemoryType = "conversation"
	MemorySummary      MemoryType = "summary"
	MemoryWorking      MemoryType = "working"
)

// AccessLevel orders memory capabilities. Write implies read and delete;
// read implies read and search only.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessWrite
)

func (l AccessLevel) allows(op Operation) bool {
	switch l {
	case AccessWrite:
		return true
	case AccessRead:
		return op == OpRead || op == OpSearch
	}
	return false
}

// Scope of a memory request relative to the requesting agent.
type Scope string

const (
	ScopeOwn    Scope = "own"
	ScopeShared Scope = "shared"
	ScopeOther  Scope = "other"
)

// RolePermissions is one agent role's memory capability set.
type RolePermissions struct {
	OwnAccess        AccessLevel
	SharedAccess     AccessLevel
	OtherAccess      AccessLevel
	AllowedOps       []Operation
	AllowedTypes     []MemoryType
	RequireIsolation bool
}

func (rp RolePermissions) opAllowed(op Operation) bool {
	for _, o := range rp.AllowedOps {
		if o == op {
			return true
		}
	}
	return false
}

func (rp RolePermissions) typeAllowed(mt MemoryType) bool {
	for _, t := range rp.AllowedTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// AccessRequest describes one memory operation.
type AccessRequest struct {
	AgentRole        string     `json:"agent_role"`
	Operation        Operation  `json:"operation"`
	MemoryType       MemoryType `json:"memory_type"`
	TargetAgentRole  string     `json:"target_agent_role,omitempty"`
	SharedPool       bool       `json:"shared_pool,omitempty"`
	SessionID        string     `json:"session_id"`
	PatientContextID string     `json:"patient_context_id,omitempty"`
}

// Scope resolves whose memory the request targets.
func (r AccessRequest) Scope() Scope {
	if r.SharedPool {
		return ScopeShared
	}
	if r.TargetAgentRole != "" && r.TargetAgentRole != r.AgentRole {
		return ScopeOther
	}
	return ScopeOwn
}

// Decision is the outcome of a memory access check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	Scope     Scope     `json:"scope"`
	CheckedAt time.Time `json:"checked_at"`
}

// Config controls the manager. EnforcePatientIsolation is global: it can
// never be disabled per request.
type Config struct {
	EnforcePatientIsolation bool
	SharedReadForAll        bool
}

// DefaultConfig enables isolation and read-only shared memory.
func DefaultConfig() Config {
	return Config{EnforcePatientIsolation: true, SharedReadForAll: true}
}

// AuditHook receives every decision, granted or denied. It is invoked
// outside the manager's lock.
type AuditHook func(req AccessRequest, dec Decision)

// Manager owns the contended state in the governance layer: the session
// to patient-context binding and the role permission table. All map
// access happens under mu; the critical sections do lookups and inserts
// only.
type Manager struct {
	cfg Config

	mu              sync.Mutex
	perms           map[string]RolePermissions
	sessionContexts map[string]string

	auditHook AuditHook
}

// NewManager seeds the default per-role grants: the transcription role
// writes into the shared pool, the quality-review role reads other roles'
// memory, and every other role sees its own memory plus (per config)
// read-only shared memory.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		cfg:             cfg,
		perms:           make(map[string]RolePermissions),
		sessionContexts: make(map[string]string),
	}

	m.perms["transcription"] = RolePermissions{
		OwnAccess:        AccessWrite,
		SharedAccess:     AccessWrite,
		OtherAccess:      AccessNone,
		AllowedOps:       []Operation{OpRead, OpWrite, OpSearch},
		AllowedTypes:     []MemoryType{MemoryEntity, MemoryConversation, MemoryWorking},
		RequireIsolation: true,
	}
	m.perms["quality_review"] = RolePermissions{
		OwnAccess:        AccessWrite,
		SharedAccess:     AccessRead,
		OtherAccess:      AccessRead,
		AllowedOps:       []Operation{OpRead, OpSearch},
		AllowedTypes:     []MemoryType{MemoryEntity, MemoryConversation, MemorySummary, MemoryWorking},
		RequireIsolation: true,
	}

	return m
}

// SetAuditHook installs the audit callback. Call before serving traffic.
func (m *Manager) SetAuditHook(hook AuditHook) {
	m.auditHook = hook
}

// AddRolePermissions registers grants for a role not covered by defaults.
// Existing grants are never narrowed at runtime; re-registering a known
// role is rejected.
func (m *Manager) AddRolePermissions(role string, rp RolePermissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.perms[role]; exists {
		return fmt.Errorf("role %q already has a permission table", role)
	}
	m.perms[role] = rp
	return nil
}

func (m *Manager) permissionsFor(role string) RolePermissions {
	m.mu.Lock()
	rp, ok := m.perms[role]
	m.mu.Unlock()
	if ok {
		return rp
	}
	shared := AccessNone
	if m.cfg.SharedReadForAll {
		shared = AccessRead
	}
	return RolePermissions{
		OwnAccess:        AccessWrite,
		SharedAccess:     shared,
		OtherAccess:      AccessNone,
		AllowedOps:       []Operation{OpRead, OpWrite, OpDelete, OpSearch},
		AllowedTypes:     []MemoryType{MemoryEntity, MemoryConversation, MemorySummary, MemoryWorking},
		RequireIsolation: true,
	}
}

// RegisterPatientContext binds a session to a patient context. The first
// binding wins; registering the same context again is a no-op. Note the
// first binding itself is trusted: authenticating it is the upstream
// session service's job, not re-checked here.
func (m *Manager) RegisterPatientContext(sessionID, patientContextID string) error {
	if sessionID == "" || patientContextID == "" {
		return fmt.Errorf("session id and patient context id are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessionContexts[sessionID]
	if !ok {
		m.sessionContexts[sessionID] = patientContextID
		return nil
	}
	if existing != patientContextID {
		return fmt.Errorf("session %s is already bound to a different patient context", sessionID)
	}
	return nil
}

// AuthorizedContext returns the patient context bound to a session, if any.
func (m *Manager) AuthorizedContext(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.sessionContexts[sessionID]
	return ctx, ok
}

// CheckAccess evaluates a memory request: operation, memory type, scope,
// access level, then patient isolation, in that order. Every decision is
// forwarded to the audit hook after the lock is released.
func (m *Manager) CheckAccess(req AccessRequest) Decision {
	dec := m.evaluate(req)
	if m.auditHook != nil {
		m.auditHook(req, dec)
	}
	return dec
}

func (m *Manager) evaluate(req AccessRequest) Decision {
	dec := Decision{Scope: req.Scope(), CheckedAt: time.Now()}
	rp := m.permissionsFor(req.AgentRole)

	if !rp.opAllowed(req.Operation) {
		dec.Reason = fmt.Sprintf("operation %s not allowed for role %s", req.Operation, req.AgentRole)
		return dec
	}
	if !rp.typeAllowed(req.MemoryType) {
		dec.Reason = fmt.Sprintf("memory type %s not allowed for role %s", req.MemoryType, req.AgentRole)
		return dec
	}

	var level AccessLevel
	switch dec.Scope {
	case ScopeOwn:
		level = rp.OwnAccess
	case ScopeShared:
		level = rp.SharedAccess
	case ScopeOther:
		level = rp.OtherAccess
	}
	if !level.allows(req.Operation) {
		dec.Reason = fmt.Sprintf("%s access on %s memory denied for role %s", req.Operation, dec.Scope, req.AgentRole)
		return dec
	}

	if m.cfg.EnforcePatientIsolation && rp.RequireIsolation && req.PatientContextID != "" {
		if ok, reason := m.checkIsolation(req.SessionID, req.PatientContextID); !ok {
			dec.Reason = reason
			return dec
		}
	}

	dec.Allowed = true
	dec.Reason = "granted"
	return dec
}

// checkIsolation registers the first patient context seen for a session
// and denies any later request for a different one.
func (m *Manager) checkIsolation(sessionID, patientContextID string) (bool, string) {
	if sessionID == "" {
		return false, "patient-scoped request without session id"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessionContexts[sessionID]
	if !ok {
		m.sessionContexts[sessionID] = patientContextID
		return true, ""
	}
	if existing != patientContextID {
		return false, fmt.Sprintf("session not authorized for patient context %s", patientContextID)
	}
	return true, ""
}
