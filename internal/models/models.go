package models

// PIICategory identifies a class of patient-identifying data.
type PIICategory string

const (
	CategoryPatientName  PIICategory = "PATIENT_NAME"
	CategoryBSN          PIICategory = "BSN"
	CategoryBirthDate    PIICategory = "BIRTH_DATE"
	CategoryAddress      PIICategory = "ADDRESS"
	CategoryPhone        PIICategory = "PHONE"
	CategoryEmail        PIICategory = "EMAIL"
	CategoryRecordNumber PIICategory = "RECORD_NUMBER"
	CategoryAge          PIICategory = "AGE"
	CategoryPostalCode   PIICategory = "POSTAL_CODE"
	CategoryDate         PIICategory = "DATE"
)

// CloudSafety classifies whether a PII category may ever leave the local
// boundary.
type CloudSafety string

const (
	// CloudSafetyNever marks direct identifiers: the raw value may never
	// be transmitted to a cloud provider under any transformation short
	// of removal.
	CloudSafetyNever CloudSafety = "NEVER"
	// CloudSafetyAfterTransform marks quasi-identifiers: safe once a
	// generalizing transform has been applied.
	CloudSafetyAfterTransform CloudSafety = "AFTER_TRANSFORM"
	CloudSafetySafe           CloudSafety = "SAFE"
)

// IsDirectIdentifier reports whether the category alone identifies a
// specific person.
func (c PIICategory) IsDirectIdentifier() bool {
	switch c {
	case CategoryPatientName, CategoryBSN, CategoryBirthDate, CategoryAddress,
		CategoryPhone, CategoryEmail, CategoryRecordNumber:
		return true
	}
	return false
}

// Safety returns the cloud-safety level for the category.
func (c PIICategory) Safety() CloudSafety {
	if c.IsDirectIdentifier() {
		return CloudSafetyNever
	}
	switch c {
	case CategoryAge, CategoryPostalCode, CategoryDate:
		return CloudSafetyAfterTransform
	}
	return CloudSafetySafe
}

// Label returns the Dutch label used in replacement tokens and
// auditor-facing output.
func (c PIICategory) Label() string {
	switch c {
	case CategoryPatientName:
		return "NAAM"
	case CategoryBSN:
		return "BSN"
	case CategoryBirthDate:
		return "GEBOORTEDATUM"
	case CategoryAddress:
		return "ADRES"
	case CategoryPhone:
		return "TELEFOON"
	case CategoryEmail:
		return "EMAIL"
	case CategoryRecordNumber:
		return "DOSSIERNUMMER"
	case CategoryAge:
		return "LEEFTIJD"
	case CategoryPostalCode:
		return "POSTCODE"
	case CategoryDate:
		return "DATUM"
	}
	return string(c)
}

// AllCategories lists every registered category. Order matters: direct
// identifiers come first so anonymization processes them before
// quasi-identifiers.
func AllCategories() []PIICategory {
	return []PIICategory{
		CategoryPatientName,
		CategoryBSN,
		CategoryBirthDate,
		CategoryAddress,
		CategoryPhone,
		CategoryEmail,
		CategoryRecordNumber,
		CategoryAge,
		CategoryPostalCode,
		CategoryDate,
	}
}

// TransformAction records how a detected span was handled during
// anonymization.
type TransformAction string

const (
	ActionRemoved     TransformAction = "removed"
	ActionReplaced    TransformAction = "replaced"
	ActionGeneralized TransformAction = "generalized"
)

// Role is a system actor class.
type Role string

const (
	RoleGP      Role = "gp"
	RolePatient Role = "patient"
	RoleAdmin   Role = "admin"
	RoleAuditor Role = "auditor"
)

// Valid reports whether the role is one of the four registered roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGP, RolePatient, RoleAdmin, RoleAuditor:
		return true
	}
	return false
}

// Permission is an atomic capability granted to a role.
type Permission string

const (
	// Data access
	PermReadOwnRecords Permission = "read_own_records"
	PermReadAllRecords Permission = "read_all_records"
	PermWriteRecords   Permission = "write_records"

	// LLM usage
	PermUseLocalLLM Permission = "use_local_llm"
	PermUseCloudLLM Permission = "use_cloud_llm"

	// System administration
	PermManageUsers  Permission = "manage_users"
	PermManageConfig Permission = "manage_config"

	// Audit
	PermViewAuditLogs   Permission = "view_audit_logs"
	PermExportAuditLogs Permission = "export_audit_logs"
)

// IsDataAccess reports whether the permission grants access to patient
// record content.
func (p Permission) IsDataAccess() bool {
	switch p {
	case PermReadOwnRecords, PermReadAllRecords, PermWriteRecords:
		return true
	}
	return false
}

// IsSystemModification reports whether the permission allows changing
// system state.
func (p Permission) IsSystemModification() bool {
	switch p {
	case PermManageUsers, PermManageConfig, PermWriteRecords:
		return true
	}
	return false
}

// CheckStatus is the outcome of one guardrail sub-check.
type CheckStatus string

const (
	StatusPassed  CheckStatus = "passed"
	StatusBlocked CheckStatus = "blocked"
	StatusWarning CheckStatus = "warning"
	StatusError   CheckStatus = "error"
	StatusSkipped CheckStatus = "skipped"
)

// GuardrailType names a guardrail check. It is shared between the
// validators and the audit trail so event records and check results cannot
// drift apart.
type GuardrailType string

const (
	GuardrailBypass        GuardrailType = "bypass"
	GuardrailJailbreak     GuardrailType = "jailbreak_pattern"
	GuardrailTopic         GuardrailType = "topic_filter"
	GuardrailInputPII      GuardrailType = "input_pii_scan"
	GuardrailBlockedTerms  GuardrailType = "blocked_terms"
	GuardrailPromptLeak    GuardrailType = "prompt_leakage"
	GuardrailMedicalAdvice GuardrailType = "medical_advice"
	GuardrailOutputPII     GuardrailType = "output_pii_scan"
	GuardrailSecondary     GuardrailType = "secondary_rails"
)
