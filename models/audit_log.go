package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditStatus is the outcome recorded on an audit entry
type AuditStatus string

const (
	AuditStatusSuccess   AuditStatus = "success"
	AuditStatusViolation AuditStatus = "violation"
	AuditStatusError     AuditStatus = "error"
)

// Audit actions emitted by the enforcement pipeline
const (
	ActionPIIRedaction     = "PII_REDACTION"
	ActionContentRedaction = "CONTENT_REDACTION"
	ActionPolicyViolation  = "POLICY_VIOLATION"
	ActionModelInference   = "MODEL_INFERENCE"
	ActionModelError       = "MODEL_ERROR"
)

// AuditLogEntry is an immutable, hash-stamped record of one policy or
// inference event. Sequence is 1-based and gapless per tenant.
type AuditLogEntry struct {
	ID        uuid.UUID   `json:"id" db:"id"`
	TenantID  uuid.UUID   `json:"tenantId" db:"tenant_id"`
	Sequence  int64       `json:"sequence" db:"sequence"`
	Timestamp time.Time   `json:"timestamp" db:"timestamp"`
	Action    string      `json:"action" db:"action"`
	User      string      `json:"user" db:"user_name"`
	Details   string      `json:"details" db:"details"`
	Status    AuditStatus `json:"status" db:"status"`
	Hash      string      `json:"hash" db:"hash"`
	PrevHash  string      `json:"prevHash,omitempty" db:"prev_hash"`
	RuleID    string      `json:"ruleId,omitempty" db:"rule_id"`
	RequestID string      `json:"requestId,omitempty" db:"request_id"`
}

// TableName returns the table name for the AuditLogEntry model
func (AuditLogEntry) TableName() string {
	return "audit_log"
}

// AuditFilter narrows an audit listing
type AuditFilter struct {
	Action string
	Status AuditStatus
	Limit  int
	Offset int
}
