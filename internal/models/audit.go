package models

import "time"

// AuditEntry records who performed a privileged action on what.
type AuditEntry struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	TargetType string    `json:"targetType"`
	TargetID   string    `json:"targetId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Audit actions written by the services.
const (
	ActionCreateAccount = "Create Account"
	ActionUpdateStatus  = "Update Account Status"
	ActionDeleteAccount = "Delete Account"
	ActionCredit        = "Credit Account"
	ActionDebit         = "Debit Account"

	TargetAccount = "Account"
)
