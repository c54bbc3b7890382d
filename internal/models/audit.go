package models

import "time"

// Audit actions recorded against a group.
const (
	AuditGroupCreated      = "group_created"
	AuditGroupReopened     = "group_reopened"
	AuditParticipantJoined = "participant_joined"
	AuditParticipantExited = "participant_exited"
	AuditRoleChanged       = "role_changed"
	AuditExpenseAdded      = "expense_added"
	AuditExpenseUpdated    = "expense_updated"
	AuditExpenseDeleted    = "expense_deleted"
	AuditPeriodSettled     = "period_settled"
	AuditGroupClosed       = "group_closed"
	AuditTransferPaid      = "transfer_paid"
	AuditTransferUnpaid    = "transfer_unpaid"
)

// AuditEntry is an append-only record of something that happened to a group.
// ActorID is the participant who caused it, or empty for scheduler actions.
type AuditEntry struct {
	ID        int64
	GroupID   string
	ActorID   string
	Action    string
	Detail    string
	CreatedAt time.Time
}
