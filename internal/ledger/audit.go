package ledger

import "time"

// Audit entry kinds.
const (
	AuditCommand        = "command"
	AuditAccountCreated = "account_created"
)

// AuditEntry is one record on the audit trail. Every command execution
// produces exactly one AuditCommand entry, success or failure; implicit
// account creation adds one AuditAccountCreated entry per new account.
type AuditEntry struct {
	Time      string `json:"time"`
	Kind      string `json:"kind"`
	Command   string `json:"command,omitempty"`
	Actor     string `json:"actor,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
	Target    string `json:"target,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// AuditSink receives audit entries. Writes are fire-and-forget from the
// processor's point of view; a failing sink never blocks a command.
type AuditSink interface {
	WriteAudit(AuditEntry) error
}

func auditNow() string { return time.Now().UTC().Format(time.RFC3339Nano) }
