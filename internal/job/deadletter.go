package job

import "time"

// DeadLetterRecord is the terminal failure snapshot persisted by the
// dead-letter handler. Immutable once written; retention is an external
// concern, records are never deleted automatically.
type DeadLetterRecord struct {
	JobID         string    `db:"job_id"`
	JobType       string    `db:"job_type"`
	Payload       []byte    `db:"payload"`
	FinalError    string    `db:"final_error"`
	RetryCount    int       `db:"retry_count"`
	CreatedAt     time.Time `db:"created_at"`
	FailedAt      time.Time `db:"failed_at"`
	OwnerTenantID string    `db:"owner_tenant_id"`
	OwnerUserID   string    `db:"owner_user_id"`
}
