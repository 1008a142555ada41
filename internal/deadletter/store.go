// Package deadletter persists and serves terminal job failures. Records
// are append-only; inspection happens through the read-only API and
// replay (if ever needed) is an operator action outside this core.
package deadletter

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/htquang/jobcore/internal/job"
)

// Store provides access to the dead_letter_records table.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a dead-letter store backed by the given database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Insert appends one terminal failure record.
func (s *Store) Insert(ctx context.Context, record *job.DeadLetterRecord) error {
	query := `
		INSERT INTO dead_letter_records (
			job_id, job_type, payload, final_error, retry_count,
			created_at, failed_at, owner_tenant_id, owner_user_id
		) VALUES (
			:job_id, :job_type, :payload, :final_error, :retry_count,
			:created_at, :failed_at, :owner_tenant_id, :owner_user_id
		)`

	if _, err := s.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to insert dead letter record for job %s: %w", record.JobID, err)
	}
	return nil
}

// Recent returns the most recently failed records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]job.DeadLetterRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT job_id, job_type, payload, final_error, retry_count,
		       created_at, failed_at, owner_tenant_id, owner_user_id
		FROM dead_letter_records
		ORDER BY failed_at DESC
		LIMIT $1`

	records := []job.DeadLetterRecord{}
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list dead letter records: %w", err)
	}
	return records, nil
}

// CountsByType returns the number of dead-lettered jobs per job type.
func (s *Store) CountsByType(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT job_type, COUNT(*) AS total
		FROM dead_letter_records
		GROUP BY job_type`

	rows := []struct {
		JobType string `db:"job_type"`
		Total   int    `db:"total"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to count dead letter records: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.JobType] = row.Total
	}
	return counts, nil
}
