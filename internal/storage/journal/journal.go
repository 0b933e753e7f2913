// Package journal is the durable write-ahead log for multi-leg
// execution, backed by Postgres via pgx. Writes must be durable before
// the journal call returns, so every method goes straight through the
// pool with no buffering.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"ironcondor/internal/domain"
)

// Store provides database operations for execution journal entries.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save writes a leg entry before it is routed (write-ahead).
func (s *Store) Save(ctx context.Context, entry domain.ExecutionJournalEntry) error {
	query := `
		INSERT INTO execution_journal (
			strategy_id, execution_group_id, operation, leg_index, total_legs,
			instrument_token, side, quantity, status, created_at, updated_at, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.pool.Exec(ctx, query,
		entry.StrategyID,
		entry.ExecutionGroupID,
		string(entry.Operation),
		entry.LegIndex,
		entry.TotalLegs,
		entry.InstrumentToken,
		string(entry.Side),
		entry.Quantity,
		string(entry.Status),
		entry.CreatedAt,
		entry.UpdatedAt,
		entry.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("journal: save entry: %w", err)
	}
	return nil
}

// UpdateStatus advances one leg's status within its execution group.
func (s *Store) UpdateStatus(ctx context.Context, groupID string, legIndex int, status domain.JournalStatus, failureReason string) error {
	query := `
		UPDATE execution_journal
		SET status = $3, failure_reason = $4, updated_at = NOW()
		WHERE execution_group_id = $1 AND leg_index = $2
	`
	tag, err := s.pool.Exec(ctx, query, groupID, legIndex, string(status), failureReason)
	if err != nil {
		return fmt.Errorf("journal: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("journal: no entry for group %s leg %d", groupID, legIndex)
	}
	return nil
}

// FindByStatus returns every entry currently in the given status, used
// at startup to find legs left mid-flight by a crash.
func (s *Store) FindByStatus(ctx context.Context, status domain.JournalStatus) ([]domain.ExecutionJournalEntry, error) {
	query := `
		SELECT strategy_id, execution_group_id, operation, leg_index, total_legs,
		       instrument_token, side, quantity, status, created_at, updated_at, failure_reason
		FROM execution_journal
		WHERE status = $1
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("journal: find by status: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// FindByGroupID returns every leg of one execution group, ordered by
// leg index.
func (s *Store) FindByGroupID(ctx context.Context, groupID string) ([]domain.ExecutionJournalEntry, error) {
	query := `
		SELECT strategy_id, execution_group_id, operation, leg_index, total_legs,
		       instrument_token, side, quantity, status, created_at, updated_at, failure_reason
		FROM execution_journal
		WHERE execution_group_id = $1
		ORDER BY leg_index ASC
	`
	rows, err := s.pool.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("journal: find by group id: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntries(rows interface {
	Next() bool
	scanner
	Err() error
}) ([]domain.ExecutionJournalEntry, error) {
	var entries []domain.ExecutionJournalEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("journal: scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: rows: %w", err)
	}
	return entries, nil
}

func scanEntry(row scanner) (domain.ExecutionJournalEntry, error) {
	var entry domain.ExecutionJournalEntry
	var operation, side, status string
	var failureReason sql.NullString

	err := row.Scan(
		&entry.StrategyID,
		&entry.ExecutionGroupID,
		&operation,
		&entry.LegIndex,
		&entry.TotalLegs,
		&entry.InstrumentToken,
		&side,
		&entry.Quantity,
		&status,
		&entry.CreatedAt,
		&entry.UpdatedAt,
		&failureReason,
	)
	if err != nil {
		return domain.ExecutionJournalEntry{}, err
	}

	entry.Operation = domain.ExecutionOperation(operation)
	entry.Side = domain.Side(side)
	entry.Status = domain.JournalStatus(status)
	if failureReason.Valid {
		entry.FailureReason = failureReason.String
	}
	return entry, nil
}
