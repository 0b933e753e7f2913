// Package audit is the relational audit trail: DecisionEvents, risk
// limit history, morph plans/history, order fill records, and daily
// P&L snapshots. Backed by Postgres via pgx, same pool/query idiom as
// internal/storage/journal.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
)

// Store provides database operations for the audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a Store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveDecisionEvent persists one audit-only decision record.
func (s *Store) SaveDecisionEvent(ctx context.Context, evt eventbus.DecisionEvent) error {
	ctxJSON, err := json.Marshal(evt.Context)
	if err != nil {
		return fmt.Errorf("audit: marshal decision context: %w", err)
	}
	query := `
		INSERT INTO decision_events (category, strategy_id, context, recorded_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, evt.Category, evt.StrategyID, ctxJSON, evt.At); err != nil {
		return fmt.Errorf("audit: save decision event: %w", err)
	}
	return nil
}

// BulkSaveDecisionEvents saves a batch of decision events in one
// round trip, for the write-behind flusher.
func (s *Store) BulkSaveDecisionEvents(ctx context.Context, events []eventbus.DecisionEvent) error {
	batch := make([][]any, 0, len(events))
	for _, evt := range events {
		ctxJSON, err := json.Marshal(evt.Context)
		if err != nil {
			return fmt.Errorf("audit: marshal decision context: %w", err)
		}
		batch = append(batch, []any{evt.Category, evt.StrategyID, ctxJSON, evt.At})
	}
	return s.bulkInsert(ctx, "decision_events", []string{"category", "strategy_id", "context", "recorded_at"}, batch)
}

// DecisionEventQueueStore adapts Store to
// internal/writebehind.Store[eventbus.DecisionEvent] (a distinct type is
// needed since Go methods can't be overloaded by parameter type on the
// same receiver).
type DecisionEventQueueStore struct{ *Store }

func (s DecisionEventQueueStore) Save(ctx context.Context, evt eventbus.DecisionEvent) error {
	return s.SaveDecisionEvent(ctx, evt)
}

func (s DecisionEventQueueStore) BulkSave(ctx context.Context, events []eventbus.DecisionEvent) error {
	return s.BulkSaveDecisionEvents(ctx, events)
}

// SaveOrderFill persists one incremental fill record.
func (s *Store) SaveOrderFill(ctx context.Context, fill domain.OrderFill) error {
	query := `
		INSERT INTO order_fills (order_id, instrument_token, quantity, price, filled_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.pool.Exec(ctx, query, fill.OrderID, fill.InstrumentToken, fill.Quantity, fill.Price, fill.FilledAt); err != nil {
		return fmt.Errorf("audit: save order fill: %w", err)
	}
	return nil
}

// BulkSaveOrderFills saves a batch of fills in one round trip.
func (s *Store) BulkSaveOrderFills(ctx context.Context, fills []domain.OrderFill) error {
	batch := make([][]any, 0, len(fills))
	for _, fill := range fills {
		batch = append(batch, []any{fill.OrderID, fill.InstrumentToken, fill.Quantity, fill.Price, fill.FilledAt})
	}
	return s.bulkInsert(ctx, "order_fills", []string{"order_id", "instrument_token", "quantity", "price", "filled_at"}, batch)
}

// OrderFillQueueStore adapts Store to
// internal/writebehind.Store[domain.OrderFill].
type OrderFillQueueStore struct{ *Store }

func (s OrderFillQueueStore) Save(ctx context.Context, fill domain.OrderFill) error {
	return s.SaveOrderFill(ctx, fill)
}

func (s OrderFillQueueStore) BulkSave(ctx context.Context, fills []domain.OrderFill) error {
	return s.BulkSaveOrderFills(ctx, fills)
}

// SaveRiskLimitSnapshot records one version of the active risk limits.
func (s *Store) SaveRiskLimitSnapshot(ctx context.Context, snap domain.RiskLimitSnapshot) error {
	limitsJSON, err := json.Marshal(snap.Limits)
	if err != nil {
		return fmt.Errorf("audit: marshal risk limits: %w", err)
	}
	query := `
		INSERT INTO risk_limit_history (limits, changed_by, recorded_at)
		VALUES ($1, $2, $3)
	`
	if _, err := s.pool.Exec(ctx, query, limitsJSON, snap.ChangedBy, snap.RecordedAt); err != nil {
		return fmt.Errorf("audit: save risk limit snapshot: %w", err)
	}
	return nil
}

// SaveDailyPnlSnapshot records one day's realized/unrealized P&L.
func (s *Store) SaveDailyPnlSnapshot(ctx context.Context, snap domain.DailyPnlSnapshot) error {
	query := `
		INSERT INTO daily_pnl_snapshots (trade_date, realized_pnl, unrealized_pnl, recorded_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, snap.Date, snap.RealizedPnl, snap.UnrealizedPnl, snap.RecordedAt); err != nil {
		return fmt.Errorf("audit: save daily pnl snapshot: %w", err)
	}
	return nil
}

// SavePlan persists a new morph plan row. Satisfies internal/morph.Store.
func (s *Store) SavePlan(ctx context.Context, entry domain.MorphPlanEntry) error {
	query := `
		INSERT INTO morph_plans (id, source_id, status, advisory, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	if _, err := s.pool.Exec(ctx, query, entry.ID, entry.SourceID, string(entry.Status), entry.Advisory, entry.CreatedAt); err != nil {
		return fmt.Errorf("audit: save morph plan: %w", err)
	}
	return nil
}

// UpdatePlanStatus advances a morph plan's terminal status.
func (s *Store) UpdatePlanStatus(ctx context.Context, id string, status domain.MorphPlanStatus, advisory string) error {
	query := `
		UPDATE morph_plans SET status = $2, advisory = $3, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := s.pool.Exec(ctx, query, id, string(status), advisory)
	if err != nil {
		return fmt.Errorf("audit: update morph plan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("audit: no morph plan %s", id)
	}
	return nil
}

// FindPlansByStatus returns every plan currently in the given status.
func (s *Store) FindPlansByStatus(ctx context.Context, status domain.MorphPlanStatus) ([]domain.MorphPlanEntry, error) {
	query := `
		SELECT id, source_id, status, advisory, created_at, updated_at
		FROM morph_plans WHERE status = $1 ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("audit: find plans by status: %w", err)
	}
	defer rows.Close()

	var plans []domain.MorphPlanEntry
	for rows.Next() {
		var p domain.MorphPlanEntry
		var statusStr string
		var advisory sql.NullString
		if err := rows.Scan(&p.ID, &p.SourceID, &statusStr, &advisory, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan morph plan: %w", err)
		}
		p.Status = domain.MorphPlanStatus(statusStr)
		if advisory.Valid {
			p.Advisory = advisory.String
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: morph plan rows: %w", err)
	}
	return plans, nil
}

// SaveHistory writes one lineage edge.
func (s *Store) SaveHistory(ctx context.Context, entry domain.MorphHistoryEntry) error {
	query := `
		INSERT INTO morph_history (
			parent_strategy_id, child_strategy_id, parent_type, child_type,
			parent_pnl_at_morph, reason, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.pool.Exec(ctx, query,
		entry.ParentStrategyID, entry.ChildStrategyID, string(entry.ParentType), string(entry.ChildType),
		entry.ParentPnlAtMorph, entry.Reason, entry.Timestamp,
	); err != nil {
		return fmt.Errorf("audit: save morph history: %w", err)
	}
	return nil
}

// FindHistoryByChild returns the edge where the given strategy is the
// child, or nil if it has no recorded parent. Satisfies
// internal/morph.LineageStore.
func (s *Store) FindHistoryByChild(ctx context.Context, childID string) (*domain.MorphHistoryEntry, error) {
	query := `
		SELECT parent_strategy_id, child_strategy_id, parent_type, child_type,
		       parent_pnl_at_morph, reason, recorded_at
		FROM morph_history WHERE child_strategy_id = $1
	`
	row := s.pool.QueryRow(ctx, query, childID)
	entry, err := scanHistoryEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: find history by child: %w", err)
	}
	return &entry, nil
}

// FindHistoryByParent returns every edge where the given strategy is
// the parent.
func (s *Store) FindHistoryByParent(ctx context.Context, parentID string) ([]domain.MorphHistoryEntry, error) {
	query := `
		SELECT parent_strategy_id, child_strategy_id, parent_type, child_type,
		       parent_pnl_at_morph, reason, recorded_at
		FROM morph_history WHERE parent_strategy_id = $1
	`
	rows, err := s.pool.Query(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("audit: find history by parent: %w", err)
	}
	defer rows.Close()

	var entries []domain.MorphHistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan history: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: history rows: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanHistoryEntry(row scanner) (domain.MorphHistoryEntry, error) {
	var entry domain.MorphHistoryEntry
	var parentType, childType string
	var pnl sql.NullString

	if err := row.Scan(
		&entry.ParentStrategyID, &entry.ChildStrategyID, &parentType, &childType,
		&pnl, &entry.Reason, &entry.Timestamp,
	); err != nil {
		return domain.MorphHistoryEntry{}, err
	}
	entry.ParentType = domain.StrategyType(parentType)
	entry.ChildType = domain.StrategyType(childType)
	if pnl.Valid {
		v, err := decimal.NewFromString(pnl.String)
		if err != nil {
			return domain.MorphHistoryEntry{}, fmt.Errorf("parse parent_pnl_at_morph: %w", err)
		}
		entry.ParentPnlAtMorph = &v
	}
	return entry, nil
}

// SaveDeadLetter persists a batch that could not be written even via
// the write-behind queue's synchronous fallback. Satisfies
// internal/writebehind.DeadLetterStore.
func (s *Store) SaveDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) error {
	query := `
		INSERT INTO dead_letters (
			id, event_type, sequence, payload, status, retry_count, max_retries, error, stack, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := s.pool.Exec(ctx, query,
		entry.ID, entry.EventType, entry.Sequence, entry.Payload, string(entry.Status),
		entry.RetryCount, entry.MaxRetries, entry.Error, entry.Stack, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("audit: save dead letter: %w", err)
	}
	return nil
}

func (s *Store) bulkInsert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		cols := make([]string, len(columns))
		for j, v := range row {
			args = append(args, v)
			cols[j] = fmt.Sprintf("$%d", len(args))
		}
		placeholders[i] = "(" + joinStrings(cols, ", ") + ")"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, joinStrings(columns, ", "), joinStrings(placeholders, ", "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("audit: bulk insert into %s: %w", table, err)
	}
	return nil
}

func joinStrings(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
