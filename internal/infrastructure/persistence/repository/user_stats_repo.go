package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"go.uber.org/zap"
)

// counterColumns whitelists the columns Increment may touch
var counterColumns = map[string]bool{
	entity.CounterTasksCompleted: true,
	entity.CounterDisputesLost:   true,
	entity.CounterRejections:     true,
	entity.CounterTasksPosted:    true,
	entity.CounterTasksCancelled: true,
	entity.CounterPaidCents:      true,
	entity.CounterEarnedCents:    true,
}

// UserStatsRepository implements port.UserStatsRepository
type UserStatsRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewUserStatsRepository creates a new user stats repository
func NewUserStatsRepository(db *sql.DB, logger *zap.Logger) port.UserStatsRepository {
	return &UserStatsRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Get returns a user's stats, or nil when the user has none yet
func (r *UserStatsRepository) Get(ctx context.Context, userID string) (*entity.UserStats, error) {
	query := `
		SELECT user_id, wallet_address, lark_open_id, total_tasks_completed,
			total_disputes_lost, total_rejections, total_tasks_posted,
			total_tasks_cancelled, total_paid_cents, total_earned_cents, updated_at
		FROM user_stats
		WHERE user_id = ?
	`

	var s entity.UserStats
	err := conn(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(
		&s.UserID,
		&s.WalletAddress,
		&s.LarkOpenID,
		&s.TotalTasksCompleted,
		&s.TotalDisputesLost,
		&s.TotalRejections,
		&s.TotalTasksPosted,
		&s.TotalTasksCancelled,
		&s.TotalPaidCents,
		&s.TotalEarnedCents,
		&s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user stats", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return &s, nil
}

// Upsert writes the profile fields of a user. Counters are left untouched
// on conflict; they only move through Increment.
func (r *UserStatsRepository) Upsert(ctx context.Context, s *entity.UserStats) error {
	query := `
		INSERT INTO user_stats (
			user_id, wallet_address, lark_open_id, total_tasks_completed,
			total_disputes_lost, total_rejections, total_tasks_posted,
			total_tasks_cancelled, total_paid_cents, total_earned_cents, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			wallet_address = excluded.wallet_address,
			lark_open_id = excluded.lark_open_id,
			updated_at = excluded.updated_at
	`

	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		s.UserID,
		s.WalletAddress,
		s.LarkOpenID,
		s.TotalTasksCompleted,
		s.TotalDisputesLost,
		s.TotalRejections,
		s.TotalTasksPosted,
		s.TotalTasksCancelled,
		s.TotalPaidCents,
		s.TotalEarnedCents,
		r.now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to upsert user stats", zap.String("user_id", s.UserID), zap.Error(err))
		return fmt.Errorf("failed to upsert user stats: %w", err)
	}
	return nil
}

// Increment adds delta to one counter, creating the row on first use
func (r *UserStatsRepository) Increment(ctx context.Context, userID string, counter string, delta int64) error {
	if !counterColumns[counter] {
		return fmt.Errorf("unknown stats counter: %s", counter)
	}

	now := r.now().UTC()
	exec := conn(ctx, r.db)

	if _, err := exec.ExecContext(ctx,
		`INSERT INTO user_stats (user_id, updated_at) VALUES (?, ?) ON CONFLICT(user_id) DO NOTHING`,
		userID, now); err != nil {
		return fmt.Errorf("failed to create user stats: %w", err)
	}

	query := `UPDATE user_stats SET ` + counter + ` = ` + counter + ` + ?, updated_at = ? WHERE user_id = ?`
	if _, err := exec.ExecContext(ctx, query, delta, now, userID); err != nil {
		r.logger.Error("Failed to increment user stats",
			zap.String("user_id", userID),
			zap.String("counter", counter),
			zap.Error(err))
		return fmt.Errorf("failed to increment %s: %w", counter, err)
	}
	return nil
}

// Verify interface compliance
var _ port.UserStatsRepository = (*UserStatsRepository)(nil)
