package service

import (
	"context"
	"fmt"

	"github.com/irlwork/settlement/internal/application/port"
	"github.com/irlwork/settlement/internal/domain/entity"
	"github.com/irlwork/settlement/internal/domain/reputation"
)

// ProfileUpdate changes a user's payout and contact details. Nil fields are kept.
type ProfileUpdate struct {
	WalletAddress *string `json:"wallet_address,omitempty"`
	LarkOpenID    *string `json:"lark_open_id,omitempty"`
}

// ReputationService exposes per-user scores and the profile they hang off
type ReputationService interface {
	GetReputation(ctx context.Context, userID string) (*reputation.Summary, error)
	GetStats(ctx context.Context, userID string) (*entity.UserStats, error)
	UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*entity.UserStats, error)
}

type reputationServiceImpl struct {
	statsRepo port.UserStatsRepository
	transfer  port.TransferClient
	logger    Logger
}

// NewReputationService creates a new ReputationService
func NewReputationService(statsRepo port.UserStatsRepository, transfer port.TransferClient, logger Logger) ReputationService {
	return &reputationServiceImpl{
		statsRepo: statsRepo,
		transfer:  transfer,
		logger:    logger,
	}
}

// GetReputation computes success rate and agent reliability for a user.
// Users with no history get an empty summary with nil scores.
func (s *reputationServiceImpl) GetReputation(ctx context.Context, userID string) (*reputation.Summary, error) {
	stats, err := s.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := reputation.Summarize(stats)
	return &summary, nil
}

// GetStats returns a user's counters, zeroed when the user has none yet
func (s *reputationServiceImpl) GetStats(ctx context.Context, userID string) (*entity.UserStats, error) {
	stats, err := s.statsRepo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	if stats == nil {
		stats = &entity.UserStats{UserID: userID}
	}
	return stats, nil
}

// UpdateProfile sets the payout wallet and Lark identity of a user
func (s *reputationServiceImpl) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*entity.UserStats, error) {
	stats, err := s.GetStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	if upd.WalletAddress != nil {
		if *upd.WalletAddress != "" && !s.transfer.IsValidAddress(*upd.WalletAddress) {
			return nil, ErrInvalidWallet
		}
		stats.WalletAddress = *upd.WalletAddress
	}
	if upd.LarkOpenID != nil {
		stats.LarkOpenID = *upd.LarkOpenID
	}

	if err := s.statsRepo.Upsert(ctx, stats); err != nil {
		return nil, err
	}
	s.logger.Info("Profile updated", "user_id", userID, "has_wallet", stats.WalletAddress != "")
	return stats, nil
}
