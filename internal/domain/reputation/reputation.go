// Package reputation derives display scores from a user's aggregate counters.
package reputation

import (
	"math"

	"github.com/irlwork/settlement/internal/domain/entity"
)

// MinPostedForReliability suppresses reliability scores for new posters
const MinPostedForReliability = 5

// Summary bundles the derived scores for one user
type Summary struct {
	UserID           string   `json:"user_id"`
	SuccessRate      *float64 `json:"success_rate"`
	AgentReliability *float64 `json:"agent_reliability"`
	TasksCompleted   int      `json:"tasks_completed"`
	DisputesLost     int      `json:"disputes_lost"`
	TasksPosted      int      `json:"tasks_posted"`
}

// SuccessRate returns completed / (completed + disputes lost) as a percentage.
// Revision requests (TotalRejections) are deliberately not part of the
// denominator. Returns nil when the user has no finished work.
func SuccessRate(stats *entity.UserStats) *float64 {
	if stats == nil {
		return nil
	}
	denominator := stats.TotalTasksCompleted + stats.TotalDisputesLost
	if denominator <= 0 {
		return nil
	}
	rate := roundOneDecimal(float64(stats.TotalTasksCompleted) / float64(denominator) * 100)
	return &rate
}

// AgentReliability returns (1 - cancelled/posted) as a percentage, or nil
// until the poster has at least MinPostedForReliability tasks.
func AgentReliability(stats *entity.UserStats) *float64 {
	if stats == nil || stats.TotalTasksPosted < MinPostedForReliability {
		return nil
	}
	cancelled := stats.TotalTasksCancelled
	if cancelled > stats.TotalTasksPosted {
		cancelled = stats.TotalTasksPosted
	}
	rate := roundOneDecimal((1 - float64(cancelled)/float64(stats.TotalTasksPosted)) * 100)
	return &rate
}

// Summarize computes every score for stats
func Summarize(stats *entity.UserStats) Summary {
	return Summary{
		UserID:           stats.UserID,
		SuccessRate:      SuccessRate(stats),
		AgentReliability: AgentReliability(stats),
		TasksCompleted:   stats.TotalTasksCompleted,
		DisputesLost:     stats.TotalDisputesLost,
		TasksPosted:      stats.TotalTasksPosted,
	}
}

func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
