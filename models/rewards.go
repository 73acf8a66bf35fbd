package models

import (
	"time"
)

// RewardAction identifies why a ledger entry changed a balance.
type RewardAction string

const (
	ActionDailyLogin        RewardAction = "daily_login"
	ActionReportSubmission  RewardAction = "report_submission"
	ActionReportValidation  RewardAction = "report_validation"
	ActionStreakBonus       RewardAction = "streak_bonus"
	ActionAchievementUnlock RewardAction = "achievement_unlock"
	ActionBadgeEarned       RewardAction = "badge_earned"
	ActionReferralBonus     RewardAction = "referral_bonus"
	ActionPointsRedemption  RewardAction = "points_redemption"
	ActionAdminAdjustment   RewardAction = "admin_adjustment"
)

// Point values for ledger-producing events.
const (
	SubmissionPoints = 10
	ResolutionPoints = 20
	LoginBasePoints  = 2
	ReferralPoints   = 25

	StreakMasterBonus   = 100
	WeeklyStreakBonus   = 30
	TriDailyStreakBonus = 10
	StreakMasterDays    = 30
)

// RewardLogEntry is one immutable, point-affecting event. Only IsValid may
// change after creation (audit correction, never deletion).
type RewardLogEntry struct {
	ID          string       `json:"id" db:"id"`
	UserID      string       `json:"user_id" db:"user_id"`
	Action      RewardAction `json:"action" db:"action"`
	Points      int          `json:"points" db:"points"`
	Description string       `json:"description" db:"description"`

	ReportSeq     *int64  `json:"report_seq,omitempty" db:"report_seq"`
	AchievementID *string `json:"achievement_id,omitempty" db:"achievement_id"`
	BadgeID       *string `json:"badge_id,omitempty" db:"badge_id"`
	ReferralID    *string `json:"referral_id,omitempty" db:"referral_id"`
	AdminID       *string `json:"admin_id,omitempty" db:"admin_id"`
	RequestID     *string `json:"request_id,omitempty" db:"request_id"`
	ItemID        *string `json:"item_id,omitempty" db:"item_id"`

	BalanceAfter int       `json:"balance_after" db:"balance_after"`
	IsValid      bool      `json:"is_valid" db:"is_valid"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Badge is a one-time-per-user recognition marker.
type Badge struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	EarnedAt time.Time `json:"earned_at"`
}

// Achievement carries an optional one-time point grant.
type Achievement struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// StreakMasterBadgeID marks crossing a 30-day login streak.
const StreakMasterBadgeID = "streak_master"

// SubmissionMilestone ties a report-count threshold to a badge and an
// achievement with its point grant.
type SubmissionMilestone struct {
	Count       int64
	BadgeID     string
	Achievement Achievement
}

// SubmissionMilestones are evaluated after every successful submission.
var SubmissionMilestones = []SubmissionMilestone{
	{Count: 1, BadgeID: "first_report", Achievement: Achievement{ID: "first_report", Name: "First Report", Points: 5}},
	{Count: 10, BadgeID: "ten_reports", Achievement: Achievement{ID: "ten_reports", Name: "Active Reporter", Points: 25}},
	{Count: 50, BadgeID: "fifty_reports", Achievement: Achievement{ID: "fifty_reports", Name: "Community Guardian", Points: 100}},
}

// MilestoneFor returns the milestone matching an exact submission count.
func MilestoneFor(count int64) *SubmissionMilestone {
	for i := range SubmissionMilestones {
		if SubmissionMilestones[i].Count == count {
			return &SubmissionMilestones[i]
		}
	}
	return nil
}

// CatalogItem is one redeemable entry of the static reward catalog.
type CatalogItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	Category string `json:"category"`
}

// RewardCatalog is configuration, not mutable state.
var RewardCatalog = map[string]CatalogItem{
	"tree_sapling":   {ID: "tree_sapling", Name: "Plant a Tree Sapling", Price: 100, Category: "environment"},
	"bus_pass_day":   {ID: "bus_pass_day", Name: "One-Day Transit Pass", Price: 150, Category: "transport"},
	"compost_kit":    {ID: "compost_kit", Name: "Home Compost Kit", Price: 300, Category: "environment"},
	"cleanup_tshirt": {ID: "cleanup_tshirt", Name: "Cleanup Crew T-Shirt", Price: 250, Category: "merch"},
	"park_donation":  {ID: "park_donation", Name: "City Park Donation", Price: 500, Category: "civic"},
}

// DaysBetweenUTC counts the whole UTC calendar days between two instants.
// This is the single day-boundary policy for streaks.
func DaysBetweenUTC(earlier, later time.Time) int {
	e := earlier.UTC().Truncate(24 * time.Hour)
	l := later.UTC().Truncate(24 * time.Hour)
	return int(l.Sub(e).Hours() / 24)
}

// StreakBonus returns the bonus points for the current streak length and
// whether the streak-master badge should be awarded. crossedThirty must be
// true only the first time the streak reaches 30.
func StreakBonus(streakCount int, crossedThirty bool) (int, bool) {
	if streakCount >= StreakMasterDays && crossedThirty {
		return StreakMasterBonus, true
	}
	if streakCount >= 7 && streakCount%7 == 0 {
		return WeeklyStreakBonus, false
	}
	if streakCount >= 3 && streakCount%3 == 0 {
		return TriDailyStreakBonus, false
	}
	return 0, false
}
