package models

import (
	"time"
)

// Role is the capability set a caller holds.
type Role string

const (
	RoleCitizen Role = "citizen"
	RoleAgent   Role = "agent"
	RoleAdmin   Role = "admin"
)

// CanFieldWork reports whether the role may be assigned field tasks.
func (r Role) CanFieldWork() bool {
	return r == RoleAgent
}

// User holds identity plus the denormalized gamification projection. The
// gamification fields are mutated only by the reward ledger producers; the
// ledger remains the source of truth and RewardPoints is rebuildable from it.
type User struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Role Role   `json:"role" db:"role"`

	RewardPoints  int        `json:"reward_points" db:"reward_points"`
	StreakCount   int        `json:"streak_count" db:"streak_count"`
	LongestStreak int        `json:"longest_streak" db:"longest_streak"`
	LastLoginDate *time.Time `json:"last_login_date,omitempty" db:"last_login_date"`

	Badges       []Badge       `json:"badges,omitempty" db:"-"`
	Achievements []Achievement `json:"achievements,omitempty" db:"-"`

	// Agents report their position for proximity assignment.
	LastLongitude *float64 `json:"last_longitude,omitempty" db:"last_longitude"`
	LastLatitude  *float64 `json:"last_latitude,omitempty" db:"last_latitude"`

	Referral  string    `json:"referral,omitempty" db:"referral"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LeaderboardRecord is one row of the top point holders view.
type LeaderboardRecord struct {
	Place  int    `json:"place"`
	Name   string `json:"name"`
	Points int    `json:"points"`
	IsYou  bool   `json:"is_you"`
}
