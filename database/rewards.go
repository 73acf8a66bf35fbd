package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"waste-ops-service/models"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// LedgerMeta links a ledger entry to the event that produced it. RequestID
// is the invoking event's idempotency key: the ledger holds at most one
// entry per request id, so a retried mutation is applied at most once.
type LedgerMeta struct {
	ReportSeq     *int64
	AchievementID *string
	BadgeID       *string
	ReferralID    *string
	AdminID       *string
	RequestID     *string
	ItemID        *string
}

// LoginResult is the outcome of a daily login.
type LoginResult struct {
	StreakCount   int    `json:"streak_count"`
	LongestStreak int    `json:"longest_streak"`
	PointsAwarded int    `json:"points_awarded"`
	BalanceAfter  int    `json:"balance_after"`
	BadgeEarned   string `json:"badge_earned,omitempty"`
}

// addPointsTx credits a user and appends the matching ledger entry inside
// the caller's transaction. Returns the balance after the credit.
func addPointsTx(ctx context.Context, tx *sql.Tx, userID string, amount int,
	action models.RewardAction, description string, meta LedgerMeta) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: point amount must be positive, got %d", models.ErrValidation, amount)
	}
	res, err := tx.ExecContext(ctx, `UPDATE users SET reward_points = reward_points + ? WHERE id = ?`,
		amount, userID)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		return 0, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	return appendLedgerTx(ctx, tx, userID, amount, action, description, meta)
}

// deductPointsTx debits a user with a non-negative-balance postcondition.
// The guarded UPDATE serializes concurrent deductions: two racing deductions
// can never both pass the balance check.
func deductPointsTx(ctx context.Context, tx *sql.Tx, userID string, amount int,
	action models.RewardAction, description string, meta LedgerMeta) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: point amount must be positive, got %d", models.ErrValidation, amount)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET reward_points = reward_points - ? WHERE id = ? AND reward_points >= ?`,
		amount, userID, amount)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		var balance int
		err := tx.QueryRowContext(ctx, `SELECT reward_points FROM users WHERE id = ?`, userID).Scan(&balance)
		if err == sql.ErrNoRows {
			return 0, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
		}
		if err != nil {
			return 0, err
		}
		return 0, &models.InsufficientPointsError{Required: amount, Available: balance}
	}
	return appendLedgerTx(ctx, tx, userID, -amount, action, description, meta)
}

// appendLedgerTx writes the immutable ledger row carrying the running
// balance observed after the mutation that precedes it in the transaction.
func appendLedgerTx(ctx context.Context, tx *sql.Tx, userID string, points int,
	action models.RewardAction, description string, meta LedgerMeta) (int, error) {
	var balance int
	if err := tx.QueryRowContext(ctx, `SELECT reward_points FROM users WHERE id = ?`, userID).Scan(&balance); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT
	  INTO reward_log (id, user_id, action, points, description, report_seq, achievement_id, badge_id, referral_id, admin_id, request_id, item_id, balance_after)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, string(action), points, description,
		meta.ReportSeq, meta.AchievementID, meta.BadgeID, meta.ReferralID, meta.AdminID,
		meta.RequestID, meta.ItemID, balance)
	logResult("appendLedger", res, err)
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// appliedRequestTx reports whether a request id was already applied and, if
// so, the balance its ledger entry recorded.
func appliedRequestTx(ctx context.Context, tx *sql.Tx, requestID *string) (int, bool, error) {
	if requestID == nil {
		return 0, false, nil
	}
	var balance int
	err := tx.QueryRowContext(ctx,
		`SELECT balance_after FROM reward_log WHERE request_id = ?`, *requestID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func isDuplicateRequest(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// replayOnDuplicate maps a unique-key violation on request_id to the result
// committed by the concurrent retry that won the race.
func (d *Database) replayOnDuplicate(ctx context.Context, requestID *string, cause error) (int, bool) {
	if requestID == nil || !isDuplicateRequest(cause) {
		return 0, false
	}
	var balance int
	err := d.db.QueryRowContext(ctx,
		`SELECT balance_after FROM reward_log WHERE request_id = ?`, *requestID).Scan(&balance)
	if err != nil {
		log.Errorf("Cannot read the committed entry for request %s: %v", *requestID, err)
		return 0, false
	}
	return balance, true
}

// AddPoints credits a user and records the reason in the ledger. A meta
// request id makes the credit idempotent: a request already in the ledger
// returns its original balance without reapplying.
func (d *Database) AddPoints(ctx context.Context, userID string, amount int,
	action models.RewardAction, description string, meta LedgerMeta) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, dbErr("addPoints", err)
	}
	defer tx.Rollback()

	if prior, applied, err := appliedRequestTx(ctx, tx, meta.RequestID); err != nil {
		return 0, dbErr("addPoints", err)
	} else if applied {
		return prior, nil
	}
	balance, err := addPointsTx(ctx, tx, userID, amount, action, description, meta)
	if err != nil {
		if prior, ok := d.replayOnDuplicate(ctx, meta.RequestID, err); ok {
			return prior, nil
		}
		return 0, dbErr("addPoints", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, dbErr("addPoints", err)
	}
	return balance, nil
}

// DeductPoints debits a user; fails with InsufficientPointsError when the
// balance cannot cover the amount. Idempotent under a meta request id the
// same way AddPoints is.
func (d *Database) DeductPoints(ctx context.Context, userID string, amount int,
	action models.RewardAction, description string, meta LedgerMeta) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, dbErr("deductPoints", err)
	}
	defer tx.Rollback()

	if prior, applied, err := appliedRequestTx(ctx, tx, meta.RequestID); err != nil {
		return 0, dbErr("deductPoints", err)
	} else if applied {
		return prior, nil
	}
	balance, err := deductPointsTx(ctx, tx, userID, amount, action, description, meta)
	if err != nil {
		if prior, ok := d.replayOnDuplicate(ctx, meta.RequestID, err); ok {
			return prior, nil
		}
		return 0, dbErr("deductPoints", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, dbErr("deductPoints", err)
	}
	return balance, nil
}

// DailyLogin applies the streak rules and writes exactly one ledger entry
// covering the base bonus plus any streak bonus. Day boundaries are UTC
// calendar days.
func (d *Database) DailyLogin(ctx context.Context, userID string, now time.Time) (*LoginResult, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, dbErr("dailyLogin", err)
	}
	defer tx.Rollback()

	var (
		streak    int
		longest   int
		lastLogin sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT streak_count, longest_streak, last_login_date FROM users WHERE id = ? FOR UPDATE`,
		userID).Scan(&streak, &longest, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dailyLogin: %w: user %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return nil, dbErr("dailyLogin", err)
	}

	crossedThirty := false
	if !lastLogin.Valid {
		streak = 1
	} else {
		switch days := models.DaysBetweenUTC(lastLogin.Time, now); {
		case days == 1:
			prev := streak
			streak++
			crossedThirty = prev < models.StreakMasterDays && streak >= models.StreakMasterDays
		case days > 1:
			streak = 1
		default:
			// Same UTC day: the login already counted, award nothing.
			var balance int
			if err := tx.QueryRowContext(ctx, `SELECT reward_points FROM users WHERE id = ?`, userID).
				Scan(&balance); err != nil {
				return nil, dbErr("dailyLogin", err)
			}
			return &LoginResult{
				StreakCount:   streak,
				LongestStreak: longest,
				PointsAwarded: 0,
				BalanceAfter:  balance,
			}, nil
		}
	}
	if streak > longest {
		longest = streak
	}

	bonus, earned := models.StreakBonus(streak, crossedThirty)
	badge := ""
	if earned {
		awarded, err := awardBadgeTx(ctx, tx, userID, models.StreakMasterBadgeID)
		if err != nil {
			return nil, dbErr("dailyLogin", err)
		}
		if awarded {
			badge = models.StreakMasterBadgeID
		} else {
			// already held from an earlier 30-day run
			bonus, _ = models.StreakBonus(streak, false)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET streak_count = ?, longest_streak = ?, last_login_date = ? WHERE id = ?`,
		streak, longest, now.UTC(), userID)
	logResult("dailyLogin", res, err)
	if err != nil {
		return nil, dbErr("dailyLogin", err)
	}

	total := models.LoginBasePoints + bonus
	desc := "Daily login"
	if bonus > 0 {
		desc = fmt.Sprintf("Daily login (+%d streak bonus, %d days)", bonus, streak)
	}
	balance, err := addPointsTx(ctx, tx, userID, total, models.ActionDailyLogin, desc, LedgerMeta{})
	if err != nil {
		return nil, dbErr("dailyLogin", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, dbErr("dailyLogin", err)
	}
	return &LoginResult{
		StreakCount:   streak,
		LongestStreak: longest,
		PointsAwarded: total,
		BalanceAfter:  balance,
		BadgeEarned:   badge,
	}, nil
}

// RedeemReward deducts the catalog price of an item. The requested points
// must match the static catalog exactly. The caller-supplied request id
// keys the deduction: retrying a committed redemption returns the original
// balance instead of charging again.
func (d *Database) RedeemReward(ctx context.Context, userID, itemID string, points int, requestID string) (int, error) {
	item, ok := models.RewardCatalog[itemID]
	if !ok {
		return 0, fmt.Errorf("redeemReward: %w: catalog item %s", models.ErrNotFound, itemID)
	}
	if points != item.Price {
		return 0, fmt.Errorf("redeemReward: %w: item %s costs %d points, requested %d",
			models.ErrValidation, itemID, item.Price, points)
	}
	if requestID == "" {
		return 0, fmt.Errorf("redeemReward: %w: request id is required", models.ErrValidation)
	}
	return d.DeductPoints(ctx, userID, item.Price, models.ActionPointsRedemption,
		fmt.Sprintf("Redeemed: %s", item.Name), LedgerMeta{RequestID: &requestID, ItemID: &item.ID})
}

// AdminAdjustment routes a signed correction to the add or deduct path and
// records the acting admin. The request id makes retried corrections apply
// at most once.
func (d *Database) AdminAdjustment(ctx context.Context, adminID, userID string, points int, reason, requestID string) (int, error) {
	if points == 0 {
		return 0, fmt.Errorf("adminAdjustment: %w: adjustment must be non-zero", models.ErrValidation)
	}
	if requestID == "" {
		return 0, fmt.Errorf("adminAdjustment: %w: request id is required", models.ErrValidation)
	}
	meta := LedgerMeta{AdminID: &adminID, RequestID: &requestID}
	if points > 0 {
		return d.AddPoints(ctx, userID, points, models.ActionAdminAdjustment, reason, meta)
	}
	return d.DeductPoints(ctx, userID, -points, models.ActionAdminAdjustment, reason, meta)
}

// awardBadgeTx is idempotent: awarding a badge the user already holds is a
// no-op. Returns whether the badge was newly earned.
func awardBadgeTx(ctx context.Context, tx *sql.Tx, userID, badgeID string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO user_badges (user_id, badge_id) VALUES (?, ?)`, userID, badgeID)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// awardAchievementTx is idempotent and grants the achievement's points at
// most once, under the same duplicate guard as the achievement row itself.
func awardAchievementTx(ctx context.Context, tx *sql.Tx, userID string, a models.Achievement) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO user_achievements (user_id, achievement_id, points_awarded) VALUES (?, ?, ?)`,
		userID, a.ID, a.Points)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}
	if a.Points > 0 {
		achID := a.ID
		_, err = addPointsTx(ctx, tx, userID, a.Points, models.ActionAchievementUnlock,
			fmt.Sprintf("Achievement unlocked: %s", a.Name), LedgerMeta{AchievementID: &achID})
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// AwardBadge exposes the idempotent badge award outside a lifecycle
// transaction.
func (d *Database) AwardBadge(ctx context.Context, userID, badgeID string) (bool, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, dbErr("awardBadge", err)
	}
	defer tx.Rollback()

	awarded, err := awardBadgeTx(ctx, tx, userID, badgeID)
	if err != nil {
		return false, dbErr("awardBadge", err)
	}
	if err := tx.Commit(); err != nil {
		return false, dbErr("awardBadge", err)
	}
	return awarded, nil
}

// ReconcileUserPoints recomputes the cached balance from the ledger, the
// source of truth, and returns the rebuilt value.
func (d *Database) ReconcileUserPoints(ctx context.Context, userID string) (int, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, dbErr("reconcilePoints", err)
	}
	defer tx.Rollback()

	var total int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM reward_log WHERE user_id = ? AND is_valid = true`,
		userID).Scan(&total)
	if err != nil {
		return 0, dbErr("reconcilePoints", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE users SET reward_points = ? WHERE id = ?`, total, userID)
	if err != nil {
		return 0, dbErr("reconcilePoints", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr("reconcilePoints", err)
	}
	if rows == 0 {
		// The row may exist with an already-correct balance; verify presence.
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, userID).Scan(&n); err != nil {
			return 0, dbErr("reconcilePoints", err)
		}
		if n == 0 {
			return 0, fmt.Errorf("reconcilePoints: %w: user %s", models.ErrNotFound, userID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, dbErr("reconcilePoints", err)
	}
	log.Infof("Reconciled points for user %s: %d", userID, total)
	return total, nil
}

// InvalidateLedgerEntry flips an entry's validity flag (audit correction,
// never deletion) and reconciles the owner's cached balance in the same
// transaction.
func (d *Database) InvalidateLedgerEntry(ctx context.Context, entryID, adminID string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return dbErr("invalidateLedgerEntry", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM reward_log WHERE id = ?`, entryID).Scan(&userID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("invalidateLedgerEntry: %w: entry %s", models.ErrNotFound, entryID)
	}
	if err != nil {
		return dbErr("invalidateLedgerEntry", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE reward_log SET is_valid = false WHERE id = ?`, entryID)
	logResult("invalidateLedgerEntry", res, err)
	if err != nil {
		return dbErr("invalidateLedgerEntry", err)
	}

	var total int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM reward_log WHERE user_id = ? AND is_valid = true`,
		userID).Scan(&total)
	if err != nil {
		return dbErr("invalidateLedgerEntry", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET reward_points = ? WHERE id = ?`, total, userID); err != nil {
		return dbErr("invalidateLedgerEntry", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("invalidateLedgerEntry", err)
	}
	log.Infof("Admin %s invalidated ledger entry %s for user %s", adminID, entryID, userID)
	return nil
}

// GetLedger returns a user's most recent ledger entries.
func (d *Database) GetLedger(ctx context.Context, userID string, limit int) ([]models.RewardLogEntry, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
	  SELECT id, user_id, action, points, description, report_seq, achievement_id, badge_id, referral_id, admin_id, request_id, item_id, balance_after, is_valid, created_at
	  FROM reward_log
	  WHERE user_id = ?
	  ORDER BY created_at DESC
	  LIMIT ?`, userID, limit)
	if err != nil {
		return nil, dbErr("getLedger", err)
	}
	defer rows.Close()

	entries := make([]models.RewardLogEntry, 0, limit)
	for rows.Next() {
		var e models.RewardLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Points, &e.Description,
			&e.ReportSeq, &e.AchievementID, &e.BadgeID, &e.ReferralID, &e.AdminID,
			&e.RequestID, &e.ItemID, &e.BalanceAfter, &e.IsValid, &e.CreatedAt); err != nil {
			log.Errorf("Cannot scan a ledger row: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLeaderboard returns the top point holders and appends the requesting
// user's own place when they are outside the top.
func (d *Database) GetLeaderboard(ctx context.Context, userID string, topCount int) ([]models.LeaderboardRecord, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, reward_points
		FROM users
		ORDER BY reward_points DESC
		LIMIT ?`, topCount)
	if err != nil {
		return nil, dbErr("getLeaderboard", err)
	}
	defer rows.Close()

	records := []models.LeaderboardRecord{}
	place := 1
	hasYou := false
	for rows.Next() {
		var (
			id     string
			name   string
			points int
		)
		if err := rows.Scan(&id, &name, &points); err != nil {
			return nil, dbErr("getLeaderboard", err)
		}
		records = append(records, models.LeaderboardRecord{
			Place:  place,
			Name:   name,
			Points: points,
			IsYou:  id == userID,
		})
		place++
		if id == userID {
			hasYou = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("getLeaderboard", err)
	}
	if hasYou || userID == "" {
		return records, nil
	}

	var (
		name   string
		points int
	)
	err = d.db.QueryRowContext(ctx, `SELECT name, reward_points FROM users WHERE id = ?`, userID).
		Scan(&name, &points)
	if err == sql.ErrNoRows {
		return records, nil
	}
	if err != nil {
		return nil, dbErr("getLeaderboard", err)
	}

	var before int
	err = d.db.QueryRowContext(ctx, `SELECT count(*) AS c FROM users WHERE reward_points > ?`, points).
		Scan(&before)
	if err != nil {
		return nil, dbErr("getLeaderboard", err)
	}
	you := models.LeaderboardRecord{Place: before + 1, Name: name, Points: points, IsYou: true}
	if before < topCount {
		you.Place = topCount + 1
	}
	records = append(records, you)
	return records, nil
}
