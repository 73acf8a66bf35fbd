package database

import (
	"context"
	"database/sql"
	"fmt"

	"waste-ops-service/models"

	"github.com/apex/log"
)

// CreateOrUpdateUser upserts a user. On first creation with a referral code
// the referrer is credited once with the referral bonus, in the same
// transaction as the insert.
func (d *Database) CreateOrUpdateUser(ctx context.Context, u *models.User) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return dbErr("createOrUpdateUser", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, u.ID).Scan(&existing); err != nil {
		return dbErr("createOrUpdateUser", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO users (id, name, role, referral) VALUES (?, ?, ?, ?)
	                        ON DUPLICATE KEY UPDATE name=?, role=?`,
		u.ID, u.Name, string(u.Role), u.Referral, u.Name, string(u.Role))
	logResult("createOrUpdateUser", res, err)
	if err != nil {
		return dbErr("createOrUpdateUser", err)
	}

	if existing == 0 && u.Referral != "" {
		if err := d.creditReferrerTx(ctx, tx, u.ID, u.Referral); err != nil {
			return dbErr("createOrUpdateUser", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return dbErr("createOrUpdateUser", err)
	}
	return nil
}

// creditReferrerTx resolves a referral code and credits its owner. A dead
// code is not an error; the registration proceeds without a bonus.
func (d *Database) creditReferrerTx(ctx context.Context, tx *sql.Tx, newUserID, refCode string) error {
	var referrerID string
	err := tx.QueryRowContext(ctx, `SELECT refvalue FROM referrals WHERE refkey = ?`, refCode).Scan(&referrerID)
	if err == sql.ErrNoRows {
		log.Warnf("Referral code %s has no owner, skipping bonus", refCode)
		return nil
	}
	if err != nil {
		return err
	}
	_, err = addPointsTx(ctx, tx, referrerID, models.ReferralPoints, models.ActionReferralBonus,
		fmt.Sprintf("Referred user %s", newUserID), LedgerMeta{ReferralID: &refCode})
	return err
}

// WriteReferral registers a referral code for a user; existing codes are
// left untouched.
func (d *Database) WriteReferral(ctx context.Context, refCode, userID string) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx,
		`INSERT IGNORE INTO referrals (refkey, refvalue) VALUES (?, ?)`, refCode, userID)
	if err != nil {
		return dbErr("writeReferral", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		log.Infof("Referral code %s already registered", refCode)
	}
	return nil
}

// GetUser loads a user with the earned badge and achievement sets.
func (d *Database) GetUser(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	u := &models.User{}
	var role string
	err := d.db.QueryRowContext(ctx, `
	  SELECT id, name, role, reward_points, streak_count, longest_streak, last_login_date,
	         last_longitude, last_latitude, referral, created_at
	  FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Name, &role, &u.RewardPoints, &u.StreakCount, &u.LongestStreak,
			&u.LastLoginDate, &u.LastLongitude, &u.LastLatitude, &u.Referral, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("getUser: %w: user %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return nil, dbErr("getUser", err)
	}
	u.Role = models.Role(role)

	badgeRows, err := d.db.QueryContext(ctx,
		`SELECT badge_id, earned_at FROM user_badges WHERE user_id = ?`, userID)
	if err != nil {
		return nil, dbErr("getUser", err)
	}
	defer badgeRows.Close()
	for badgeRows.Next() {
		var b models.Badge
		if err := badgeRows.Scan(&b.ID, &b.EarnedAt); err != nil {
			log.Errorf("Cannot scan a badge row: %v", err)
			continue
		}
		b.Name = b.ID
		u.Badges = append(u.Badges, b)
	}

	achRows, err := d.db.QueryContext(ctx,
		`SELECT achievement_id, points_awarded FROM user_achievements WHERE user_id = ?`, userID)
	if err != nil {
		return nil, dbErr("getUser", err)
	}
	defer achRows.Close()
	for achRows.Next() {
		var a models.Achievement
		if err := achRows.Scan(&a.ID, &a.Points); err != nil {
			log.Errorf("Cannot scan an achievement row: %v", err)
			continue
		}
		a.Name = a.ID
		u.Achievements = append(u.Achievements, a)
	}
	return u, nil
}

// GetUserRole returns a user's role for capability checks.
func (d *Database) GetUserRole(ctx context.Context, userID string) (models.Role, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var role string
	err := d.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("getUserRole: %w: user %s", models.ErrNotFound, userID)
	}
	if err != nil {
		return "", dbErr("getUserRole", err)
	}
	return models.Role(role), nil
}

// UpdateAgentLocation records an agent's last known position for proximity
// assignment queries.
func (d *Database) UpdateAgentLocation(ctx context.Context, agentID string, longitude, latitude float64) error {
	if err := models.ValidateCoordinates(longitude, latitude); err != nil {
		return err
	}
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ? AND role = 'agent'`, agentID).Scan(&n)
	if err != nil {
		return dbErr("updateAgentLocation", err)
	}
	if n == 0 {
		return fmt.Errorf("updateAgentLocation: %w: agent %s", models.ErrNotFound, agentID)
	}
	_, err = d.db.ExecContext(ctx,
		`UPDATE users SET last_longitude = ?, last_latitude = ? WHERE id = ? AND role = 'agent'`,
		longitude, latitude, agentID)
	if err != nil {
		return dbErr("updateAgentLocation", err)
	}
	return nil
}
