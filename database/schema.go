package database

import (
	"fmt"

	"github.com/apex/log"
)

// InitSchema creates the necessary database tables if they don't exist
func (d *Database) InitSchema() error {
	log.Info("Initializing waste-ops database schema...")

	usersTableSQL := `
	CREATE TABLE IF NOT EXISTS users(
		id CHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL DEFAULT '',
		role ENUM('citizen', 'agent', 'admin') NOT NULL DEFAULT 'citizen',
		reward_points INT NOT NULL DEFAULT 0,
		streak_count INT NOT NULL DEFAULT 0,
		longest_streak INT NOT NULL DEFAULT 0,
		last_login_date DATETIME NULL,
		last_longitude DOUBLE NULL,
		last_latitude DOUBLE NULL,
		referral VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX role_index (role)
	)`
	if _, err := d.db.Exec(usersTableSQL); err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	log.Info("Users table created/verified")

	reportsTableSQL := `
	CREATE TABLE IF NOT EXISTS reports(
		seq BIGINT NOT NULL AUTO_INCREMENT,
		id CHAR(36) NOT NULL,
		citizen_id CHAR(64) NOT NULL,
		waste_type ENUM('organic', 'plastic', 'medical', 'e_waste', 'glass', 'metal', 'mixed', 'other') NOT NULL,
		severity DOUBLE NOT NULL,
		confidence DOUBLE NOT NULL DEFAULT 0.5,
		severity_level ENUM('low', 'medium', 'high', 'very_high', 'critical') NOT NULL,
		priority ENUM('low', 'medium', 'high', 'critical') NOT NULL,
		health_risk ENUM('none', 'low', 'medium', 'high', 'critical') NOT NULL DEFAULT 'none',
		is_urgent BOOL NOT NULL DEFAULT false,
		address VARCHAR(512) NOT NULL DEFAULT '',
		longitude DOUBLE NOT NULL,
		latitude DOUBLE NOT NULL,
		accuracy DOUBLE NULL,
		description VARCHAR(512) NOT NULL,
		image LONGBLOB,
		status ENUM('pending', 'assigned', 'in_progress', 'resolved', 'rejected') NOT NULL DEFAULT 'pending',
		assigned_agent_id CHAR(64) NOT NULL DEFAULT '',
		assigned_agent_name VARCHAR(255) NOT NULL DEFAULT '',
		assigned_at DATETIME NULL,
		started_at DATETIME NULL,
		completed_at DATETIME NULL,
		estimated_completion_time DATETIME NULL,
		actual_completion_minutes INT NULL,
		is_validated BOOL NOT NULL DEFAULT false,
		validated_by CHAR(64) NOT NULL DEFAULT '',
		validated_at DATETIME NULL,
		rejection_reason VARCHAR(200) NOT NULL DEFAULT '',
		completion_notes TEXT,
		after_images JSON,
		actual_quantity DOUBLE NULL,
		ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (seq),
		UNIQUE INDEX id_index (id),
		INDEX citizen_index (citizen_id),
		INDEX agent_status_index (assigned_agent_id, status),
		INDEX status_index (status)
	)`
	if _, err := d.db.Exec(reportsTableSQL); err != nil {
		return fmt.Errorf("failed to create reports table: %w", err)
	}
	log.Info("Reports table created/verified")

	reportsGeometrySQL := `
	CREATE TABLE IF NOT EXISTS reports_geometry(
		seq BIGINT NOT NULL,
		geom POINT NOT NULL SRID 4326,
		PRIMARY KEY (seq),
		SPATIAL INDEX(geom)
	)`
	if _, err := d.db.Exec(reportsGeometrySQL); err != nil {
		return fmt.Errorf("failed to create reports_geometry table: %w", err)
	}
	log.Info("Reports_geometry table created/verified")

	tasksTableSQL := `
	CREATE TABLE IF NOT EXISTS tasks(
		id CHAR(36) NOT NULL,
		report_seq BIGINT NOT NULL,
		agent_id CHAR(64) NOT NULL,
		admin_id CHAR(64) NOT NULL,
		title VARCHAR(255) NOT NULL,
		description TEXT,
		address VARCHAR(512) NOT NULL DEFAULT '',
		longitude DOUBLE NOT NULL,
		latitude DOUBLE NOT NULL,
		priority ENUM('low', 'medium', 'high', 'critical') NOT NULL,
		status ENUM('assigned', 'in_progress', 'completed', 'cancelled') NOT NULL DEFAULT 'assigned',
		due_date DATETIME NOT NULL,
		estimated_minutes INT NULL,
		actual_minutes INT NULL,
		instructions JSON,
		equipment JSON,
		before_images JSON,
		after_images JSON,
		completion_notes TEXT,
		cancel_reason VARCHAR(200) NOT NULL DEFAULT '',
		verified_by CHAR(64) NOT NULL DEFAULT '',
		verified_at DATETIME NULL,
		verification_notes TEXT,
		started_at DATETIME NULL,
		completed_at DATETIME NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX report_index (report_seq),
		INDEX agent_status_index (agent_id, status)
	)`
	if _, err := d.db.Exec(tasksTableSQL); err != nil {
		return fmt.Errorf("failed to create tasks table: %w", err)
	}
	log.Info("Tasks table created/verified")

	tasksGeometrySQL := `
	CREATE TABLE IF NOT EXISTS tasks_geometry(
		task_id CHAR(36) NOT NULL,
		geom POINT NOT NULL SRID 4326,
		PRIMARY KEY (task_id),
		SPATIAL INDEX(geom)
	)`
	if _, err := d.db.Exec(tasksGeometrySQL); err != nil {
		return fmt.Errorf("failed to create tasks_geometry table: %w", err)
	}
	log.Info("Tasks_geometry table created/verified")

	rewardLogSQL := `
	CREATE TABLE IF NOT EXISTS reward_log(
		id CHAR(36) NOT NULL,
		user_id CHAR(64) NOT NULL,
		action ENUM('daily_login', 'report_submission', 'report_validation', 'streak_bonus',
			'achievement_unlock', 'badge_earned', 'referral_bonus', 'points_redemption',
			'admin_adjustment') NOT NULL,
		points INT NOT NULL,
		description VARCHAR(512) NOT NULL DEFAULT '',
		report_seq BIGINT NULL,
		achievement_id VARCHAR(64) NULL,
		badge_id VARCHAR(64) NULL,
		referral_id VARCHAR(64) NULL,
		admin_id CHAR(64) NULL,
		request_id VARCHAR(64) NULL,
		item_id VARCHAR(64) NULL,
		balance_after INT NOT NULL,
		is_valid BOOL NOT NULL DEFAULT true,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		UNIQUE INDEX request_index (request_id),
		INDEX user_index (user_id, created_at)
	)`
	if _, err := d.db.Exec(rewardLogSQL); err != nil {
		return fmt.Errorf("failed to create reward_log table: %w", err)
	}
	log.Info("Reward_log table created/verified")

	userBadgesSQL := `
	CREATE TABLE IF NOT EXISTS user_badges(
		user_id CHAR(64) NOT NULL,
		badge_id VARCHAR(64) NOT NULL,
		earned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, badge_id)
	)`
	if _, err := d.db.Exec(userBadgesSQL); err != nil {
		return fmt.Errorf("failed to create user_badges table: %w", err)
	}

	userAchievementsSQL := `
	CREATE TABLE IF NOT EXISTS user_achievements(
		user_id CHAR(64) NOT NULL,
		achievement_id VARCHAR(64) NOT NULL,
		points_awarded INT NOT NULL DEFAULT 0,
		earned_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, achievement_id)
	)`
	if _, err := d.db.Exec(userAchievementsSQL); err != nil {
		return fmt.Errorf("failed to create user_achievements table: %w", err)
	}
	log.Info("Badge and achievement tables created/verified")

	referralsSQL := `
	CREATE TABLE IF NOT EXISTS referrals(
		refkey VARCHAR(64) NOT NULL,
		refvalue CHAR(64) NOT NULL,
		PRIMARY KEY (refkey)
	)`
	if _, err := d.db.Exec(referralsSQL); err != nil {
		return fmt.Errorf("failed to create referrals table: %w", err)
	}
	log.Info("Referrals table created/verified")

	log.Info("Waste-ops database schema initialization completed")
	return nil
}
