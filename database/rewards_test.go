package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"waste-ops-service/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jknair0/beforeeach"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
	d    *Database
)

func setUp() {
	db, mock, _ = sqlmock.New()
	d = New(db, 5*time.Second)
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestDailyLogin(t *testing.T) {
	it(func() {
		now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
		yesterday := now.Add(-24 * time.Hour)
		threeDaysAgo := now.Add(-72 * time.Hour)

		streakColumns := []string{"streak_count", "longest_streak", "last_login_date"}
		balanceColumns := []string{"reward_points"}

		testCases := []struct {
			name      string
			streak    int
			longest   int
			lastLogin *time.Time

			expectStreak  int
			expectLongest int
			expectPoints  int
			expectBadge   string
			badgeNew      bool
		}{
			{
				name:      "First login starts the streak",
				streak:    0,
				longest:   0,
				lastLogin: nil,

				expectStreak:  1,
				expectLongest: 1,
				expectPoints:  models.LoginBasePoints,
			},
			{
				name:      "Consecutive day reaching seven earns the weekly bonus",
				streak:    6,
				longest:   6,
				lastLogin: &yesterday,

				expectStreak:  7,
				expectLongest: 7,
				expectPoints:  models.LoginBasePoints + models.WeeklyStreakBonus,
			},
			{
				name:      "Gap resets the streak without touching the longest",
				streak:    12,
				longest:   12,
				lastLogin: &threeDaysAgo,

				expectStreak:  1,
				expectLongest: 12,
				expectPoints:  models.LoginBasePoints,
			},
			{
				name:      "Crossing thirty awards the master bonus and badge",
				streak:    29,
				longest:   29,
				lastLogin: &yesterday,

				expectStreak:  30,
				expectLongest: 30,
				expectPoints:  models.LoginBasePoints + models.StreakMasterBonus,
				expectBadge:   models.StreakMasterBadgeID,
				badgeNew:      true,
			},
		}

		for _, testCase := range testCases {
			setUp()
			balanceAfter := 100 + testCase.expectPoints

			var lastLogin interface{}
			if testCase.lastLogin != nil {
				lastLogin = *testCase.lastLogin
			}
			mock.ExpectBegin()
			mock.ExpectQuery("SELECT streak_count, longest_streak, last_login_date FROM users WHERE id = (.+) FOR UPDATE").
				WithArgs("user1").
				WillReturnRows(sqlmock.NewRows(streakColumns).
					AddRow(testCase.streak, testCase.longest, lastLogin))
			if testCase.expectBadge != "" {
				mock.ExpectExec("INSERT IGNORE INTO user_badges \\(user_id, badge_id\\) VALUES \\((.+), (.+)\\)").
					WithArgs("user1", testCase.expectBadge).
					WillReturnResult(sqlmock.NewResult(1, 1))
			}
			mock.ExpectExec("UPDATE users SET streak_count = (.+), longest_streak = (.+), last_login_date = (.+) WHERE id = (.+)").
				WithArgs(testCase.expectStreak, testCase.expectLongest, now.UTC(), "user1").
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectExec("UPDATE users SET reward_points = reward_points \\+ (.+) WHERE id = (.+)").
				WithArgs(testCase.expectPoints, "user1").
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectQuery("SELECT reward_points FROM users WHERE id = (.+)").
				WithArgs("user1").
				WillReturnRows(sqlmock.NewRows(balanceColumns).AddRow(balanceAfter))
			mock.ExpectExec("INTO reward_log").
				WithArgs(sqlmock.AnyArg(), "user1", string(models.ActionDailyLogin), testCase.expectPoints,
					sqlmock.AnyArg(), nil, nil, nil, nil, nil, nil, nil, balanceAfter).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()

			result, err := d.DailyLogin(context.Background(), "user1", now)
			if err != nil {
				t.Errorf("%s: unexpected error: %v", testCase.name, err)
				continue
			}
			expect := &LoginResult{
				StreakCount:   testCase.expectStreak,
				LongestStreak: testCase.expectLongest,
				PointsAwarded: testCase.expectPoints,
				BalanceAfter:  balanceAfter,
				BadgeEarned:   testCase.expectBadge,
			}
			if !reflect.DeepEqual(result, expect) {
				t.Errorf("%s: expected %+v, got %+v", testCase.name, expect, result)
			}
		}
	})
}

func TestDailyLoginSameDay(t *testing.T) {
	it(func() {
		now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
		earlier := now.Add(-4 * time.Hour)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT streak_count, longest_streak, last_login_date FROM users WHERE id = (.+) FOR UPDATE").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"streak_count", "longest_streak", "last_login_date"}).
				AddRow(7, 9, earlier))
		mock.ExpectQuery("SELECT reward_points FROM users WHERE id = (.+)").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"reward_points"}).AddRow(134))
		mock.ExpectRollback()

		result, err := d.DailyLogin(context.Background(), "user1", now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		expect := &LoginResult{StreakCount: 7, LongestStreak: 9, PointsAwarded: 0, BalanceAfter: 134}
		if !reflect.DeepEqual(result, expect) {
			t.Errorf("expected %+v, got %+v", expect, result)
		}
	})
}

func TestRedeemReward(t *testing.T) {
	it(func() {
		testCases := []struct {
			name      string
			itemID    string
			points    int
			requestID string

			available int
			sqlRuns   bool
			deducted  bool

			expectBalance int
			expectError   error
		}{
			{
				name:      "Successful redemption",
				itemID:    "tree_sapling",
				points:    100,
				requestID: "redeem-req-1",

				available: 250,
				sqlRuns:   true,
				deducted:  true,

				expectBalance: 150,
			},
			{
				name:      "Insufficient balance",
				itemID:    "tree_sapling",
				points:    100,
				requestID: "redeem-req-2",

				available: 80,
				sqlRuns:   true,
				deducted:  false,
			},
			{
				name:      "Unknown catalog item",
				itemID:    "golden_bin",
				points:    100,
				requestID: "redeem-req-3",

				expectError: models.ErrNotFound,
			},
			{
				name:      "Stale price rejected",
				itemID:    "tree_sapling",
				points:    90,
				requestID: "redeem-req-4",

				expectError: models.ErrValidation,
			},
			{
				name:   "Missing request id rejected",
				itemID: "tree_sapling",
				points: 100,

				expectError: models.ErrValidation,
			},
		}

		for _, testCase := range testCases {
			setUp()
			requestID := testCase.requestID
			if testCase.sqlRuns {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT balance_after FROM reward_log WHERE request_id = (.+)").
					WithArgs(requestID).
					WillReturnError(sql.ErrNoRows)
				if testCase.deducted {
					mock.ExpectExec("UPDATE users SET reward_points = reward_points - (.+) WHERE id = (.+) AND reward_points >= (.+)").
						WithArgs(testCase.points, "user1", testCase.points).
						WillReturnResult(sqlmock.NewResult(1, 1))
					mock.ExpectQuery("SELECT reward_points FROM users WHERE id = (.+)").
						WithArgs("user1").
						WillReturnRows(sqlmock.NewRows([]string{"reward_points"}).AddRow(testCase.expectBalance))
					mock.ExpectExec("INTO reward_log").
						WithArgs(sqlmock.AnyArg(), "user1", string(models.ActionPointsRedemption), -testCase.points,
							sqlmock.AnyArg(), nil, nil, nil, nil, nil, requestID, testCase.itemID, testCase.expectBalance).
						WillReturnResult(sqlmock.NewResult(1, 1))
					mock.ExpectCommit()
				} else {
					mock.ExpectExec("UPDATE users SET reward_points = reward_points - (.+) WHERE id = (.+) AND reward_points >= (.+)").
						WithArgs(testCase.points, "user1", testCase.points).
						WillReturnResult(sqlmock.NewResult(0, 0))
					mock.ExpectQuery("SELECT reward_points FROM users WHERE id = (.+)").
						WithArgs("user1").
						WillReturnRows(sqlmock.NewRows([]string{"reward_points"}).AddRow(testCase.available))
					mock.ExpectRollback()
				}
			}

			balance, err := d.RedeemReward(context.Background(), "user1", testCase.itemID, testCase.points, requestID)

			if testCase.expectError != nil {
				if !errors.Is(err, testCase.expectError) {
					t.Errorf("%s: expected %v, got %v", testCase.name, testCase.expectError, err)
				}
				continue
			}
			if testCase.sqlRuns && !testCase.deducted {
				var insufficient *models.InsufficientPointsError
				if !errors.As(err, &insufficient) {
					t.Errorf("%s: expected InsufficientPointsError, got %v", testCase.name, err)
					continue
				}
				if insufficient.Required != 100 || insufficient.Available != 80 || insufficient.Shortfall() != 20 {
					t.Errorf("%s: expected required 100, available 80, shortfall 20, got %+v",
						testCase.name, insufficient)
				}
				continue
			}
			if err != nil {
				t.Errorf("%s: unexpected error: %v", testCase.name, err)
				continue
			}
			if balance != testCase.expectBalance {
				t.Errorf("%s: expected balance %d, got %d", testCase.name, testCase.expectBalance, balance)
			}
		}
	})
}

func TestAdminAdjustment(t *testing.T) {
	it(func() {
		if _, err := d.AdminAdjustment(context.Background(), "admin1", "user1", 0, "noop", "adjust-req-0"); !errors.Is(err, models.ErrValidation) {
			t.Errorf("zero adjustment: expected validation error, got %v", err)
		}
		if _, err := d.AdminAdjustment(context.Background(), "admin1", "user1", 10, "noop", ""); !errors.Is(err, models.ErrValidation) {
			t.Errorf("missing request id: expected validation error, got %v", err)
		}

		// Negative adjustments take the guarded deduction path.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance_after FROM reward_log WHERE request_id = (.+)").
			WithArgs("adjust-req-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("UPDATE users SET reward_points = reward_points - (.+) WHERE id = (.+) AND reward_points >= (.+)").
			WithArgs(15, "user1", 15).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT reward_points FROM users WHERE id = (.+)").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"reward_points"}).AddRow(35))
		mock.ExpectExec("INTO reward_log").
			WithArgs(sqlmock.AnyArg(), "user1", string(models.ActionAdminAdjustment), -15,
				"manual correction", nil, nil, nil, nil, "admin1", "adjust-req-1", nil, 35).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		balance, err := d.AdminAdjustment(context.Background(), "admin1", "user1", -15, "manual correction", "adjust-req-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if balance != 35 {
			t.Errorf("expected balance 35, got %d", balance)
		}
	})
}

func TestRedeemRewardRetrySameRequest(t *testing.T) {
	it(func() {
		// The first attempt already committed; the retry finds the ledger
		// entry and returns its balance without touching the user row.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance_after FROM reward_log WHERE request_id = (.+)").
			WithArgs("redeem-req-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance_after"}).AddRow(150))
		mock.ExpectRollback()

		balance, err := d.RedeemReward(context.Background(), "user1", "tree_sapling", 100, "redeem-req-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if balance != 150 {
			t.Errorf("expected the original balance 150, got %d", balance)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("retry must not deduct again: %v", err)
		}
	})
}

func TestRedeemRewardDuplicateRace(t *testing.T) {
	it(func() {
		// A concurrent retry commits between our pre-check and our insert.
		// The unique index rejects the insert and we hand back the winner's
		// balance instead of an error.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT balance_after FROM reward_log WHERE request_id = (.+)").
			WithArgs("redeem-req-9").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("UPDATE users SET reward_points = reward_points - (.+) WHERE id = (.+) AND reward_points >= (.+)").
			WithArgs(100, "user1", 100).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT reward_points FROM users WHERE id = (.+)").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"reward_points"}).AddRow(150))
		mock.ExpectExec("INTO reward_log").
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
		mock.ExpectQuery("SELECT balance_after FROM reward_log WHERE request_id = (.+)").
			WithArgs("redeem-req-9").
			WillReturnRows(sqlmock.NewRows([]string{"balance_after"}).AddRow(150))
		mock.ExpectRollback()

		balance, err := d.RedeemReward(context.Background(), "user1", "tree_sapling", 100, "redeem-req-9")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if balance != 150 {
			t.Errorf("expected the committed balance 150, got %d", balance)
		}
	})
}

func TestAwardBadgeIdempotent(t *testing.T) {
	it(func() {
		testCases := []struct {
			name         string
			rowsAffected int64
			expectNew    bool
		}{
			{name: "First award", rowsAffected: 1, expectNew: true},
			{name: "Already held", rowsAffected: 0, expectNew: false},
		}

		for _, testCase := range testCases {
			setUp()
			mock.ExpectBegin()
			mock.ExpectExec("INSERT IGNORE INTO user_badges \\(user_id, badge_id\\) VALUES \\((.+), (.+)\\)").
				WithArgs("user1", "first_report").
				WillReturnResult(sqlmock.NewResult(1, testCase.rowsAffected))
			mock.ExpectCommit()

			awarded, err := d.AwardBadge(context.Background(), "user1", "first_report")
			if err != nil {
				t.Errorf("%s: unexpected error: %v", testCase.name, err)
				continue
			}
			if awarded != testCase.expectNew {
				t.Errorf("%s: expected awarded=%v, got %v", testCase.name, testCase.expectNew, awarded)
			}
		}
	})
}

func TestReconcileUserPoints(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(points\\), 0\\) FROM reward_log WHERE user_id = (.+) AND is_valid = true").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(420))
		mock.ExpectExec("UPDATE users SET reward_points = (.+) WHERE id = (.+)").
			WithArgs(420, "user1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		total, err := d.ReconcileUserPoints(context.Background(), "user1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if total != 420 {
			t.Errorf("expected rebuilt balance 420, got %d", total)
		}
	})
}

func TestDeductPointsMissingUser(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE users SET reward_points = reward_points - (.+) WHERE id = (.+) AND reward_points >= (.+)").
			WithArgs(10, "ghost", 10).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT reward_points FROM users WHERE id = (.+)").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := d.DeductPoints(context.Background(), "ghost", 10, models.ActionPointsRedemption, "x", LedgerMeta{})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestAddPointsRejectsNonPositive(t *testing.T) {
	it(func() {
		for _, amount := range []int{0, -5} {
			mock.ExpectBegin()
			mock.ExpectRollback()
			if _, err := d.AddPoints(context.Background(), "user1", amount,
				models.ActionAdminAdjustment, fmt.Sprintf("amount %d", amount), LedgerMeta{}); !errors.Is(err, models.ErrValidation) {
				t.Errorf("amount %d: expected validation error, got %v", amount, err)
			}
		}
	})
}
