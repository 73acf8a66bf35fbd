package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"waste-ops-service/models"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// SubmitReportArgs carries a citizen submission with its classifier output.
type SubmitReportArgs struct {
	CitizenID      string
	Classification models.Classification
	Address        string
	Longitude      float64
	Latitude       float64
	Accuracy       *float64
	Description    string
	Image          []byte
}

// SubmitReport creates a report in pending state. The insert, its geometry
// row, the submission bonus ledger entry and any milestone badge are one
// transaction: if the ledger write fails the report is not committed.
func (d *Database) SubmitReport(ctx context.Context, args *SubmitReportArgs) (*models.Report, error) {
	if err := models.ValidateSubmission(args.Image, args.Longitude, args.Latitude, args.Description); err != nil {
		return nil, err
	}

	r := &models.Report{
		ID:          uuid.NewString(),
		CitizenID:   args.CitizenID,
		WasteType:   args.Classification.WasteType,
		Severity:    args.Classification.Severity,
		Confidence:  0.5,
		Address:     args.Address,
		Longitude:   args.Longitude,
		Latitude:    args.Latitude,
		Accuracy:    args.Accuracy,
		Description: args.Description,
		Image:       args.Image,
		Status:      models.ReportPending,
	}
	// Only a missing confidence falls back to the default; a reported
	// 0 is a legitimate score.
	if args.Classification.Confidence != nil {
		r.Confidence = *args.Classification.Confidence
	}
	r.Derive()

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, dbErr("submitReport", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `INSERT
	  INTO reports (id, citizen_id, waste_type, severity, confidence, severity_level, priority, health_risk, is_urgent,
	                address, longitude, latitude, accuracy, description, image, status)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CitizenID, string(r.WasteType), r.Severity, r.Confidence,
		string(r.SeverityLevel), string(r.Priority), string(r.HealthRisk), r.IsUrgent,
		r.Address, r.Longitude, r.Latitude, r.Accuracy, r.Description, r.Image, string(r.Status))
	logResult("submitReport", result, err)
	if err != nil {
		return nil, dbErr("submitReport", err)
	}
	r.Seq, err = result.LastInsertId()
	if err != nil {
		return nil, dbErr("submitReport", err)
	}

	result, err = tx.ExecContext(ctx, `INSERT
	  INTO reports_geometry (seq, geom)
	  VALUES (LAST_INSERT_ID(), ST_SRID(POINT(?, ?), 4326))`,
		r.Longitude, r.Latitude)
	logResult("submitReportGeometry", result, err)
	if err != nil {
		return nil, dbErr("submitReport", err)
	}

	if _, err := addPointsTx(ctx, tx, r.CitizenID, models.SubmissionPoints,
		models.ActionReportSubmission, "Report submitted", LedgerMeta{ReportSeq: &r.Seq}); err != nil {
		return nil, dbErr("submitReport", err)
	}

	if err := d.evaluateMilestonesTx(ctx, tx, r.CitizenID); err != nil {
		return nil, dbErr("submitReport", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, dbErr("submitReport", err)
	}
	return r, nil
}

// evaluateMilestonesTx awards the submission-count badge and achievement
// when the citizen's total matches a milestone. Idempotent under concurrent
// duplicate triggers through the INSERT IGNORE guards.
func (d *Database) evaluateMilestonesTx(ctx context.Context, tx *sql.Tx, citizenID string) error {
	var count int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE citizen_id = ?`, citizenID).Scan(&count); err != nil {
		return err
	}
	m := models.MilestoneFor(count)
	if m == nil {
		return nil
	}
	if _, err := awardBadgeTx(ctx, tx, citizenID, m.BadgeID); err != nil {
		return err
	}
	awarded, err := awardAchievementTx(ctx, tx, citizenID, m.Achievement)
	if err != nil {
		return err
	}
	if awarded {
		log.Infof("User %s reached %d submitted reports", citizenID, m.Count)
	}
	return nil
}

// AssignReport moves a non-terminal report to the assigned state and
// computes the completion ETA from its priority.
func (d *Database) AssignReport(ctx context.Context, seq int64, agentID, agentName string, now time.Time) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	role, err := d.GetUserRole(ctx, agentID)
	if err != nil {
		return err
	}
	if !role.CanFieldWork() {
		return fmt.Errorf("assignReport: %w: user %s cannot take field work", models.ErrValidation, agentID)
	}

	var (
		status   string
		priority string
	)
	err = d.db.QueryRowContext(ctx, `SELECT status, priority FROM reports WHERE seq = ?`, seq).
		Scan(&status, &priority)
	if err == sql.ErrNoRows {
		return fmt.Errorf("assignReport: %w: report %d", models.ErrNotFound, seq)
	}
	if err != nil {
		return dbErr("assignReport", err)
	}
	if models.ReportStatus(status).IsTerminal() {
		return fmt.Errorf("assignReport: %w: report %d is %s", models.ErrInvalidTransition, seq, status)
	}

	eta := now.Add(models.PriorityHours(models.Priority(priority)))
	res, err := d.db.ExecContext(ctx, `UPDATE reports
	  SET status = 'assigned', assigned_agent_id = ?, assigned_agent_name = ?, assigned_at = ?, estimated_completion_time = ?
	  WHERE seq = ? AND status = ?`,
		agentID, agentName, now.UTC(), eta.UTC(), seq, status)
	if err != nil {
		return dbErr("assignReport", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("assignReport", err)
	}
	if rows == 0 {
		return fmt.Errorf("assignReport: %w: report %d changed state concurrently", models.ErrConflict, seq)
	}
	return nil
}

// StartWork moves an assigned report to in_progress. The guarded update
// resolves racing agents: exactly one wins, the loser sees the precondition
// failure and started_at is set exactly once.
func (d *Database) StartWork(ctx context.Context, seq int64, agentID string, now time.Time) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE reports
	  SET status = 'in_progress', started_at = ?
	  WHERE seq = ? AND status = 'assigned' AND assigned_agent_id = ?`,
		now.UTC(), seq, agentID)
	if err != nil {
		return dbErr("startWork", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("startWork", err)
	}
	if rows == 0 {
		return d.diagnoseReportTransition(ctx, "startWork", seq, agentID, models.ReportAssigned)
	}
	return nil
}

// CompleteWork resolves a report and credits the filing citizen's
// resolution bonus in the same transaction.
func (d *Database) CompleteWork(ctx context.Context, seq int64, agentID, notes string,
	afterImages []string, actualQuantity *float64, now time.Time) error {
	if err := models.ValidateCompletionNotes(notes); err != nil {
		return err
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return dbErr("completeWork", err)
	}
	defer tx.Rollback()

	var (
		citizenID     string
		status        string
		assignedAgent string
		startedAt     sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT citizen_id, status, assigned_agent_id, started_at FROM reports WHERE seq = ? FOR UPDATE`,
		seq).Scan(&citizenID, &status, &assignedAgent, &startedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("completeWork: %w: report %d", models.ErrNotFound, seq)
	}
	if err != nil {
		return dbErr("completeWork", err)
	}
	if assignedAgent != agentID {
		return fmt.Errorf("completeWork: %w: report %d is not assigned to agent %s", models.ErrForbidden, seq, agentID)
	}
	st := models.ReportStatus(status)
	if st != models.ReportInProgress && st != models.ReportAssigned {
		return fmt.Errorf("completeWork: %w: report %d is %s", models.ErrInvalidTransition, seq, status)
	}

	var actualMinutes *int
	if startedAt.Valid {
		m := int(now.Sub(startedAt.Time).Minutes())
		actualMinutes = &m
	}
	imagesJSON, err := json.Marshal(afterImages)
	if err != nil {
		return fmt.Errorf("completeWork: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE reports
	  SET status = 'resolved', completed_at = ?, actual_completion_minutes = ?, completion_notes = ?, after_images = ?, actual_quantity = ?
	  WHERE seq = ? AND status = ?`,
		now.UTC(), actualMinutes, notes, imagesJSON, actualQuantity, seq, status)
	if err != nil {
		return dbErr("completeWork", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("completeWork", err)
	}
	if rows == 0 {
		return fmt.Errorf("completeWork: %w: report %d changed state concurrently", models.ErrConflict, seq)
	}

	if _, err := addPointsTx(ctx, tx, citizenID, models.ResolutionPoints,
		models.ActionReportValidation, "Report resolved", LedgerMeta{ReportSeq: &seq}); err != nil {
		return dbErr("completeWork", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("completeWork", err)
	}
	return nil
}

// RejectReport rejects a report from pending or assigned. No point effect.
func (d *Database) RejectReport(ctx context.Context, seq int64, reason string) error {
	if err := models.ValidateRejectReason(reason); err != nil {
		return err
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE reports
	  SET status = 'rejected', rejection_reason = ?
	  WHERE seq = ? AND status IN ('pending', 'assigned')`,
		reason, seq)
	if err != nil {
		return dbErr("rejectReport", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("rejectReport", err)
	}
	if rows == 0 {
		var status string
		err := d.db.QueryRowContext(ctx, `SELECT status FROM reports WHERE seq = ?`, seq).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("rejectReport: %w: report %d", models.ErrNotFound, seq)
		}
		if err != nil {
			return dbErr("rejectReport", err)
		}
		return fmt.Errorf("rejectReport: %w: report %d is %s", models.ErrInvalidTransition, seq, status)
	}
	return nil
}

// ValidateReport flips the audit flag independent of lifecycle state.
func (d *Database) ValidateReport(ctx context.Context, seq int64, validatorID string, now time.Time) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE reports
	  SET is_validated = true, validated_by = ?, validated_at = ?
	  WHERE seq = ?`,
		validatorID, now.UTC(), seq)
	if err != nil {
		return dbErr("validateReport", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("validateReport", err)
	}
	if rows == 0 {
		var n int
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE seq = ?`, seq).Scan(&n); err != nil {
			return dbErr("validateReport", err)
		}
		if n == 0 {
			return fmt.Errorf("validateReport: %w: report %d", models.ErrNotFound, seq)
		}
	}
	return nil
}

// DeleteReport is the explicit, irreversible admin delete.
func (d *Database) DeleteReport(ctx context.Context, seq int64) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("deleteReport", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE seq = ?`, seq)
	if err != nil {
		return dbErr("deleteReport", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("deleteReport", err)
	}
	if rows == 0 {
		return fmt.Errorf("deleteReport: %w: report %d", models.ErrNotFound, seq)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reports_geometry WHERE seq = ?`, seq); err != nil {
		return dbErr("deleteReport", err)
	}
	if err := tx.Commit(); err != nil {
		return dbErr("deleteReport", err)
	}
	return nil
}

// diagnoseReportTransition explains why a guarded transition affected no
// rows: missing report, wrong agent, or wrong state.
func (d *Database) diagnoseReportTransition(ctx context.Context, op string, seq int64,
	agentID string, wanted models.ReportStatus) error {
	var (
		status        string
		assignedAgent string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT status, assigned_agent_id FROM reports WHERE seq = ?`, seq).Scan(&status, &assignedAgent)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: %w: report %d", op, models.ErrNotFound, seq)
	}
	if err != nil {
		return dbErr(op, err)
	}
	if agentID != "" && assignedAgent != agentID {
		return fmt.Errorf("%s: %w: report %d is not assigned to agent %s", op, models.ErrForbidden, seq, agentID)
	}
	return fmt.Errorf("%s: %w: report %d is %s, wanted %s", op, models.ErrInvalidTransition, seq, status, wanted)
}

const reportColumns = `seq, id, citizen_id, waste_type, severity, confidence, severity_level, priority, health_risk, is_urgent,
	  address, longitude, latitude, accuracy, description, status, assigned_agent_id, assigned_agent_name,
	  assigned_at, started_at, completed_at, estimated_completion_time, actual_completion_minutes,
	  is_validated, validated_by, validated_at, rejection_reason, completion_notes, actual_quantity, ts`

func scanReport(row interface{ Scan(...any) error }) (*models.Report, error) {
	r := &models.Report{}
	var (
		wasteType, severityLevel, priority, healthRisk, status string
	)
	err := row.Scan(&r.Seq, &r.ID, &r.CitizenID, &wasteType, &r.Severity, &r.Confidence,
		&severityLevel, &priority, &healthRisk, &r.IsUrgent,
		&r.Address, &r.Longitude, &r.Latitude, &r.Accuracy, &r.Description, &status,
		&r.AssignedAgentID, &r.AssignedAgentName,
		&r.AssignedAt, &r.StartedAt, &r.CompletedAt, &r.EstimatedCompletionTime, &r.ActualCompletionMinutes,
		&r.IsValidated, &r.ValidatedBy, &r.ValidatedAt, &r.RejectionReason, &r.CompletionNotes,
		&r.ActualQuantity, &r.Timestamp)
	if err != nil {
		return nil, err
	}
	r.WasteType = models.WasteType(wasteType)
	r.SeverityLevel = models.SeverityLevel(severityLevel)
	r.Priority = models.Priority(priority)
	r.HealthRisk = models.HealthRisk(healthRisk)
	r.Status = models.ReportStatus(status)
	return r, nil
}

// GetReport loads one report without its image payload.
func (d *Database) GetReport(ctx context.Context, seq int64) (*models.Report, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	r, err := scanReport(d.db.QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE seq = ?`, seq))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("getReport: %w: report %d", models.ErrNotFound, seq)
	}
	if err != nil {
		return nil, dbErr("getReport", err)
	}
	return r, nil
}

// ListReportsByAgent serves the required "reports by assigned agent and
// status" lookup over its compound index.
func (d *Database) ListReportsByAgent(ctx context.Context, agentID string, status models.ReportStatus) ([]models.Report, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE assigned_agent_id = ? AND status = ? ORDER BY ts DESC`,
		agentID, string(status))
	if err != nil {
		return nil, dbErr("listReportsByAgent", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

// ListReportsByCitizen returns a citizen's own submissions.
func (d *Database) ListReportsByCitizen(ctx context.Context, citizenID string) ([]models.Report, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE citizen_id = ? ORDER BY ts DESC`, citizenID)
	if err != nil {
		return nil, dbErr("listReportsByCitizen", err)
	}
	defer rows.Close()
	return collectReports(rows)
}

func collectReports(rows *sql.Rows) ([]models.Report, error) {
	reports := make([]models.Report, 0)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			log.Errorf("Cannot scan a report row: %v", err)
			continue
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}
