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

// CreateTaskArgs carries the admin's task creation request.
type CreateTaskArgs struct {
	ReportSeq        int64
	AgentID          string
	AdminID          string
	Title            string
	Description      string
	DueDate          *time.Time
	EstimatedMinutes *int
	Instructions     []models.Instruction
	Equipment        []string
	BeforeImages     []string
}

// CreateTask creates a task in assigned state and transitions the linked
// report to assigned in the same transaction. Location and priority are
// copied from the report at creation; there is no live link afterwards.
func (d *Database) CreateTask(ctx context.Context, args *CreateTaskArgs, now time.Time) (*models.Task, error) {
	if args.Title == "" {
		return nil, fmt.Errorf("createTask: %w: title is required", models.ErrValidation)
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	role, err := d.GetUserRole(ctx, args.AgentID)
	if err != nil {
		return nil, err
	}
	if !role.CanFieldWork() {
		return nil, fmt.Errorf("createTask: %w: user %s cannot take field work", models.ErrValidation, args.AgentID)
	}

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, dbErr("createTask", err)
	}
	defer tx.Rollback()

	var (
		status   string
		priority string
		address  string
		lon, lat float64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, priority, address, longitude, latitude FROM reports WHERE seq = ? FOR UPDATE`,
		args.ReportSeq).Scan(&status, &priority, &address, &lon, &lat)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("createTask: %w: report %d", models.ErrNotFound, args.ReportSeq)
	}
	if err != nil {
		return nil, dbErr("createTask", err)
	}
	if models.ReportStatus(status).IsTerminal() {
		return nil, fmt.Errorf("createTask: %w: report %d is %s", models.ErrInvalidTransition, args.ReportSeq, status)
	}

	t := &models.Task{
		ID:               uuid.NewString(),
		ReportSeq:        args.ReportSeq,
		AgentID:          args.AgentID,
		AdminID:          args.AdminID,
		Title:            args.Title,
		Description:      args.Description,
		Address:          address,
		Longitude:        lon,
		Latitude:         lat,
		Priority:         models.Priority(priority),
		Status:           models.TaskAssigned,
		EstimatedMinutes: args.EstimatedMinutes,
		Instructions:     args.Instructions,
		Equipment:        args.Equipment,
		BeforeImages:     args.BeforeImages,
		CreatedAt:        now,
	}
	if args.DueDate != nil {
		t.DueDate = *args.DueDate
	} else {
		t.DueDate = models.DueDateFor(t.Priority, now)
	}

	instructionsJSON, err := json.Marshal(t.Instructions)
	if err != nil {
		return nil, fmt.Errorf("createTask: %w", err)
	}
	equipmentJSON, err := json.Marshal(t.Equipment)
	if err != nil {
		return nil, fmt.Errorf("createTask: %w", err)
	}
	beforeJSON, err := json.Marshal(t.BeforeImages)
	if err != nil {
		return nil, fmt.Errorf("createTask: %w", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT
	  INTO tasks (id, report_seq, agent_id, admin_id, title, description, address, longitude, latitude,
	              priority, status, due_date, estimated_minutes, instructions, equipment, before_images)
	  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ReportSeq, t.AgentID, t.AdminID, t.Title, t.Description, t.Address, t.Longitude, t.Latitude,
		string(t.Priority), string(t.Status), t.DueDate.UTC(), t.EstimatedMinutes,
		instructionsJSON, equipmentJSON, beforeJSON)
	logResult("createTask", res, err)
	if err != nil {
		return nil, dbErr("createTask", err)
	}

	res, err = tx.ExecContext(ctx, `INSERT
	  INTO tasks_geometry (task_id, geom)
	  VALUES (?, ST_SRID(POINT(?, ?), 4326))`,
		t.ID, t.Longitude, t.Latitude)
	logResult("createTaskGeometry", res, err)
	if err != nil {
		return nil, dbErr("createTask", err)
	}

	eta := now.Add(models.PriorityHours(t.Priority))
	agentName, err := d.userNameTx(ctx, tx, args.AgentID)
	if err != nil {
		return nil, dbErr("createTask", err)
	}
	res, err = tx.ExecContext(ctx, `UPDATE reports
	  SET status = 'assigned', assigned_agent_id = ?, assigned_agent_name = ?, assigned_at = ?, estimated_completion_time = ?
	  WHERE seq = ? AND status = ?`,
		args.AgentID, agentName, now.UTC(), eta.UTC(), args.ReportSeq, status)
	if err != nil {
		return nil, dbErr("createTask", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, dbErr("createTask", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("createTask: %w: report %d changed state concurrently", models.ErrConflict, args.ReportSeq)
	}

	if err := tx.Commit(); err != nil {
		return nil, dbErr("createTask", err)
	}
	return t, nil
}

func (d *Database) userNameTx(ctx context.Context, tx *sql.Tx, userID string) (string, error) {
	var name string
	err := tx.QueryRowContext(ctx, `SELECT name FROM users WHERE id = ?`, userID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	return name, err
}

// StartTask moves an assigned task to in_progress for its owning agent.
func (d *Database) StartTask(ctx context.Context, taskID, agentID string, now time.Time) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE tasks
	  SET status = 'in_progress', started_at = ?
	  WHERE id = ? AND agent_id = ? AND status = 'assigned'`,
		now.UTC(), taskID, agentID)
	if err != nil {
		return dbErr("startTask", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("startTask", err)
	}
	if rows == 0 {
		return d.diagnoseTaskTransition(ctx, "startTask", taskID, agentID, models.TaskAssigned)
	}
	return nil
}

// CompleteTask completes a task. The linked report is a separate aggregate:
// the caller drives Report.CompleteWork afterwards and retries it on
// partial failure.
func (d *Database) CompleteTask(ctx context.Context, taskID, agentID, notes string,
	afterImages []string, now time.Time) (*models.Task, error) {
	if err := models.ValidateCompletionNotes(notes); err != nil {
		return nil, err
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, dbErr("completeTask", err)
	}
	defer tx.Rollback()

	var (
		status    string
		taskAgent string
		reportSeq int64
		startedAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, agent_id, report_seq, started_at FROM tasks WHERE id = ? FOR UPDATE`,
		taskID).Scan(&status, &taskAgent, &reportSeq, &startedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("completeTask: %w: task %s", models.ErrNotFound, taskID)
	}
	if err != nil {
		return nil, dbErr("completeTask", err)
	}
	if taskAgent != agentID {
		return nil, fmt.Errorf("completeTask: %w: task %s belongs to another agent", models.ErrForbidden, taskID)
	}
	st := models.TaskStatus(status)
	if st != models.TaskInProgress && st != models.TaskAssigned {
		return nil, fmt.Errorf("completeTask: %w: task %s is %s", models.ErrInvalidTransition, taskID, status)
	}

	var actualMinutes *int
	if startedAt.Valid {
		m := int(now.Sub(startedAt.Time).Minutes())
		actualMinutes = &m
	}
	imagesJSON, err := json.Marshal(afterImages)
	if err != nil {
		return nil, fmt.Errorf("completeTask: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE tasks
	  SET status = 'completed', completed_at = ?, actual_minutes = ?, completion_notes = ?, after_images = ?
	  WHERE id = ? AND status = ?`,
		now.UTC(), actualMinutes, notes, imagesJSON, taskID, status)
	if err != nil {
		return nil, dbErr("completeTask", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, dbErr("completeTask", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("completeTask: %w: task %s changed state concurrently", models.ErrConflict, taskID)
	}

	if err := tx.Commit(); err != nil {
		return nil, dbErr("completeTask", err)
	}
	completedAt := now
	return &models.Task{
		ID:            taskID,
		ReportSeq:     reportSeq,
		AgentID:       agentID,
		Status:        models.TaskCompleted,
		ActualMinutes: actualMinutes,
		CompletedAt:   &completedAt,
	}, nil
}

// CancelTask cancels a non-terminal task.
func (d *Database) CancelTask(ctx context.Context, taskID, reason string) error {
	if err := models.ValidateRejectReason(reason); err != nil {
		return err
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE tasks
	  SET status = 'cancelled', cancel_reason = ?
	  WHERE id = ? AND status IN ('assigned', 'in_progress')`,
		reason, taskID)
	if err != nil {
		return dbErr("cancelTask", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("cancelTask", err)
	}
	if rows == 0 {
		return d.diagnoseTaskTransition(ctx, "cancelTask", taskID, "", models.TaskAssigned)
	}
	return nil
}

// VerifyTaskCompletion records the admin sign-off on a completed task
// without changing its status.
func (d *Database) VerifyTaskCompletion(ctx context.Context, taskID, verifierID, notes string, now time.Time) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `UPDATE tasks
	  SET verified_by = ?, verified_at = ?, verification_notes = ?
	  WHERE id = ? AND status = 'completed'`,
		verifierID, now.UTC(), notes, taskID)
	if err != nil {
		return dbErr("verifyTask", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return dbErr("verifyTask", err)
	}
	if rows == 0 {
		return d.diagnoseTaskTransition(ctx, "verifyTask", taskID, "", models.TaskCompleted)
	}
	return nil
}

// UpdateInstructionStep toggles one instruction's completion flag for the
// owning agent. A missing step number is a no-op.
func (d *Database) UpdateInstructionStep(ctx context.Context, taskID, agentID string, step int, isCompleted bool) error {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return dbErr("updateInstructionStep", err)
	}
	defer tx.Rollback()

	var (
		taskAgent        string
		instructionsJSON sql.NullString
	)
	err = tx.QueryRowContext(ctx,
		`SELECT agent_id, instructions FROM tasks WHERE id = ? FOR UPDATE`, taskID).
		Scan(&taskAgent, &instructionsJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("updateInstructionStep: %w: task %s", models.ErrNotFound, taskID)
	}
	if err != nil {
		return dbErr("updateInstructionStep", err)
	}
	if taskAgent != agentID {
		return fmt.Errorf("updateInstructionStep: %w: task %s belongs to another agent", models.ErrForbidden, taskID)
	}

	var instructions []models.Instruction
	if instructionsJSON.Valid && instructionsJSON.String != "" {
		if err := json.Unmarshal([]byte(instructionsJSON.String), &instructions); err != nil {
			return fmt.Errorf("updateInstructionStep: %w", err)
		}
	}
	found := false
	for i := range instructions {
		if instructions[i].Step == step {
			instructions[i].IsCompleted = isCompleted
			found = true
			break
		}
	}
	if !found {
		log.Warnf("Task %s has no instruction step %d, leaving unchanged", taskID, step)
		return tx.Commit()
	}

	updated, err := json.Marshal(instructions)
	if err != nil {
		return fmt.Errorf("updateInstructionStep: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET instructions = ? WHERE id = ?`, updated, taskID)
	logResult("updateInstructionStep", res, err)
	if err != nil {
		return dbErr("updateInstructionStep", err)
	}
	return tx.Commit()
}

// diagnoseTaskTransition explains why a guarded task transition affected no
// rows.
func (d *Database) diagnoseTaskTransition(ctx context.Context, op, taskID, agentID string, wanted models.TaskStatus) error {
	var (
		status    string
		taskAgent string
	)
	err := d.db.QueryRowContext(ctx, `SELECT status, agent_id FROM tasks WHERE id = ?`, taskID).
		Scan(&status, &taskAgent)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s: %w: task %s", op, models.ErrNotFound, taskID)
	}
	if err != nil {
		return dbErr(op, err)
	}
	if agentID != "" && taskAgent != agentID {
		return fmt.Errorf("%s: %w: task %s belongs to another agent", op, models.ErrForbidden, taskID)
	}
	return fmt.Errorf("%s: %w: task %s is %s, wanted %s", op, models.ErrInvalidTransition, taskID, status, wanted)
}

const taskColumns = `id, report_seq, agent_id, admin_id, title, description, address, longitude, latitude,
	  priority, status, due_date, estimated_minutes, actual_minutes, instructions, equipment,
	  before_images, after_images, completion_notes, cancel_reason, verified_by, verified_at,
	  verification_notes, started_at, completed_at, created_at`

// decodeTaskJSON fills dest from a JSON column. A corrupt value is logged
// and leaves dest empty rather than failing the whole row.
func decodeTaskJSON(taskID, column string, raw sql.NullString, dest any) {
	if !raw.Valid || raw.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw.String), dest); err != nil {
		log.Errorf("Cannot decode %s for task %s: %v", column, taskID, err)
	}
}

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	var (
		priority, status                               string
		instructions, equipment, beforeImgs, afterImgs sql.NullString
		verifiedBy, verificationNotes                  sql.NullString
		verifiedAt                                     sql.NullTime
		description, completionNotes                   sql.NullString
	)
	err := row.Scan(&t.ID, &t.ReportSeq, &t.AgentID, &t.AdminID, &t.Title, &description,
		&t.Address, &t.Longitude, &t.Latitude, &priority, &status, &t.DueDate,
		&t.EstimatedMinutes, &t.ActualMinutes, &instructions, &equipment,
		&beforeImgs, &afterImgs, &completionNotes, &t.CancelReason,
		&verifiedBy, &verifiedAt, &verificationNotes, &t.StartedAt, &t.CompletedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Priority = models.Priority(priority)
	t.Status = models.TaskStatus(status)
	t.Description = description.String
	t.CompletionNotes = completionNotes.String
	decodeTaskJSON(t.ID, "instructions", instructions, &t.Instructions)
	decodeTaskJSON(t.ID, "equipment", equipment, &t.Equipment)
	decodeTaskJSON(t.ID, "before_images", beforeImgs, &t.BeforeImages)
	decodeTaskJSON(t.ID, "after_images", afterImgs, &t.AfterImages)
	if verifiedBy.String != "" && verifiedAt.Valid {
		t.Verification = &models.Verification{
			VerifiedBy: verifiedBy.String,
			VerifiedAt: verifiedAt.Time,
			Notes:      verificationNotes.String,
		}
	}
	return t, nil
}

// GetTask loads one task.
func (d *Database) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	t, err := scanTask(d.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("getTask: %w: task %s", models.ErrNotFound, taskID)
	}
	if err != nil {
		return nil, dbErr("getTask", err)
	}
	return t, nil
}

// ListTasksByAgent serves an agent's work queue over the compound index.
func (d *Database) ListTasksByAgent(ctx context.Context, agentID string, status models.TaskStatus) ([]models.Task, error) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE agent_id = ? AND status = ? ORDER BY due_date ASC`,
		agentID, string(status))
	if err != nil {
		return nil, dbErr("listTasksByAgent", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			log.Errorf("Cannot scan a task row: %v", err)
			continue
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
