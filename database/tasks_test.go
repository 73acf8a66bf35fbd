package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"waste-ops-service/models"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateTask(t *testing.T) {
	it(func() {
		now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
		args := &CreateTaskArgs{
			ReportSeq: 7,
			AgentID:   "agent1",
			AdminID:   "admin1",
			Title:     "Clear the riverside dump",
		}

		mock.ExpectQuery("SELECT role FROM users WHERE id = (.+)").
			WithArgs("agent1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("agent"))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, priority, address, longitude, latitude FROM reports WHERE seq = (.+) FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status", "priority", "address", "longitude", "latitude"}).
				AddRow("pending", "high", "Bulevar Ivana 12", 19.26, 42.44))
		mock.ExpectExec("INTO tasks \\(id, report_seq, agent_id, admin_id, title").
			WithArgs(sqlmock.AnyArg(), int64(7), "agent1", "admin1", "Clear the riverside dump", "",
				"Bulevar Ivana 12", 19.26, 42.44, "high", "assigned",
				now.Add(6*time.Hour).UTC(), nil, []byte("null"), []byte("null"), []byte("null")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INTO tasks_geometry").
			WithArgs(sqlmock.AnyArg(), 19.26, 42.44).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT name FROM users WHERE id = (.+)").
			WithArgs("agent1").
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Agent One"))
		mock.ExpectExec("SET status = 'assigned', assigned_agent_id = (.+)").
			WithArgs("agent1", "Agent One", now.UTC(), now.Add(6*time.Hour).UTC(), int64(7), "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		task, err := d.CreateTask(context.Background(), args, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if task.Status != models.TaskAssigned {
			t.Errorf("expected assigned, got %s", task.Status)
		}
		if task.Priority != models.PriorityHigh {
			t.Errorf("expected priority copied from report, got %s", task.Priority)
		}
		if !task.DueDate.Equal(now.Add(6 * time.Hour)) {
			t.Errorf("expected due date from priority, got %v", task.DueDate)
		}
	})
}

func TestCreateTaskRejections(t *testing.T) {
	it(func() {
		now := time.Now()

		// Missing title fails before any SQL.
		_, err := d.CreateTask(context.Background(), &CreateTaskArgs{ReportSeq: 7, AgentID: "agent1"}, now)
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("missing title: expected validation error, got %v", err)
		}

		// A terminal report cannot take a task.
		mock.ExpectQuery("SELECT role FROM users WHERE id = (.+)").
			WithArgs("agent1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("agent"))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, priority, address, longitude, latitude FROM reports WHERE seq = (.+) FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"status", "priority", "address", "longitude", "latitude"}).
				AddRow("resolved", "high", "", 19.26, 42.44))
		mock.ExpectRollback()

		_, err = d.CreateTask(context.Background(),
			&CreateTaskArgs{ReportSeq: 7, AgentID: "agent1", AdminID: "admin1", Title: "Too late"}, now)
		if !errors.Is(err, models.ErrInvalidTransition) {
			t.Errorf("terminal report: expected invalid transition, got %v", err)
		}
	})
}

func TestStartTask(t *testing.T) {
	it(func() {
		now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

		testCases := []struct {
			name         string
			rowsAffected int64

			diagnoseStatus string
			diagnoseAgent  string

			expectError error
		}{
			{
				name:         "Owning agent starts the task",
				rowsAffected: 1,
			},
			{
				name:           "Cancelled task cannot start",
				rowsAffected:   0,
				diagnoseStatus: "cancelled",
				diagnoseAgent:  "agent1",
				expectError:    models.ErrInvalidTransition,
			},
			{
				name:           "Another agent's task",
				rowsAffected:   0,
				diagnoseStatus: "assigned",
				diagnoseAgent:  "agent2",
				expectError:    models.ErrForbidden,
			},
		}

		for _, testCase := range testCases {
			setUp()
			mock.ExpectExec("SET status = 'in_progress', started_at = (.+) WHERE id = (.+) AND agent_id = (.+) AND status = 'assigned'").
				WithArgs(now.UTC(), "task1", "agent1").
				WillReturnResult(sqlmock.NewResult(0, testCase.rowsAffected))
			if testCase.rowsAffected == 0 {
				mock.ExpectQuery("SELECT status, agent_id FROM tasks WHERE id = (.+)").
					WithArgs("task1").
					WillReturnRows(sqlmock.NewRows([]string{"status", "agent_id"}).
						AddRow(testCase.diagnoseStatus, testCase.diagnoseAgent))
			}

			err := d.StartTask(context.Background(), "task1", "agent1", now)
			if testCase.expectError == nil {
				if err != nil {
					t.Errorf("%s: unexpected error: %v", testCase.name, err)
				}
				continue
			}
			if !errors.Is(err, testCase.expectError) {
				t.Errorf("%s: expected %v, got %v", testCase.name, testCase.expectError, err)
			}
		}
	})
}

func TestCompleteTask(t *testing.T) {
	it(func() {
		now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
		startedAt := now.Add(-45 * time.Minute)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, agent_id, report_seq, started_at FROM tasks WHERE id = (.+) FOR UPDATE").
			WithArgs("task1").
			WillReturnRows(sqlmock.NewRows([]string{"status", "agent_id", "report_seq", "started_at"}).
				AddRow("in_progress", "agent1", int64(7), startedAt))
		mock.ExpectExec("SET status = 'completed', completed_at = (.+)").
			WithArgs(now.UTC(), 45, "Dump cleared, area raked", []byte(`["after.jpg"]`), "task1", "in_progress").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		task, err := d.CompleteTask(context.Background(), "task1", "agent1",
			"Dump cleared, area raked", []string{"after.jpg"}, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if task.Status != models.TaskCompleted {
			t.Errorf("expected completed, got %s", task.Status)
		}
		if task.ReportSeq != 7 {
			t.Errorf("expected linked report 7, got %d", task.ReportSeq)
		}
		if task.ActualMinutes == nil || *task.ActualMinutes != 45 {
			t.Errorf("expected 45 actual minutes, got %v", task.ActualMinutes)
		}
	})
}

func TestGetTaskCorruptJSON(t *testing.T) {
	it(func() {
		now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
		columns := []string{"id", "report_seq", "agent_id", "admin_id", "title", "description",
			"address", "longitude", "latitude", "priority", "status", "due_date",
			"estimated_minutes", "actual_minutes", "instructions", "equipment",
			"before_images", "after_images", "completion_notes", "cancel_reason",
			"verified_by", "verified_at", "verification_notes", "started_at", "completed_at", "created_at"}

		// A mangled instructions column must not sink the whole row; the
		// other JSON columns still decode.
		mock.ExpectQuery("SELECT (.+) FROM tasks WHERE id = (.+)").
			WithArgs("task1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("task1", int64(7), "agent1", "admin1", "Clear the riverside dump", nil,
					"Bulevar Ivana 12", 19.26, 42.44, "high", "assigned", now,
					nil, nil, `{"step": mangled`, `["gloves","shovel"]`,
					nil, nil, nil, "",
					nil, nil, nil, nil, nil, now))

		task, err := d.GetTask(context.Background(), "task1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if task.Instructions != nil {
			t.Errorf("expected no instructions from a corrupt column, got %v", task.Instructions)
		}
		if len(task.Equipment) != 2 || task.Equipment[0] != "gloves" {
			t.Errorf("expected equipment to survive, got %v", task.Equipment)
		}
	})
}

func TestUpdateInstructionStep(t *testing.T) {
	it(func() {
		stored := `[{"step":1,"description":"Photograph the site","is_completed":true},` +
			`{"step":2,"description":"Bag the waste","is_completed":false}]`
		updated := `[{"step":1,"description":"Photograph the site","is_completed":true},` +
			`{"step":2,"description":"Bag the waste","is_completed":true}]`

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT agent_id, instructions FROM tasks WHERE id = (.+) FOR UPDATE").
			WithArgs("task1").
			WillReturnRows(sqlmock.NewRows([]string{"agent_id", "instructions"}).AddRow("agent1", stored))
		mock.ExpectExec("UPDATE tasks SET instructions = (.+) WHERE id = (.+)").
			WithArgs([]byte(updated), "task1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := d.UpdateInstructionStep(context.Background(), "task1", "agent1", 2, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestUpdateInstructionStepMissingStep(t *testing.T) {
	it(func() {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT agent_id, instructions FROM tasks WHERE id = (.+) FOR UPDATE").
			WithArgs("task1").
			WillReturnRows(sqlmock.NewRows([]string{"agent_id", "instructions"}).
				AddRow("agent1", `[{"step":1,"description":"Only step","is_completed":false}]`))
		mock.ExpectCommit()

		// No matching step: committed unchanged, no UPDATE issued.
		err := d.UpdateInstructionStep(context.Background(), "task1", "agent1", 9, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestVerifyTaskCompletion(t *testing.T) {
	it(func() {
		now := time.Now()

		mock.ExpectExec("SET verified_by = (.+), verified_at = (.+), verification_notes = (.+) WHERE id = (.+) AND status = 'completed'").
			WithArgs("admin1", now.UTC(), "Looks clean", "task1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT status, agent_id FROM tasks WHERE id = (.+)").
			WithArgs("task1").
			WillReturnError(sql.ErrNoRows)

		err := d.VerifyTaskCompletion(context.Background(), "task1", "admin1", "Looks clean", now)
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}
