package models

import (
	"fmt"
	"time"
)

// TaskStatus values; assigned -> in_progress -> completed, cancelled
// reachable from any non-terminal state.
type TaskStatus string

const (
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether the task can no longer change state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// Instruction is one ordered step of field work.
type Instruction struct {
	Step        int    `json:"step"`
	Description string `json:"description"`
	IsCompleted bool   `json:"is_completed"`
}

// Verification is the admin sign-off sub-record on a completed task.
type Verification struct {
	VerifiedBy string    `json:"verified_by"`
	VerifiedAt time.Time `json:"verified_at"`
	Notes      string    `json:"notes,omitempty"`
}

// Task is an administratively created unit of field work derived from a
// Report. Location is copied at creation, not live-linked.
type Task struct {
	ID          string `json:"id" db:"id"`
	ReportSeq   int64  `json:"report_seq" db:"report_seq"`
	AgentID     string `json:"agent_id" db:"agent_id"`
	AdminID     string `json:"admin_id" db:"admin_id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`

	Address   string  `json:"address,omitempty" db:"address"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Latitude  float64 `json:"latitude" db:"latitude"`

	Priority Priority   `json:"priority" db:"priority"`
	Status   TaskStatus `json:"status" db:"status"`
	DueDate  time.Time  `json:"due_date" db:"due_date"`

	EstimatedMinutes *int `json:"estimated_minutes,omitempty" db:"estimated_minutes"`
	ActualMinutes    *int `json:"actual_minutes,omitempty" db:"actual_minutes"`

	Instructions []Instruction `json:"instructions,omitempty" db:"instructions"`
	Equipment    []string      `json:"equipment,omitempty" db:"equipment"`
	BeforeImages []string      `json:"before_images,omitempty" db:"before_images"`
	AfterImages  []string      `json:"after_images,omitempty" db:"after_images"`

	Verification *Verification `json:"verification,omitempty" db:"-"`

	CompletionNotes string     `json:"completion_notes,omitempty" db:"completion_notes"`
	CancelReason    string     `json:"cancel_reason,omitempty" db:"cancel_reason"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// CompletionPercentage is derived from the instruction list, never stored.
func (t *Task) CompletionPercentage() float64 {
	if len(t.Instructions) == 0 {
		return 0
	}
	done := 0
	for _, ins := range t.Instructions {
		if ins.IsCompleted {
			done++
		}
	}
	return float64(done) / float64(len(t.Instructions)) * 100
}

// IsOverdue is computed at read time.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate.Before(now) && !t.Status.IsTerminal()
}

// DueDateFor returns the task due date for a priority when the admin did not
// supply one explicitly.
func DueDateFor(priority Priority, createdAt time.Time) time.Time {
	return createdAt.Add(PriorityHours(priority))
}

// ValidateCompletionNotes enforces the completion precondition shared by
// report and task completion.
func ValidateCompletionNotes(notes string) error {
	if notes == "" {
		return fmt.Errorf("%w: completion notes are required", ErrValidation)
	}
	return nil
}
