package rabbitmq

import (
	"time"

	"waste-ops-service/models"

	"github.com/apex/log"
)

// ReportEvent is the payload for report lifecycle routing keys.
type ReportEvent struct {
	Seq       int64               `json:"seq"`
	ReportID  string              `json:"report_id"`
	CitizenID string              `json:"citizen_id"`
	WasteType models.WasteType    `json:"waste_type"`
	Priority  models.Priority     `json:"priority"`
	Status    models.ReportStatus `json:"status"`
	IsUrgent  bool                `json:"is_urgent"`
	Longitude float64             `json:"longitude"`
	Latitude  float64             `json:"latitude"`
	Timestamp time.Time           `json:"timestamp"`
}

// TaskEvent is the payload for task lifecycle routing keys.
type TaskEvent struct {
	TaskID    string            `json:"task_id"`
	ReportSeq int64             `json:"report_seq"`
	AgentID   string            `json:"agent_id"`
	Status    models.TaskStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// EmitReportEvent publishes a report lifecycle event. Failures are logged
// and dropped, the state change already committed.
func EmitReportEvent(p *Publisher, routingKey string, r *models.Report, now time.Time) {
	if p == nil {
		return
	}
	err := p.PublishWithRoutingKey(routingKey, ReportEvent{
		Seq:       r.Seq,
		ReportID:  r.ID,
		CitizenID: r.CitizenID,
		WasteType: r.WasteType,
		Priority:  r.Priority,
		Status:    r.Status,
		IsUrgent:  r.IsUrgent,
		Longitude: r.Longitude,
		Latitude:  r.Latitude,
		Timestamp: now.UTC(),
	})
	if err != nil {
		log.Errorf("Failed to publish %s for report %d: %v", routingKey, r.Seq, err)
	}
}

// EmitTaskEvent publishes a task lifecycle event, same drop-on-failure
// contract as EmitReportEvent.
func EmitTaskEvent(p *Publisher, routingKey string, t *models.Task, now time.Time) {
	if p == nil {
		return
	}
	err := p.PublishWithRoutingKey(routingKey, TaskEvent{
		TaskID:    t.ID,
		ReportSeq: t.ReportSeq,
		AgentID:   t.AgentID,
		Status:    t.Status,
		Timestamp: now.UTC(),
	})
	if err != nil {
		log.Errorf("Failed to publish %s for task %s: %v", routingKey, t.ID, err)
	}
}
