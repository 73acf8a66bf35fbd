package models

import (
	"fmt"
	"math"
	"time"
)

// WasteType is the classifier-assigned category of a report.
type WasteType string

const (
	WasteOrganic WasteType = "organic"
	WastePlastic WasteType = "plastic"
	WasteMedical WasteType = "medical"
	WasteEWaste  WasteType = "e_waste"
	WasteGlass   WasteType = "glass"
	WasteMetal   WasteType = "metal"
	WasteMixed   WasteType = "mixed"
	WasteOther   WasteType = "other"
)

// SeverityLevel is derived from the numeric severity, never set by callers.
type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "low"
	SeverityMedium   SeverityLevel = "medium"
	SeverityHigh     SeverityLevel = "high"
	SeverityVeryHigh SeverityLevel = "very_high"
	SeverityCritical SeverityLevel = "critical"
)

// Priority drives assignment ETAs and task due dates.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// HealthRisk is the derived public health classification.
type HealthRisk string

const (
	HealthRiskNone     HealthRisk = "none"
	HealthRiskLow      HealthRisk = "low"
	HealthRiskMedium   HealthRisk = "medium"
	HealthRiskHigh     HealthRisk = "high"
	HealthRiskCritical HealthRisk = "critical"
)

// ReportStatus values; pending -> assigned -> in_progress -> resolved,
// rejected reachable from pending or assigned. resolved/rejected are terminal.
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportAssigned   ReportStatus = "assigned"
	ReportInProgress ReportStatus = "in_progress"
	ReportResolved   ReportStatus = "resolved"
	ReportRejected   ReportStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportResolved || s == ReportRejected
}

// Report represents a citizen-submitted waste incident
type Report struct {
	Seq       int64     `json:"seq" db:"seq"`
	ID        string    `json:"id" db:"id"`
	CitizenID string    `json:"citizen_id" db:"citizen_id"`
	WasteType WasteType `json:"waste_type" db:"waste_type"`

	Severity   float64 `json:"severity" db:"severity"`
	Confidence float64 `json:"confidence" db:"confidence"`

	// Derived classification, recomputed from Severity and WasteType
	// before every persistence.
	SeverityLevel SeverityLevel `json:"severity_level" db:"severity_level"`
	Priority      Priority      `json:"priority" db:"priority"`
	HealthRisk    HealthRisk    `json:"health_risk" db:"health_risk"`
	IsUrgent      bool          `json:"is_urgent" db:"is_urgent"`

	Address     string   `json:"address,omitempty" db:"address"`
	Longitude   float64  `json:"longitude" db:"longitude"`
	Latitude    float64  `json:"latitude" db:"latitude"`
	Accuracy    *float64 `json:"accuracy,omitempty" db:"accuracy"`
	Description string   `json:"description" db:"description"`
	Image       []byte   `json:"-" db:"image"`

	Status                  ReportStatus `json:"status" db:"status"`
	AssignedAgentID         string       `json:"assigned_agent_id,omitempty" db:"assigned_agent_id"`
	AssignedAgentName       string       `json:"assigned_agent_name,omitempty" db:"assigned_agent_name"`
	AssignedAt              *time.Time   `json:"assigned_at,omitempty" db:"assigned_at"`
	StartedAt               *time.Time   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt             *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	EstimatedCompletionTime *time.Time   `json:"estimated_completion_time,omitempty" db:"estimated_completion_time"`
	ActualCompletionMinutes *int         `json:"actual_completion_minutes,omitempty" db:"actual_completion_minutes"`

	IsValidated bool       `json:"is_validated" db:"is_validated"`
	ValidatedBy string     `json:"validated_by,omitempty" db:"validated_by"`
	ValidatedAt *time.Time `json:"validated_at,omitempty" db:"validated_at"`

	RejectionReason string   `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CompletionNotes string   `json:"completion_notes,omitempty" db:"completion_notes"`
	AfterImages     []string `json:"after_images,omitempty" db:"after_images"`
	ActualQuantity  *float64 `json:"actual_quantity,omitempty" db:"actual_quantity"`

	Timestamp time.Time `json:"ts" db:"ts"`
}

// Classification is the classifier adapter's output for an image. A nil
// Confidence means the classifier reported none; an explicit 0 is a real
// score and is kept as-is.
type Classification struct {
	WasteType  WasteType `json:"waste_type"`
	Severity   float64   `json:"severity"`
	Confidence *float64  `json:"confidence,omitempty"`
}

// DeriveSeverityLevel maps the numeric severity to its level bucket.
func DeriveSeverityLevel(severity float64) SeverityLevel {
	switch {
	case severity >= 9:
		return SeverityCritical
	case severity >= 7:
		return SeverityVeryHigh
	case severity >= 5:
		return SeverityHigh
	case severity >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// DerivePriority maps the numeric severity to an assignment priority.
func DerivePriority(severity float64) Priority {
	switch {
	case severity >= 9:
		return PriorityCritical
	case severity >= 7:
		return PriorityHigh
	case severity >= 3:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// DeriveHealthRisk computes the public health risk. Medical waste is always
// at least High, Critical from severity 7. E-waste becomes a Medium risk
// from severity 6. Everything else carries no specific health risk.
func DeriveHealthRisk(wasteType WasteType, severity float64) HealthRisk {
	switch wasteType {
	case WasteMedical:
		if severity >= 7 {
			return HealthRiskCritical
		}
		return HealthRiskHigh
	case WasteEWaste:
		if severity >= 6 {
			return HealthRiskMedium
		}
	}
	return HealthRiskNone
}

// DeriveUrgency reports whether the incident needs immediate dispatch.
func DeriveUrgency(wasteType WasteType, severity float64) bool {
	return severity >= 9 || wasteType == WasteMedical
}

// Derive recomputes all classification-derived fields in place.
func (r *Report) Derive() {
	r.SeverityLevel = DeriveSeverityLevel(r.Severity)
	r.Priority = DerivePriority(r.Severity)
	r.HealthRisk = DeriveHealthRisk(r.WasteType, r.Severity)
	r.IsUrgent = DeriveUrgency(r.WasteType, r.Severity)
}

// PriorityHours returns the completion window for a priority, used both for
// report ETAs and task due dates.
func PriorityHours(p Priority) time.Duration {
	switch p {
	case PriorityCritical:
		return 2 * time.Hour
	case PriorityHigh:
		return 6 * time.Hour
	case PriorityMedium:
		return 24 * time.Hour
	default:
		return 48 * time.Hour
	}
}

const (
	minDescriptionLen  = 10
	maxDescriptionLen  = 500
	maxRejectReasonLen = 200
)

// ValidateSubmission checks the submit preconditions: image present, finite
// in-range coordinates, description length within bounds.
func ValidateSubmission(image []byte, longitude, latitude float64, description string) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: image is required", ErrValidation)
	}
	if err := ValidateCoordinates(longitude, latitude); err != nil {
		return err
	}
	if l := len(description); l < minDescriptionLen || l > maxDescriptionLen {
		return fmt.Errorf("%w: description must be %d-%d characters, got %d",
			ErrValidation, minDescriptionLen, maxDescriptionLen, l)
	}
	return nil
}

// ValidateCoordinates rejects non-finite or out-of-range lon/lat pairs.
func ValidateCoordinates(longitude, latitude float64) error {
	if math.IsNaN(longitude) || math.IsInf(longitude, 0) ||
		math.IsNaN(latitude) || math.IsInf(latitude, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrValidation)
	}
	if longitude < -180 || longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range [-180,180]", ErrValidation, longitude)
	}
	if latitude < -90 || latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range [-90,90]", ErrValidation, latitude)
	}
	return nil
}

// ValidateRejectReason enforces the reject precondition.
func ValidateRejectReason(reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}
	if len(reason) > maxRejectReasonLen {
		return fmt.Errorf("%w: rejection reason must be at most %d characters", ErrValidation, maxRejectReasonLen)
	}
	return nil
}
