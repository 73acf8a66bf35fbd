package models

import (
	"errors"
	"testing"
	"time"
)

func TestDerive(t *testing.T) {
	testCases := []struct {
		name      string
		wasteType WasteType
		severity  float64

		expectLevel    SeverityLevel
		expectPriority Priority
		expectRisk     HealthRisk
		expectUrgent   bool
	}{
		{
			name:      "Critical medical spill",
			wasteType: WasteMedical,
			severity:  9.5,

			expectLevel:    SeverityCritical,
			expectPriority: PriorityCritical,
			expectRisk:     HealthRiskCritical,
			expectUrgent:   true,
		},
		{
			name:      "Low severity medical still urgent",
			wasteType: WasteMedical,
			severity:  2,

			expectLevel:    SeverityLow,
			expectPriority: PriorityLow,
			expectRisk:     HealthRiskHigh,
			expectUrgent:   true,
		},
		{
			name:      "E-waste above risk threshold",
			wasteType: WasteEWaste,
			severity:  6,

			expectLevel:    SeverityHigh,
			expectPriority: PriorityMedium,
			expectRisk:     HealthRiskMedium,
			expectUrgent:   false,
		},
		{
			name:      "E-waste below risk threshold",
			wasteType: WasteEWaste,
			severity:  5.9,

			expectLevel:    SeverityHigh,
			expectPriority: PriorityMedium,
			expectRisk:     HealthRiskNone,
			expectUrgent:   false,
		},
		{
			name:      "Plastic at severity boundary nine",
			wasteType: WastePlastic,
			severity:  9,

			expectLevel:    SeverityCritical,
			expectPriority: PriorityCritical,
			expectRisk:     HealthRiskNone,
			expectUrgent:   true,
		},
		{
			name:      "Organic mid severity",
			wasteType: WasteOrganic,
			severity:  7,

			expectLevel:    SeverityVeryHigh,
			expectPriority: PriorityHigh,
			expectRisk:     HealthRiskNone,
			expectUrgent:   false,
		},
		{
			name:      "Mixed waste minimal severity",
			wasteType: WasteMixed,
			severity:  1,

			expectLevel:    SeverityLow,
			expectPriority: PriorityLow,
			expectRisk:     HealthRiskNone,
			expectUrgent:   false,
		},
	}

	for _, testCase := range testCases {
		r := &Report{WasteType: testCase.wasteType, Severity: testCase.severity}
		r.Derive()
		if r.SeverityLevel != testCase.expectLevel {
			t.Errorf("%s: severity level expected %s, got %s", testCase.name, testCase.expectLevel, r.SeverityLevel)
		}
		if r.Priority != testCase.expectPriority {
			t.Errorf("%s: priority expected %s, got %s", testCase.name, testCase.expectPriority, r.Priority)
		}
		if r.HealthRisk != testCase.expectRisk {
			t.Errorf("%s: health risk expected %s, got %s", testCase.name, testCase.expectRisk, r.HealthRisk)
		}
		if r.IsUrgent != testCase.expectUrgent {
			t.Errorf("%s: urgency expected %v, got %v", testCase.name, testCase.expectUrgent, r.IsUrgent)
		}
	}
}

func TestPriorityHours(t *testing.T) {
	testCases := []struct {
		priority Priority
		expect   time.Duration
	}{
		{PriorityCritical, 2 * time.Hour},
		{PriorityHigh, 6 * time.Hour},
		{PriorityMedium, 24 * time.Hour},
		{PriorityLow, 48 * time.Hour},
	}
	for _, testCase := range testCases {
		if got := PriorityHours(testCase.priority); got != testCase.expect {
			t.Errorf("%s: expected %v, got %v", testCase.priority, testCase.expect, got)
		}
	}
}

func TestReportStatusIsTerminal(t *testing.T) {
	terminal := map[ReportStatus]bool{
		ReportPending:    false,
		ReportAssigned:   false,
		ReportInProgress: false,
		ReportResolved:   true,
		ReportRejected:   true,
	}
	for status, expect := range terminal {
		if got := status.IsTerminal(); got != expect {
			t.Errorf("%s: expected terminal=%v, got %v", status, expect, got)
		}
	}
}

func TestValidateSubmission(t *testing.T) {
	image := []byte{1, 2, 3, 4}
	longDescription := make([]byte, 501)
	for i := range longDescription {
		longDescription[i] = 'a'
	}

	testCases := []struct {
		name        string
		image       []byte
		longitude   float64
		latitude    float64
		description string

		expectError bool
	}{
		{
			name:        "Valid submission",
			image:       image,
			longitude:   19.26,
			latitude:    42.44,
			description: "Overflowing bins near the market",
		},
		{
			name:        "Missing image",
			image:       nil,
			longitude:   19.26,
			latitude:    42.44,
			description: "Overflowing bins near the market",
			expectError: true,
		},
		{
			name:        "Longitude out of range",
			image:       image,
			longitude:   181,
			latitude:    42.44,
			description: "Overflowing bins near the market",
			expectError: true,
		},
		{
			name:        "Latitude out of range",
			image:       image,
			longitude:   19.26,
			latitude:    -90.5,
			description: "Overflowing bins near the market",
			expectError: true,
		},
		{
			name:        "Description too short",
			image:       image,
			longitude:   19.26,
			latitude:    42.44,
			description: "short",
			expectError: true,
		},
		{
			name:        "Description too long",
			image:       image,
			longitude:   19.26,
			latitude:    42.44,
			description: string(longDescription),
			expectError: true,
		},
	}

	for _, testCase := range testCases {
		err := ValidateSubmission(testCase.image, testCase.longitude, testCase.latitude, testCase.description)
		if testCase.expectError != (err != nil) {
			t.Errorf("%s: expected error: %v, got error: %v", testCase.name, testCase.expectError, err)
		}
		if err != nil && !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected a validation error, got %v", testCase.name, err)
		}
	}
}

func TestValidateRejectReason(t *testing.T) {
	if err := ValidateRejectReason(""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty reason: expected validation error, got %v", err)
	}
	long := make([]byte, 201)
	for i := range long {
		long[i] = 'x'
	}
	if err := ValidateRejectReason(string(long)); !errors.Is(err, ErrValidation) {
		t.Errorf("oversized reason: expected validation error, got %v", err)
	}
	if err := ValidateRejectReason("duplicate of report 42"); err != nil {
		t.Errorf("valid reason: unexpected error %v", err)
	}
}
