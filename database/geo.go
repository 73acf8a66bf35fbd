package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"waste-ops-service/models"

	"github.com/apex/log"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const earthRadiusMeters = 6371010.0

// geoBounds is the lat/lng bounding rectangle of a radius around a point,
// used to prefilter candidates before the exact spherical distance check.
type geoBounds struct {
	latMin, latMax float64
	lonMin, lonMax float64
	wraps          bool // antimeridian crossing; skip the longitude filter
}

// boundsForRadius computes the s2 cap around a center and returns its
// rect bound in degrees.
func boundsForRadius(longitude, latitude, radiusMeters float64) geoBounds {
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(latitude, longitude))
	c := s2.CapFromCenterAngle(center, s1.Angle(radiusMeters/earthRadiusMeters))
	rect := c.RectBound()

	b := geoBounds{
		latMin: s1.Angle(rect.Lat.Lo).Degrees(),
		latMax: s1.Angle(rect.Lat.Hi).Degrees(),
		lonMin: s1.Angle(rect.Lng.Lo).Degrees(),
		lonMax: s1.Angle(rect.Lng.Hi).Degrees(),
	}
	if rect.Lng.IsFull() || b.lonMin > b.lonMax {
		b.wraps = true
	}
	return b
}

// ReportDistance is a report with its distance from the query point.
type ReportDistance struct {
	Report         models.Report `json:"report"`
	DistanceMeters float64       `json:"distance_meters"`
}

// TaskDistance is a task with its distance from the query point.
type TaskDistance struct {
	Task           models.Task `json:"task"`
	DistanceMeters float64     `json:"distance_meters"`
}

// AgentDistance is an agent's position with its distance from the query
// point.
type AgentDistance struct {
	AgentID        string  `json:"agent_id"`
	Name           string  `json:"name"`
	Longitude      float64 `json:"longitude"`
	Latitude       float64 `json:"latitude"`
	DistanceMeters float64 `json:"distance_meters"`
}

// NearbyReports returns reports within radiusKm of a point, nearest first.
// Reads run against the spatial index and may lag concurrent writes.
func (d *Database) NearbyReports(ctx context.Context, longitude, latitude, radiusKm float64, limit int) ([]ReportDistance, error) {
	if err := models.ValidateCoordinates(longitude, latitude); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("nearbyReports: %w: radius must be positive", models.ErrValidation)
	}
	if limit <= 0 {
		limit = 100
	}
	radiusMeters := radiusKm * 1000
	b := boundsForRadius(longitude, latitude, radiusMeters)

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	query := `
	  SELECT r.` + reportColumns + `,
	         ST_Distance_Sphere(g.geom, ST_SRID(POINT(?, ?), 4326)) AS dist
	  FROM reports r
	  JOIN reports_geometry g ON r.seq = g.seq
	  WHERE r.latitude BETWEEN ? AND ?`
	params := []any{longitude, latitude, b.latMin, b.latMax}
	if !b.wraps {
		query += ` AND r.longitude BETWEEN ? AND ?`
		params = append(params, b.lonMin, b.lonMax)
	}
	query += `
	  HAVING dist <= ?
	  ORDER BY dist ASC
	  LIMIT ?`
	params = append(params, radiusMeters, limit)

	rows, err := d.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, dbErr("nearbyReports", err)
	}
	defer rows.Close()

	results := make([]ReportDistance, 0, limit)
	for rows.Next() {
		rd := ReportDistance{}
		r := &rd.Report
		var wasteType, severityLevel, priority, healthRisk, status string
		err := rows.Scan(&r.Seq, &r.ID, &r.CitizenID, &wasteType, &r.Severity, &r.Confidence,
			&severityLevel, &priority, &healthRisk, &r.IsUrgent,
			&r.Address, &r.Longitude, &r.Latitude, &r.Accuracy, &r.Description, &status,
			&r.AssignedAgentID, &r.AssignedAgentName,
			&r.AssignedAt, &r.StartedAt, &r.CompletedAt, &r.EstimatedCompletionTime, &r.ActualCompletionMinutes,
			&r.IsValidated, &r.ValidatedBy, &r.ValidatedAt, &r.RejectionReason, &r.CompletionNotes,
			&r.ActualQuantity, &r.Timestamp, &rd.DistanceMeters)
		if err != nil {
			log.Errorf("Cannot scan a nearby report row: %v", err)
			continue
		}
		r.WasteType = models.WasteType(wasteType)
		r.SeverityLevel = models.SeverityLevel(severityLevel)
		r.Priority = models.Priority(priority)
		r.HealthRisk = models.HealthRisk(healthRisk)
		r.Status = models.ReportStatus(status)
		results = append(results, rd)
	}
	return results, rows.Err()
}

// NearbyTasks returns open tasks within radiusKm of a point, nearest first.
func (d *Database) NearbyTasks(ctx context.Context, longitude, latitude, radiusKm float64, limit int) ([]TaskDistance, error) {
	if err := models.ValidateCoordinates(longitude, latitude); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("nearbyTasks: %w: radius must be positive", models.ErrValidation)
	}
	if limit <= 0 {
		limit = 100
	}
	radiusMeters := radiusKm * 1000
	b := boundsForRadius(longitude, latitude, radiusMeters)

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	query := `
	  SELECT ` + taskColumns + `,
	         ST_Distance_Sphere(g.geom, ST_SRID(POINT(?, ?), 4326)) AS dist
	  FROM tasks t
	  JOIN tasks_geometry g ON t.id = g.task_id
	  WHERE t.status IN ('assigned', 'in_progress')
	    AND t.latitude BETWEEN ? AND ?`
	params := []any{longitude, latitude, b.latMin, b.latMax}
	if !b.wraps {
		query += ` AND t.longitude BETWEEN ? AND ?`
		params = append(params, b.lonMin, b.lonMax)
	}
	query += `
	  HAVING dist <= ?
	  ORDER BY dist ASC
	  LIMIT ?`
	params = append(params, radiusMeters, limit)

	rows, err := d.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, dbErr("nearbyTasks", err)
	}
	defer rows.Close()

	results := make([]TaskDistance, 0, limit)
	for rows.Next() {
		td := TaskDistance{}
		t, scanErr := scanTaskWithDist(rows, &td.DistanceMeters)
		if scanErr != nil {
			log.Errorf("Cannot scan a nearby task row: %v", scanErr)
			continue
		}
		td.Task = *t
		results = append(results, td)
	}
	return results, rows.Err()
}

// NearbyAgents returns field agents whose last reported position is within
// radiusKm, nearest first.
func (d *Database) NearbyAgents(ctx context.Context, longitude, latitude, radiusKm float64, limit int) ([]AgentDistance, error) {
	if err := models.ValidateCoordinates(longitude, latitude); err != nil {
		return nil, err
	}
	if radiusKm <= 0 {
		return nil, fmt.Errorf("nearbyAgents: %w: radius must be positive", models.ErrValidation)
	}
	if limit <= 0 {
		limit = 20
	}
	radiusMeters := radiusKm * 1000
	b := boundsForRadius(longitude, latitude, radiusMeters)

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	query := `
	  SELECT id, name, last_longitude, last_latitude,
	         ST_Distance_Sphere(ST_SRID(POINT(last_longitude, last_latitude), 4326), ST_SRID(POINT(?, ?), 4326)) AS dist
	  FROM users
	  WHERE role = 'agent'
	    AND last_longitude IS NOT NULL AND last_latitude IS NOT NULL
	    AND last_latitude BETWEEN ? AND ?`
	params := []any{longitude, latitude, b.latMin, b.latMax}
	if !b.wraps {
		query += ` AND last_longitude BETWEEN ? AND ?`
		params = append(params, b.lonMin, b.lonMax)
	}
	query += `
	  HAVING dist <= ?
	  ORDER BY dist ASC
	  LIMIT ?`
	params = append(params, radiusMeters, limit)

	rows, err := d.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, dbErr("nearbyAgents", err)
	}
	defer rows.Close()

	results := make([]AgentDistance, 0, limit)
	for rows.Next() {
		var a AgentDistance
		if err := rows.Scan(&a.AgentID, &a.Name, &a.Longitude, &a.Latitude, &a.DistanceMeters); err != nil {
			log.Errorf("Cannot scan a nearby agent row: %v", err)
			continue
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// BulkAssign atomically assigns every currently-pending report among the
// given ids to one agent. Non-pending reports are left untouched; the
// returned count is the number actually modified.
func (d *Database) BulkAssign(ctx context.Context, seqs []int64, agentID, agentName string, now time.Time) (int64, error) {
	if len(seqs) == 0 {
		return 0, fmt.Errorf("bulkAssign: %w: no report ids given", models.ErrValidation)
	}

	ctx, cancel := d.opCtx(ctx)
	defer cancel()

	role, err := d.GetUserRole(ctx, agentID)
	if err != nil {
		return 0, err
	}
	if !role.CanFieldWork() {
		return 0, fmt.Errorf("bulkAssign: %w: user %s cannot take field work", models.ErrValidation, agentID)
	}

	placeholders := make([]string, len(seqs))
	params := []any{agentID, agentName, now.UTC(), now.UTC()}
	for i, seq := range seqs {
		placeholders[i] = "?"
		params = append(params, seq)
	}

	query := fmt.Sprintf(`UPDATE reports
	  SET status = 'assigned', assigned_agent_id = ?, assigned_agent_name = ?, assigned_at = ?,
	      estimated_completion_time = DATE_ADD(?, INTERVAL
	        CASE priority WHEN 'critical' THEN 2 WHEN 'high' THEN 6 WHEN 'medium' THEN 24 ELSE 48 END HOUR)
	  WHERE seq IN (%s) AND status = 'pending'`, strings.Join(placeholders, ","))

	res, err := d.db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, dbErr("bulkAssign", err)
	}
	modified, err := res.RowsAffected()
	if err != nil {
		return 0, dbErr("bulkAssign", err)
	}
	log.Infof("Bulk assigned %d of %d reports to agent %s", modified, len(seqs), agentID)
	return modified, nil
}

// scanTaskWithDist scans the task columns plus the computed distance.
func scanTaskWithDist(rows *sql.Rows, dist *float64) (*models.Task, error) {
	t := &models.Task{}
	var (
		priority, status                               string
		instructions, equipment, beforeImgs, afterImgs sql.NullString
		verifiedBy, verificationNotes                  sql.NullString
		verifiedAt                                     sql.NullTime
		description, completionNotes                   sql.NullString
	)
	err := rows.Scan(&t.ID, &t.ReportSeq, &t.AgentID, &t.AdminID, &t.Title, &description,
		&t.Address, &t.Longitude, &t.Latitude, &priority, &status, &t.DueDate,
		&t.EstimatedMinutes, &t.ActualMinutes, &instructions, &equipment,
		&beforeImgs, &afterImgs, &completionNotes, &t.CancelReason,
		&verifiedBy, &verifiedAt, &verificationNotes, &t.StartedAt, &t.CompletedAt, &t.CreatedAt,
		dist)
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
