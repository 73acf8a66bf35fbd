package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	geojson "github.com/paulmach/go.geojson"
)

// geoQuery parses the lon/lat/radius query triple shared by the nearby
// endpoints. Radius falls back to the configured default and is clamped to
// the configured maximum.
func (h *Handlers) geoQuery(c *gin.Context) (lon, lat, radiusKm float64, limit int, ok bool) {
	var err error
	lon, err = strconv.ParseFloat(c.Query("longitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid longitude"})
		return 0, 0, 0, 0, false
	}
	lat, err = strconv.ParseFloat(c.Query("latitude"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid latitude"})
		return 0, 0, 0, 0, false
	}

	radiusKm = h.config.DefaultRadiusKm
	if s := c.Query("radius_km"); s != "" {
		radiusKm, err = strconv.ParseFloat(s, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius_km"})
			return 0, 0, 0, 0, false
		}
	}
	if radiusKm > h.config.MaxRadiusKm {
		radiusKm = h.config.MaxRadiusKm
	}

	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	return lon, lat, radiusKm, limit, true
}

// NearbyReports returns reports within a radius, nearest first.
func (h *Handlers) NearbyReports(c *gin.Context) {
	lon, lat, radiusKm, limit, ok := h.geoQuery(c)
	if !ok {
		return
	}
	results, err := h.db.NearbyReports(c.Request.Context(), lon, lat, radiusKm, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// NearbyTasks returns open tasks within a radius, nearest first.
func (h *Handlers) NearbyTasks(c *gin.Context) {
	lon, lat, radiusKm, limit, ok := h.geoQuery(c)
	if !ok {
		return
	}
	results, err := h.db.NearbyTasks(c.Request.Context(), lon, lat, radiusKm, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// NearbyAgents returns agents whose last known position is within a radius.
func (h *Handlers) NearbyAgents(c *gin.Context) {
	lon, lat, radiusKm, limit, ok := h.geoQuery(c)
	if !ok {
		return
	}
	results, err := h.db.NearbyAgents(c.Request.Context(), lon, lat, radiusKm, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// NearbyReportsGeoJSON serves the same radius query as a GeoJSON
// FeatureCollection for map overlays.
func (h *Handlers) NearbyReportsGeoJSON(c *gin.Context) {
	lon, lat, radiusKm, limit, ok := h.geoQuery(c)
	if !ok {
		return
	}
	results, err := h.db.NearbyReports(c.Request.Context(), lon, lat, radiusKm, limit)
	if err != nil {
		respondErr(c, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, rd := range results {
		r := rd.Report
		f := geojson.NewPointFeature([]float64{r.Longitude, r.Latitude})
		f.SetProperty("seq", r.Seq)
		f.SetProperty("waste_type", string(r.WasteType))
		f.SetProperty("priority", string(r.Priority))
		f.SetProperty("status", string(r.Status))
		f.SetProperty("is_urgent", r.IsUrgent)
		f.SetProperty("distance_meters", rd.DistanceMeters)
		fc.AddFeature(f)
	}
	c.JSON(http.StatusOK, fc)
}
