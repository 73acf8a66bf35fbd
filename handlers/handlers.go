package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"waste-ops-service/config"
	"waste-ops-service/database"
	"waste-ops-service/models"
	"waste-ops-service/rabbitmq"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	db        *database.Database
	config    *config.Config
	publisher *rabbitmq.Publisher
}

// NewHandlers creates a new handlers instance. The publisher may be nil;
// lifecycle events are then dropped.
func NewHandlers(db *database.Database, cfg *config.Config, publisher *rabbitmq.Publisher) *Handlers {
	return &Handlers{
		db:        db,
		config:    cfg,
		publisher: publisher,
	}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "waste-ops-service",
		"events":    h.publisher.IsConnected(),
		"timestamp": time.Now().UTC(),
	})
}

// respondErr maps domain errors to HTTP statuses. Unknown errors are logged
// and reported as 500 without leaking internals.
func respondErr(c *gin.Context, err error) {
	var insufficient *models.InsufficientPointsError
	switch {
	case errors.As(err, &insufficient):
		c.JSON(http.StatusConflict, gin.H{
			"error":     "insufficient points",
			"required":  insufficient.Required,
			"available": insufficient.Available,
			"shortfall": insufficient.Shortfall(),
		})
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry later"})
	default:
		log.Errorf("Unhandled error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// seqParam parses the numeric report sequence from the URL path.
func seqParam(c *gin.Context) (int64, bool) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report sequence"})
		return 0, false
	}
	return seq, true
}
