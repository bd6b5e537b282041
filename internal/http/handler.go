package http

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/service"
)

// Handler exposes the read-only dashboard API. All state changes
// originate from frame processing; no mutation endpoints exist here.
type Handler struct {
	parkingService *service.ParkingService
	config         *config.Config
	log            zerolog.Logger
}

func NewHandler(
	parkingService *service.ParkingService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		parkingService: parkingService,
		config:         cfg,
		log:            log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	// Public read-only endpoints polled by dashboards
	public := r.Group("/api/v1")
	{
		public.GET("/occupancy", h.occupancy)
		public.GET("/vehicles/active", h.activeVehicles)
		public.GET("/records", h.listRecords)
		public.GET("/events", h.listEvents)
	}

	// Protected endpoints
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/records/export", h.exportRecords)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) occupancy(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.parkingService.GetStatus()))
}

func (h *Handler) activeVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.parkingService.ActiveVehicles()))
}

func (h *Handler) listRecords(c *gin.Context) {
	plateQuery, from, to, limit, offset := listParams(c)

	records, err := h.parkingService.FindRecords(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(records))
}

func (h *Handler) listEvents(c *gin.Context) {
	plateQuery, from, to, limit, offset := listParams(c)

	events, err := h.parkingService.FindEvents(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(events))
}

// exportRecords streams the full record listing as CSV for offline
// reporting, paging through the store until it is exhausted.
func (h *Handler) exportRecords(c *gin.Context) {
	plateQuery, from, to, _, _ := listParams(c)

	const pageSize = 100
	records, err := h.parkingService.FindRecords(c.Request.Context(), plateQuery, from, to, pageSize, 0)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="parking_records.csv"`)

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"identity", "camera_id", "entry_time", "exit_time", "duration_hours", "fare"})
	offset := 0
	for {
		for _, rec := range records {
			row := []string{rec.Identity, rec.CameraID, rec.EntryTime.Format("2006-01-02 15:04:05"), "", "", ""}
			if rec.ExitTime != nil {
				row[3] = rec.ExitTime.Format("2006-01-02 15:04:05")
			}
			if rec.DurationHours != nil {
				row[4] = strconv.FormatFloat(*rec.DurationHours, 'f', 2, 64)
			}
			if rec.Fare != nil {
				row[5] = strconv.FormatFloat(*rec.Fare, 'f', 2, 64)
			}
			_ = w.Write(row)
		}
		if len(records) < pageSize {
			break
		}
		offset += pageSize
		records, err = h.parkingService.FindRecords(c.Request.Context(), plateQuery, from, to, pageSize, offset)
		if err != nil {
			// Headers are already sent; the export is cut short.
			h.log.Error().Err(err).Int("offset", offset).Msg("record export aborted")
			break
		}
	}
	w.Flush()
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func listParams(c *gin.Context) (plateQuery, from, to *string, limit, offset int) {
	if plate := strings.TrimSpace(c.Query("plate")); plate != "" {
		plateQuery = &plate
	}
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit = 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset = 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return plateQuery, from, to, limit, offset
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
