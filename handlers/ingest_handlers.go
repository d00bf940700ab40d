package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ohiobeerpath/api/models"
)

// EventSaver persists a validated batch inside one transaction.
type EventSaver interface {
	SaveBatch(ctx context.Context, events []*models.AnalyticsEvent) error
}

// Dispatcher fans out per-event side effects after the batch commits.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *models.AnalyticsEvent)
}

// Archiver mirrors accepted events into the analytics archive. May be nil
// when no archive is configured.
type Archiver interface {
	InsertEvents(ctx context.Context, events []*models.AnalyticsEvent) error
}

// IngestHandlers implements POST /analytics-ingest.
type IngestHandlers struct {
	Events     EventSaver
	Dispatcher Dispatcher
	Archive    Archiver
}

func NewIngestHandlers(events EventSaver, dispatcher Dispatcher, archive Archiver) *IngestHandlers {
	return &IngestHandlers{
		Events:     events,
		Dispatcher: dispatcher,
		Archive:    archive,
	}
}

// Ingest accepts a batch of events. Validation is per event: a malformed
// event is skipped and reported in the errors list while the rest of the
// batch proceeds. All accepted rows commit in one transaction; side effects
// run afterward and can never fail the request.
func (h *IngestHandlers) Ingest(c *gin.Context) {
	var req models.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data format"})
		return
	}
	if req.Events == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid data format"})
		return
	}

	ip := c.ClientIP()
	accepted := make([]*models.AnalyticsEvent, 0, len(req.Events))
	errs := make([]string, 0)

	for i, raw := range req.Events {
		ev, err := models.NormalizeEvent(raw, ip)
		if err != nil {
			errs = append(errs, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		accepted = append(accepted, ev)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if err := h.Events.SaveBatch(ctx, accepted); err != nil {
		log.Error().Err(err).Int("batch_size", len(accepted)).Msg("failed to persist event batch")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Database error",
			"message": "Failed to record analytics events",
		})
		return
	}

	// The batch is committed. Everything below is best effort.
	for _, ev := range accepted {
		h.Dispatcher.Dispatch(ctx, ev)
	}

	if h.Archive != nil && len(accepted) > 0 {
		if err := h.Archive.InsertEvents(ctx, accepted); err != nil {
			log.Error().Err(err).Msg("failed to mirror events to archive")
		}
	}

	c.JSON(http.StatusOK, models.IngestResponse{
		Success:   true,
		Processed: len(accepted),
		Errors:    errs,
	})
}
