package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"ohiobeerpath/api/store"
)

// StatsHandlers serves the authenticated admin read API. Counter aggregates
// come from Postgres; the time-bucketed queries need the ClickHouse archive
// and return 503 when it is not configured.
type StatsHandlers struct {
	Stats   *store.StatsStore
	Archive *store.ArchiveStore
}

func NewStatsHandlers(stats *store.StatsStore, archive *store.ArchiveStore) *StatsHandlers {
	return &StatsHandlers{Stats: stats, Archive: archive}
}

func (h *StatsHandlers) GetTopPages(c *gin.Context) {
	limit := queryLimit(c, 10)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetTopPages(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("error getting top pages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve page statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetBreweryStats(c *gin.Context) {
	limit := queryLimit(c, 25)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetBreweryStats(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("error getting brewery stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve brewery statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetRecentConversions(c *gin.Context) {
	limit := queryLimit(c, 50)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Stats.GetRecentConversions(ctx, limit)
	if err != nil {
		log.Error().Err(err).Msg("error getting conversions")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve conversions"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetPerformanceSummary(c *gin.Context) {
	start, end, ok := timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	summary, err := h.Stats.GetPerformanceSummary(ctx, start, end)
	if err != nil {
		log.Error().Err(err).Msg("error getting performance summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve performance statistics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"startDate": start.Format(time.RFC3339),
		"endDate":   end.Format(time.RFC3339),
		"summary":   summary,
	})
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	if h.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event archive is not configured"})
		return
	}

	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	eventTypeFilter := c.Query("eventType")

	start, end, ok := timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetEventCountsOverTime(ctx, interval, start, end, eventTypeFilter)
	if err != nil {
		log.Error().Err(err).Msg("error getting event counts over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetUniqueUsersOverTime(c *gin.Context) {
	if h.Archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Event archive is not configured"})
		return
	}

	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, ok := timeRange(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	results, err := h.Archive.GetUniqueUsersOverTime(ctx, interval, start, end)
	if err != nil {
		log.Error().Err(err).Msg("error getting unique users over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique user statistics"})
		return
	}
	c.JSON(http.StatusOK, results)
}

// timeRange parses optional start/end query parameters, defaulting to the
// last seven days. Writes the 400 response itself on a bad timestamp.
func timeRange(c *gin.Context) (start, end time.Time, ok bool) {
	var err error

	startParam := c.Query("start")
	if startParam != "" {
		start, err = time.Parse(time.RFC3339, startParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		start = time.Now().UTC().Add(-7 * 24 * time.Hour)
	}

	endParam := c.Query("end")
	if endParam != "" {
		end, err = time.Parse(time.RFC3339, endParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)"})
			return start, end, false
		}
	} else {
		end = time.Now().UTC()
	}

	return start, end, true
}

func queryLimit(c *gin.Context, fallback int) int {
	limitParam := c.Query("limit")
	if limitParam == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(limitParam)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
