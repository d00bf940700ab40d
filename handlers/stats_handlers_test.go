package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohiobeerpath/api/store"
)

func statsRouter(h *StatsHandlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	stats := r.Group("/api/stats")
	{
		stats.GET("/top-pages", h.GetTopPages)
		stats.GET("/breweries", h.GetBreweryStats)
		stats.GET("/conversions", h.GetRecentConversions)
		stats.GET("/performance", h.GetPerformanceSummary)
		stats.GET("/event-counts", h.GetEventCountsOverTime)
		stats.GET("/unique-users", h.GetUniqueUsersOverTime)
	}
	return r
}

func getStats(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestGetTopPagesHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT page_url, .+ FROM page_stats").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"page_url", "page_title", "view_count", "first_viewed", "last_viewed"}).
			AddRow("/breweries", "Breweries", 120, now, now))

	r := statsRouter(NewStatsHandlers(store.NewStatsStore(db), nil))
	w := getStats(r, "/api/stats/top-pages?limit=5")

	require.Equal(t, http.StatusOK, w.Code)
	var pages []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pages))
	require.Len(t, pages, 1)
	assert.Equal(t, "/breweries", pages[0]["pageUrl"])
	assert.Equal(t, float64(120), pages[0]["viewCount"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTopPagesHandlerBadLimitFallsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT page_url, .+ FROM page_stats").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"page_url", "page_title", "view_count", "first_viewed", "last_viewed"}))

	r := statsRouter(NewStatsHandlers(store.NewStatsStore(db), nil))
	w := getStats(r, "/api/stats/top-pages?limit=banana")

	require.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPerformanceSummaryHandlerRejectsBadTimestamp(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := statsRouter(NewStatsHandlers(store.NewStatsStore(db), nil))
	w := getStats(r, "/api/stats/performance?start=yesterday")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTimeSeriesUnavailableWithoutArchive(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := statsRouter(NewStatsHandlers(store.NewStatsStore(db), nil))

	for _, path := range []string{
		"/api/stats/event-counts?interval=Day",
		"/api/stats/unique-users?interval=Day",
	} {
		w := getStats(r, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, "path %s", path)
	}
}
