package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"walletfeed/internal/domain"
	"walletfeed/internal/events"
	"walletfeed/internal/loader"
	"walletfeed/internal/order"
	"walletfeed/internal/reconcile"
	"walletfeed/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

func newTestRouter(t *testing.T) (*service.FeedService, http.Handler) {
	t.Helper()

	lg := logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
	engine := reconcile.NewEngine(lg, order.NewMerger(lg))
	feed := service.NewFeedService(lg, engine, events.NewBus(), nil, nil, nil, loader.Options{})

	api := NewAPI(Deps{Log: lg, Feed: feed})
	return feed, BuildRouter(api, nil)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	_, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadiness_NoClientsIsReady(t *testing.T) {
	t.Parallel()
	_, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readiness", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActivities(t *testing.T) {
	t.Parallel()
	feed, router := newTestRouter(t)

	loadedAll := true
	feed.HandleNewActivities(context.Background(), "acc1", "ton", []*domain.Activity{
		{ID: "h1:0", Kind: domain.KindTransaction, Timestamp: 100, Status: domain.StatusCompleted, Slug: "toncoin"},
		{ID: "h2:0", Kind: domain.KindTransaction, Timestamp: 90, Status: domain.StatusCompleted, Slug: "toncoin", ShouldHide: true},
	}, nil, &loadedAll)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts/acc1/activities", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string `json:"status"`
		Data   struct {
			Activities []*domain.Activity `json:"activities"`
			EndReached bool               `json:"endReached"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, "ok", body.Status)
	assert.True(t, body.Data.EndReached)
	require.Len(t, body.Data.Activities, 1, "hidden entries are filtered out")
	assert.Equal(t, "h1:0", body.Data.Activities[0].ID)
}

func TestActivities_UnknownAccountIsEmpty(t *testing.T) {
	t.Parallel()
	_, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/accounts/nobody/activities", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Activities []*domain.Activity `json:"activities"`
			EndReached bool               `json:"endReached"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Data.Activities)
	assert.False(t, body.Data.EndReached)
}
