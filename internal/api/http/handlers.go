package http

import (
	"context"
	"net/http"
	"time"

	"walletfeed/internal/service"
	"walletfeed/internal/stores/clickhouse"
	rds "walletfeed/internal/stores/redis"
	"walletfeed/internal/stream"
	"walletfeed/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"gitlab.com/nevasik7/alerting/logger"
)

type Deps struct {
	Log logger.Logger

	Feed *service.FeedService

	// external clients, checked by readiness
	Redis      *rds.Client
	ClickHouse *clickhouse.Conn
	Stream     *stream.Client
}

type API struct {
	dependency Deps
}

func NewAPI(d Deps) *API {
	return &API{dependency: d}
}

func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readiness checks every wired external client; a nil client is simply not
// part of this deployment.
func (a *API) Readiness(w http.ResponseWriter, r *http.Request) {
	d := a.dependency
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ready := true

	if d.Redis != nil {
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			ready = false
		} else {
			checks["redis"] = "ok"
		}
	}
	if d.ClickHouse != nil {
		if err := d.ClickHouse.Native.Ping(ctx); err != nil {
			checks["clickhouse"] = err.Error()
			ready = false
		} else {
			checks["clickhouse"] = "ok"
		}
	}
	if d.Stream != nil {
		if !d.Stream.Ready() {
			checks["nats"] = "not connected"
			ready = false
		} else {
			checks["nats"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	_ = httputil.JSON(w, status, checks)
}

type activitiesResponse struct {
	Activities any  `json:"activities"`
	EndReached bool `json:"endReached"`
}

// Activities serves the reconciled visible projection for one account,
// optionally scoped to a token slug.
func (a *API) Activities(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		_ = httputil.Error(w, r, http.StatusBadRequest, "bad_request", "accountID is required")
		return
	}
	slug := r.URL.Query().Get("slug")

	showing := a.dependency.Feed.Showing(accountID, slug)
	_ = httputil.JSON(w, http.StatusOK, activitiesResponse{
		Activities: showing,
		EndReached: a.dependency.Feed.EndReached(accountID, slug),
	})
}
