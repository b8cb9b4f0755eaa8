package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Unsorted or duplicated input batches repaired by the merge engine
	MergeRepairs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletfeed_merge_repairs_total",
		Help: "Input activity lists that failed the sorted-unique precondition and were repaired",
	})

	// Pages discarded because the pagination anchor changed mid-fetch
	StaleAnchorDiscards = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletfeed_stale_anchor_discards_total",
		Help: "Prefetched history pages discarded due to a concurrent anchor change",
	})

	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletfeed_pages_fetched_total",
		Help: "History pages fetched, by source",
	}, []string{"source"}) // network|cache

	PageFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletfeed_page_fetch_errors_total",
		Help: "Transient history page fetch failures (retried on next cycle)",
	})

	IDReplacements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletfeed_id_replacements_total",
		Help: "Activity ids replaced during reconciliation",
	})

	LiveUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletfeed_live_updates_total",
		Help: "Inbound live-channel updates, by type",
	}, []string{"type"})
)

func Handler() http.Handler {
	h := promhttp.Handler()
	return h
}
