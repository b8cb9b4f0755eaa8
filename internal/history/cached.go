package history

import (
	"context"

	"walletfeed/internal/domain"
	"walletfeed/internal/metrics"
	"walletfeed/internal/persist"

	"gitlab.com/nevasik7/alerting/logger"
)

// CachedProvider serves the first page of a scope from the persisted snapshot
// and delegates everything past it to the network provider. A first page with
// no snapshot comes back as an empty cache page; the caller decides whether
// that means "cache not found" or "empty history" from the flags.
type CachedProvider struct {
	log   logger.Logger
	inner Provider
	store *persist.Store
}

func NewCachedProvider(log logger.Logger, inner Provider, store *persist.Store) *CachedProvider {
	return &CachedProvider{log: log, inner: inner, store: store}
}

func (p *CachedProvider) FetchPage(ctx context.Context, accountID, slug string, before *domain.Activity, limit int) (*Page, error) {
	if before != nil || p.store == nil {
		return p.inner.FetchPage(ctx, accountID, slug, before, limit)
	}

	ids, loadedAll, ok, err := p.store.LoadIDList(ctx, accountID, slug)
	if err != nil {
		p.log.Errorf("Failed to read snapshot, falling back to network: account=%s slug=%q err=%v", accountID, slug, err)
		return p.inner.FetchPage(ctx, accountID, slug, before, limit)
	}
	if !ok {
		return &Page{IsFromCache: true}, nil
	}

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
		loadedAll = false
	}

	activities, err := p.store.LoadActivities(ctx, accountID, ids)
	if err != nil {
		p.log.Errorf("Failed to resolve cached records, falling back to network: account=%s err=%v", accountID, err)
		return p.inner.FetchPage(ctx, accountID, slug, before, limit)
	}

	metrics.PagesFetched.WithLabelValues("cache").Inc()

	return &Page{
		Activities:  activities,
		IsFromCache: true,
		LoadedAll:   loadedAll,
	}, nil
}
