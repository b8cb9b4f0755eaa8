package service

import (
	"context"

	"walletfeed/internal/domain"
	"walletfeed/internal/events"
	"walletfeed/internal/history"
	"walletfeed/internal/loader"
	"walletfeed/internal/persist"
	"walletfeed/internal/reconcile"
	"walletfeed/internal/stores/clickhouse"

	"gitlab.com/nevasik7/alerting/logger"
)

// ActivityArchiver receives finalized activities for long-term storage.
type ActivityArchiver interface {
	Enqueue(row clickhouse.ActivityRow) error
}

// FeedService is the single orchestration point for inbound activity data:
// every update is reconciled first, then fanned out to loaders over the bus,
// then archived. It implements the live-channel sink.
type FeedService struct {
	log     logger.Logger
	engine  *reconcile.Engine
	bus     *events.Bus
	store   *persist.Store
	archive ActivityArchiver

	provider   history.Provider
	loaderOpts loader.Options
}

func NewFeedService(
	log logger.Logger,
	engine *reconcile.Engine,
	bus *events.Bus,
	store *persist.Store,
	archive ActivityArchiver,
	provider history.Provider,
	loaderOpts loader.Options,
) *FeedService {
	return &FeedService{
		log:        log,
		engine:     engine,
		bus:        bus,
		store:      store,
		archive:    archive,
		provider:   provider,
		loaderOpts: loaderOpts,
	}
}

// NewLoader hands out a pagination loader bound to this service's engine,
// provider and bus. Callers own the returned loader and must Clean it.
func (s *FeedService) NewLoader(accountID, slug string, delegate loader.Delegate) *loader.Loader {
	return loader.New(s.log, accountID, slug, s.provider, s.engine, s.store, s.bus, delegate, s.loaderOpts)
}

func (s *FeedService) HandleInitialActivities(ctx context.Context, accountID, chain string, main []*domain.Activity, bySlug map[string][]*domain.Activity) {
	s.engine.ApplyInitial(accountID, chain, main, bySlug)
	s.archiveFinalized(accountID, chain, main)

	s.bus.Publish(events.Event{
		Type:       events.EventActivitiesChanged,
		AccountID:  accountID,
		Chain:      chain,
		Activities: main,
		IsUpdate:   true,
	})
}

func (s *FeedService) HandleNewLocalActivities(ctx context.Context, accountID string, activities []*domain.Activity) {
	replaced := s.engine.ApplyLocal(accountID, activities)
	if n := len(replaced); n > 0 {
		s.log.Debugf("Local batch replaced %d older entries: account=%s", n, accountID)
	}

	s.bus.Publish(events.Event{
		Type:       events.EventActivitiesChanged,
		AccountID:  accountID,
		Activities: activities,
		IsUpdate:   true,
	})
}

func (s *FeedService) HandleNewActivities(ctx context.Context, accountID, chain string, confirmed, pending []*domain.Activity, loadedAll *bool) {
	s.engine.ApplyNew(accountID, chain, confirmed, pending, loadedAll)
	s.archiveFinalized(accountID, chain, confirmed)

	// pending first so loaders fold the overlay before the confirmed rows
	batch := make([]*domain.Activity, 0, len(pending)+len(confirmed))
	batch = append(batch, pending...)
	batch = append(batch, confirmed...)

	s.bus.Publish(events.Event{
		Type:       events.EventActivitiesChanged,
		AccountID:  accountID,
		Chain:      chain,
		Activities: batch,
		IsUpdate:   true,
		LoadedAll:  loadedAll,
	})
}

func (s *FeedService) HandleInvalidateCache(ctx context.Context, accountID, slug string) {
	s.engine.Invalidate(accountID, slug)

	if s.store != nil {
		if err := s.store.Invalidate(ctx, accountID, slug); err != nil {
			s.log.Errorf("Failed to drop persisted snapshot: account=%s slug=%q err=%v", accountID, slug, err)
		}
	}

	s.bus.Publish(events.Event{
		Type:      events.EventCacheInvalidated,
		AccountID: accountID,
		Slug:      slug,
	})
}

// Showing exposes the reconciled visible projection for the read API.
func (s *FeedService) Showing(accountID, slug string) []*domain.Activity {
	return s.engine.Showing(accountID, slug)
}

func (s *FeedService) EndReached(accountID, slug string) bool {
	return s.engine.EndReached(accountID, slug)
}

func (s *FeedService) archiveFinalized(accountID, chain string, activities []*domain.Activity) {
	if s.archive == nil {
		return
	}
	for _, a := range activities {
		if !a.IsFinalized() {
			continue
		}
		if err := s.archive.Enqueue(clickhouse.NewActivityRow(accountID, chain, a)); err != nil {
			s.log.Errorf("Failed to archive activity %s: %v", a.ID, err)
			return
		}
	}
}
