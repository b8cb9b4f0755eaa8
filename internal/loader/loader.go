package loader

import (
	"context"
	"sync"
	"sync/atomic"

	"walletfeed/internal/domain"
	"walletfeed/internal/events"
	"walletfeed/internal/history"
	"walletfeed/internal/metrics"
	"walletfeed/internal/order"
	"walletfeed/internal/persist"
	"walletfeed/internal/reconcile"

	"gitlab.com/nevasik7/alerting/logger"
)

// Delegate is the optional observer of a loader. It may be released at any
// time via Clean; the loader never assumes it outlives a notification.
type Delegate interface {
	DataLoaded(isUpdate bool)
	CacheNotFound()
	LoadedAll()
}

type Options struct {
	PageSize int
	// keep preparing pages while fewer than this many visible items are buffered
	ReadAheadVisible int
	QueueDepth       int
}

const defaultReadAheadVisible = 60

// Loader paginates one (account, slug) scope. It prefetches pages ahead of
// consumption into a budget, folds every page through the serial queue, and
// reads local/pending overlays back from the reconcile engine so its combined
// view never drifts from the source of truth.
type Loader struct {
	log logger.Logger

	accountID string
	slug      string // "" is the account-wide feed

	provider history.Provider
	engine   *reconcile.Engine
	store    *persist.Store
	queue    *serialQueue
	sub      *events.Subscription

	opts Options

	// mutated on the queue goroutine only
	all       []*domain.Activity
	budget    []*domain.Activity
	anchor    *domain.Activity
	loadedAll bool

	isPreparingBudget  atomic.Bool
	isWaitingForBudget atomic.Bool
	isConsumingBudget  atomic.Bool

	mu       sync.RWMutex
	showing  []*domain.Activity
	delegate Delegate
}

func New(log logger.Logger, accountID, slug string, provider history.Provider, engine *reconcile.Engine, store *persist.Store, bus *events.Bus, delegate Delegate, opts Options) *Loader {
	if opts.PageSize <= 0 {
		opts.PageSize = 60
	}
	if opts.ReadAheadVisible <= 0 {
		opts.ReadAheadVisible = defaultReadAheadVisible
	}

	l := &Loader{
		log:       log,
		accountID: accountID,
		slug:      slug,
		provider:  provider,
		engine:    engine,
		store:     store,
		queue:     newSerialQueue(opts.QueueDepth),
		opts:      opts,
	}
	l.setDelegate(delegate)

	if bus != nil {
		l.sub = bus.Subscribe(l.onEvent)
	}

	return l
}

// Clean releases the delegate and the event subscription and stops the
// worker. The loader is unusable afterwards.
func (l *Loader) Clean() {
	l.setDelegate(nil)
	if l.sub != nil {
		l.sub.Release()
		l.sub = nil
	}
	l.queue.close()
}

func (l *Loader) setDelegate(d Delegate) {
	l.mu.Lock()
	l.delegate = d
	l.mu.Unlock()
}

func (l *Loader) currentDelegate() Delegate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.delegate
}

// Showing returns the current visible projection, newest first.
func (l *Loader) Showing() []*domain.Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*domain.Activity, len(l.showing))
	copy(out, l.showing)
	return out
}

func (l *Loader) IsLoadedAll() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadedAll
}

// AskForActivities loads the first page. An empty page that came from cache
// without a confirmed end means the snapshot simply does not exist yet, which
// is surfaced as CacheNotFound instead of DataLoaded.
func (l *Loader) AskForActivities() {
	l.log.Debugf("Request to load first page: account=%s slug=%q", l.accountID, l.slug)

	go func() {
		page, err := l.provider.FetchPage(context.Background(), l.accountID, l.slug, nil, l.opts.PageSize)
		if err != nil {
			l.log.Errorf("First page load failed: account=%s slug=%q err=%v", l.accountID, l.slug, err)
			return
		}

		l.queue.push(func() {
			l.log.Debugf("First page: fromCache=%v count=%d loadedAll=%v", page.IsFromCache, len(page.Activities), page.LoadedAll)

			if len(page.Activities) == 0 && page.IsFromCache && !page.LoadedAll {
				if d := l.currentDelegate(); d != nil {
					d.CacheNotFound()
				}
				return
			}

			if last := lastAnchor(page.Activities); last != nil {
				l.anchor = last
			}
			loadedAll := page.LoadedAll
			l.fold(page.Activities, false, page.IsFromCache, &loadedAll)

			if !page.LoadedAll {
				l.queue.push(l.prepareBudget)
			}
		})
	}()
}

// UseBudgetTransactions moves the prepared budget into the visible set. If a
// preparation or consumption is already in flight the request is remembered
// and replayed once, instead of racing a second fetch.
func (l *Loader) UseBudgetTransactions() {
	if l.isPreparingBudget.Load() || l.isConsumingBudget.Load() {
		l.isWaitingForBudget.Store(true)
		return
	}

	l.queue.push(func() {
		l.isWaitingForBudget.Store(false)

		if len(l.budget) > 0 {
			l.isConsumingBudget.Store(true)
			budget := l.budget
			l.budget = nil

			loadedAll := l.loadedAll
			l.fold(budget, false, false, &loadedAll)

			l.queue.push(func() {
				l.isConsumingBudget.Store(false)
				l.prepareBudget()
			})
			return
		}

		if l.loadedAll {
			return
		}
		l.prepareBudget()
	})
}

// prepareBudget runs on the queue. It fetches the page past the oldest known
// activity and, once the response re-enters the queue, re-checks that the
// anchor is still the oldest known; a concurrent invalidation or merge means
// the page was fetched against a stale cursor and must be discarded.
func (l *Loader) prepareBudget() {
	if l.isPreparingBudget.Load() || l.loadedAll {
		return
	}

	lastActivity := lastAnchor(l.budget)
	if lastActivity == nil {
		lastActivity = lastAnchor(l.all)
	}
	if lastActivity == nil {
		return
	}

	l.isPreparingBudget.Store(true)

	before := l.anchor
	if before == nil {
		before = lastActivity
	}
	l.log.Debugf("Prepare budget: account=%s slug=%q budget=%d before=%d", l.accountID, l.slug, len(l.budget), before.Timestamp)

	go func() {
		page, err := l.provider.FetchPage(context.Background(), l.accountID, l.slug, before, l.opts.PageSize)

		l.queue.push(func() {
			if err != nil {
				// retried by the next consumption request
				l.log.Errorf("Budget page load failed: account=%s slug=%q err=%v", l.accountID, l.slug, err)
				l.isPreparingBudget.Store(false)
				return
			}

			anchorNow := lastAnchor(l.budget)
			if anchorNow == nil {
				anchorNow = lastAnchor(l.all)
			}
			if anchorNow == nil || anchorNow.ID != lastActivity.ID {
				metrics.StaleAnchorDiscards.Inc()
				l.log.Debugf("Discarding stale budget page: account=%s slug=%q", l.accountID, l.slug)
				l.isPreparingBudget.Store(false)
				l.prepareBudget()
				return
			}

			l.log.Debugf("Loaded budget: count=%d loadedAll=%v", len(page.Activities), page.LoadedAll)

			if last := lastAnchor(page.Activities); last != nil {
				l.anchor = last
			}
			l.budget = order.SortActivities(append(l.budget, page.Activities...))

			if page.LoadedAll && !l.loadedAll {
				l.markLoadedAll()
			}
			if !page.IsFromCache {
				l.storeIDs()
			}

			fetchMore := countVisible(l.budget) < l.opts.ReadAheadVisible

			l.isPreparingBudget.Store(false)
			if l.isWaitingForBudget.Load() {
				l.UseBudgetTransactions()
			}
			if fetchMore && !l.loadedAll {
				l.queue.push(l.prepareBudget)
			}
		})
	}()
}

// fold merges a batch into the combined view on the queue goroutine, then
// re-applies the engine's local and pending overlays so superseded entries
// never survive a fold.
func (l *Loader) fold(batch []*domain.Activity, isUpdate, fromCache bool, loadedAll *bool) {
	combined := make([]*domain.Activity, len(l.all))
	copy(combined, l.all)

	for _, incoming := range batch {
		replaced := false
		for i, existing := range combined {
			if existing.ID == incoming.ID {
				combined[i] = incoming
				replaced = true
				break
			}
		}
		if !replaced && incoming.BelongsToSlug(l.slug) {
			combined = append(combined, incoming)
		}
	}

	// rebuild the local overlay from the engine
	kept := combined[:0]
	for _, a := range combined {
		if !a.IsLocal() {
			kept = append(kept, a)
		}
	}
	combined = kept
	for _, a := range l.engine.LocalActivities(l.accountID) {
		if a.BelongsToSlug(l.slug) {
			combined = append(combined, a)
		}
	}

	// rebuild the pending overlay the same way
	pendings := l.engine.PendingActivities(l.accountID, "")
	pendingIDs := make(map[string]struct{}, len(pendings))
	for _, a := range pendings {
		pendingIDs[a.ID] = struct{}{}
	}
	kept = combined[:0]
	for _, a := range combined {
		if a.IsPending() {
			continue
		}
		if _, dup := pendingIDs[a.ID]; dup {
			continue
		}
		kept = append(kept, a)
	}
	combined = kept
	for _, a := range pendings {
		if a.BelongsToSlug(l.slug) {
			combined = append(combined, a)
		}
	}

	l.all = order.SortActivities(combined)

	if loadedAll != nil && *loadedAll && !l.loadedAll {
		l.markLoadedAll()
	}

	if !fromCache && !isUpdate {
		l.storeIDs()
	}

	l.updateShowing(isUpdate)
}

func (l *Loader) markLoadedAll() {
	l.mu.Lock()
	l.loadedAll = true
	l.mu.Unlock()

	if d := l.currentDelegate(); d != nil {
		d.LoadedAll()
	}
}

// storeIDs persists the full known id list for this scope. Only called after
// genuine network data; cache reads and live updates never re-save.
func (l *Loader) storeIDs() {
	if l.store == nil {
		return
	}

	merged := order.SortActivities(append(append([]*domain.Activity{}, l.all...), l.budget...))
	ids := make([]string, len(merged))
	for i, a := range merged {
		ids[i] = a.ID
	}

	ctx := context.Background()
	if err := l.store.SaveActivities(ctx, l.accountID, merged); err != nil {
		l.log.Errorf("Failed to persist activity records: account=%s err=%v", l.accountID, err)
		return
	}
	if err := l.store.SaveIDList(ctx, l.accountID, l.slug, ids, l.loadedAll); err != nil {
		l.log.Errorf("Failed to persist id list: account=%s slug=%q err=%v", l.accountID, l.slug, err)
	}
}

func (l *Loader) updateShowing(isUpdate bool) {
	showing := make([]*domain.Activity, 0, len(l.all))
	for _, a := range l.all {
		if !a.ShouldHide {
			showing = append(showing, a)
		}
	}

	l.mu.Lock()
	l.showing = showing
	l.mu.Unlock()

	if d := l.currentDelegate(); d != nil {
		d.DataLoaded(isUpdate)
	}
}

func (l *Loader) onEvent(ev events.Event) {
	if ev.AccountID != l.accountID {
		return
	}

	switch ev.Type {
	case events.EventActivitiesChanged:
		batch := ev.Activities
		isUpdate := ev.IsUpdate
		loadedAll := ev.LoadedAll
		l.queue.push(func() {
			l.fold(batch, isUpdate, false, loadedAll)
		})
	case events.EventCacheInvalidated:
		if ev.Slug != l.slug && ev.Slug != "" {
			return
		}
		l.queue.push(func() {
			l.all = nil
			l.budget = nil
			l.anchor = nil
			l.mu.Lock()
			l.loadedAll = false
			l.mu.Unlock()
		})
	}
}

func lastAnchor(activities []*domain.Activity) *domain.Activity {
	for i := len(activities) - 1; i >= 0; i-- {
		if activities[i].SuitableForPaginationAnchor() {
			return activities[i]
		}
	}
	return nil
}

func countVisible(activities []*domain.Activity) int {
	n := 0
	for _, a := range activities {
		if !a.ShouldHide {
			n++
		}
	}
	return n
}
