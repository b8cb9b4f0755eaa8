package loader

import (
	"context"
	"sync"
	"testing"
	"time"

	"walletfeed/internal/domain"
	"walletfeed/internal/events"
	"walletfeed/internal/history"
	"walletfeed/internal/order"
	"walletfeed/internal/persist"
	"walletfeed/internal/reconcile"
	rds "walletfeed/internal/stores/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
}

// --- fakes ---

type scriptedProvider struct {
	mu    sync.Mutex
	pages []*history.Page
	calls int

	started  chan struct{} // signalled when a fetch begins, if set
	gate     chan struct{} // fetches >= gateFrom block here, if set
	gateFrom int
}

func (p *scriptedProvider) FetchPage(_ context.Context, _, _ string, _ *domain.Activity, _ int) (*history.Page, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	var page *history.Page
	if len(p.pages) > 0 {
		page = p.pages[0]
		p.pages = p.pages[1:]
	} else {
		page = &history.Page{LoadedAll: true}
	}
	p.mu.Unlock()

	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.gate != nil && n >= p.gateFrom {
		<-p.gate
	}
	return page, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recDelegate struct {
	dataLoaded    chan bool
	cacheNotFound chan struct{}
	loadedAll     chan struct{}
}

func newRecDelegate() *recDelegate {
	return &recDelegate{
		dataLoaded:    make(chan bool, 16),
		cacheNotFound: make(chan struct{}, 16),
		loadedAll:     make(chan struct{}, 16),
	}
}

func (d *recDelegate) DataLoaded(isUpdate bool) { d.dataLoaded <- isUpdate }
func (d *recDelegate) CacheNotFound()           { d.cacheNotFound <- struct{}{} }
func (d *recDelegate) LoadedAll()               { d.loadedAll <- struct{}{} }

func waitBool(t *testing.T, ch chan bool, what string) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return false
	}
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newTestEngine() *reconcile.Engine {
	lg := newTestLogger()
	return reconcile.NewEngine(lg, order.NewMerger(lg))
}

func newTestStore(t *testing.T) *persist.Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := &rds.Client{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = client.Close() })

	store, err := persist.NewStore(newTestLogger(), client, "test:")
	require.NoError(t, err)
	return store
}

func confirmed(id string, ts int64) *domain.Activity {
	return &domain.Activity{ID: id, Kind: domain.KindTransaction, Timestamp: ts, Status: domain.StatusCompleted, Slug: "toncoin"}
}

// --- tests ---

func TestLoader_CacheNotFound(t *testing.T) {
	provider := &scriptedProvider{pages: []*history.Page{
		{IsFromCache: true}, // empty, cached, end not confirmed
	}}
	delegate := newRecDelegate()

	l := New(newTestLogger(), "acc1", "", provider, newTestEngine(), nil, events.NewBus(), delegate, Options{PageSize: 10})
	defer l.Clean()

	l.AskForActivities()

	waitSignal(t, delegate.cacheNotFound, "cacheNotFound")
	select {
	case <-delegate.dataLoaded:
		t.Fatal("cache miss must not report dataLoaded")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Empty(t, l.Showing())
}

func TestLoader_FirstPageAndBudgetPrefetch(t *testing.T) {
	provider := &scriptedProvider{pages: []*history.Page{
		{Activities: []*domain.Activity{confirmed("h1:0", 100), confirmed("h2:0", 90), confirmed("h3:0", 80)}},
		{Activities: []*domain.Activity{confirmed("h4:0", 70), confirmed("h5:0", 60)}, LoadedAll: true},
	}}
	delegate := newRecDelegate()
	store := newTestStore(t)

	l := New(newTestLogger(), "acc1", "", provider, newTestEngine(), store, events.NewBus(), delegate, Options{PageSize: 3})
	defer l.Clean()

	l.AskForActivities()

	assert.False(t, waitBool(t, delegate.dataLoaded, "first page dataLoaded"))
	waitSignal(t, delegate.loadedAll, "loadedAll after budget prefetch")

	// budget is prefetched but not yet visible
	require.Len(t, l.Showing(), 3)
	assert.Equal(t, "h1:0", l.Showing()[0].ID)

	l.UseBudgetTransactions()
	assert.False(t, waitBool(t, delegate.dataLoaded, "budget consumption dataLoaded"))

	showing := l.Showing()
	require.Len(t, showing, 5)
	assert.Equal(t, "h5:0", showing[4].ID)
	assert.True(t, l.IsLoadedAll())

	// the full id list was persisted after network data arrived
	require.Eventually(t, func() bool {
		ids, loadedAll, ok, err := store.LoadIDList(context.Background(), "acc1", "")
		return err == nil && ok && loadedAll && len(ids) == 5
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLoader_StaleAnchorDiscardedAfterInvalidation(t *testing.T) {
	provider := &scriptedProvider{
		pages: []*history.Page{
			{Activities: []*domain.Activity{confirmed("h1:0", 100), confirmed("h2:0", 90)}},
			{Activities: []*domain.Activity{confirmed("h3:0", 80)}},
		},
		started:  make(chan struct{}, 4),
		gate:     make(chan struct{}),
		gateFrom: 2,
	}
	delegate := newRecDelegate()
	bus := events.NewBus()

	l := New(newTestLogger(), "acc1", "", provider, newTestEngine(), nil, bus, delegate, Options{PageSize: 2})
	defer l.Clean()

	l.AskForActivities()
	waitSignal(t, provider.started, "first page fetch")
	waitBool(t, delegate.dataLoaded, "first page dataLoaded")
	waitSignal(t, provider.started, "budget fetch in flight")

	// invalidation lands while the budget page is still in flight
	bus.Publish(events.Event{Type: events.EventCacheInvalidated, AccountID: "acc1"})
	close(provider.gate)

	// the in-flight page is discarded against the stale anchor: it never
	// surfaces, and with the view reset there is no anchor to refetch from
	assert.Never(t, func() bool {
		for _, a := range l.Showing() {
			if a.ID == "h3:0" {
				return true
			}
		}
		return false
	}, 300*time.Millisecond, 20*time.Millisecond)
	assert.False(t, l.IsLoadedAll())
	assert.Equal(t, 2, provider.callCount())
}

func TestLoader_WaitingConsumesBudgetOncePrepared(t *testing.T) {
	provider := &scriptedProvider{
		pages: []*history.Page{
			{Activities: []*domain.Activity{confirmed("h1:0", 100)}},
			{Activities: []*domain.Activity{confirmed("h2:0", 90)}, LoadedAll: true},
		},
		started:  make(chan struct{}, 4),
		gate:     make(chan struct{}),
		gateFrom: 2,
	}
	delegate := newRecDelegate()

	l := New(newTestLogger(), "acc1", "", provider, newTestEngine(), nil, events.NewBus(), delegate, Options{PageSize: 1})
	defer l.Clean()

	l.AskForActivities()
	waitSignal(t, provider.started, "first page fetch")
	waitBool(t, delegate.dataLoaded, "first page dataLoaded")
	waitSignal(t, provider.started, "budget fetch in flight")

	// ask while the preparation is still in flight: remembered, not raced
	l.UseBudgetTransactions()
	close(provider.gate)

	waitSignal(t, delegate.loadedAll, "loadedAll")
	waitBool(t, delegate.dataLoaded, "deferred budget consumption")

	require.Eventually(t, func() bool { return len(l.Showing()) == 2 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "h1:0", l.Showing()[0].ID)
	assert.Equal(t, "h2:0", l.Showing()[1].ID)
}

func TestLoader_LiveUpdateFoldsWithoutPersisting(t *testing.T) {
	provider := &scriptedProvider{pages: []*history.Page{
		{Activities: []*domain.Activity{confirmed("h1:0", 100)}, LoadedAll: true},
	}}
	delegate := newRecDelegate()
	store := newTestStore(t)
	bus := events.NewBus()

	l := New(newTestLogger(), "acc1", "", provider, newTestEngine(), store, bus, delegate, Options{PageSize: 10})
	defer l.Clean()

	l.AskForActivities()
	waitBool(t, delegate.dataLoaded, "first page dataLoaded")

	require.Eventually(t, func() bool {
		ids, _, ok, err := store.LoadIDList(context.Background(), "acc1", "")
		return err == nil && ok && len(ids) == 1
	}, 3*time.Second, 20*time.Millisecond)

	bus.Publish(events.Event{
		Type:       events.EventActivitiesChanged,
		AccountID:  "acc1",
		Activities: []*domain.Activity{confirmed("h9:0", 200)},
		IsUpdate:   true,
	})

	assert.True(t, waitBool(t, delegate.dataLoaded, "live update dataLoaded"))
	require.Eventually(t, func() bool { return len(l.Showing()) == 2 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "h9:0", l.Showing()[0].ID)

	// update events never re-save the snapshot
	ids, _, ok, err := store.LoadIDList(context.Background(), "acc1", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, ids, 1)
}
