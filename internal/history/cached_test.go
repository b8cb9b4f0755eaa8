package history

import (
	"context"
	"testing"

	"walletfeed/internal/domain"
	"walletfeed/internal/persist"
	rds "walletfeed/internal/stores/redis"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	page  *Page
	calls int
}

func (f *fakeProvider) FetchPage(_ context.Context, _, _ string, _ *domain.Activity, _ int) (*Page, error) {
	f.calls++
	return f.page, nil
}

func setupCached(t *testing.T) (*CachedProvider, *fakeProvider, *persist.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := &rds.Client{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = client.Close() })

	lg := newTestLogger()
	store, err := persist.NewStore(lg, client, "test:")
	require.NoError(t, err)

	inner := &fakeProvider{page: &Page{Activities: []*domain.Activity{{ID: "net:0", Timestamp: 50, Status: domain.StatusCompleted}}}}
	return NewCachedProvider(lg, inner, store), inner, store
}

func TestCachedProvider_FirstPageFromSnapshot(t *testing.T) {
	t.Parallel()
	p, inner, store := setupCached(t)
	ctx := context.Background()

	acts := []*domain.Activity{
		{ID: "h1:0", Timestamp: 100, Status: domain.StatusCompleted},
		{ID: "h2:0", Timestamp: 90, Status: domain.StatusCompleted},
	}
	require.NoError(t, store.SaveActivities(ctx, "acc1", acts))
	require.NoError(t, store.SaveIDList(ctx, "acc1", "", []string{"h1:0", "h2:0"}, true))

	page, err := p.FetchPage(ctx, "acc1", "", nil, 60)
	require.NoError(t, err)

	assert.True(t, page.IsFromCache)
	assert.True(t, page.LoadedAll)
	require.Len(t, page.Activities, 2)
	assert.Equal(t, "h1:0", page.Activities[0].ID)
	assert.Zero(t, inner.calls, "snapshot hit must not touch the network")
}

func TestCachedProvider_MissingSnapshotIsEmptyCachePage(t *testing.T) {
	t.Parallel()
	p, inner, _ := setupCached(t)

	page, err := p.FetchPage(context.Background(), "acc1", "toncoin", nil, 60)
	require.NoError(t, err)

	assert.True(t, page.IsFromCache)
	assert.False(t, page.LoadedAll)
	assert.Empty(t, page.Activities)
	assert.Zero(t, inner.calls)
}

func TestCachedProvider_PaginationGoesToNetwork(t *testing.T) {
	t.Parallel()
	p, inner, store := setupCached(t)
	ctx := context.Background()

	require.NoError(t, store.SaveIDList(ctx, "acc1", "", []string{"h1:0"}, false))

	before := &domain.Activity{ID: "h1:0", Timestamp: 100}
	page, err := p.FetchPage(ctx, "acc1", "", before, 60)
	require.NoError(t, err)

	assert.False(t, page.IsFromCache)
	assert.Equal(t, 1, inner.calls)
	require.Len(t, page.Activities, 1)
	assert.Equal(t, "net:0", page.Activities[0].ID)
}

func TestCachedProvider_TrimsToLimit(t *testing.T) {
	t.Parallel()
	p, _, store := setupCached(t)
	ctx := context.Background()

	acts := []*domain.Activity{
		{ID: "h1:0", Timestamp: 100, Status: domain.StatusCompleted},
		{ID: "h2:0", Timestamp: 90, Status: domain.StatusCompleted},
		{ID: "h3:0", Timestamp: 80, Status: domain.StatusCompleted},
	}
	require.NoError(t, store.SaveActivities(ctx, "acc1", acts))
	require.NoError(t, store.SaveIDList(ctx, "acc1", "", []string{"h1:0", "h2:0", "h3:0"}, true))

	page, err := p.FetchPage(ctx, "acc1", "", nil, 2)
	require.NoError(t, err)

	require.Len(t, page.Activities, 2)
	assert.False(t, page.LoadedAll, "a trimmed cache page cannot claim the end was reached")
}
