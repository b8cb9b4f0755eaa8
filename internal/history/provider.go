package history

import (
	"context"

	"walletfeed/internal/domain"
)

// Page is one slice of an account's history, newest first.
type Page struct {
	Activities []*domain.Activity
	// IsFromCache marks pages served from the local snapshot rather than the
	// backend. Cached pages must never flip loadedAll to true on their own.
	IsFromCache bool
	LoadedAll   bool
}

// Provider fetches history pages for an account, optionally scoped to a
// token slug (empty slug means the whole account). before carries the anchor
// activity to paginate past; nil asks for the newest page.
type Provider interface {
	FetchPage(ctx context.Context, accountID, slug string, before *domain.Activity, limit int) (*Page, error)
}
