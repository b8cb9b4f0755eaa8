package reconcile

import (
	"sync"

	"walletfeed/internal/domain"
	"walletfeed/internal/identity"
	"walletfeed/internal/metrics"
	"walletfeed/internal/order"

	"gitlab.com/nevasik7/alerting/logger"
)

// How many recent chain activities to scan when a fresh local batch may
// already have a confirmed counterpart (the live channel can outrun the
// local echo).
const localMatchExtraDepth = 20

/*
	Engine owns the reconciled activity set per account: the byID map, the
	ordered main id list, per-token id lists and the local/pending overlays.
	All mutations go through one mutex, so a batch is always fully applied
	before the next one is started. Loaders read snapshots and submit deltas,
	they never touch the state directly.
*/
type Engine struct {
	log    logger.Logger
	merger *order.Merger

	mu       sync.Mutex
	accounts map[string]*accountState
}

type accountState struct {
	byID       map[string]*domain.Activity
	mainIDs    []string
	mainLoaded bool
	idsBySlug  map[string][]string
	localIDs   []string
	pendingIDs map[string][]string // by chain

	mainEndReached       bool
	endReachedBySlug     map[string]bool
	initialLoadedByChain map[string]bool
}

func NewEngine(log logger.Logger, merger *order.Merger) *Engine {
	return &Engine{
		log:      log,
		merger:   merger,
		accounts: make(map[string]*accountState),
	}
}

func newAccountState() *accountState {
	return &accountState{
		byID:                 make(map[string]*domain.Activity),
		idsBySlug:            make(map[string][]string),
		pendingIDs:           make(map[string][]string),
		endReachedBySlug:     make(map[string]bool),
		initialLoadedByChain: make(map[string]bool),
	}
}

func (e *Engine) account(accountID string) *accountState {
	st, ok := e.accounts[accountID]
	if !ok {
		st = newAccountState()
		e.accounts[accountID] = st
	}
	return st
}

// ApplyInitial handles the one-time bootstrap per account/chain. There is
// nothing previous to reconcile against, so the resolver is not involved.
// The given lists must be sorted and contain no pending or local activities.
func (e *Engine) ApplyInitial(accountID, chain string, main []*domain.Activity, bySlug map[string][]*domain.Activity) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.account(accountID)
	for _, a := range main {
		st.byID[a.ID] = a
	}
	st.initialLoadedByChain[chain] = true

	// Activities from different chains arrive separately, which disrupts the
	// order; merging to the shared horizon keeps completeness honest.
	st.mainIDs = e.merger.MergeIDsToMaxTimestamp(st.byID, extractIDs(main), st.mainIDs)
	st.mainLoaded = true

	for slug, activities := range bySlug {
		e.applyPastLocked(st, slug, activities, len(activities) == 0)
	}

	e.log.Infof("Initial activities applied: account=%s chain=%s main=%d slugs=%d",
		accountID, chain, len(main), len(bySlug))
}

// ApplyLocal folds in records synthesized the instant an operation was
// submitted. The live channel may have already delivered the chain
// counterpart, so the batch is matched against recent chain activities
// first; superseded locals are hidden, never deleted, because other state
// may still point to their ids.
func (e *Engine) ApplyLocal(accountID string, batch []*domain.Activity) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.account(accountID)
	chainActivities := e.recentNonLocalLocked(st, len(batch)+localMatchExtraDepth)
	replaced := identity.ResolveReplacements(batch, chainActivities)
	if len(replaced) > 0 {
		metrics.IDReplacements.Add(float64(len(replaced)))
	}

	for _, local := range batch {
		if _, ok := replaced[local.ID]; ok {
			local.ShouldHide = true
		}
	}

	// A trusted local may match a chain record the external source delivered
	// as merely pending; the chain record inherits the trust.
	for _, local := range batch {
		newID, ok := replaced[local.ID]
		if !ok || local.Status != domain.StatusPendingTrusted {
			continue
		}
		if chain, ok := st.byID[newID]; ok && chain.Status == domain.StatusPending {
			st.byID[newID] = cloneWithStatus(chain, domain.StatusPendingTrusted)
		}
	}

	e.addNewLocked(st, batch, "")
	return replaced
}

// ApplyNew folds in a live-update batch: confirmed activities plus the full
// replacement set of pending activities for the chain (when given). Previous
// local/pending records superseded by the batch are removed, with their ids
// mapped through the resolver first.
func (e *Engine) ApplyNew(accountID, chain string, confirmed, pending []*domain.Activity, loadedAllHint *bool) map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.account(accountID)

	prev := e.localActivitiesLocked(st)
	if chain != "" {
		prev = append(prev, e.pendingActivitiesLocked(st, chain)...)
	}
	incoming := make([]*domain.Activity, 0, len(pending)+len(confirmed))
	incoming = append(incoming, pending...)
	incoming = append(incoming, confirmed...)

	replaced := identity.ResolveReplacements(prev, incoming)
	if len(replaced) > 0 {
		metrics.IDReplacements.Add(float64(len(replaced)))
	}

	sources := make([]string, 0, len(replaced))
	for oldID := range replaced {
		sources = append(sources, oldID)
	}
	e.removeLocked(st, sources)

	if chain != "" && pending != nil {
		adjusted := inheritTrustedStatus(pending, replaced, prev)
		e.removeLocked(st, st.pendingIDs[chain])
		e.addNewLocked(st, adjusted, chain)
	}

	e.addNewLocked(st, confirmed, "")

	// loadedAll moves only false -> true here: an update-only batch does not
	// imply history got shorter.
	if loadedAllHint != nil && *loadedAllHint && !st.mainEndReached {
		st.mainEndReached = true
	}

	return replaced
}

// ApplyPast folds in one page of fetched history for the (account, slug)
// scope. slug "" means the main (all assets) history.
func (e *Engine) ApplyPast(accountID, slug string, batch []*domain.Activity, endReached bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.applyPastLocked(e.account(accountID), slug, batch, endReached)
}

func (e *Engine) applyPastLocked(st *accountState, slug string, batch []*domain.Activity, endReached bool) {
	for _, a := range batch {
		st.byID[a.ID] = a
	}

	if slug != "" {
		st.idsBySlug[slug] = e.merger.MergeSortedIDs(st.byID, extractIDs(batch), st.idsBySlug[slug])
		if endReached {
			st.endReachedBySlug[slug] = true
		}
		return
	}

	st.mainIDs = e.merger.MergeSortedIDs(st.byID, st.mainIDs, extractIDs(batch))
	st.mainLoaded = true
	if endReached {
		st.mainEndReached = true
	}
}

// Invalidate clears the (account, slug) scope. slug "" resets the whole
// account. Records are never hidden in other scopes: a token invalidation
// leaves the account-wide view untouched.
func (e *Engine) Invalidate(accountID, slug string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if slug == "" {
		delete(e.accounts, accountID)
		e.log.Infof("Account activity state invalidated: account=%s", accountID)
		return
	}

	st, ok := e.accounts[accountID]
	if !ok {
		return
	}
	delete(st.idsBySlug, slug)
	delete(st.endReachedBySlug, slug)
	e.log.Infof("Token activity state invalidated: account=%s slug=%s", accountID, slug)
}

// --- projections ---

// Showing returns the user-facing projection for the scope: ordered and with
// soft-deleted records excluded.
func (e *Engine) Showing(accountID, slug string) []*domain.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.accounts[accountID]
	if !ok {
		return nil
	}

	source := st.mainIDs
	if slug != "" {
		source = st.idsBySlug[slug]
	}

	out := make([]*domain.Activity, 0, len(source))
	for _, id := range source {
		a, ok := st.byID[id]
		if !ok || a.ShouldHide {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (e *Engine) Activity(accountID, id string) (*domain.Activity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.accounts[accountID]
	if !ok {
		return nil, false
	}
	a, ok := st.byID[id]
	return a, ok
}

func (e *Engine) LocalActivities(accountID string) []*domain.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.accounts[accountID]
	if !ok {
		return nil
	}
	return e.localActivitiesLocked(st)
}

// PendingActivities returns the chain-pushed pending overlay. chain ""
// returns the overlays of every chain.
func (e *Engine) PendingActivities(accountID, chain string) []*domain.Activity {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.accounts[accountID]
	if !ok {
		return nil
	}
	if chain != "" {
		return e.pendingActivitiesLocked(st, chain)
	}

	var out []*domain.Activity
	for ch := range st.pendingIDs {
		out = append(out, e.pendingActivitiesLocked(st, ch)...)
	}
	return out
}

// EndReached reports the loadedAll flag for the scope.
func (e *Engine) EndReached(accountID, slug string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.accounts[accountID]
	if !ok {
		return false
	}
	if slug != "" {
		return st.endReachedBySlug[slug]
	}
	return st.mainEndReached
}

// MainIDs returns a snapshot of the ordered account-wide id list. The second
// result distinguishes "not loaded yet" from "confirmed empty".
func (e *Engine) MainIDs(accountID string) ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.accounts[accountID]
	if !ok || !st.mainLoaded {
		return nil, false
	}
	out := make([]string, len(st.mainIDs))
	copy(out, st.mainIDs)
	return out, true
}

// --- internals, called with the mutex held ---

func (e *Engine) addNewLocked(st *accountState, batch []*domain.Activity, chain string) {
	if len(batch) == 0 {
		return
	}

	for _, a := range batch {
		st.byID[a.ID] = a
	}

	st.mainIDs = e.merger.MergeSortedIDs(st.byID, st.mainIDs, extractIDs(batch))
	st.mainLoaded = true

	for slug, slugIDs := range groupIDsBySlug(batch) {
		// There may be newer local records in the slug list already, so a
		// proper merge is needed rather than an append.
		st.idsBySlug[slug] = e.merger.MergeSortedIDs(st.byID, slugIDs, st.idsBySlug[slug])
	}

	for _, a := range batch {
		if a.IsLocal() && !containsID(st.localIDs, a.ID) {
			st.localIDs = append(st.localIDs, a.ID)
		}
	}

	if chain != "" {
		for _, a := range batch {
			if a.IsPending() && !a.IsLocal() && !containsID(st.pendingIDs[chain], a.ID) {
				st.pendingIDs[chain] = append(st.pendingIDs[chain], a.ID)
			}
		}
	}
}

func (e *Engine) removeLocked(st *accountState, ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	affectedSlugs := make(map[string]struct{})
	for id := range drop {
		if a, ok := st.byID[id]; ok {
			for _, slug := range a.TokenSlugs() {
				affectedSlugs[slug] = struct{}{}
			}
		}
	}

	for slug := range affectedSlugs {
		kept := filterIDs(st.idsBySlug[slug], drop)
		if len(kept) == 0 {
			delete(st.idsBySlug, slug)
		} else {
			st.idsBySlug[slug] = kept
		}
	}

	st.mainIDs = filterIDs(st.mainIDs, drop)
	st.localIDs = filterIDs(st.localIDs, drop)
	for chain, pendingIDs := range st.pendingIDs {
		st.pendingIDs[chain] = filterIDs(pendingIDs, drop)
	}

	for id := range drop {
		delete(st.byID, id)
	}
}

func (e *Engine) localActivitiesLocked(st *accountState) []*domain.Activity {
	out := make([]*domain.Activity, 0, len(st.localIDs))
	for _, id := range st.localIDs {
		if a, ok := st.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) pendingActivitiesLocked(st *accountState, chain string) []*domain.Activity {
	ids := st.pendingIDs[chain]
	out := make([]*domain.Activity, 0, len(ids))
	for _, id := range ids {
		if a, ok := st.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (e *Engine) recentNonLocalLocked(st *accountState, limit int) []*domain.Activity {
	out := make([]*domain.Activity, 0, limit)
	for _, id := range st.mainIDs {
		if domain.IsLocalID(id) {
			continue
		}
		if a, ok := st.byID[id]; ok {
			out = append(out, a)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

// A pending record replacing a trusted local/pending keeps the trust.
func inheritTrustedStatus(pending []*domain.Activity, replaced map[string]string, prev []*domain.Activity) []*domain.Activity {
	reversed := make(map[string]string, len(replaced))
	for oldID, newID := range replaced {
		reversed[newID] = oldID
	}
	prevByID := make(map[string]*domain.Activity, len(prev))
	for _, a := range prev {
		prevByID[a.ID] = a
	}

	out := make([]*domain.Activity, len(pending))
	for i, a := range pending {
		out[i] = a
		if oldID, ok := reversed[a.ID]; ok {
			if old, ok := prevByID[oldID]; ok && old.Status == domain.StatusPendingTrusted && a.Status == domain.StatusPending {
				out[i] = cloneWithStatus(a, domain.StatusPendingTrusted)
			}
		}
	}
	return out
}

func cloneWithStatus(a *domain.Activity, status domain.ActivityStatus) *domain.Activity {
	c := *a
	c.Status = status
	return &c
}

func extractIDs(activities []*domain.Activity) []string {
	out := make([]string, len(activities))
	for i, a := range activities {
		out[i] = a.ID
	}
	return out
}

func groupIDsBySlug(activities []*domain.Activity) map[string][]string {
	out := make(map[string][]string)
	for _, a := range activities {
		for _, slug := range a.TokenSlugs() {
			out[slug] = append(out[slug], a.ID)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func filterIDs(ids []string, drop map[string]struct{}) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
