package order

import (
	"walletfeed/internal/domain"
	"walletfeed/internal/metrics"

	"gitlab.com/nevasik7/alerting/logger"
)

// Merger performs k-way merges of already-ordered activity lists.
// Upstream sources occasionally deliver stale or hand-assembled batches, so
// every input is verified and repaired instead of trusting the caller.
type Merger struct {
	log logger.Logger
}

func NewMerger(log logger.Logger) *Merger {
	return &Merger{log: log}
}

// MergeSorted merges the input lists into one list ordered per Compare and
// deduplicated by id. First occurrence wins, scanning lists in the order given.
func (m *Merger) MergeSorted(lists ...[]*domain.Activity) []*domain.Activity {
	for i := range lists {
		if !IsSortedUnique(lists[i]) {
			m.log.Errorf("Activity list %d is unsorted or has duplicates, repairing", i)
			metrics.MergeRepairs.Inc()
			lists[i] = SortActivities(lists[i])
		}
	}

	total := 0
	for _, l := range lists {
		total += len(l)
	}

	heads := make([]int, len(lists))
	seen := make(map[string]struct{}, total)
	out := make([]*domain.Activity, 0, total)

	for {
		best := -1
		for i, l := range lists {
			// skip already-emitted ids
			for heads[i] < len(l) {
				if _, ok := seen[l[heads[i]].ID]; !ok {
					break
				}
				heads[i]++
			}
			if heads[i] >= len(l) {
				continue
			}
			if best == -1 || Compare(l[heads[i]], lists[best][heads[best]]) < 0 {
				best = i
			}
		}
		if best == -1 {
			return out
		}

		next := lists[best][heads[best]]
		seen[next.ID] = struct{}{}
		out = append(out, next)
		heads[best]++
	}
}

// MergeSortedIDs is MergeSorted over id lists, resolving records through byID.
func (m *Merger) MergeSortedIDs(byID map[string]*domain.Activity, lists ...[]string) []string {
	for i := range lists {
		if !IsSortedUniqueIDs(byID, lists[i]) {
			m.log.Errorf("Activity id list %d is unsorted or has duplicates, repairing", i)
			metrics.MergeRepairs.Inc()
			lists[i] = SortIDs(byID, lists[i])
		}
	}

	total := 0
	for _, l := range lists {
		total += len(l)
	}

	heads := make([]int, len(lists))
	seen := make(map[string]struct{}, total)
	out := make([]string, 0, total)

	for {
		best := -1
		for i, l := range lists {
			for heads[i] < len(l) {
				if _, ok := seen[l[heads[i]]]; !ok {
					break
				}
				heads[i]++
			}
			if heads[i] >= len(l) {
				continue
			}
			if best == -1 || Compare(byID[l[heads[i]]], byID[lists[best][heads[best]]]) < 0 {
				best = i
			}
		}
		if best == -1 {
			return out
		}

		next := lists[best][heads[best]]
		seen[next] = struct{}{}
		out = append(out, next)
		heads[best]++
	}
}

// MergeToMaxTimestamp merges lists fetched to different depths. Every list is
// trimmed to the newest of the per-list oldest boundaries, so a shallow list
// doesn't imply false completeness beyond its own horizon.
func (m *Merger) MergeToMaxTimestamp(lists ...[]*domain.Activity) []*domain.Activity {
	from, ok := maxOldestBoundary(lists)
	if !ok {
		return m.MergeSorted(lists...)
	}

	trimmed := make([][]*domain.Activity, len(lists))
	for i, l := range lists {
		kept := make([]*domain.Activity, 0, len(l))
		for _, a := range l {
			if a.Timestamp >= from {
				kept = append(kept, a)
			}
		}
		trimmed[i] = kept
	}
	return m.MergeSorted(trimmed...)
}

// MergeIDsToMaxTimestamp is MergeToMaxTimestamp over id lists.
func (m *Merger) MergeIDsToMaxTimestamp(byID map[string]*domain.Activity, lists ...[]string) []string {
	var actLists [][]*domain.Activity
	for _, l := range lists {
		acts := make([]*domain.Activity, 0, len(l))
		for _, id := range l {
			acts = append(acts, byID[id])
		}
		actLists = append(actLists, acts)
	}

	from, ok := maxOldestBoundary(actLists)
	if !ok {
		return m.MergeSortedIDs(byID, lists...)
	}

	trimmed := make([][]string, len(lists))
	for i, l := range lists {
		kept := make([]string, 0, len(l))
		for _, id := range l {
			if byID[id].Timestamp >= from {
				kept = append(kept, id)
			}
		}
		trimmed[i] = kept
	}
	return m.MergeSortedIDs(byID, trimmed...)
}

// The newest of the last-element (oldest) timestamps across non-empty lists.
func maxOldestBoundary(lists [][]*domain.Activity) (int64, bool) {
	var from int64
	found := false
	for _, l := range lists {
		if len(l) == 0 {
			continue
		}
		oldest := l[len(l)-1].Timestamp
		if !found || oldest > from {
			from = oldest
			found = true
		}
	}
	return from, found
}
