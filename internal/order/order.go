package order

import (
	"sort"
	"strings"

	"walletfeed/internal/domain"
)

/*
	Total order over activities used by every sort/merge in the system.
	Newest first. Pending activities sort before confirmed ones regardless of
	timestamp: when a pending activity gets confirmed, its timestamp becomes
	bigger than any current confirmed timestamp, so keeping pending items on
	top avoids visible re-ordering in the list.
*/

// Compare reports the relative position in a newest-first list:
// negative when a comes before b, zero only for the same id.
func Compare(a, b *domain.Activity) int {
	ap, bp := pendingRank(a), pendingRank(b)
	if ap != bp {
		return bp - ap // pending first
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp > b.Timestamp {
			return -1
		}
		return 1
	}
	return strings.Compare(b.ID, a.ID) // id descending, deterministic tie-break
}

func pendingRank(a *domain.Activity) int {
	if a.IsPending() {
		return 1
	}
	return 0
}

// SortActivities returns a copy deduplicated by id (first occurrence wins)
// and sorted per Compare. Use the merge functions instead when the inputs
// are already sorted.
func SortActivities(activities []*domain.Activity) []*domain.Activity {
	seen := make(map[string]struct{}, len(activities))
	out := make([]*domain.Activity, 0, len(activities))
	for _, a := range activities {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Compare(out[i], out[j]) < 0
	})
	return out
}

// SortIDs is SortActivities over an id list, resolving records through byID.
func SortIDs(byID map[string]*domain.Activity, ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Compare(byID[out[i]], byID[out[j]]) < 0
	})
	return out
}

// IsSortedUnique reports whether the list is strictly ordered per Compare
// (which also implies the ids are unique).
func IsSortedUnique(activities []*domain.Activity) bool {
	for i := 1; i < len(activities); i++ {
		if Compare(activities[i-1], activities[i]) >= 0 {
			return false
		}
	}
	return true
}

func IsSortedUniqueIDs(byID map[string]*domain.Activity, ids []string) bool {
	for i := 1; i < len(ids); i++ {
		if Compare(byID[ids[i-1]], byID[ids[i]]) >= 0 {
			return false
		}
	}
	return true
}
