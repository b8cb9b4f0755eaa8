package identity

import (
	"walletfeed/internal/domain"
)

/*
	Activity ids change over a record's life: a local id becomes a chain id,
	a pending chain id becomes a confirmed one. ResolveReplacements finds the
	new id within next for each activity in prev. Only local and pending ids
	change, so it's enough to provide only such activities in prev.

	The ids must be unique within each input slice. The returned map has
	previous ids as keys and next ids as values. A previous id absent from
	the map has no matching next activity and must be kept as is. The values
	may be not unique.
*/

// ResolveReplacements is pure: no side effects on the inputs.
func ResolveReplacements(prev, next []*domain.Activity) map[string]string {
	// Each previous activity must fall into either of the groups, otherwise
	// the resulting map would falsely miss previous ids.
	var prevLocal, prevChain []*domain.Activity
	for _, a := range prev {
		if a.IsLocal() {
			prevLocal = append(prevLocal, a)
		} else {
			prevChain = append(prevChain, a)
		}
	}

	out := resolveLocal(prevLocal, next)
	for k, v := range resolveChain(prevChain, next) {
		out[k] = v
	}
	return out
}

func resolveLocal(prevLocal, next []*domain.Activity) map[string]string {
	replacements := make(map[string]string, len(prevLocal))
	if len(prevLocal) == 0 {
		return replacements
	}

	nextIDs := make(map[string]struct{}, len(next))
	var nextChain []*domain.Activity
	for _, a := range next {
		nextIDs[a.ID] = struct{}{}
		if !a.IsLocal() {
			nextChain = append(nextChain, a)
		}
	}

	for _, local := range prevLocal {
		// Try a direct id match
		if _, ok := nextIDs[local.ID]; ok {
			replacements[local.ID] = local.ID
			continue
		}

		// Otherwise, try to find a match by a heuristic. First match wins.
		for _, chain := range nextChain {
			if MatchesLocal(local, chain) {
				replacements[local.ID] = chain.ID
				break
			}
		}

		// Otherwise, there is no match: the record is still unconfirmed.
	}

	return replacements
}

func resolveChain(prevChain, next []*domain.Activity) map[string]string {
	replacements := make(map[string]string, len(prevChain))
	if len(prevChain) == 0 {
		return replacements
	}

	nextIDs := make(map[string]struct{}, len(next))
	byMsgHash := make(map[string][]*domain.Activity)
	for _, a := range next {
		nextIDs[a.ID] = struct{}{}
		if a.ExternalMsgHash != "" {
			byMsgHash[a.ExternalMsgHash] = append(byMsgHash[a.ExternalMsgHash], a)
		}
	}

	for _, prev := range prevChain {
		// Try a direct id match
		if _, ok := nextIDs[prev.ID]; ok {
			replacements[prev.ID] = prev.ID
			continue
		}

		// Otherwise, match by the message hash
		if prev.ExternalMsgHash == "" {
			continue
		}
		group := byMsgHash[prev.ExternalMsgHash]
		if len(group) == 0 {
			continue
		}
		replacements[prev.ID] = group[0].ID

		// Leave one candidate in the group so further prev activities with
		// the same hash still find a match, but don't assign the same next
		// id twice when it's not necessary.
		if len(group) > 1 {
			byMsgHash[prev.ExternalMsgHash] = group[1:]
		}
	}

	return replacements
}

// MatchesLocal decides whether a local activity and an activity observed on
// chain describe the same logical event.
func MatchesLocal(local, chain *domain.Activity) bool {
	if local.IsGasless {
		// Gas-less records never obtain a message hash on the client, so the
		// match runs on the signature of the operation itself.
		if local.Kind == domain.KindTransaction && chain.Kind == domain.KindTransaction {
			return !chain.IsIncoming &&
				local.NormalizedAddress == chain.NormalizedAddress &&
				local.Amount == chain.Amount &&
				local.Slug == chain.Slug
		}
		if local.Kind == domain.KindSwap && chain.Kind == domain.KindSwap {
			return local.FromSlug == chain.FromSlug &&
				local.ToSlug == chain.ToSlug &&
				local.FromAmount == chain.FromAmount
		}
	}

	if local.ExternalMsgHash != "" {
		return local.ExternalMsgHash == chain.ExternalMsgHash && !chain.ShouldHide
	}

	return domain.ParseID(local.ID).Hash == domain.ParseID(chain.ID).Hash
}
