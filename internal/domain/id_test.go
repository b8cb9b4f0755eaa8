package domain

import "testing"

func TestBuildAndParseID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		hash, subID string
		kind        IDKind
		want        string
	}{
		{"abc", "", "", "abc"},
		{"abc", "3", "", "abc:3"},
		{"abc", "0", IDKindLocal, "abc:0:local"},
		{"swap42", "", IDKindBackendSwap, "swap42::backend-swap"},
		{"abc", "1", IDKindAdditional, "abc:1:additional"},
	}

	for _, c := range cases {
		got := BuildID(c.hash, c.subID, c.kind)
		if got != c.want {
			t.Fatalf("BuildID(%q, %q, %q) = %q, want %q", c.hash, c.subID, c.kind, got, c.want)
		}

		parsed := ParseID(got)
		if parsed.Hash != c.hash {
			t.Fatalf("ParseID(%q).Hash = %q, want %q", got, parsed.Hash, c.hash)
		}
		if parsed.SubID != c.subID {
			t.Fatalf("ParseID(%q).SubID = %q, want %q", got, parsed.SubID, c.subID)
		}
		if parsed.Kind != c.kind {
			t.Fatalf("ParseID(%q).Kind = %q, want %q", got, parsed.Kind, c.kind)
		}
	}
}

func TestIDKindChecks(t *testing.T) {
	t.Parallel()

	if !IsLocalID("abc:0:local") {
		t.Fatalf("expected local id")
	}
	if IsLocalID("abc:0:backend-swap") {
		t.Fatalf("backend-swap id must not be local")
	}
	if !IsBackendSwapID(BuildBackendSwapID("42")) {
		t.Fatalf("expected backend-swap id")
	}
	if IsBackendSwapID("abc") {
		t.Fatalf("bare hash must not be backend-swap")
	}
}

func TestIsPendingExcludesBackendSwaps(t *testing.T) {
	t.Parallel()

	a := &Activity{ID: "s1::backend-swap", Kind: KindSwap, Status: StatusPending}
	if a.IsPending() {
		t.Fatalf("backend swap must not be pending in the blockchain sense")
	}
	if !a.IsPendingForUser() {
		t.Fatalf("backend swap is still pending for the user")
	}

	b := &Activity{ID: "h1", Kind: KindTransaction, Status: StatusPendingTrusted}
	if !b.IsPending() {
		t.Fatalf("pendingTrusted chain activity must be pending")
	}
}

func TestTokenSlugs(t *testing.T) {
	t.Parallel()

	tx := &Activity{ID: "a", Kind: KindTransaction, Slug: "toncoin"}
	if got := tx.TokenSlugs(); len(got) != 1 || got[0] != "toncoin" {
		t.Fatalf("unexpected slugs for transaction: %v", got)
	}

	nft := &Activity{ID: "b", Kind: KindTransaction, Slug: "toncoin", NftAddress: "EQnft"}
	if got := nft.TokenSlugs(); len(got) != 0 {
		t.Fatalf("nft transfer must not belong to token histories, got %v", got)
	}

	swap := &Activity{ID: "c", Kind: KindSwap, FromSlug: "toncoin", ToSlug: "usdt"}
	if got := swap.TokenSlugs(); len(got) != 2 {
		t.Fatalf("unexpected slugs for swap: %v", got)
	}
	if !swap.BelongsToSlug("usdt") || swap.BelongsToSlug("jetton") {
		t.Fatalf("BelongsToSlug mismatch")
	}
}
