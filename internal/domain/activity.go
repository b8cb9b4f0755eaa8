package domain

type ActivityKind string

const (
	KindTransaction ActivityKind = "transaction"
	KindSwap        ActivityKind = "swap"
)

// Confirmation status observed on chain. Local-only records are recognized
// by the id suffix, not by a dedicated status.
// Both 'pendingTrusted' and 'pending' mean the activity is awaiting confirmation:
// 'pendingTrusted' was initiated by our app, 'pending' came from an external source.
type ActivityStatus string

const (
	StatusPending        ActivityStatus = "pending"
	StatusPendingTrusted ActivityStatus = "pendingTrusted"
	StatusCompleted      ActivityStatus = "completed"
	StatusFailed         ActivityStatus = "failed"
	StatusExpired        ActivityStatus = "expired"
)

type TransactionType string

const (
	TypeStake          TransactionType = "stake"
	TypeUnstake        TransactionType = "unstake"
	TypeUnstakeRequest TransactionType = "unstakeRequest"
	TypeCallContract   TransactionType = "callContract"
	TypeContractDeploy TransactionType = "contractDeploy"
	TypeMint           TransactionType = "mint"
	TypeBurn           TransactionType = "burn"
	TypeBounced        TransactionType = "bounced"
	TypeDNSRenew       TransactionType = "dnsRenew"
	TypeDNSChange      TransactionType = "dnsChange"
)

// One record of a user's history: either a transaction or a swap.
// Amounts are decimal strings, same convention as our other pipelines.
type Activity struct {
	ID        string         `json:"id"`
	Kind      ActivityKind   `json:"kind"`
	Timestamp int64          `json:"timestamp"` // unix millis, chain/event time
	Status    ActivityStatus `json:"status"`

	// Soft-delete: hidden from every projection, never removed from storage,
	// because other subsystems may still hold the id.
	ShouldHide bool `json:"shouldHide,omitempty"`

	// Normalized hash of the external message; set once the underlying
	// message is broadcast. Absent for not-yet-broadcast local records.
	ExternalMsgHash string `json:"externalMsgHash,omitempty"`

	// Set for records produced by the gas-less transfer path. Such records
	// never obtain an external message hash on the client.
	IsGasless bool `json:"isGasless,omitempty"`

	// transaction fields
	Slug              string          `json:"slug,omitempty"`
	IsIncoming        bool            `json:"isIncoming,omitempty"`
	FromAddress       string          `json:"fromAddress,omitempty"`
	ToAddress         string          `json:"toAddress,omitempty"`
	NormalizedAddress string          `json:"normalizedAddress,omitempty"`
	Amount            string          `json:"amount,omitempty"` // decimal as string
	Fee               string          `json:"fee,omitempty"`
	Comment           string          `json:"comment,omitempty"`
	Type              TransactionType `json:"type,omitempty"`
	NftAddress        string          `json:"nftAddress,omitempty"`

	// swap fields
	FromSlug   string `json:"from,omitempty"`
	ToSlug     string `json:"to,omitempty"`
	FromAmount string `json:"fromAmount,omitempty"`
	ToAmount   string `json:"toAmount,omitempty"`
}

func (a *Activity) IsLocal() bool {
	return IsLocalID(a.ID)
}

func (a *Activity) IsBackendSwap() bool {
	return IsBackendSwapID(a.ID)
}

func (a *Activity) IsPendingForUser() bool {
	return a.Status == StatusPending || a.Status == StatusPendingTrusted
}

// "Pending" is a blockchain term. Records originated by the swap backend are
// never considered pending in this sense.
func (a *Activity) IsPending() bool {
	return a.IsPendingForUser() && !a.IsBackendSwap()
}

func (a *Activity) IsFinalized() bool {
	return a.Status == StatusCompleted || a.Status == StatusFailed || a.Status == StatusExpired
}

// TokenSlugs returns the token histories this activity is a part of.
// NFT transfers don't belong to any token history.
func (a *Activity) TokenSlugs() []string {
	switch a.Kind {
	case KindSwap:
		if a.FromSlug == a.ToSlug {
			return []string{a.FromSlug}
		}
		return []string{a.FromSlug, a.ToSlug}
	default:
		if a.NftAddress != "" {
			return nil
		}
		return []string{a.Slug}
	}
}

func (a *Activity) BelongsToSlug(slug string) bool {
	if slug == "" {
		return true
	}
	for _, s := range a.TokenSlugs() {
		if s == slug {
			return true
		}
	}
	return false
}

// SuitableForPaginationAnchor reports whether the activity timestamp can be
// used as a history cursor. Local, backend-swap and pending records can't:
// their position may still move.
func (a *Activity) SuitableForPaginationAnchor() bool {
	return !a.IsLocal() && !a.IsBackendSwap() && !a.IsPending()
}
