package domain

import "strings"

// An activity id is "<hash>", "<hash>:<subId>" or "<hash>:<subId>:<kind>".
// The kind suffix tells, from the id alone, how the record originated.
type IDKind string

const (
	IDKindLocal       IDKind = "local"
	IDKindBackendSwap IDKind = "backend-swap"
	IDKindAdditional  IDKind = "additional"
)

const (
	localIDSuffix       = ":" + string(IDKindLocal)
	backendSwapIDSuffix = ":" + string(IDKindBackendSwap)
)

type ParsedID struct {
	Hash  string
	SubID string
	Kind  IDKind
}

func ParseID(id string) ParsedID {
	parts := strings.SplitN(id, ":", 3)
	out := ParsedID{Hash: parts[0]}
	if len(parts) > 1 {
		out.SubID = parts[1]
	}
	if len(parts) > 2 {
		out.Kind = IDKind(parts[2])
	}
	return out
}

func BuildID(hash, subID string, kind IDKind) string {
	if kind == "" && subID == "" {
		return hash
	}
	if kind == "" {
		return hash + ":" + subID
	}
	return hash + ":" + subID + ":" + string(kind)
}

func BuildLocalID(hash, subID string) string {
	return BuildID(hash, subID, IDKindLocal)
}

func BuildBackendSwapID(backendID string) string {
	return BuildID(backendID, "", IDKindBackendSwap)
}

// Client-synthesized record, not seen on chain yet.
func IsLocalID(id string) bool {
	return strings.HasSuffix(id, localIDSuffix)
}

// Backend-originated swap record. Never superseded by a chain id.
func IsBackendSwapID(id string) bool {
	return strings.HasSuffix(id, backendSwapIDSuffix)
}
