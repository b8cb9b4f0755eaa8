package persist

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"walletfeed/internal/domain"
	rds "walletfeed/internal/stores/redis"

	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

/*
	Snapshot of the reconciled timeline per (account, slug) scope: the ordered
	id list plus the loadedAll flag. Records are stored once per account in a
	separate hash and re-derived from the in-memory set at write time, so a
	cold start can replay the same ids against fresh network data.
	Written only after genuinely new network data, never after serving from
	cache and never after a live-update-only batch.
*/

type Snapshot struct {
	Version   int
	TakenAt   time.Time
	IDs       []string
	LoadedAll bool
}

const snapshotVersion = 1

type Store struct {
	log    logger.Logger
	rdb    *rds.Client
	prefix string
}

// prefix example "walletfeed:"
func NewStore(log logger.Logger, rdb *rds.Client, prefix string) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required to the persist store")
	}
	if prefix == "" {
		prefix = "walletfeed:"
	}

	return &Store{log: log, rdb: rdb, prefix: prefix}, nil
}

func (s *Store) idListKey(accountID, slug string) string {
	return s.prefix + "ids:" + accountID + ":" + slug
}

func (s *Store) recordsKey(accountID string) string {
	return s.prefix + "act:" + accountID
}

func (s *Store) SaveIDList(ctx context.Context, accountID, slug string, ids []string, loadedAll bool) error {
	snap := Snapshot{
		Version:   snapshotVersion,
		TakenAt:   time.Now().UTC(),
		IDs:       ids,
		LoadedAll: loadedAll,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("failed to encode id list snapshot: %w", err)
	}

	if err := s.rdb.Set(ctx, s.idListKey(accountID, slug), buf.Bytes(), 0).Err(); err != nil {
		return fmt.Errorf("failed to store id list snapshot: %w", err)
	}

	s.log.Debugf("Stored id list snapshot: account=%s slug=%q ids=%d loadedAll=%v", accountID, slug, len(ids), loadedAll)
	return nil
}

// LoadIDList returns ok=false when no snapshot exists for the scope, which
// callers must treat as "cache not found", not as confirmed empty history.
func (s *Store) LoadIDList(ctx context.Context, accountID, slug string) (ids []string, loadedAll bool, ok bool, err error) {
	data, err := s.rdb.Get(ctx, s.idListKey(accountID, slug)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to read id list snapshot: %w", err)
	}

	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, false, false, fmt.Errorf("failed to decode id list snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, false, false, fmt.Errorf("unsupported snapshot version: %d", snap.Version)
	}

	return snap.IDs, snap.LoadedAll, true, nil
}

func (s *Store) SaveActivities(ctx context.Context, accountID string, activities []*domain.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(activities))
	for _, a := range activities {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal activity %s: %w", a.ID, err)
		}
		fields[a.ID] = data
	}

	if err := s.rdb.HSet(ctx, s.recordsKey(accountID), fields).Err(); err != nil {
		return fmt.Errorf("failed to store activity records: %w", err)
	}
	return nil
}

// LoadActivities resolves cached records for the given ids. Ids without a
// cached record are skipped; the id list is the source of order, not of
// completeness.
func (s *Store) LoadActivities(ctx context.Context, accountID string, ids []string) ([]*domain.Activity, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.rdb.HMGet(ctx, s.recordsKey(accountID), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read activity records: %w", err)
	}

	out := make([]*domain.Activity, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a domain.Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.log.Errorf("Skipping undecodable cached activity %s: %v", ids[i], err)
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

// Invalidate drops the snapshot for the scope. slug "" drops the account-wide
// list and the record hash.
func (s *Store) Invalidate(ctx context.Context, accountID, slug string) error {
	keys := []string{s.idListKey(accountID, slug)}
	if slug == "" {
		keys = append(keys, s.recordsKey(accountID))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot: %w", err)
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
