package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotCache keeps entitlement snapshots in Redis under a short TTL.
// It is a read-side optimization only; mutations invalidate eagerly.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache builds a SnapshotCache.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{client: client, ttl: ttl}
}

type cachedSnapshot struct {
	ModuleIDs     []int64 `json:"moduleIds"`
	PermissionIDs []int64 `json:"permissionIds"`
}

// Get returns the cached snapshot when present.
func (c *SnapshotCache) Get(ctx context.Context, companyID int64) (EntitlementSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, snapshotKey(companyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return EntitlementSnapshot{}, false, nil
	}
	if err != nil {
		return EntitlementSnapshot{}, false, err
	}
	var cached cachedSnapshot
	if err := json.Unmarshal(raw, &cached); err != nil {
		return EntitlementSnapshot{}, false, err
	}
	snap := EntitlementSnapshot{
		ModuleIDs:     make(map[int64]struct{}, len(cached.ModuleIDs)),
		PermissionIDs: make(map[int64]struct{}, len(cached.PermissionIDs)),
	}
	for _, id := range cached.ModuleIDs {
		snap.ModuleIDs[id] = struct{}{}
	}
	for _, id := range cached.PermissionIDs {
		snap.PermissionIDs[id] = struct{}{}
	}
	return snap, true, nil
}

// Set stores the snapshot.
func (c *SnapshotCache) Set(ctx context.Context, companyID int64, snap EntitlementSnapshot) error {
	cached := cachedSnapshot{
		ModuleIDs:     make([]int64, 0, len(snap.ModuleIDs)),
		PermissionIDs: make([]int64, 0, len(snap.PermissionIDs)),
	}
	for id := range snap.ModuleIDs {
		cached.ModuleIDs = append(cached.ModuleIDs, id)
	}
	for id := range snap.PermissionIDs {
		cached.PermissionIDs = append(cached.PermissionIDs, id)
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(companyID), raw, c.ttl).Err()
}

// Invalidate drops the cached snapshot.
func (c *SnapshotCache) Invalidate(ctx context.Context, companyID int64) error {
	return c.client.Del(ctx, snapshotKey(companyID)).Err()
}

func snapshotKey(companyID int64) string {
	return fmt.Sprintf("entitlement:company:%d", companyID)
}
