package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/kvtxn"
)

// Clustered is the Redis-backed Lock used when EnvironmentOptions.Clustered
// is set: several OS processes share one environment and must coordinate
// the commit pipeline through a process outside any of them.
type Clustered struct {
	client *redis.Client
	owner  kvtxn.UUID
}

// NewClustered dials addr and returns a Clustered lock owned by ownerID.
func NewClustered(addr string, ownerID kvtxn.UUID) *Clustered {
	return &Clustered{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		owner:  ownerID,
	}
}

func (c *Clustered) key(name string) string {
	return fmt.Sprintf("kvtxn:lock:%s", name)
}

// Lock implements Lock. Mirrors the teacher's Redis locker: SetNX-style
// check-then-set followed by a second read to confirm this owner actually
// won the race, since two processes can both pass the first check.
func (c *Clustered) Lock(ctx context.Context, name string, duration time.Duration) (bool, kvtxn.UUID, error) {
	k := c.key(name)

	val, err := c.client.Get(ctx, k).Result()
	if err == nil {
		if val == c.owner.String() {
			return true, kvtxn.NilUUID, nil
		}
		return false, parseOwner(val), nil
	}
	if err != redis.Nil {
		return false, kvtxn.NilUUID, err
	}

	ok, err := c.client.SetNX(ctx, k, c.owner.String(), duration).Result()
	if err != nil {
		return false, kvtxn.NilUUID, err
	}
	if !ok {
		val, err := c.client.Get(ctx, k).Result()
		if err != nil && err != redis.Nil {
			return false, kvtxn.NilUUID, err
		}
		return false, parseOwner(val), nil
	}

	val2, err := c.client.Get(ctx, k).Result()
	if err != nil {
		return false, kvtxn.NilUUID, err
	}
	if val2 != c.owner.String() {
		return false, parseOwner(val2), nil
	}
	return true, kvtxn.NilUUID, nil
}

// IsLocked implements Lock.
func (c *Clustered) IsLocked(ctx context.Context, name string) (bool, error) {
	val, err := c.client.Get(ctx, c.key(name)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == c.owner.String(), nil
}

// Unlock implements Lock, deleting the key only when this owner holds it.
func (c *Clustered) Unlock(ctx context.Context, name string) error {
	k := c.key(name)
	val, err := c.client.Get(ctx, k).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != c.owner.String() {
		return nil
	}
	return c.client.Del(ctx, k).Err()
}

// Close implements Lock.
func (c *Clustered) Close() error {
	return c.client.Close()
}

func parseOwner(s string) kvtxn.UUID {
	id, err := kvtxn.ParseUUID(s)
	if err != nil {
		return kvtxn.NilUUID
	}
	return id
}
