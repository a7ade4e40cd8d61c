package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-chat/internal/domain"
)

type profileCacheClient interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedProfileRepository pone un cache Redis delante de otro ProfileRepository.
// Cualquier error de Redis cae al repositorio de origen.
type CachedProfileRepository struct {
	next   ProfileRepository
	client profileCacheClient
	ttl    time.Duration
	prefix string
}

func NewCachedProfileRepository(next ProfileRepository, client *redis.Client, ttl time.Duration) ProfileRepository {
	if client == nil {
		return next
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProfileRepository{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "chat:profile:",
	}
}

func (r *CachedProfileRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.PublicProfile, error) {
	out := make(map[string]domain.PublicProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefix + id
	}

	missing := ids
	if vals, err := r.client.MGet(ctx, keys...).Result(); err == nil && len(vals) == len(ids) {
		missing = missing[:0:0]
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var p domain.PublicProfile
			if err := json.Unmarshal([]byte(raw), &p); err != nil || p.ID == "" {
				missing = append(missing, ids[i])
				continue
			}
			out[ids[i]] = p
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := r.next.GetMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		out[id] = p
		if payload, err := json.Marshal(p); err == nil {
			_ = r.client.Set(ctx, r.prefix+id, payload, r.ttl).Err()
		}
	}
	return out, nil
}
