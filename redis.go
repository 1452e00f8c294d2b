package ouroboros

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisEpisodeStore implements EpisodeStore on a Redis hash per collection.
// Each field holds one JSON-encoded episode; similarity is computed in process.
type RedisEpisodeStore struct {
	client     *redis.Client
	collection string
	key        string
}

// OpenRedisEpisodeStore connects to the Redis server at url
// (e.g. "redis://localhost:6379/0") and verifies the connection.
func OpenRedisEpisodeStore(ctx context.Context, url, collection string) (*RedisEpisodeStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisEpisodeStore(client, collection), nil
}

// NewRedisEpisodeStore wraps an existing client.
func NewRedisEpisodeStore(client *redis.Client, collection string) *RedisEpisodeStore {
	return &RedisEpisodeStore{
		client:     client,
		collection: collection,
		key:        "ouroboros:episodes:" + collection,
	}
}

// Put stores the episode. Existing ids are rejected.
func (s *RedisEpisodeStore) Put(ctx context.Context, ep Episode) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("failed to encode episode: %w", err)
	}
	created, err := s.client.HSetNX(ctx, s.key, ep.ID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to store episode: %w", err)
	}
	if !created {
		return fmt.Errorf("episode %s already stored", ep.ID)
	}
	return nil
}

// Query ranks the collection's retrievable episodes by cosine similarity.
func (s *RedisEpisodeStore) Query(ctx context.Context, vector Vector, topK int) ([]Match, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return rank(vector, all, topK), nil
}

// Get loads one episode.
func (s *RedisEpisodeStore) Get(ctx context.Context, id string) (Episode, error) {
	data, err := s.client.HGet(ctx, s.key, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Episode{}, fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
		}
		return Episode{}, fmt.Errorf("failed to get episode: %w", err)
	}
	var ep Episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return Episode{}, fmt.Errorf("failed to decode episode %s: %w", id, err)
	}
	return ep, nil
}

// Delete removes one episode.
func (s *RedisEpisodeStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.HDel(ctx, s.key, id).Result()
	if err != nil {
		return fmt.Errorf("failed to delete episode: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
	}
	return nil
}

// List returns every episode in the collection, oldest first.
func (s *RedisEpisodeStore) List(ctx context.Context) ([]Episode, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	out := make([]Episode, 0, len(fields))
	for id, data := range fields {
		var ep Episode
		if err := json.Unmarshal([]byte(data), &ep); err != nil {
			return nil, fmt.Errorf("failed to decode episode %s: %w", id, err)
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetStatus rewrites the status flag inside a WATCH transaction so a
// concurrent delete is not resurrected.
func (s *RedisEpisodeStore) SetStatus(ctx context.Context, id string, status Status) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.HGet(ctx, s.key, id).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("%w: %s", ErrEpisodeNotFound, id)
			}
			return fmt.Errorf("failed to get episode: %w", err)
		}

		var ep Episode
		if err := json.Unmarshal(data, &ep); err != nil {
			return fmt.Errorf("failed to decode episode %s: %w", id, err)
		}
		ep.Status = status
		updated, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("failed to encode episode: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, id, updated)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to update episode status: %w", err)
		}
		return nil
	}, s.key)
}

// Close closes the Redis client.
func (s *RedisEpisodeStore) Close() error {
	return s.client.Close()
}

var _ EpisodeStore = (*RedisEpisodeStore)(nil)
