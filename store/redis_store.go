package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"maison/api/models"

	"github.com/redis/go-redis/v9"
)

const (
	redisNotificationsKey = "pulse:notifications"
	redisVisitorsKey      = "pulse:visitors"
	markReadAttempts      = 3
)

// RedisEventStore shares the dashboard views between server instances.
// Notifications are a capped list of JSON documents (LPUSH + LTRIM) and
// visitors a hash keyed by visitor id.
type RedisEventStore struct {
	rdb  *redis.Client
	opts Options
}

func NewRedisEventStore(rdb *redis.Client, opts Options) *RedisEventStore {
	return &RedisEventStore{rdb: rdb, opts: opts.withDefaults()}
}

func (s *RedisEventStore) Record(ctx context.Context, evt models.VisitorEvent) (*models.Notification, error) {
	now := s.opts.Clock()
	n := newNotification(evt, now)

	notifJSON, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	if evt.VisitorID != "" {
		visitorJSON, err := json.Marshal(models.ActiveVisitor{VisitorEvent: evt, LastSeen: now})
		if err != nil {
			return nil, fmt.Errorf("marshal visitor: %w", err)
		}
		pipe.HSet(ctx, redisVisitorsKey, evt.VisitorID, visitorJSON)
	}
	pipe.LPush(ctx, redisNotificationsKey, notifJSON)
	pipe.LTrim(ctx, redisNotificationsKey, 0, int64(s.opts.Limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis record event: %w", err)
	}
	return &n, nil
}

func (s *RedisEventStore) ListActive(ctx context.Context, now time.Time) ([]models.ActiveVisitor, error) {
	all, err := s.visitors(ctx)
	if err != nil {
		return nil, err
	}
	return activeVisitors(all, now, s.opts.Window), nil
}

func (s *RedisEventStore) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	raw, err := s.rdb.LRange(ctx, redisNotificationsKey, 0, int64(s.opts.Limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list notifications: %w", err)
	}
	out := make([]models.Notification, 0, len(raw))
	for _, item := range raw {
		var n models.Notification
		if err := json.Unmarshal([]byte(item), &n); err != nil {
			log.Printf("ERROR: skipping unreadable notification in redis: %v", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (s *RedisEventStore) Stats(ctx context.Context, now time.Time) (models.VisitorStats, error) {
	all, err := s.visitors(ctx)
	if err != nil {
		return models.VisitorStats{}, err
	}
	return computeStats(all, now, s.opts.Location), nil
}

// MarkRead rewrites the matching list element under WATCH so a concurrent
// LPUSH cannot shift it to another index.
func (s *RedisEventStore) MarkRead(ctx context.Context, id string, read bool) error {
	update := func(tx *redis.Tx) error {
		raw, err := tx.LRange(ctx, redisNotificationsKey, 0, -1).Result()
		if err != nil {
			return err
		}
		for i, item := range raw {
			var n models.Notification
			if err := json.Unmarshal([]byte(item), &n); err != nil || n.ID != id {
				continue
			}
			n.Read = read
			updated, err := json.Marshal(n)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.LSet(ctx, redisNotificationsKey, int64(i), updated)
				return nil
			})
			return err
		}
		return ErrNotificationNotFound
	}

	for attempt := 0; attempt < markReadAttempts; attempt++ {
		err := s.rdb.Watch(ctx, update, redisNotificationsKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotificationNotFound) {
			return fmt.Errorf("redis mark read: %w", err)
		}
		return err
	}
	return fmt.Errorf("redis mark read: %w", redis.TxFailedErr)
}

func (s *RedisEventStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisEventStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisEventStore) visitors(ctx context.Context) ([]models.ActiveVisitor, error) {
	raw, err := s.rdb.HGetAll(ctx, redisVisitorsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list visitors: %w", err)
	}
	out := make([]models.ActiveVisitor, 0, len(raw))
	for id, item := range raw {
		var v models.ActiveVisitor
		if err := json.Unmarshal([]byte(item), &v); err != nil {
			log.Printf("ERROR: skipping unreadable visitor %s in redis: %v", id, err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
