// Package redisstore provides a Redis implementation of dispatch.Store.
//
// Each incident gets one hash keyed by incident ID; the HSETNX claim on a
// recipient|channel field is the atomic reservation. A TTL on the hash keeps
// the keyspace from growing without bound; the Postgres ledger remains the
// durable audit trail.
package redisstore

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mkaumee/Alert.Ai/internal/dispatch"
)

// Config holds Redis connection settings for the dedup store.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RegisterFlags registers Redis flags on the given FlagSet.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Addr, "redis-addr", "", "Redis address for the delivery dedup store. Empty selects the in-memory store.")
	fs.StringVar(&c.Password, "redis-password", "", "Redis password.")
	fs.IntVar(&c.DB, "redis-db", 0, "Redis database index.")
	fs.DurationVar(&c.TTL, "redis-dedup-ttl", 24*time.Hour, "Lifetime of per-incident dedup hashes.")
}

// Store keeps delivery reservations in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{client: client, ttl: cfg.TTL}, nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

func incidentKey(incidentID string) string {
	return "alertai:deliveries:" + incidentID
}

func field(recipientID, channel string) string {
	return recipientID + "|" + channel
}

// Reserve claims the slot via HSETNX.
func (s *Store) Reserve(ctx context.Context, incidentID, recipientID, channel string, at time.Time) (bool, error) {
	payload, err := json.Marshal(dispatch.Delivery{
		IncidentID:  incidentID,
		RecipientID: recipientID,
		Channel:     channel,
		At:          at,
	})
	if err != nil {
		return false, fmt.Errorf("marshal reservation: %w", err)
	}

	key := incidentKey(incidentID)
	claimed, err := s.client.HSetNX(ctx, key, field(recipientID, channel), payload).Result()
	if err != nil {
		return false, fmt.Errorf("hsetnx: %w", err)
	}
	if claimed && s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return false, fmt.Errorf("expire: %w", err)
		}
	}
	return claimed, nil
}

// Record overwrites the reserved field with the delivery outcome.
func (s *Store) Record(ctx context.Context, d dispatch.Delivery) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	if err := s.client.HSet(ctx, incidentKey(d.IncidentID), field(d.RecipientID, d.Channel), payload).Err(); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}

// List returns the deliveries recorded for an incident.
func (s *Store) List(ctx context.Context, incidentID string) ([]dispatch.Delivery, error) {
	fields, err := s.client.HGetAll(ctx, incidentKey(incidentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make([]dispatch.Delivery, 0, len(fields))
	for _, raw := range fields {
		var d dispatch.Delivery
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			return nil, fmt.Errorf("unmarshal delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}
