// Package redis keeps drafts in Redis so several daemons can share them.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/kata/internal/domain"
)

const keyPrefix = "kata:draft:"

// Config holds the Redis connection settings for the draft store
type Config struct {
	Addr         string
	Password     string
	DB           int
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a local Redis configuration with a 30 day draft TTL
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		TTL:          30 * 24 * time.Hour,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DraftStore implements domain.DraftStore on Redis strings.
// Every put refreshes the key's TTL; a zero TTL keeps drafts forever.
type DraftStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewDraftStore connects to Redis and verifies the connection
func NewDraftStore(cfg Config) (*DraftStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	return NewDraftStoreWithClient(client, cfg.TTL), nil
}

// NewDraftStoreWithClient wraps an existing client
func NewDraftStoreWithClient(client *goredis.Client, ttl time.Duration) *DraftStore {
	return &DraftStore{client: client, ttl: ttl}
}

func draftKey(userID, exerciseID string) string {
	return keyPrefix + userID + ":" + exerciseID
}

// GetDraft returns the stored code or domain.ErrNotFound
func (s *DraftStore) GetDraft(ctx context.Context, userID, exerciseID string) (string, error) {
	code, err := s.client.Get(ctx, draftKey(userID, exerciseID)).Result()
	if err == goredis.Nil {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get draft: %w", translate(err))
	}
	return code, nil
}

// PutDraft overwrites the draft and refreshes its TTL
func (s *DraftStore) PutDraft(ctx context.Context, userID, exerciseID, code string) error {
	if err := s.client.Set(ctx, draftKey(userID, exerciseID), code, s.ttl).Err(); err != nil {
		return fmt.Errorf("set draft: %w", translate(err))
	}
	return nil
}

// Close closes the client
func (s *DraftStore) Close() error {
	return s.client.Close()
}

// translate marks network and pool failures as transient
func translate(err error) error {
	if err == nil {
		return nil
	}
	if err == goredis.ErrClosed || err == goredis.ErrPoolTimeout {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return err
}
