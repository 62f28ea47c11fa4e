package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"urlscan/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	dnsKeyPrefix   = "dns:"
	historyKey     = "scan_history"
	historyMaxSize = 100
)

type Storage struct {
	Client *redis.Client
	DNSTTL time.Duration
}

func NewStorage(host, port string, dnsTTL time.Duration) *Storage {
	rdb := redis.NewClient(&redis.Options{
		Addr: host + ":" + port,
		DB:   0,
	})
	return &Storage{Client: rdb, DNSTTL: dnsTTL}
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *Storage) Close() error {
	return s.Client.Close()
}

// GetDNSInfo returns the shared DNS presence entry for domain, if any.
func (s *Storage) GetDNSInfo(ctx context.Context, domain string) (model.DNSInfo, bool, error) {
	var info model.DNSInfo
	val, err := s.GetCache(ctx, dnsKeyPrefix+domain)
	if errors.Is(err, redis.Nil) {
		return info, false, nil
	}
	if err != nil {
		return info, false, err
	}
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return info, false, err
	}
	return info, true, nil
}

func (s *Storage) SetDNSInfo(ctx context.Context, domain string, info model.DNSInfo) error {
	return s.SetCache(ctx, dnsKeyPrefix+domain, info, s.DNSTTL)
}

// AddScanHistory prepends a verdict and keeps the newest historyMaxSize.
func (s *Storage) AddScanHistory(ctx context.Context, res model.ScanResult) error {
	entry := model.HistoryEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Result:    res,
	}
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	pipe := s.Client.Pipeline()
	pipe.LPush(ctx, historyKey, string(entryBytes))
	pipe.LTrim(ctx, historyKey, 0, historyMaxSize-1)
	_, err = pipe.Exec(ctx)
	return err
}

// GetScanHistory returns up to limit verdicts, newest first.
func (s *Storage) GetScanHistory(ctx context.Context, limit int) ([]model.HistoryEntry, error) {
	if limit <= 0 || limit > historyMaxSize {
		limit = historyMaxSize
	}
	val, err := s.Client.LRange(ctx, historyKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]model.HistoryEntry, 0, len(val))
	for _, v := range val {
		var entry model.HistoryEntry
		if err := json.Unmarshal([]byte(v), &entry); err == nil {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Storage) GetCache(ctx context.Context, key string) (string, error) {
	return s.Client.Get(ctx, key).Result()
}

func (s *Storage) SetCache(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	val, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Client.Set(ctx, key, val, expiration).Err()
}
