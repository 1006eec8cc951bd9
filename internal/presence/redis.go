package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/veilchat/presence/internal/core"
)

const (
	deviceKeyPrefix   = "presence:devices:"
	snapshotKeyPrefix = "presence:snapshot:"
	contactsKeyPrefix = "presence:contacts:"
	onlineSetKey      = "presence:online"
)

// RedisStore keeps device records and status snapshots in Redis so presence
// survives process restarts. Per-user writes are issued as one transactional
// pipeline so other readers never observe a half-applied update.
type RedisStore struct {
	client           *redis.Client
	ttl              time.Duration // device map / online snapshot TTL
	offlineRetention time.Duration // how long a disconnected snapshot is kept
	contactTTL       time.Duration // contact cache TTL
	logger           *zap.Logger
}

type RedisConfig struct {
	TTL              time.Duration
	OfflineRetention time.Duration
	ContactTTL       time.Duration
}

func NewRedisStore(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.OfflineRetention <= 0 {
		cfg.OfflineRetention = 7 * 24 * time.Hour
	}
	if cfg.ContactTTL <= 0 {
		cfg.ContactTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:           client,
		ttl:              cfg.TTL,
		offlineRetention: cfg.OfflineRetention,
		contactTTL:       cfg.ContactTTL,
		logger:           logger.Named("redis-presence"),
	}
}

func deviceKey(userID string) string   { return deviceKeyPrefix + userID }
func snapshotKey(userID string) string { return snapshotKeyPrefix + userID }
func contactsKey(userID string) string { return contactsKeyPrefix + userID }

func (s *RedisStore) AddConnection(ctx context.Context, conn core.Connection) error {
	prev, found, err := s.GetSnapshot(ctx, conn.UserID)
	if err != nil {
		return err
	}
	exists, err := s.client.HExists(ctx, deviceKey(conn.UserID), conn.ID).Result()
	if err != nil {
		return fmt.Errorf("check device: %w", err)
	}
	count, err := s.DeviceCount(ctx, conn.UserID)
	if err != nil {
		return err
	}
	if !exists {
		// An upsert of a known connection leaves the device count unchanged.
		count++
	}

	if conn.LastHeartbeat.IsZero() {
		conn.LastHeartbeat = conn.ConnectedAt
	}
	record, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshal device record: %w", err)
	}
	snap := connectSnapshot(prev, found, conn.UserID, count, time.Now().UTC())
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, deviceKey(conn.UserID), conn.ID, record)
		pipe.Expire(ctx, deviceKey(conn.UserID), s.ttl)
		pipe.SAdd(ctx, onlineSetKey, conn.UserID)
		pipe.Set(ctx, snapshotKey(conn.UserID), snapJSON, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add connection: %w", err)
	}
	return nil
}

func (s *RedisStore) RemoveConnection(ctx context.Context, userID, connID string) error {
	prev, found, err := s.GetSnapshot(ctx, userID)
	if err != nil {
		return err
	}

	exists, err := s.client.HExists(ctx, deviceKey(userID), connID).Result()
	if err != nil {
		return fmt.Errorf("check device: %w", err)
	}
	count, err := s.client.HLen(ctx, deviceKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("count devices: %w", err)
	}
	remaining := int(count)
	if exists {
		remaining--
	}

	if remaining > 0 {
		snap := connectSnapshot(prev, found, userID, remaining, time.Now().UTC())
		snapJSON, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		// The record delete rides in the same transaction as the snapshot
		// refresh so readers never see one without the other.
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, deviceKey(userID), connID)
			pipe.Expire(ctx, deviceKey(userID), s.ttl)
			pipe.Set(ctx, snapshotKey(userID), snapJSON, s.ttl)
			return nil
		})
		if err != nil {
			return fmt.Errorf("refresh after remove: %w", err)
		}
		return nil
	}

	if !exists && !found {
		// Unknown user and unknown device: expected race, nothing to do.
		return nil
	}
	// markOffline deletes the whole device map, which covers this record.
	return s.markOffline(ctx, userID, prev, found)
}

// markOffline removes the user from the online set and writes a disconnected
// snapshot kept long enough to answer "last seen" queries across restarts.
func (s *RedisStore) markOffline(ctx context.Context, userID string, prev Snapshot, found bool) error {
	snap := disconnectSnapshot(prev, found, userID, time.Now().UTC())
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, deviceKey(userID))
		pipe.SRem(ctx, onlineSetKey, userID)
		pipe.Set(ctx, snapshotKey(userID), snapJSON, s.offlineRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark offline: %w", err)
	}
	return nil
}

func (s *RedisStore) TouchDevice(ctx context.Context, userID, connID string, at time.Time) (bool, error) {
	raw, err := s.client.HGet(ctx, deviceKey(userID), connID).Result()
	if err == redis.Nil {
		// Device record lost (failed write or TTL expiry); the caller
		// re-mirrors it from the registry.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get device: %w", err)
	}
	var conn core.Connection
	if err := json.Unmarshal([]byte(raw), &conn); err != nil {
		return false, fmt.Errorf("unmarshal device record: %w", err)
	}
	conn.LastHeartbeat = at
	record, err := json.Marshal(conn)
	if err != nil {
		return false, fmt.Errorf("marshal device record: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, deviceKey(userID), connID, record)
		pipe.Expire(ctx, deviceKey(userID), s.ttl)
		pipe.Expire(ctx, snapshotKey(userID), s.ttl)
		pipe.SAdd(ctx, onlineSetKey, userID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("touch device: %w", err)
	}
	return true, nil
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	count, err := s.client.HLen(ctx, deviceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("count devices: %w", err)
	}
	return count > 0, nil
}

func (s *RedisStore) ListDevices(ctx context.Context, userID string) ([]core.Connection, error) {
	raw, err := s.client.HGetAll(ctx, deviceKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]core.Connection, 0, len(raw))
	for connID, data := range raw {
		var conn core.Connection
		if err := json.Unmarshal([]byte(data), &conn); err != nil {
			s.logger.Warn("corrupt device record",
				zap.String("user_id", userID), zap.String("connection_id", connID))
			continue
		}
		out = append(out, conn)
	}
	return out, nil
}

func (s *RedisStore) DeviceCount(ctx context.Context, userID string) (int, error) {
	count, err := s.client.HLen(ctx, deviceKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return int(count), nil
}

func (s *RedisStore) ListOnline(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) GetSnapshot(ctx context.Context, userID string) (Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, snapshotKey(userID)).Result()
	if err == redis.Nil {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("get snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *RedisStore) SetManualStatus(ctx context.Context, userID string, status core.Status) error {
	prev, found, err := s.GetSnapshot(ctx, userID)
	if err != nil {
		return err
	}
	count, err := s.DeviceCount(ctx, userID)
	if err != nil {
		return err
	}
	snap := prev
	if !found {
		snap = Snapshot{UserID: userID, LastSeen: time.Now().UTC()}
	}
	snap.Manual = status
	snap.Connected = count > 0
	snap.DeviceCount = count
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	ttl := s.ttl
	if !snap.Connected {
		ttl = s.offlineRetention
	}
	if err := s.client.Set(ctx, snapshotKey(userID), snapJSON, ttl).Err(); err != nil {
		return fmt.Errorf("set manual status: %w", err)
	}
	return nil
}

func (s *RedisStore) CacheContacts(ctx context.Context, userID string, contactIDs []string) error {
	data, err := json.Marshal(contactIDs)
	if err != nil {
		return fmt.Errorf("marshal contacts: %w", err)
	}
	if err := s.client.Set(ctx, contactsKey(userID), data, s.contactTTL).Err(); err != nil {
		return fmt.Errorf("cache contacts: %w", err)
	}
	return nil
}

func (s *RedisStore) CachedContacts(ctx context.Context, userID string) ([]string, bool, error) {
	raw, err := s.client.Get(ctx, contactsKey(userID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached contacts: %w", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached contacts: %w", err)
	}
	return ids, true, nil
}

func (s *RedisStore) SweepStale(ctx context.Context, olderThan time.Duration) (SweepResult, error) {
	var result SweepResult
	cutoff := time.Now().UTC().Add(-olderThan)

	users, err := s.ListOnline(ctx)
	if err != nil {
		return result, err
	}
	for _, userID := range users {
		devices, err := s.ListDevices(ctx, userID)
		if err != nil {
			s.logger.Warn("sweep: list devices failed",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}

		var stale []string
		for _, d := range devices {
			last := d.LastHeartbeat
			if last.IsZero() {
				last = d.ConnectedAt
			}
			if last.Before(cutoff) {
				stale = append(stale, d.ID)
			}
		}
		if len(devices) == 0 {
			// Device map expired outright (crashed process); converge the
			// online set and snapshot.
			prev, found, err := s.GetSnapshot(ctx, userID)
			if err == nil {
				if err := s.markOffline(ctx, userID, prev, found); err == nil {
					result.WentOffline = append(result.WentOffline, userID)
				}
			}
			continue
		}
		if len(stale) == 0 {
			continue
		}

		if len(stale) == len(devices) {
			prev, found, err := s.GetSnapshot(ctx, userID)
			if err != nil {
				s.logger.Warn("sweep: snapshot read failed",
					zap.String("user_id", userID), zap.Error(err))
				continue
			}
			if err := s.markOffline(ctx, userID, prev, found); err != nil {
				s.logger.Warn("sweep: offline transition failed",
					zap.String("user_id", userID), zap.Error(err))
				continue
			}
			result.Evicted += len(stale)
			result.WentOffline = append(result.WentOffline, userID)
			continue
		}

		if err := s.client.HDel(ctx, deviceKey(userID), stale...).Err(); err != nil {
			s.logger.Warn("sweep: evict failed",
				zap.String("user_id", userID), zap.Error(err))
			continue
		}
		result.Evicted += len(stale)
	}
	return result, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
