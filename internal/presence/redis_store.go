package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dd-25/Meetup/internal/config"
)

const (
	batchQueueKey   = "chat:batch:queue"
	processedIDsKey = "chat:processed:ids"
)

// RedisStore is the Redis-backed presence store for multi-instance
// deployments. It also carries the pending-batch queue and the processed-id
// dedup set used by the ingestion pipeline.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func clientKey(clientID string) string      { return "client:" + clientID }
func roomTeamKey(roomID string) string      { return "room:" + roomID + ":team" }
func roomClientsKey(roomID string) string   { return "room:" + roomID + ":clients" }
func roomUpdatedAtKey(roomID string) string { return "room:" + roomID + ":updatedAt" }
func roomProducersKey(roomID string) string { return "room:" + roomID + ":producers" }

func (s *RedisStore) SetClientSession(ctx context.Context, clientID string, sess *ClientSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal client session: %w", err)
	}
	if err := s.client.Set(ctx, clientKey(clientID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set client session: %w", err)
	}
	return nil
}

func (s *RedisStore) ClientSession(ctx context.Context, clientID string) (*ClientSession, error) {
	data, err := s.client.Get(ctx, clientKey(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get client session: %w", err)
	}

	var sess ClientSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) DeleteClientSession(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, clientKey(clientID)).Err()
}

func (s *RedisStore) AddRoomMember(ctx context.Context, roomID, clientID string) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, roomClientsKey(roomID), clientID)
	pipe.Set(ctx, roomUpdatedAtKey(roomID), nowMillis(), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RemoveRoomMember(ctx context.Context, roomID, clientID string) error {
	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, roomClientsKey(roomID), clientID)
	pipe.Set(ctx, roomUpdatedAtKey(roomID), nowMillis(), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	return s.client.SMembers(ctx, roomClientsKey(roomID)).Result()
}

func (s *RedisStore) CreateRoom(ctx context.Context, roomID, teamID string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roomTeamKey(roomID), teamID, 0)
	pipe.Set(ctx, roomUpdatedAtKey(roomID), nowMillis(), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx, roomTeamKey(roomID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room existence: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) RoomTeam(ctx context.Context, roomID string) (string, error) {
	team, err := s.client.Get(ctx, roomTeamKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get room team: %w", err)
	}
	return team, nil
}

func (s *RedisStore) TouchRoom(ctx context.Context, roomID string) error {
	return s.client.Set(ctx, roomUpdatedAtKey(roomID), nowMillis(), 0).Err()
}

func (s *RedisStore) RoomLastActive(ctx context.Context, roomID string) (time.Time, error) {
	val, err := s.client.Get(ctx, roomUpdatedAtKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get room activity: %w", err)
	}

	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed room activity timestamp: %w", err)
	}
	return time.UnixMilli(ms), nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	return s.client.Del(ctx,
		roomTeamKey(roomID),
		roomClientsKey(roomID),
		roomUpdatedAtKey(roomID),
		roomProducersKey(roomID),
	).Err()
}

func (s *RedisStore) AddRoomProducer(ctx context.Context, roomID, producerID string) error {
	return s.client.SAdd(ctx, roomProducersKey(roomID), producerID).Err()
}

func (s *RedisStore) RemoveRoomProducer(ctx context.Context, roomID, producerID string) error {
	return s.client.SRem(ctx, roomProducersKey(roomID), producerID).Err()
}

func (s *RedisStore) RoomProducers(ctx context.Context, roomID string) ([]string, error) {
	return s.client.SMembers(ctx, roomProducersKey(roomID)).Result()
}

// PushPending appends a serialized event to the pending-batch queue and
// returns the new queue length.
func (s *RedisStore) PushPending(ctx context.Context, payload []byte) (int64, error) {
	n, err := s.client.RPush(ctx, batchQueueKey, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to push pending event: %w", err)
	}
	return n, nil
}

// ClaimPending atomically removes and returns up to n items from the head of
// the pending-batch queue.
func (s *RedisStore) ClaimPending(ctx context.Context, n int) ([][]byte, error) {
	pipe := s.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, batchQueueKey, 0, int64(n)-1)
	pipe.LTrim(ctx, batchQueueKey, int64(n), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to claim pending events: %w", err)
	}

	items := rangeCmd.Val()
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		out = append(out, []byte(item))
	}
	return out, nil
}

// PendingLen returns the current pending-batch queue length.
func (s *RedisStore) PendingLen(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, batchQueueKey).Result()
}

// MarkProcessed records an event id in the dedup set with a bounded expiry.
func (s *RedisStore) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, processedIDsKey, eventID)
	pipe.Expire(ctx, processedIDsKey, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// IsProcessed reports whether an event id is already in the dedup set.
func (s *RedisStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	return s.client.SIsMember(ctx, processedIDsKey, eventID).Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func nowMillis() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

var _ Store = (*RedisStore)(nil)
