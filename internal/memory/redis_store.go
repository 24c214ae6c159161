package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	xerrors "AgentWarden/internal/errors"
)

// RedisStoreConfig 描述 Redis 记忆基座的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 使用 Redis 保存 packet：内容按 ID 存储，
// 类型与线索各维护一个按写入顺序追加的索引列表。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 创建 Redis 记忆基座实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "warden:memory"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Write 追加一条 packet 并更新索引。
func (s *RedisStore) Write(ctx context.Context, packetType string, payload map[string]any, metadata map[string]string) (string, error) {
	if packetType == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "packet 类型不能为空")
	}

	p := &Packet{
		ID:        uuid.NewString(),
		Type:      packetType,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Now().Unix(),
	}
	if metadata != nil {
		p.ThreadID = metadata["thread_id"]
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 packet 失败")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.packetKey(p.ID), encoded, 0)
	pipe.RPush(ctx, s.typeKey(packetType), p.ID)
	if p.ThreadID != "" {
		pipe.RPush(ctx, s.threadKey(p.ThreadID), p.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis packet 失败")
	}
	return p.ID, nil
}

// Search 按类型索引查询 packet。
func (s *RedisStore) Search(ctx context.Context, packetType string, filter map[string]string) ([]*Packet, error) {
	packets, err := s.fetchByIndex(ctx, s.typeKey(packetType))
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return packets, nil
	}
	filtered := packets[:0]
	for _, p := range packets {
		if matchesMetadata(p, filter) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// SearchByThread 按线索索引查询 packet。
func (s *RedisStore) SearchByThread(ctx context.Context, threadID string) ([]*Packet, error) {
	return s.fetchByIndex(ctx, s.threadKey(threadID))
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) fetchByIndex(ctx context.Context, indexKey string) ([]*Packet, error) {
	ids, err := s.client.LRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 索引失败")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.packetKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis packet 失败")
	}

	packets := make([]*Packet, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok || raw == "" {
			continue
		}
		var p Packet
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码 Redis packet 失败")
		}
		packets = append(packets, &p)
	}
	return packets, nil
}

func (s *RedisStore) packetKey(id string) string {
	return s.prefix + ":packet:" + id
}

func (s *RedisStore) typeKey(packetType string) string {
	return s.prefix + ":type:" + packetType
}

func (s *RedisStore) threadKey(threadID string) string {
	return s.prefix + ":thread:" + threadID
}

// ensure interface compliance at compile time
var _ Store = (*RedisStore)(nil)
