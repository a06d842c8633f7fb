package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/ragflow/types"
)

// Redis 键布局:
//
//	ragflow:conv:<id>        会话元数据 (JSON string)
//	ragflow:msgs:<id>        消息日志 (LIST, RPUSH 保序)
//	ragflow:user:<uid>:convs 用户的会话集合 (SET)
const (
	convKeyPrefix = "ragflow:conv:"
	msgsKeyPrefix = "ragflow:msgs:"
	userKeyPrefix = "ragflow:user:"
)

// RedisStore 把会话和消息日志存进 Redis.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 存储.
func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

func convKey(id string) string     { return convKeyPrefix + id }
func msgsKey(id string) string     { return msgsKeyPrefix + id }
func userKey(userID string) string { return userKeyPrefix + userID + ":convs" }

func (s *RedisStore) SaveMessage(ctx context.Context, record *types.MessageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return s.client.RPush(ctx, msgsKey(record.ConversationID), data).Err()
}

func (s *RedisStore) LoadMessages(ctx context.Context, conversationID string) ([]types.MessageRecord, error) {
	items, err := s.client.LRange(ctx, msgsKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]types.MessageRecord, 0, len(items))
	for _, item := range items {
		var record types.MessageRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			s.logger.Warn("skipping undecodable message record", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *RedisStore) CreateConversation(ctx context.Context, record *types.ConversationRecord) error {
	if record.ConversationID == "" {
		record.ConversationID = uuid.NewString()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, convKey(record.ConversationID), data, 0)
	pipe.SAdd(ctx, userKey(record.UserID), record.ConversationID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetConversation(ctx context.Context, conversationID string) (*types.ConversationRecord, error) {
	data, err := s.client.Get(ctx, convKey(conversationID)).Result()
	if err == redis.Nil {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	var record types.ConversationRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) ListConversations(ctx context.Context, userID string) ([]types.ConversationRecord, error) {
	ids, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]types.ConversationRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.GetConversation(ctx, id)
		if err != nil {
			// 元数据缺失的会话跳过
			continue
		}
		records = append(records, *record)
	}
	// 最近更新的排前面
	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].UpdatedAt.After(records[i].UpdatedAt) {
				records[i], records[j] = records[j], records[i]
			}
		}
	}
	return records, nil
}

func (s *RedisStore) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	record, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	record.Title = title
	record.UpdatedAt = time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, convKey(conversationID), data, 0).Err()
}

func (s *RedisStore) TouchConversation(ctx context.Context, conversationID string) error {
	record, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	record.UpdatedAt = time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, convKey(conversationID), data, 0).Err()
}

func (s *RedisStore) DeleteConversation(ctx context.Context, conversationID string) error {
	record, err := s.GetConversation(ctx, conversationID)
	if err != nil && err != ErrConversationNotFound {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, convKey(conversationID), msgsKey(conversationID))
	if record != nil {
		pipe.SRem(ctx, userKey(record.UserID), conversationID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
