package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/types"
)

// conversationModel 是会话元数据的 GORM 模型.
type conversationModel struct {
	ConversationID string `gorm:"primaryKey;size:64"`
	UserID         string `gorm:"index;size:64"`
	Title          string `gorm:"size:256"`
	CreatedAt      time.Time
	UpdatedAt      time.Time `gorm:"index"`
}

func (conversationModel) TableName() string { return "conversations" }

// messageModel 是消息记录的 GORM 模型, Seq 保证插入顺序可重放.
type messageModel struct {
	Seq            uint64 `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"uniqueIndex;size:64"`
	ConversationID string `gorm:"index;size:64"`
	Role           string `gorm:"size:16"`
	Type           string `gorm:"size:16"`
	Content        string `gorm:"type:text"`
	Extra          string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (messageModel) TableName() string { return "messages" }

// GormStore 把会话和消息日志存进关系数据库 (Postgres / SQLite).
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建数据库存储并迁移表结构.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&conversationModel{}, &messageModel{}); err != nil {
		return nil, err
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

func (s *GormStore) SaveMessage(ctx context.Context, record *types.MessageRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	var extra string
	if record.Extra != nil {
		data, err := json.Marshal(record.Extra)
		if err != nil {
			return err
		}
		extra = string(data)
	}

	model := messageModel{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		Role:           string(record.Role),
		Type:           string(record.Type),
		Content:        record.Content,
		Extra:          extra,
		CreatedAt:      record.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) LoadMessages(ctx context.Context, conversationID string) ([]types.MessageRecord, error) {
	var models []messageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq asc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]types.MessageRecord, 0, len(models))
	for _, m := range models {
		record := types.MessageRecord{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Role:           types.Role(m.Role),
			Type:           types.MessageType(m.Type),
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		}
		if m.Extra != "" {
			if err := json.Unmarshal([]byte(m.Extra), &record.Extra); err != nil {
				s.logger.Warn("failed to decode message extra",
					zap.String("message_id", m.ID),
					zap.Error(err))
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *GormStore) CreateConversation(ctx context.Context, record *types.ConversationRecord) error {
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

	model := conversationModel{
		ConversationID: record.ConversationID,
		UserID:         record.UserID,
		Title:          record.Title,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormStore) GetConversation(ctx context.Context, conversationID string) (*types.ConversationRecord, error) {
	var model conversationModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &types.ConversationRecord{
		ConversationID: model.ConversationID,
		UserID:         model.UserID,
		Title:          model.Title,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}, nil
}

func (s *GormStore) ListConversations(ctx context.Context, userID string) ([]types.ConversationRecord, error) {
	var models []conversationModel
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at desc").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]types.ConversationRecord, 0, len(models))
	for _, m := range models {
		records = append(records, types.ConversationRecord{
			ConversationID: m.ConversationID,
			UserID:         m.UserID,
			Title:          m.Title,
			CreatedAt:      m.CreatedAt,
			UpdatedAt:      m.UpdatedAt,
		})
	}
	return records, nil
}

func (s *GormStore) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	result := s.db.WithContext(ctx).
		Model(&conversationModel{}).
		Where("conversation_id = ?", conversationID).
		Updates(map[string]any{"title": title, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *GormStore) TouchConversation(ctx context.Context, conversationID string) error {
	result := s.db.WithContext(ctx).
		Model(&conversationModel{}).
		Where("conversation_id = ?", conversationID).
		Update("updated_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *GormStore) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&messageModel{}).Error; err != nil {
			return err
		}
		return tx.Where("conversation_id = ?", conversationID).Delete(&conversationModel{}).Error
	})
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
