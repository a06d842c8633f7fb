package tools

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/types"
)

// Auditor 记录工具调用审计. 每次调用尝试恰好写一条记录, 无论成败.
type Auditor interface {
	// Log 写入一条审计记录.
	Log(ctx context.Context, record *types.ToolAuditRecord) error

	// Query 按过滤条件查询审计记录.
	Query(ctx context.Context, filter AuditFilter) ([]types.ToolAuditRecord, error)

	// Close 关闭审计器并刷新未完成的写入.
	Close() error
}

// AuditFilter 定义审计查询的过滤条件.
type AuditFilter struct {
	ConversationID string     `json:"conversation_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	ToolName       string     `json:"tool_name,omitempty"`
	Status         string     `json:"status,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	Limit          int        `json:"limit,omitempty"`
	Offset         int        `json:"offset,omitempty"`
}

func (f AuditFilter) matches(r *types.ToolAuditRecord) bool {
	if f.ConversationID != "" && r.ConversationID != f.ConversationID {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.ToolName != "" && r.ToolName != f.ToolName {
		return false
	}
	if f.Status != "" && string(r.Status) != f.Status {
		return false
	}
	if f.StartTime != nil && r.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && r.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// fillDefaults 补全缺失的 ID 和时间戳.
func fillDefaults(record *types.ToolAuditRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
}

// ====== 内存审计 ======

// MemoryAuditStore 把审计记录保存在内存里, 用于开发和测试.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []types.ToolAuditRecord
	maxSize int
}

// NewMemoryAuditStore 创建内存审计存储.
func NewMemoryAuditStore(maxSize int) *MemoryAuditStore {
	if maxSize <= 0 {
		maxSize = 100000
	}
	return &MemoryAuditStore{maxSize: maxSize}
}

func (m *MemoryAuditStore) Log(ctx context.Context, record *types.ToolAuditRecord) error {
	fillDefaults(record)

	m.mu.Lock()
	defer m.mu.Unlock()

	// 容量满时淘汰最旧的 10%
	if len(m.records) >= m.maxSize {
		removeCount := m.maxSize / 10
		if removeCount < 1 {
			removeCount = 1
		}
		m.records = m.records[removeCount:]
	}
	m.records = append(m.records, *record)
	return nil
}

func (m *MemoryAuditStore) Query(ctx context.Context, filter AuditFilter) ([]types.ToolAuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []types.ToolAuditRecord
	for i := range m.records {
		if filter.matches(&m.records[i]) {
			results = append(results, m.records[i])
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(results) {
			return nil, nil
		}
		results = results[filter.Offset:]
	}
	if filter.Limit > 0 && len(results) > filter.Limit {
		results = results[:filter.Limit]
	}
	return results, nil
}

func (m *MemoryAuditStore) Close() error {
	return nil
}

// ====== 数据库审计 ======

// toolAuditModel 是审计记录的 GORM 模型.
type toolAuditModel struct {
	ID              string    `gorm:"primaryKey;size:64"`
	Timestamp       time.Time `gorm:"index"`
	ConversationID  string    `gorm:"index;size:64"`
	UserID          string    `gorm:"index;size:64"`
	ToolName        string    `gorm:"index;size:128"`
	Args            string    `gorm:"type:text"`
	Result          string    `gorm:"type:text"`
	Error           string    `gorm:"type:text"`
	ExecutionTimeMs int64
	Status          string `gorm:"size:16"`
}

func (toolAuditModel) TableName() string { return "tool_audit_records" }

// GormAuditStore 把审计记录写进关系数据库.
type GormAuditStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormAuditStore 创建数据库审计存储并迁移表结构.
func NewGormAuditStore(db *gorm.DB, logger *zap.Logger) (*GormAuditStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&toolAuditModel{}); err != nil {
		return nil, err
	}
	return &GormAuditStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_audit_store")),
	}, nil
}

func (g *GormAuditStore) Log(ctx context.Context, record *types.ToolAuditRecord) error {
	fillDefaults(record)

	model := toolAuditModel{
		ID:              record.ID,
		Timestamp:       record.Timestamp,
		ConversationID:  record.ConversationID,
		UserID:          record.UserID,
		ToolName:        record.ToolName,
		Args:            string(record.Args),
		Result:          string(record.Result),
		Error:           record.Error,
		ExecutionTimeMs: record.ExecutionTimeMs,
		Status:          string(record.Status),
	}
	if err := g.db.WithContext(ctx).Create(&model).Error; err != nil {
		g.logger.Error("failed to persist audit record",
			zap.String("id", record.ID),
			zap.Error(err))
		return err
	}
	return nil
}

func (g *GormAuditStore) Query(ctx context.Context, filter AuditFilter) ([]types.ToolAuditRecord, error) {
	q := g.db.WithContext(ctx).Model(&toolAuditModel{})
	if filter.ConversationID != "" {
		q = q.Where("conversation_id = ?", filter.ConversationID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.ToolName != "" {
		q = q.Where("tool_name = ?", filter.ToolName)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.StartTime != nil {
		q = q.Where("timestamp >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		q = q.Where("timestamp <= ?", *filter.EndTime)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var models []toolAuditModel
	if err := q.Order("timestamp asc").Find(&models).Error; err != nil {
		return nil, err
	}

	records := make([]types.ToolAuditRecord, 0, len(models))
	for _, m := range models {
		records = append(records, types.ToolAuditRecord{
			ID:              m.ID,
			Timestamp:       m.Timestamp,
			ConversationID:  m.ConversationID,
			UserID:          m.UserID,
			ToolName:        m.ToolName,
			Args:            []byte(m.Args),
			Result:          []byte(m.Result),
			Error:           m.Error,
			ExecutionTimeMs: m.ExecutionTimeMs,
			Status:          types.AuditStatus(m.Status),
		})
	}
	return records, nil
}

func (g *GormAuditStore) Close() error {
	return nil
}
