package types

import (
	"encoding/json"
	"time"
)

// ConversationRecord is the persisted metadata of a conversation.
type ConversationRecord struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MessageRecord is one persisted message in a conversation's append-only log.
// Type distinguishes dialog content from stage updates and summaries; only
// dialog records participate in memory assembly.
type MessageRecord struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           Role           `json:"role"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	Extra          map[string]any `json:"extra,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// IsDialog reports whether the record is a user/assistant dialog message.
func (m MessageRecord) IsDialog() bool {
	return m.Type == MessageTypeDialog && (m.Role == RoleUser || m.Role == RoleAssistant)
}

// AuditStatus is the outcome of a tool invocation attempt.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// ToolAuditRecord captures exactly one tool invocation attempt.
// One record is written per attempt regardless of outcome.
type ToolAuditRecord struct {
	ID              string          `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	ConversationID  string          `json:"conversation_id"`
	UserID          string          `json:"user_id"`
	ToolName        string          `json:"tool_name"`
	Args            json.RawMessage `json:"args,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
	Status          AuditStatus     `json:"status"`
}
