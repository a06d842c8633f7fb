// Package types provides core types used across the ragflow engine.
// This package has ZERO dependencies on other ragflow packages to avoid circular imports.
// All other packages should import types from here.
package types

import "time"

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// MessageType classifies a persisted message record.
type MessageType string

const (
	// MessageTypeDialog is a normal user/assistant exchange message.
	MessageTypeDialog MessageType = "dialog"
	// MessageTypeStageUpdate records pipeline stage progress for a turn.
	MessageTypeStageUpdate MessageType = "stage-update"
	// MessageTypeSummary holds the compacted narrative of older dialog.
	MessageTypeSummary MessageType = "summary"
)

// Message represents a conversation message handed to the model.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}
