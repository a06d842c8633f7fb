// Package persistence provides the append-only conversation message log
// and conversation metadata storage.
package persistence

import (
	"context"

	"github.com/BaSui01/ragflow/types"
)

// MessageLog defines conversation persistence. Messages form an append-only
// log per conversation; records are returned in insertion order.
type MessageLog interface {
	// SaveMessage appends a message record to its conversation log.
	SaveMessage(ctx context.Context, record *types.MessageRecord) error

	// LoadMessages returns all records of a conversation in insertion order.
	LoadMessages(ctx context.Context, conversationID string) ([]types.MessageRecord, error)

	// CreateConversation registers a new conversation.
	CreateConversation(ctx context.Context, record *types.ConversationRecord) error

	// GetConversation retrieves conversation metadata.
	GetConversation(ctx context.Context, conversationID string) (*types.ConversationRecord, error)

	// ListConversations returns a user's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]types.ConversationRecord, error)

	// UpdateConversationTitle renames a conversation.
	UpdateConversationTitle(ctx context.Context, conversationID, title string) error

	// TouchConversation bumps the conversation's updated timestamp.
	TouchConversation(ctx context.Context, conversationID string) error

	// DeleteConversation removes a conversation and its message log.
	DeleteConversation(ctx context.Context, conversationID string) error

	// Close releases underlying resources.
	Close() error
}

// ErrConversationNotFound is returned when a conversation does not exist.
var ErrConversationNotFound = types.NewError(types.ErrConversationGone, "会话不存在")
