package rest

import (
	"context"

	"github.com/lotmarket/chatsync/internal/model"
)

// GetConversation fetches the durable conversation record
func (c *Client) GetConversation(ctx context.Context, conversationId string) (*model.Conversation, error) {
	params := map[string]string{"conversation_id": conversationId}
	var result model.Conversation
	if err := c.get(ctx, "/conversation/info", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListConversations fetches the session user's inbox
func (c *Client) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	var result []*model.Conversation
	if err := c.get(ctx, "/conversation/list", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkConversationRead marks the whole conversation as read. Idempotent
// on the backend; issued once right after history load, independent of
// the live channel.
func (c *Client) MarkConversationRead(ctx context.Context, conversationId string) error {
	req := &MarkConversationReadRequest{ConversationId: conversationId}
	return c.post(ctx, "/conversation/mark_read", req, nil)
}
