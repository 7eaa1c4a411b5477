package rest

import (
	"context"

	"github.com/lotmarket/chatsync/internal/model"
)

// ListMessages fetches the ordered message history for a conversation
func (c *Client) ListMessages(ctx context.Context, conversationId string) ([]model.Message, error) {
	params := map[string]string{"conversation_id": conversationId}
	var result []model.Message
	if err := c.get(ctx, "/msg/list", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendVoiceMessage uploads an audio payload and returns the created
// message (type audio, attachment URL populated)
func (c *Client) SendVoiceMessage(ctx context.Context, conversationId string, audio []byte, durationMs int64) (*model.Message, error) {
	req := &VoiceMessageRequest{
		ConversationId: conversationId,
		Audio:          audio,
		DurationMs:     durationMs,
		MimeType:       "audio/webm",
	}
	var result model.Message
	if err := c.post(ctx, "/msg/voice", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
