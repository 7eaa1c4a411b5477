package rest

import "encoding/json"

// Response is the standard API response envelope
type Response struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LoginRequest authenticates a user
type LoginRequest struct {
	UserId   string `json:"user_id"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token
type LoginResponse struct {
	Token    string `json:"token"`
	UserId   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

// MarkConversationReadRequest marks a whole conversation as read.
// The backend treats it idempotently; repeated calls are harmless.
type MarkConversationReadRequest struct {
	ConversationId string `json:"conversation_id"`
}

// VoiceMessageRequest uploads an audio payload as a message. Non-text
// payloads go over REST rather than the realtime channel.
type VoiceMessageRequest struct {
	ConversationId string `json:"conversation_id"`
	Audio          []byte `json:"audio"` // base64 over the wire
	DurationMs     int64  `json:"duration_ms"`
	MimeType       string `json:"mime_type,omitempty"`
}
