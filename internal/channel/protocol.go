package channel

import (
	"encoding/json"

	"github.com/lotmarket/chatsync/internal/model"
)

// Event names on the realtime channel. Outbound events are client commands,
// inbound events are server pushes; join is echoed back as an ack.
const (
	// Outbound
	EventJoin            = "join"
	EventLeave           = "leave"
	EventSendMessage     = "send_message"
	EventStartTyping     = "start_typing"
	EventStopTyping      = "stop_typing"
	EventMarkMessageRead = "mark_message_read"

	// Inbound
	EventNewMessage  = "new_message"
	EventMessageRead = "message_read"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventJoined      = "joined"
	EventError       = "error"
)

// Envelope is the wire format for every frame in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinReq requests room membership for one conversation
type JoinReq struct {
	ConversationId string `json:"conversation_id"`
}

// SendMsgReq is the outbound send-message command
type SendMsgReq struct {
	ClientMsgId    string `json:"client_msg_id"`
	ConversationId string `json:"conversation_id"`
	MsgType        int32  `json:"msg_type"`
	Content        string `json:"content"`
}

// TypingReq is the outbound typing start/stop command
type TypingReq struct {
	ConversationId string `json:"conversation_id"`
}

// MarkReadReq acknowledges a single message as read
type MarkReadReq struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
}

// NewMessageEvent is the server push for a delivered message, including the
// echo of the session user's own sends
type NewMessageEvent struct {
	Message model.Message `json:"message"`
}

// MessageReadEvent is the server push for a confirmed read receipt
type MessageReadEvent struct {
	ConversationId string `json:"conversation_id"`
	MessageId      string `json:"message_id"`
}

// TypingEvent is the server push for typing start/stop
type TypingEvent struct {
	ConversationId string `json:"conversation_id"`
	UserId         string `json:"user_id"`
	UserName       string `json:"user_name"`
}

// JoinedEvent acks a join request
type JoinedEvent struct {
	ConversationId string `json:"conversation_id"`
}

// ErrorEvent is a server-side error push
type ErrorEvent struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Encode encodes an event and its payload into an envelope frame
func Encode(event string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode decodes an envelope payload into a struct
func Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
