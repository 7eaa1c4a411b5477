package model

// Message types
const (
	MsgTypeText    int32 = 1
	MsgTypeImage   int32 = 2
	MsgTypeOffer   int32 = 3
	MsgTypeAudio   int32 = 4
	MsgTypeDeleted int32 = 5 // tombstone, stays in the sequence
)

// OfferDetail carries the structured payload of an offer message
type OfferDetail struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"` // pending / accepted / declined
}

// Message is the atomic unit of conversation content
type Message struct {
	Id             string       `json:"id"`
	ConversationId string       `json:"conversation_id"`
	SenderId       string       `json:"sender_id"`
	SenderName     string       `json:"sender_name"`
	SenderAvatar   string       `json:"sender_avatar,omitempty"`
	MsgType        int32        `json:"msg_type"`
	Content        string       `json:"content,omitempty"`
	Attachment     string       `json:"attachment,omitempty"` // audio URL for MsgTypeAudio
	Offer          *OfferDetail `json:"offer,omitempty"`
	SentAt         int64        `json:"sent_at"` // unix milli
	Read           bool         `json:"read"`
	ReadAt         int64        `json:"read_at,omitempty"`
}
