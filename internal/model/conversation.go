package model

// Participant represents one side of a conversation
type Participant struct {
	UserId   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
	// Seller-only fields; zero for buyers
	Rating   float64 `json:"rating,omitempty"`
	Location string  `json:"location,omitempty"`
	Verified bool    `json:"verified,omitempty"`
}

// LastMessage is the summary shown on the inbox row
type LastMessage struct {
	SenderId string `json:"sender_id"`
	Text     string `json:"text"`
	SentAt   int64  `json:"sent_at"`
}

// Conversation represents a buyer/seller thread, optionally anchored to one listing
type Conversation struct {
	ConversationId string          `json:"conversation_id"`
	Buyer          Participant     `json:"buyer"`
	Seller         Participant     `json:"seller"`
	Listing        *ListingSummary `json:"listing,omitempty"`
	LastMessage    *LastMessage    `json:"last_message,omitempty"`
	UnreadCount    int64           `json:"unread_count"`
	Status         string          `json:"status"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
}

// Other returns the participant whose id differs from selfId.
// A conversation has exactly two participants, so with a valid selfId
// this is always well defined; an unknown selfId resolves to the seller.
func (c *Conversation) Other(selfId string) *Participant {
	if c.Buyer.UserId == selfId {
		return &c.Seller
	}
	return &c.Buyer
}

// HasParticipant reports whether userId is one of the two participants
func (c *Conversation) HasParticipant(userId string) bool {
	return c.Buyer.UserId == userId || c.Seller.UserId == userId
}
