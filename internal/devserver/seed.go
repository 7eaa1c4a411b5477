package devserver

import (
	"time"

	"github.com/lotmarket/chatsync/internal/model"
)

// Dev account credentials; every seeded user shares the same password.
const SeedPassword = "password123"

// SeedState builds the default development fixtures: a buyer, a seller,
// one active listing and a conversation with a short history.
func SeedState() *State {
	st := NewState()

	buyer := model.Participant{
		UserId:   "u_anna",
		Nickname: "Anna",
		Avatar:   "https://cdn.lotmarket.dev/avatars/anna.png",
	}
	seller := model.Participant{
		UserId:   "u_boris",
		Nickname: "Boris",
		Avatar:   "https://cdn.lotmarket.dev/avatars/boris.png",
		Rating:   4.8,
		Location: "Belgrade",
		Verified: true,
	}
	st.AddUser(buyer, SeedPassword)
	st.AddUser(seller, SeedPassword)

	now := time.Now().UnixMilli()

	listing := &model.Listing{
		ListingId: "lst_1001",
		SellerId:  seller.UserId,
		Title:     "Trek mountain bike, 2022",
		Image:     "https://cdn.lotmarket.dev/listings/lst_1001.jpg",
		Price:     35000,
		Currency:  "EUR",
		Status:    model.ListingActive,
		CreatedAt: now - 72*3600*1000,
		UpdatedAt: now - 3600*1000,
	}
	st.AddListing(listing)

	conv := &model.Conversation{
		ConversationId: "conv_1",
		Buyer:          buyer,
		Seller:         seller,
		Listing: &model.ListingSummary{
			ListingId: listing.ListingId,
			Title:     listing.Title,
			Image:     listing.Image,
			Price:     listing.Price,
			Currency:  listing.Currency,
		},
		Status:    "open",
		CreatedAt: now - 48*3600*1000,
		UpdatedAt: now - 1800*1000,
	}
	st.AddConversation(conv)

	history := []model.Message{
		{
			Id:             "msg_seed_1",
			ConversationId: conv.ConversationId,
			SenderId:       buyer.UserId,
			SenderName:     buyer.Nickname,
			MsgType:        model.MsgTypeText,
			Content:        "Hi! Is the bike still available?",
			SentAt:         now - 48*3600*1000,
			Read:           true,
			ReadAt:         now - 47*3600*1000,
		},
		{
			Id:             "msg_seed_2",
			ConversationId: conv.ConversationId,
			SenderId:       seller.UserId,
			SenderName:     seller.Nickname,
			MsgType:        model.MsgTypeText,
			Content:        "Yes, it is. Barely used, still under warranty.",
			SentAt:         now - 47*3600*1000,
			Read:           true,
			ReadAt:         now - 46*3600*1000,
		},
		{
			Id:             "msg_seed_3",
			ConversationId: conv.ConversationId,
			SenderId:       buyer.UserId,
			SenderName:     buyer.Nickname,
			MsgType:        model.MsgTypeText,
			Content:        "Great. Could you do 320?",
			SentAt:         now - 1800*1000,
		},
	}
	for _, m := range history {
		st.AppendMessage(m)
	}
	conv.UnreadCount = 1 // the seller has not opened the thread yet

	return st
}
