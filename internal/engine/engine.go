// Package engine is the conversation synchronization core: it reconciles
// the REST-fetched history with the live event stream, tracks read and
// typing state per conversation, and tears everything down cleanly when
// the active conversation switches.
package engine

import (
	"context"
	"time"

	"github.com/lotmarket/chatsync/internal/channel"
	"github.com/lotmarket/chatsync/internal/identity"
	"github.com/lotmarket/chatsync/internal/model"
)

// HistoryAPI is the REST surface the engine bootstraps from
type HistoryAPI interface {
	GetConversation(ctx context.Context, conversationId string) (*model.Conversation, error)
	ListMessages(ctx context.Context, conversationId string) ([]model.Message, error)
	MarkConversationRead(ctx context.Context, conversationId string) error
	SendVoiceMessage(ctx context.Context, conversationId string, audio []byte, durationMs int64) (*model.Message, error)
	GetListing(ctx context.Context, listingId string) (*model.Listing, error)
}

// ChannelAPI is the realtime surface the engine synchronizes against.
// *channel.Channel satisfies it.
type ChannelAPI interface {
	Connected() bool
	Join(conversationId string) error
	Leave(conversationId string)
	SendMessage(conversationId, content string, msgType int32) error
	StartTyping(conversationId string) error
	StopTyping(conversationId string) error
	MarkMessageRead(messageId, conversationId string) error
	OnNewMessage(h func(channel.NewMessageEvent)) *channel.Subscription
	OnMessageRead(h func(channel.MessageReadEvent)) *channel.Subscription
	OnTypingStart(h func(channel.TypingEvent)) *channel.Subscription
	OnTypingStop(h func(channel.TypingEvent)) *channel.Subscription
	OnStateChange(h func(channel.State)) *channel.Subscription
}

// Engine opens conversation sessions for one authenticated user
type Engine struct {
	api       HistoryAPI
	ch        ChannelAPI
	sess      *identity.Session
	stopAfter time.Duration
}

// New creates an engine. stopAfter is the typing inactivity window after
// which stop-typing is emitted automatically.
func New(api HistoryAPI, ch ChannelAPI, sess *identity.Session, stopAfter time.Duration) *Engine {
	return &Engine{
		api:       api,
		ch:        ch,
		sess:      sess,
		stopAfter: stopAfter,
	}
}
