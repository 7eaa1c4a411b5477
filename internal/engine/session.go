package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mbeoliero/kit/log"

	"github.com/lotmarket/chatsync/internal/channel"
	"github.com/lotmarket/chatsync/internal/model"
	"github.com/lotmarket/chatsync/internal/presence"
	"github.com/lotmarket/chatsync/internal/store"
	"github.com/lotmarket/chatsync/pkg/errcode"
)

// Session is one open conversation view: the message store, the typing
// state and the read-receipt reconciler wired to the realtime channel.
// Exactly one session should be active per view; opening the next
// conversation requires closing the previous session first, which
// detaches every handler so stale events can never leak across.
type Session struct {
	eng  *Engine
	conv *model.Conversation

	store    *store.Store
	tracker  *presence.Tracker
	composer *presence.Composer

	mu      sync.Mutex
	listing *model.Listing
	acked   map[string]struct{} // message ids already acknowledged as read
	subs    []*channel.Subscription
	closed  bool
}

// Open bootstraps a conversation: fetch the durable record, attach the
// live handlers and join the room, then load history. The join is acked
// before the history fetch, so every message is either in the history
// response or broadcast to the attached handlers; the id-keyed store
// drops whichever copy arrives second. A not-found or network error
// surfaces directly; the caller owns retry.
func (e *Engine) Open(ctx context.Context, conversationId string) (*Session, error) {
	conv, err := e.api.GetConversation(ctx, conversationId)
	if err != nil {
		return nil, err
	}

	s := &Session{
		eng:     e,
		conv:    conv,
		store:   store.New(conversationId),
		tracker: presence.NewTracker(),
		acked:   make(map[string]struct{}),
	}
	s.composer = presence.NewComposer(conversationId, e.stopAfter, e.ch)

	s.subs = []*channel.Subscription{
		e.ch.OnNewMessage(s.onNewMessage),
		e.ch.OnMessageRead(s.onMessageRead),
		e.ch.OnTypingStart(s.onTypingStart),
		e.ch.OnTypingStop(s.onTypingStop),
	}

	if err := e.ch.Join(conversationId); err != nil {
		// Membership is recorded; the channel re-issues the join as
		// soon as it is connected again, and the history below still
		// covers everything up to this point.
		log.CtxWarn(ctx, "join conversation %s: %v", conversationId, err)
	}

	history, err := e.api.ListMessages(ctx, conversationId)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store.InsertHistory(history)

	// Opening the view is what marks the thread read; the call is
	// idempotent on the backend and independent of the live channel.
	if err := e.api.MarkConversationRead(ctx, conversationId); err != nil {
		log.CtxWarn(ctx, "mark conversation read: %v", err)
	} else {
		conv.UnreadCount = 0
	}

	if conv.Listing != nil {
		listing, err := e.api.GetListing(ctx, conv.Listing.ListingId)
		if err != nil {
			// The card degrades to the embedded summary; the
			// conversation stays fully readable.
			log.CtxWarn(ctx, "load listing %s: %v", conv.Listing.ListingId, err)
		} else {
			s.listing = listing
		}
	}

	return s, nil
}

// Close tears the session down: every handler detached, presence reset,
// pending typing timer cancelled, room membership dropped. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	s.composer.Close()
	s.tracker.Reset()
	s.eng.ch.Leave(s.conv.ConversationId)
}

// Conversation returns the conversation record
func (s *Session) Conversation() *model.Conversation {
	return s.conv
}

// Other returns the participant who is not the session user
func (s *Session) Other() *model.Participant {
	return s.conv.Other(s.eng.sess.UserId)
}

// Listing returns the fetched listing detail, or nil when the
// conversation has no listing or the detail could not be loaded
func (s *Session) Listing() *model.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listing
}

// ContactEnabled reports whether contact actions for the referenced
// listing are offered. Without a loaded listing detail the embedded
// summary is all there is, so contact stays enabled.
func (s *Session) ContactEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listing == nil {
		return true
	}
	return s.listing.ContactEnabled()
}

// Messages returns the ordered, de-duplicated message sequence
func (s *Session) Messages() []model.Message {
	return s.store.Messages()
}

// TypingNames returns who else is typing right now
func (s *Session) TypingNames() []string {
	return s.tracker.Names()
}

// Send emits a text message. While disconnected this returns
// ErrNotConnected and nothing is queued; the UI disables the input
// instead. No optimistic placeholder is inserted; the message becomes
// visible when the server echo arrives.
func (s *Session) Send(content string) error {
	if content == "" {
		return errcode.ErrInvalidParam
	}
	if !s.eng.ch.Connected() {
		return errcode.ErrNotConnected
	}
	s.composer.Stop()
	return s.eng.ch.SendMessage(s.conv.ConversationId, content, model.MsgTypeText)
}

// SendVoice uploads a recorded audio payload over REST. The composing
// state is torn down on success and on failure alike.
func (s *Session) SendVoice(ctx context.Context, audio []byte, durationMs int64) (msg *model.Message, err error) {
	defer s.composer.Stop()

	if len(audio) == 0 {
		return nil, errcode.ErrInvalidParam
	}
	if !s.eng.ch.Connected() {
		return nil, errcode.ErrNotConnected
	}

	msg, err = s.eng.api.SendVoiceMessage(ctx, s.conv.ConversationId, audio, durationMs)
	if err != nil {
		return nil, err
	}

	// The channel echoes the created message too; insertion is keyed by
	// id, so whichever arrives second is discarded.
	s.store.Insert(*msg)
	return msg, nil
}

// Typing records composer activity (a keystroke)
func (s *Session) Typing() {
	s.composer.Activity()
}

// InputCleared ends the composing state immediately
func (s *Session) InputCleared() {
	s.composer.Stop()
}

// onNewMessage appends a delivered message and acknowledges it as read
// when it was authored by the other participant. Events for any other
// conversation are ignored outright, and a handler still in flight when
// the session closes must not touch the closed session's state.
func (s *Session) onNewMessage(ev channel.NewMessageEvent) {
	msg := ev.Message
	if msg.ConversationId != s.conv.ConversationId {
		return
	}

	s.mu.Lock()
	if s.closed || !s.store.Insert(msg) {
		s.mu.Unlock()
		return
	}
	s.conv.LastMessage = &model.LastMessage{
		SenderId: msg.SenderId,
		Text:     msg.Content,
		SentAt:   msg.SentAt,
	}
	s.conv.UpdatedAt = msg.SentAt
	s.mu.Unlock()

	if s.eng.sess.IsSelf(msg.SenderId) {
		return
	}
	s.ackRead(msg.Id)
}

// ackRead emits at most one mark-read acknowledgement per message id for
// the lifetime of the session. A failed emit (disconnected channel) is
// not retried; nothing is buffered for replay.
func (s *Session) ackRead(messageId string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, done := s.acked[messageId]; done {
		s.mu.Unlock()
		return
	}
	s.acked[messageId] = struct{}{}
	s.mu.Unlock()

	if err := s.eng.ch.MarkMessageRead(messageId, s.conv.ConversationId); err != nil {
		log.Debug("mark message read %s: %v", messageId, err)
	}
}

// onMessageRead flips the read flag of one of our own sent messages once
// the server confirms the other side saw it
func (s *Session) onMessageRead(ev channel.MessageReadEvent) {
	if ev.ConversationId != s.conv.ConversationId || s.isClosed() {
		return
	}
	s.store.MarkRead(ev.MessageId, time.Now().UnixMilli())
}

func (s *Session) onTypingStart(ev channel.TypingEvent) {
	if ev.ConversationId != s.conv.ConversationId || s.isClosed() {
		return
	}
	// The session user's own indicator never enters their own tracker.
	if s.eng.sess.IsSelf(ev.UserId) {
		return
	}
	s.tracker.Add(ev.UserId, ev.UserName)
}

func (s *Session) onTypingStop(ev channel.TypingEvent) {
	if ev.ConversationId != s.conv.ConversationId || s.isClosed() {
		return
	}
	s.tracker.Remove(ev.UserId)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
