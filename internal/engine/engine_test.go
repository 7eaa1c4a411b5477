package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotmarket/chatsync/internal/channel"
	"github.com/lotmarket/chatsync/internal/identity"
	"github.com/lotmarket/chatsync/internal/model"
	"github.com/lotmarket/chatsync/pkg/errcode"
)

type fakeAPI struct {
	mu        sync.Mutex
	conv      *model.Conversation
	history   []model.Message
	listing   *model.Listing
	convErr   error
	markErr   error
	voiceErr  error
	voiceMsg  *model.Message
	markCalls int
}

func (f *fakeAPI) GetConversation(ctx context.Context, conversationId string) (*model.Conversation, error) {
	if f.convErr != nil {
		return nil, f.convErr
	}
	return f.conv, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationId string) ([]model.Message, error) {
	return f.history, nil
}

func (f *fakeAPI) MarkConversationRead(ctx context.Context, conversationId string) error {
	f.mu.Lock()
	f.markCalls++
	f.mu.Unlock()
	return f.markErr
}

func (f *fakeAPI) SendVoiceMessage(ctx context.Context, conversationId string, audio []byte, durationMs int64) (*model.Message, error) {
	if f.voiceErr != nil {
		return nil, f.voiceErr
	}
	return f.voiceMsg, nil
}

func (f *fakeAPI) GetListing(ctx context.Context, listingId string) (*model.Listing, error) {
	if f.listing == nil {
		return nil, errcode.ErrListingNotFound
	}
	return f.listing, nil
}

// fakeChannel records outbound commands and lets tests push inbound events
// through the same handler path the real channel uses.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool

	joins  []string
	leaves []string
	sent   []string
	starts int
	stops  int
	acks   []string

	nextSub       int
	msgHandlers   map[int]func(channel.NewMessageEvent)
	readHandlers  map[int]func(channel.MessageReadEvent)
	startHandlers map[int]func(channel.TypingEvent)
	stopHandlers  map[int]func(channel.TypingEvent)

	detached int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		connected:     true,
		msgHandlers:   make(map[int]func(channel.NewMessageEvent)),
		readHandlers:  make(map[int]func(channel.MessageReadEvent)),
		startHandlers: make(map[int]func(channel.TypingEvent)),
		stopHandlers:  make(map[int]func(channel.TypingEvent)),
	}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeChannel) Join(conversationId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, conversationId)
	if !f.connected {
		return errcode.ErrNotConnected
	}
	return nil
}

func (f *fakeChannel) Leave(conversationId string) {
	f.mu.Lock()
	f.leaves = append(f.leaves, conversationId)
	f.mu.Unlock()
}

func (f *fakeChannel) SendMessage(conversationId, content string, msgType int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errcode.ErrNotConnected
	}
	f.sent = append(f.sent, content)
	return nil
}

func (f *fakeChannel) StartTyping(conversationId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errcode.ErrNotConnected
	}
	f.starts++
	return nil
}

func (f *fakeChannel) StopTyping(conversationId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errcode.ErrNotConnected
	}
	f.stops++
	return nil
}

func (f *fakeChannel) MarkMessageRead(messageId, conversationId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errcode.ErrNotConnected
	}
	f.acks = append(f.acks, messageId)
	return nil
}

func (f *fakeChannel) OnNewMessage(h func(channel.NewMessageEvent)) *channel.Subscription {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.msgHandlers[id] = h
	f.mu.Unlock()
	return f.sub(func() { delete(f.msgHandlers, id) })
}

func (f *fakeChannel) OnMessageRead(h func(channel.MessageReadEvent)) *channel.Subscription {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.readHandlers[id] = h
	f.mu.Unlock()
	return f.sub(func() { delete(f.readHandlers, id) })
}

func (f *fakeChannel) OnTypingStart(h func(channel.TypingEvent)) *channel.Subscription {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.startHandlers[id] = h
	f.mu.Unlock()
	return f.sub(func() { delete(f.startHandlers, id) })
}

func (f *fakeChannel) OnTypingStop(h func(channel.TypingEvent)) *channel.Subscription {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.stopHandlers[id] = h
	f.mu.Unlock()
	return f.sub(func() { delete(f.stopHandlers, id) })
}

func (f *fakeChannel) OnStateChange(h func(channel.State)) *channel.Subscription {
	return f.sub(func() {})
}

// sub mirrors the real dispatcher's contract: Close removes the handler
// so it receives nothing afterwards.
func (f *fakeChannel) sub(remove func()) *channel.Subscription {
	return channel.NewSubscription(func() {
		f.mu.Lock()
		remove()
		f.detached++
		f.mu.Unlock()
	})
}

func (f *fakeChannel) pushMessage(msg model.Message) {
	f.mu.Lock()
	hs := make([]func(channel.NewMessageEvent), 0, len(f.msgHandlers))
	for _, h := range f.msgHandlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(channel.NewMessageEvent{Message: msg})
	}
}

func (f *fakeChannel) pushRead(conversationId, messageId string) {
	f.mu.Lock()
	hs := make([]func(channel.MessageReadEvent), 0, len(f.readHandlers))
	for _, h := range f.readHandlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(channel.MessageReadEvent{ConversationId: conversationId, MessageId: messageId})
	}
}

func (f *fakeChannel) pushTyping(start bool, conversationId, userId, userName string) {
	ev := channel.TypingEvent{ConversationId: conversationId, UserId: userId, UserName: userName}
	f.mu.Lock()
	src := f.startHandlers
	if !start {
		src = f.stopHandlers
	}
	hs := make([]func(channel.TypingEvent), 0, len(src))
	for _, h := range src {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeChannel) ackedIds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.acks...)
}

func testConv() *model.Conversation {
	return &model.Conversation{
		ConversationId: "conv_1",
		Buyer:          model.Participant{UserId: "u_anna", Nickname: "Anna"},
		Seller:         model.Participant{UserId: "u_boris", Nickname: "Boris"},
		UnreadCount:    1,
	}
}

func historyMsg(id, sender string, sentAt int64) model.Message {
	return model.Message{
		Id:             id,
		ConversationId: "conv_1",
		SenderId:       sender,
		MsgType:        model.MsgTypeText,
		Content:        "m-" + id,
		SentAt:         sentAt,
	}
}

func testEngine(api *fakeAPI, ch *fakeChannel) *Engine {
	sess := &identity.Session{UserId: "u_anna", Nickname: "Anna"}
	return New(api, ch, sess, 3*time.Second)
}

func TestOpen_ColdLoad(t *testing.T) {
	api := &fakeAPI{
		conv: testConv(),
		history: []model.Message{
			historyMsg("m1", "u_boris", 100),
			historyMsg("m2", "u_anna", 200),
			historyMsg("m3", "u_boris", 300),
		},
	}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	assert.Len(t, s.Messages(), 3)
	assert.Equal(t, int64(0), s.Conversation().UnreadCount, "opening marks the thread read")
	assert.Equal(t, 1, api.markCalls)
	assert.Equal(t, []string{"conv_1"}, ch.joins)

	other := s.Other()
	require.NotNil(t, other)
	assert.Equal(t, "u_boris", other.UserId)

	// A live message that also appears in a concurrent history response is
	// stored once; it arrives ordered after the history tail.
	ch.pushMessage(historyMsg("m3", "u_boris", 300))
	ch.pushMessage(historyMsg("m4", "u_boris", 400))

	got := s.Messages()
	require.Len(t, got, 4)
	assert.Equal(t, "m4", got[3].Id)
}

func TestOpen_ConversationErrorSurfaces(t *testing.T) {
	api := &fakeAPI{convErr: errcode.ErrConvNotFound}
	eng := testEngine(api, newFakeChannel())

	_, err := eng.Open(context.Background(), "conv_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.ErrConvNotFound))
}

func TestOpen_MarkReadFailureIsNonFatal(t *testing.T) {
	api := &fakeAPI{conv: testConv(), markErr: errcode.ErrNetwork}
	eng := testEngine(api, newFakeChannel())

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(1), s.Conversation().UnreadCount, "unread badge stays until the mark succeeds")
}

func TestReadAck_ExactlyOncePerMessage(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	msg := historyMsg("m10", "u_boris", 100)
	ch.pushMessage(msg)
	ch.pushMessage(msg) // duplicate delivery after a replay

	assert.Equal(t, []string{"m10"}, ch.ackedIds())

	// Own echo is never acknowledged.
	ch.pushMessage(historyMsg("m11", "u_anna", 200))
	assert.Equal(t, []string{"m10"}, ch.ackedIds())
}

func TestReadAck_FailedEmitNotRetried(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	ch.setConnected(false)
	ch.pushMessage(historyMsg("m10", "u_boris", 100))
	assert.Empty(t, ch.ackedIds())

	ch.setConnected(true)
	ch.pushMessage(historyMsg("m10", "u_boris", 100))
	assert.Empty(t, ch.ackedIds(), "the attempt is spent; a duplicate delivery does not re-ack")
}

func TestOnMessageRead_FlipsOwnMessage(t *testing.T) {
	api := &fakeAPI{
		conv:    testConv(),
		history: []model.Message{historyMsg("m1", "u_anna", 100)},
	}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	ch.pushRead("conv_1", "m1")
	got := s.Messages()
	require.Len(t, got, 1)
	assert.True(t, got[0].Read)

	// Receipt for another conversation never crosses over.
	ch.pushRead("conv_2", "m1")
	assert.True(t, s.Messages()[0].Read)
}

func TestConversationIsolation(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	stray := historyMsg("mx", "u_boris", 100)
	stray.ConversationId = "conv_2"
	ch.pushMessage(stray)
	ch.pushTyping(true, "conv_2", "u_boris", "Boris")

	assert.Empty(t, s.Messages())
	assert.Empty(t, s.TypingNames())
	assert.Empty(t, ch.ackedIds())
}

func TestTyping_SelfNeverTracked(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	ch.pushTyping(true, "conv_1", "u_anna", "Anna")
	assert.Empty(t, s.TypingNames())

	ch.pushTyping(true, "conv_1", "u_boris", "Boris")
	assert.Equal(t, []string{"Boris"}, s.TypingNames())

	ch.pushTyping(false, "conv_1", "u_boris", "Boris")
	assert.Empty(t, s.TypingNames())
}

func TestSend_RequiresConnection(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	ch.setConnected(false)
	err = s.Send("hello")
	assert.True(t, errors.Is(err, errcode.ErrNotConnected))
	assert.Empty(t, ch.sent, "nothing is queued while disconnected")

	ch.setConnected(true)
	require.NoError(t, s.Send("hello"))
	assert.Equal(t, []string{"hello"}, ch.sent)

	assert.True(t, errors.Is(s.Send(""), errcode.ErrInvalidParam))
}

func TestSend_NoLocalPlaceholder(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send("hello"))
	assert.Empty(t, s.Messages(), "the message appears only with the server echo")

	echo := historyMsg("m20", "u_anna", 500)
	echo.Content = "hello"
	ch.pushMessage(echo)
	require.Len(t, s.Messages(), 1)
}

func TestSend_EndsTypingState(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	s.Typing()
	require.NoError(t, s.Send("hello"))

	ch.mu.Lock()
	starts, stops := ch.starts, ch.stops
	ch.mu.Unlock()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
}

func TestSendVoice(t *testing.T) {
	voice := historyMsg("m30", "u_anna", 600)
	voice.MsgType = model.MsgTypeAudio
	api := &fakeAPI{conv: testConv(), voiceMsg: &voice}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	msg, err := s.SendVoice(context.Background(), []byte{1, 2, 3}, 1500)
	require.NoError(t, err)
	assert.Equal(t, "m30", msg.Id)
	require.Len(t, s.Messages(), 1)

	// The channel echo of the same message is discarded.
	ch.pushMessage(voice)
	assert.Len(t, s.Messages(), 1)
}

func TestSendVoice_FailureEndsTyping(t *testing.T) {
	api := &fakeAPI{conv: testConv(), voiceErr: errcode.ErrVoiceUploadFailed}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	s.Typing()
	_, err = s.SendVoice(context.Background(), []byte{1}, 100)
	require.Error(t, err)
	assert.Empty(t, s.Messages())

	ch.mu.Lock()
	stops := ch.stops
	ch.mu.Unlock()
	assert.Equal(t, 1, stops, "typing ends even when the upload fails")
}

func TestListing_ContactGating(t *testing.T) {
	conv := testConv()
	conv.Listing = &model.ListingSummary{ListingId: "lst_1"}
	api := &fakeAPI{
		conv: conv,
		listing: &model.Listing{
			ListingId: "lst_1",
			Status:    model.ListingSold,
		},
	}
	eng := testEngine(api, newFakeChannel())

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	require.NotNil(t, s.Listing())
	assert.False(t, s.ContactEnabled(), "sold listing disables contact")
}

func TestListing_DetailFailureDegrades(t *testing.T) {
	conv := testConv()
	conv.Listing = &model.ListingSummary{ListingId: "lst_missing"}
	api := &fakeAPI{conv: conv}
	eng := testEngine(api, newFakeChannel())

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	defer s.Close()

	assert.Nil(t, s.Listing())
	assert.True(t, s.ContactEnabled(), "without detail the summary keeps contact enabled")
}

func TestClose_DetachesEverything(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)

	ch.pushTyping(true, "conv_1", "u_boris", "Boris")
	require.Equal(t, []string{"Boris"}, s.TypingNames())

	s.Close()
	s.Close() // idempotent

	assert.Equal(t, []string{"conv_1"}, ch.leaves)
	assert.Equal(t, 4, ch.detached)
	assert.Empty(t, s.TypingNames(), "typing state does not survive the switch")
}

func TestHandlerInFlightAfterClose(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	s, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)

	// The dispatcher snapshots handlers before invoking them, so a
	// handler can still run after its subscription closed. Capture the
	// attached handlers the same way, close the session, then deliver.
	ch.mu.Lock()
	var onMsg func(channel.NewMessageEvent)
	for _, h := range ch.msgHandlers {
		onMsg = h
	}
	var onTyping func(channel.TypingEvent)
	for _, h := range ch.startHandlers {
		onTyping = h
	}
	ch.mu.Unlock()
	require.NotNil(t, onMsg)
	require.NotNil(t, onTyping)

	s.Close()

	onMsg(channel.NewMessageEvent{Message: historyMsg("late", "u_boris", 100)})
	onTyping(channel.TypingEvent{ConversationId: "conv_1", UserId: "u_boris", UserName: "Boris"})

	assert.Empty(t, s.Messages(), "a closed session's store is never mutated")
	assert.Empty(t, s.TypingNames())
	assert.Empty(t, ch.ackedIds())
}

func TestConversationSwitch_NoLeakAcrossSessions(t *testing.T) {
	api := &fakeAPI{conv: testConv()}
	ch := newFakeChannel()
	eng := testEngine(api, ch)

	first, err := eng.Open(context.Background(), "conv_1")
	require.NoError(t, err)
	first.Close()

	convB := testConv()
	convB.ConversationId = "conv_2"
	api.conv = convB

	second, err := eng.Open(context.Background(), "conv_2")
	require.NoError(t, err)
	defer second.Close()

	// An event for the old conversation reaches nobody: the old session is
	// detached and the new one filters by conversation id.
	ch.pushMessage(historyMsg("old", "u_boris", 100))
	assert.Empty(t, first.Messages())
	assert.Empty(t, second.Messages())
}
