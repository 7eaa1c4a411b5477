// Package channel maintains the one persistent realtime connection per
// authenticated session. It exposes named outbound emitters and inbound
// subscriptions, tracks per-conversation room membership, and reconnects
// transparently. Consumers only observe the connected/disconnected state
// and must treat every emitter as unavailable while disconnected.
package channel

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/lotmarket/chatsync/internal/config"
	"github.com/lotmarket/chatsync/internal/identity"
	"github.com/lotmarket/chatsync/pkg/errcode"
)

// State is the connection state observable by consumers
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Query parameter keys on the handshake URL
const (
	QueryToken  = "token"
	QueryConnId = "conn_id"
)

// Channel is the realtime event channel client. One instance per
// authenticated session, shared across any number of open conversation
// views.
type Channel struct {
	cfg    config.ChannelConfig
	sess   *identity.Session
	dialer *websocket.Dialer
	disp   *dispatcher
	recon  *reconnector

	mu           sync.Mutex
	state        State
	conn         *wsConn
	gen          int // connection generation, guards stale read loops
	joined       map[string]struct{}
	pendingJoins map[string]chan struct{}
	closed       bool
}

// New creates a channel client. Connect must be called before any emitter
// is usable.
func New(cfg config.ChannelConfig, sess *identity.Session) *Channel {
	ch := &Channel{
		cfg:  cfg,
		sess: sess,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		disp:         newDispatcher(),
		recon:        newReconnector(cfg),
		state:        StateDisconnected,
		joined:       make(map[string]struct{}),
		pendingJoins: make(map[string]chan struct{}),
	}
	ch.disp.on(EventJoined, ch.onJoinedAck)
	return ch
}

// State returns the current connection state
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Connected reports whether the channel is currently connected
func (ch *Channel) Connected() bool {
	return ch.State() == StateConnected
}

// Connect establishes the websocket connection and re-joins any rooms that
// were members before the connection cycled. Safe to call while already
// connected or connecting (no-op).
func (ch *Channel) Connect(ctx context.Context) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return errcode.ErrConnClosed
	}
	if ch.state != StateDisconnected {
		ch.mu.Unlock()
		return nil
	}
	ch.state = StateConnecting
	ch.mu.Unlock()
	ch.disp.notifyState(StateConnecting)

	wsURL, err := ch.handshakeURL()
	if err != nil {
		ch.setDisconnected()
		return errcode.ErrInvalidParam.Wrap(err)
	}

	conn, _, err := ch.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		ch.setDisconnected()
		return errcode.ErrNetwork.Wrap(err)
	}

	c := newWSConn(conn, ch.cfg)

	ch.mu.Lock()
	ch.conn = c
	ch.state = StateConnected
	ch.gen++
	gen := ch.gen
	rooms := make([]string, 0, len(ch.joined))
	for id := range ch.joined {
		rooms = append(rooms, id)
	}
	ch.mu.Unlock()

	ch.recon.markConnected()

	go ch.readLoop(c, gen)

	// Room membership is not preserved across reconnects; re-issue every
	// join before consumers are told the channel is up.
	for _, id := range rooms {
		if err := ch.emit(EventJoin, JoinReq{ConversationId: id}); err != nil {
			log.Warn("rejoin conversation %s: %v", id, err)
		}
	}

	ch.disp.notifyState(StateConnected)
	return nil
}

// setDisconnected rolls a failed dial back to the disconnected state so
// observers are not stranded in "connecting"
func (ch *Channel) setDisconnected() {
	ch.mu.Lock()
	ch.state = StateDisconnected
	ch.mu.Unlock()
	ch.disp.notifyState(StateDisconnected)
}

// Close shuts the channel down for good; no reconnect is attempted
func (ch *Channel) Close() error {
	ch.mu.Lock()
	ch.closed = true
	conn := ch.conn
	ch.conn = nil
	wasConnected := ch.state == StateConnected
	ch.state = StateDisconnected
	ch.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		ch.disp.notifyState(StateDisconnected)
	}
	return nil
}

// Join subscribes to a conversation's room and blocks until the server
// acks the membership, so the caller knows subsequent broadcasts will be
// delivered. Membership is remembered even when the channel is down and
// re-acquired automatically whenever the connection comes (back) up.
func (ch *Channel) Join(conversationId string) error {
	ch.mu.Lock()
	ch.joined[conversationId] = struct{}{}
	ack, ok := ch.pendingJoins[conversationId]
	if !ok {
		ack = make(chan struct{})
		ch.pendingJoins[conversationId] = ack
	}
	ch.mu.Unlock()

	if err := ch.emit(EventJoin, JoinReq{ConversationId: conversationId}); err != nil {
		return err
	}

	select {
	case <-ack:
		return nil
	case <-time.After(ch.cfg.JoinAckTimeout):
		return errcode.ErrNotJoined
	}
}

// onJoinedAck releases any Join call waiting on this room. Acks for
// re-issued joins on reconnect have no waiter and are dropped.
func (ch *Channel) onJoinedAck(data json.RawMessage) {
	var ev JoinedEvent
	if err := Decode(data, &ev); err != nil {
		log.Warn("decode joined: %v", err)
		return
	}
	ch.mu.Lock()
	ack, ok := ch.pendingJoins[ev.ConversationId]
	if ok {
		delete(ch.pendingJoins, ev.ConversationId)
	}
	ch.mu.Unlock()
	if ok {
		close(ack)
	}
}

// Leave drops room membership for a conversation
func (ch *Channel) Leave(conversationId string) {
	ch.mu.Lock()
	delete(ch.joined, conversationId)
	ch.mu.Unlock()
	// Best effort; a dropped connection already left every room.
	if err := ch.emit(EventLeave, JoinReq{ConversationId: conversationId}); err != nil {
		log.Debug("leave conversation %s: %v", conversationId, err)
	}
}

// SendMessage emits a text (or offer/image reference) message. No local
// placeholder is created; the message becomes visible when the server echo
// arrives as a new_message event.
func (ch *Channel) SendMessage(conversationId, content string, msgType int32) error {
	return ch.emit(EventSendMessage, SendMsgReq{
		ClientMsgId:    uuid.NewString(),
		ConversationId: conversationId,
		MsgType:        msgType,
		Content:        content,
	})
}

// StartTyping emits a typing-start indicator
func (ch *Channel) StartTyping(conversationId string) error {
	return ch.emit(EventStartTyping, TypingReq{ConversationId: conversationId})
}

// StopTyping emits a typing-stop indicator
func (ch *Channel) StopTyping(conversationId string) error {
	return ch.emit(EventStopTyping, TypingReq{ConversationId: conversationId})
}

// MarkMessageRead acknowledges a single inbound message as read
func (ch *Channel) MarkMessageRead(messageId, conversationId string) error {
	return ch.emit(EventMarkMessageRead, MarkReadReq{
		ConversationId: conversationId,
		MessageId:      messageId,
	})
}

// OnNewMessage registers a handler for delivered messages
func (ch *Channel) OnNewMessage(h func(NewMessageEvent)) *Subscription {
	return ch.disp.on(EventNewMessage, func(data json.RawMessage) {
		var ev NewMessageEvent
		if err := Decode(data, &ev); err != nil {
			log.Warn("decode new_message: %v", err)
			return
		}
		h(ev)
	})
}

// OnMessageRead registers a handler for confirmed read receipts
func (ch *Channel) OnMessageRead(h func(MessageReadEvent)) *Subscription {
	return ch.disp.on(EventMessageRead, func(data json.RawMessage) {
		var ev MessageReadEvent
		if err := Decode(data, &ev); err != nil {
			log.Warn("decode message_read: %v", err)
			return
		}
		h(ev)
	})
}

// OnTypingStart registers a handler for typing-start pushes
func (ch *Channel) OnTypingStart(h func(TypingEvent)) *Subscription {
	return ch.onTyping(EventTypingStart, h)
}

// OnTypingStop registers a handler for typing-stop pushes
func (ch *Channel) OnTypingStop(h func(TypingEvent)) *Subscription {
	return ch.onTyping(EventTypingStop, h)
}

func (ch *Channel) onTyping(event string, h func(TypingEvent)) *Subscription {
	return ch.disp.on(event, func(data json.RawMessage) {
		var ev TypingEvent
		if err := Decode(data, &ev); err != nil {
			log.Warn("decode %s: %v", event, err)
			return
		}
		h(ev)
	})
}

// OnStateChange registers a handler for connection state transitions
func (ch *Channel) OnStateChange(h func(State)) *Subscription {
	return ch.disp.onState(h)
}

// emit encodes and queues one outbound frame. Mutating actions are no-ops
// while disconnected: the caller gets ErrNotConnected, nothing is buffered
// for replay.
func (ch *Channel) emit(event string, payload interface{}) error {
	ch.mu.Lock()
	if ch.state != StateConnected || ch.conn == nil {
		ch.mu.Unlock()
		return errcode.ErrNotConnected
	}
	conn := ch.conn
	ch.mu.Unlock()

	frame, err := Encode(event, payload)
	if err != nil {
		return errcode.ErrInvalidParam.Wrap(err)
	}
	return conn.WriteMessage(frame)
}

func (ch *Channel) readLoop(c *wsConn, gen int) {
	for {
		frame, err := c.ReadMessage()
		if err != nil {
			c.Close()
			ch.handleDisconnect(gen, err)
			return
		}

		var env Envelope
		if err := Decode(frame, &env); err != nil {
			log.Warn("decode frame: %v", err)
			continue
		}
		ch.disp.dispatch(env)
	}
}

func (ch *Channel) handleDisconnect(gen int, err error) {
	ch.mu.Lock()
	if ch.gen != gen || ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.conn = nil
	ch.state = StateDisconnected
	ch.mu.Unlock()

	log.Debug("channel disconnected: %v", err)
	ch.disp.notifyState(StateDisconnected)

	if ch.recon.shouldReconnect() {
		go ch.reconnectLoop()
	}
}

func (ch *Channel) reconnectLoop() {
	for {
		delay := ch.recon.nextDelay()
		time.Sleep(delay)

		ch.mu.Lock()
		closed := ch.closed
		ch.mu.Unlock()
		if closed {
			return
		}

		if err := ch.Connect(context.Background()); err == nil {
			return
		} else if !ch.recon.shouldReconnect() {
			log.Warn("reconnect attempts exhausted: %v", err)
			return
		}
	}
}

func (ch *Channel) handshakeURL() (string, error) {
	u, err := url.Parse(ch.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set(QueryToken, ch.sess.Token())
	q.Set(QueryConnId, uuid.NewString())
	u.RawQuery = q.Encode()
	return u.String(), nil
}
