package devserver

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/lotmarket/chatsync/internal/channel"
	"github.com/lotmarket/chatsync/internal/model"
	"github.com/lotmarket/chatsync/pkg/errcode"
	"github.com/lotmarket/chatsync/pkg/idgen"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 51200
)

// wsClient is one connected websocket session on the dev backend
type wsClient struct {
	srv      *Server
	conn     *websocket.Conn
	send     chan []byte
	userId   string
	nickname string
}

func newWSClient(srv *Server, conn *websocket.Conn, userId, nickname string) *wsClient {
	return &wsClient{
		srv:      srv,
		conn:     conn,
		send:     make(chan []byte, 64),
		userId:   userId,
		nickname: nickname,
	}
}

func (c *wsClient) start() {
	go c.writePump()
	go c.readPump()
}

// write queues a frame; a slow consumer gets disconnected
func (c *wsClient) write(frame []byte) {
	select {
	case c.send <- frame:
	default:
		log.Warn("dev ws client %s slow, dropping connection", c.userId)
		c.conn.Close()
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.srv.hub.leaveAll(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			log.Debug("dev ws read %s: %v", c.userId, err)
			return
		}

		var env channel.Envelope
		if err := channel.Decode(frame, &env); err != nil {
			c.replyError(errcode.ErrInvalidProtocol)
			continue
		}
		c.handle(env)
	}
}

// writePump is the single writer for the connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(env channel.Envelope) {
	switch env.Event {
	case channel.EventJoin:
		var req channel.JoinReq
		if channel.Decode(env.Data, &req) != nil || req.ConversationId == "" {
			c.replyError(errcode.ErrInvalidParam)
			return
		}
		if _, err := c.srv.state.Conversation(req.ConversationId, c.userId); err != nil {
			c.replyError(errcode.ErrConvNotFound)
			return
		}
		c.srv.hub.join(req.ConversationId, c)
		c.reply(channel.EventJoined, channel.JoinedEvent{ConversationId: req.ConversationId})

	case channel.EventLeave:
		var req channel.JoinReq
		if channel.Decode(env.Data, &req) == nil {
			c.srv.hub.leave(req.ConversationId, c)
		}

	case channel.EventSendMessage:
		var req channel.SendMsgReq
		if channel.Decode(env.Data, &req) != nil || req.ConversationId == "" {
			c.replyError(errcode.ErrInvalidParam)
			return
		}
		c.handleSend(req)

	case channel.EventStartTyping:
		c.relayTyping(env, channel.EventTypingStart)

	case channel.EventStopTyping:
		c.relayTyping(env, channel.EventTypingStop)

	case channel.EventMarkMessageRead:
		var req channel.MarkReadReq
		if channel.Decode(env.Data, &req) != nil {
			c.replyError(errcode.ErrInvalidParam)
			return
		}
		if c.srv.state.MarkMessageRead(req.ConversationId, req.MessageId) {
			c.srv.hub.broadcast(req.ConversationId, channel.EventMessageRead, channel.MessageReadEvent{
				ConversationId: req.ConversationId,
				MessageId:      req.MessageId,
			}, nil)
		}

	default:
		c.replyError(errcode.ErrInvalidProtocol)
	}
}

// handleSend mints a server message id, records the message and echoes it
// to the whole room, including the sender, whose client waits for this
// echo instead of inserting a local placeholder.
func (c *wsClient) handleSend(req channel.SendMsgReq) {
	id, err := idgen.NextID()
	if err != nil {
		c.replyError(errcode.ErrSendFailed)
		return
	}

	msg := model.Message{
		Id:             id,
		ConversationId: req.ConversationId,
		SenderId:       c.userId,
		SenderName:     c.nickname,
		MsgType:        req.MsgType,
		Content:        req.Content,
		SentAt:         time.Now().UnixMilli(),
	}

	if err := c.srv.state.AppendMessage(msg); err != nil {
		c.replyError(errcode.ErrSendFailed)
		return
	}

	c.srv.hub.broadcast(req.ConversationId, channel.EventNewMessage, channel.NewMessageEvent{Message: msg}, nil)
}

func (c *wsClient) relayTyping(env channel.Envelope, event string) {
	var req channel.TypingReq
	if channel.Decode(env.Data, &req) != nil || req.ConversationId == "" {
		return
	}
	c.srv.hub.broadcast(req.ConversationId, event, channel.TypingEvent{
		ConversationId: req.ConversationId,
		UserId:         c.userId,
		UserName:       c.nickname,
	}, c)
}

func (c *wsClient) reply(event string, payload interface{}) {
	frame, err := channel.Encode(event, payload)
	if err != nil {
		log.Warn("encode %s: %v", event, err)
		return
	}
	c.write(frame)
}

func (c *wsClient) replyError(e *errcode.Error) {
	c.reply(channel.EventError, channel.ErrorEvent{Code: e.Code, Msg: e.Msg})
}
