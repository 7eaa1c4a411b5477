package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotmarket/chatsync/internal/config"
	"github.com/lotmarket/chatsync/internal/identity"
	"github.com/lotmarket/chatsync/internal/model"
	"github.com/lotmarket/chatsync/pkg/errcode"
)

// wsTestServer accepts channel connections, collects every inbound frame,
// acks joins the way the backend does, and lets tests push frames or kill
// connections to provoke reconnects.
type wsTestServer struct {
	ts       *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	writeMu  sync.Mutex
	conns    []*websocket.Conn
	frames   []Envelope
	muteAcks bool
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	s := &wsTestServer{}
	s.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if Decode(frame, &env) != nil {
				continue
			}
			s.mu.Lock()
			s.frames = append(s.frames, env)
			mute := s.muteAcks
			s.mu.Unlock()

			if env.Event == EventJoin && !mute {
				var req JoinReq
				if Decode(env.Data, &req) == nil {
					s.writeFrame(conn, EventJoined, JoinedEvent{ConversationId: req.ConversationId})
				}
			}
		}
	}))
	t.Cleanup(s.ts.Close)
	return s
}

func (s *wsTestServer) writeFrame(conn *websocket.Conn, event string, payload interface{}) {
	frame, err := Encode(event, payload)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	conn.WriteMessage(websocket.TextMessage, frame)
	s.writeMu.Unlock()
}

func (s *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *wsTestServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsTestServer) dropLastConn() {
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	conn.Close()
}

func (s *wsTestServer) push(t *testing.T, event string, payload interface{}) {
	t.Helper()
	s.mu.Lock()
	conn := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	s.writeFrame(conn, event, payload)
}

func (s *wsTestServer) eventCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int)
	for _, env := range s.frames {
		out[env.Event]++
	}
	return out
}

func testChannelConfig(url string) config.ChannelConfig {
	cfg := config.Default().Channel
	cfg.URL = url
	cfg.ReconnectBaseDelay = 20 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond
	cfg.JoinAckTimeout = 500 * time.Millisecond
	return cfg
}

func newTestChannel(t *testing.T, srv *wsTestServer) *Channel {
	t.Helper()
	sess := &identity.Session{UserId: "u_anna", Nickname: "Anna"}
	ch := New(testChannelConfig(srv.url()), sess)
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestChannel_ConnectAndEmit(t *testing.T) {
	srv := newWSTestServer(t)
	ch := newTestChannel(t, srv)

	require.NoError(t, ch.Connect(context.Background()))
	assert.True(t, ch.Connected())

	require.NoError(t, ch.Join("conv_1"))
	require.NoError(t, ch.SendMessage("conv_1", "hello", model.MsgTypeText))
	require.NoError(t, ch.MarkMessageRead("m1", "conv_1"))

	require.Eventually(t, func() bool {
		c := srv.eventCounts()
		return c[EventJoin] == 1 && c[EventSendMessage] == 1 && c[EventMarkMessageRead] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestChannel_EmitWhileDisconnected(t *testing.T) {
	srv := newWSTestServer(t)
	ch := newTestChannel(t, srv)

	err := ch.SendMessage("conv_1", "hello", model.MsgTypeText)
	assert.True(t, errors.Is(err, errcode.ErrNotConnected))
	assert.True(t, errors.Is(ch.StartTyping("conv_1"), errcode.ErrNotConnected))
	assert.True(t, errors.Is(ch.MarkMessageRead("m1", "conv_1"), errcode.ErrNotConnected))
}

func TestChannel_DispatchesInboundEvents(t *testing.T) {
	srv := newWSTestServer(t)
	ch := newTestChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))

	var mu sync.Mutex
	var got []string
	sub := ch.OnNewMessage(func(ev NewMessageEvent) {
		mu.Lock()
		got = append(got, ev.Message.Id)
		mu.Unlock()
	})
	defer sub.Close()

	srv.push(t, EventNewMessage, NewMessageEvent{Message: model.Message{
		Id:             "m1",
		ConversationId: "conv_1",
		SenderId:       "u_boris",
		MsgType:        model.MsgTypeText,
		Content:        "hi",
		SentAt:         100,
	}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "m1"
	}, time.Second, 10*time.Millisecond)
}

func TestChannel_ReconnectRejoinsRooms(t *testing.T) {
	srv := newWSTestServer(t)
	ch := newTestChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))
	// Join returns only after the server acked it, so the join frame is
	// on record before the connection is dropped.
	require.NoError(t, ch.Join("conv_1"))

	var mu sync.Mutex
	var states []State
	sub := ch.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer sub.Close()

	srv.dropLastConn()

	require.Eventually(t, func() bool {
		return srv.connCount() == 2 && ch.Connected()
	}, 3*time.Second, 10*time.Millisecond)

	// The join was re-issued on the fresh connection without any caller
	// involvement.
	require.Eventually(t, func() bool {
		return srv.eventCounts()[EventJoin] == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateDisconnected)
	assert.Contains(t, states, StateConnected)
}

func TestChannel_JoinBlocksUntilAcked(t *testing.T) {
	srv := newWSTestServer(t)
	srv.mu.Lock()
	srv.muteAcks = true
	srv.mu.Unlock()

	ch := newTestChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))

	// Without the server's joined ack the caller must not believe the
	// room is live.
	err := ch.Join("conv_1")
	assert.True(t, errors.Is(err, errcode.ErrNotJoined))

	// The ack releases a subsequent join immediately.
	srv.mu.Lock()
	srv.muteAcks = false
	srv.mu.Unlock()
	require.NoError(t, ch.Join("conv_1"))
}

func TestChannel_JoinWhileDisconnectedIsRememberedOnly(t *testing.T) {
	srv := newWSTestServer(t)
	ch := newTestChannel(t, srv)

	// Membership is recorded even though nothing can be emitted yet.
	err := ch.Join("conv_1")
	assert.True(t, errors.Is(err, errcode.ErrNotConnected))

	require.NoError(t, ch.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return srv.eventCounts()[EventJoin] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestChannel_CloseStopsReconnect(t *testing.T) {
	srv := newWSTestServer(t)
	ch := newTestChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))

	require.NoError(t, ch.Close())
	assert.False(t, ch.Connected())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, srv.connCount(), "a closed channel never dials again")

	assert.True(t, errors.Is(ch.Connect(context.Background()), errcode.ErrConnClosed))
}

func TestChannel_LeaveForgetsRoom(t *testing.T) {
	srv := newWSTestServer(t)
	ch := newTestChannel(t, srv)
	require.NoError(t, ch.Connect(context.Background()))
	require.NoError(t, ch.Join("conv_1"))
	ch.Leave("conv_1")

	// Leave is fire-and-forget; make sure the frame landed before the
	// connection is cut, or it dies with the connection.
	require.Eventually(t, func() bool {
		return srv.eventCounts()[EventLeave] == 1
	}, time.Second, 10*time.Millisecond)

	srv.dropLastConn()
	require.Eventually(t, func() bool {
		return srv.connCount() == 2 && ch.Connected()
	}, 3*time.Second, 10*time.Millisecond)

	// Only the original join is on record; the left room is not re-acquired.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, srv.eventCounts()[EventJoin])
}
