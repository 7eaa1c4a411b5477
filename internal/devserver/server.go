// Package devserver is an in-memory implementation of the two backend
// contracts the sync engine consumes: the REST API and the realtime
// room channel. It exists so local development and the integration tests
// can run the full engine against real HTTP and websockets with no
// external services.
package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbeoliero/kit/log"

	"github.com/lotmarket/chatsync/internal/channel"
	"github.com/lotmarket/chatsync/internal/config"
	"github.com/lotmarket/chatsync/internal/model"
	"github.com/lotmarket/chatsync/internal/rest"
	"github.com/lotmarket/chatsync/pkg/errcode"
	"github.com/lotmarket/chatsync/pkg/idgen"
	"github.com/lotmarket/chatsync/pkg/jwt"
)

// Server serves the dev backend
type Server struct {
	cfg      config.DevServerConfig
	state    *State
	hub      *hub
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New creates a dev backend around the given state
func New(cfg config.DevServerConfig, state *State) *Server {
	s := &Server{
		cfg:   cfg,
		state: state,
		hub:   newHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /conversation/info", s.withAuth(s.handleConversationInfo))
	s.mux.HandleFunc("GET /conversation/list", s.withAuth(s.handleConversationList))
	s.mux.HandleFunc("POST /conversation/mark_read", s.withAuth(s.handleMarkConversationRead))
	s.mux.HandleFunc("GET /msg/list", s.withAuth(s.handleMessageList))
	s.mux.HandleFunc("POST /msg/voice", s.withAuth(s.handleVoiceMessage))
	s.mux.HandleFunc("GET /listing/info", s.withAuth(s.handleListingInfo))
	s.mux.HandleFunc("GET /ws", s.handleWS)

	return s
}

// Handler returns the backend's HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// State exposes the fixture store so tests can arrange scenarios
func (s *Server) State() *State {
	return s.state
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims *jwt.Claims)

func (s *Server) withAuth(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		h(w, r, claims)
	}
}

func (s *Server) authenticate(r *http.Request) (*jwt.Claims, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get(channel.QueryToken)
	}
	if token == "" {
		return nil, errcode.ErrTokenMissing
	}
	return jwt.ParseToken(token, s.cfg.JWTSecret)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req rest.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errcode.ErrInvalidParam)
		return
	}

	user, err := s.state.Authenticate(req.UserId, req.Password)
	if err != nil {
		writeError(w, errcode.ErrLoginFailed)
		return
	}

	token, err := jwt.GenerateToken(user.UserId, user.Nickname, s.cfg.JWTSecret, s.cfg.ExpireHours)
	if err != nil {
		writeError(w, errcode.ErrInternalServer.Wrap(err))
		return
	}

	writeData(w, rest.LoginResponse{
		Token:    token,
		UserId:   user.UserId,
		Nickname: user.Nickname,
	})
}

func (s *Server) handleConversationInfo(w http.ResponseWriter, r *http.Request, claims *jwt.Claims) {
	conv, err := s.state.Conversation(r.URL.Query().Get("conversation_id"), claims.UserId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, conv)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request, claims *jwt.Claims) {
	writeData(w, s.state.ListConversations(claims.UserId))
}

func (s *Server) handleMarkConversationRead(w http.ResponseWriter, r *http.Request, claims *jwt.Claims) {
	var req rest.MarkConversationReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errcode.ErrInvalidParam)
		return
	}
	if err := s.state.MarkConversationRead(req.ConversationId, claims.UserId); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, nil)
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request, claims *jwt.Claims) {
	msgs, err := s.state.Messages(r.URL.Query().Get("conversation_id"), claims.UserId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, msgs)
}

// handleVoiceMessage is the REST path for non-text payloads: the audio is
// accepted, a message is recorded and echoed into the room like any other
// delivery.
func (s *Server) handleVoiceMessage(w http.ResponseWriter, r *http.Request, claims *jwt.Claims) {
	var req rest.VoiceMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errcode.ErrInvalidParam)
		return
	}
	if len(req.Audio) == 0 {
		writeError(w, errcode.ErrInvalidParam)
		return
	}

	user, ok := s.state.User(claims.UserId)
	if !ok {
		writeError(w, errcode.ErrUserNotFound)
		return
	}

	id, err := idgen.NextID()
	if err != nil {
		writeError(w, errcode.ErrVoiceUploadFailed.Wrap(err))
		return
	}

	msg := model.Message{
		Id:             id,
		ConversationId: req.ConversationId,
		SenderId:       user.UserId,
		SenderName:     user.Nickname,
		MsgType:        model.MsgTypeAudio,
		Attachment:     fmt.Sprintf("/media/voice/%s.webm", id),
		SentAt:         time.Now().UnixMilli(),
	}

	if err := s.state.AppendMessage(msg); err != nil {
		writeError(w, err)
		return
	}

	s.hub.broadcast(req.ConversationId, channel.EventNewMessage, channel.NewMessageEvent{Message: msg}, nil)
	writeData(w, msg)
}

func (s *Server) handleListingInfo(w http.ResponseWriter, r *http.Request, claims *jwt.Claims) {
	listing, err := s.state.Listing(r.URL.Query().Get("listing_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, listing)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("ws upgrade: %v", err)
		return
	}

	client := newWSClient(s, conn, claims.UserId, claims.Nickname)
	client.start()
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{"code": 0, "msg": "success"}
	if data != nil {
		resp["data"] = data
	}
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	var e *errcode.Error
	if !errors.As(err, &e) {
		e = errcode.ErrInternalServer
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"code": e.Code, "msg": e.Msg})
}
