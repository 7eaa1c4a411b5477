package devserver

import (
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lotmarket/chatsync/internal/model"
	"github.com/lotmarket/chatsync/pkg/errcode"
)

type userRecord struct {
	model.Participant
	passwordHash []byte
}

// State is the in-memory fixture store behind the dev backend. Everything
// lives for the process lifetime; there is deliberately no persistence so
// the test suite needs no external services.
type State struct {
	mu       sync.RWMutex
	users    map[string]*userRecord
	listings map[string]*model.Listing
	convs    map[string]*model.Conversation
	msgs     map[string][]model.Message
	msgConv  map[string]string // message id -> conversation id
}

// NewState creates an empty state
func NewState() *State {
	return &State{
		users:    make(map[string]*userRecord),
		listings: make(map[string]*model.Listing),
		convs:    make(map[string]*model.Conversation),
		msgs:     make(map[string][]model.Message),
		msgConv:  make(map[string]string),
	}
}

// AddUser registers a dev account with a bcrypt-hashed password
func (st *State) AddUser(p model.Participant, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return errcode.ErrInternalServer.Wrap(err)
	}
	st.mu.Lock()
	st.users[p.UserId] = &userRecord{Participant: p, passwordHash: hash}
	st.mu.Unlock()
	return nil
}

// Authenticate checks credentials and returns the user's profile
func (st *State) Authenticate(userId, password string) (*model.Participant, error) {
	st.mu.RLock()
	u, ok := st.users[userId]
	st.mu.RUnlock()
	if !ok {
		return nil, errcode.ErrUserNotFound
	}
	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return nil, errcode.ErrPasswordWrong
	}
	p := u.Participant
	return &p, nil
}

// User returns a registered user's profile
func (st *State) User(userId string) (*model.Participant, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	u, ok := st.users[userId]
	if !ok {
		return nil, false
	}
	p := u.Participant
	return &p, true
}

// AddListing stores a listing fixture
func (st *State) AddListing(l *model.Listing) {
	st.mu.Lock()
	st.listings[l.ListingId] = l
	st.mu.Unlock()
}

// Listing returns a listing by id
func (st *State) Listing(listingId string) (*model.Listing, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	l, ok := st.listings[listingId]
	if !ok {
		return nil, errcode.ErrListingNotFound
	}
	cp := *l
	return &cp, nil
}

// SetListingStatus updates a listing's availability status
func (st *State) SetListingStatus(listingId, status string) {
	st.mu.Lock()
	if l, ok := st.listings[listingId]; ok {
		l.Status = status
		l.UpdatedAt = time.Now().UnixMilli()
	}
	st.mu.Unlock()
}

// AddConversation stores a conversation fixture
func (st *State) AddConversation(c *model.Conversation) {
	st.mu.Lock()
	st.convs[c.ConversationId] = c
	st.mu.Unlock()
}

// Conversation returns a conversation scoped to one participant
func (st *State) Conversation(conversationId, userId string) (*model.Conversation, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	c, ok := st.convs[conversationId]
	if !ok {
		return nil, errcode.ErrConvNotFound
	}
	if !c.HasParticipant(userId) {
		return nil, errcode.ErrNotParticipant
	}
	cp := *c
	return &cp, nil
}

// ListConversations returns every conversation the user participates in
func (st *State) ListConversations(userId string) []*model.Conversation {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]*model.Conversation, 0)
	for _, c := range st.convs {
		if c.HasParticipant(userId) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// Messages returns the ordered history for a conversation
func (st *State) Messages(conversationId, userId string) ([]model.Message, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	c, ok := st.convs[conversationId]
	if !ok {
		return nil, errcode.ErrConvNotFound
	}
	if !c.HasParticipant(userId) {
		return nil, errcode.ErrNotParticipant
	}
	return append([]model.Message(nil), st.msgs[conversationId]...), nil
}

// AppendMessage durably records a message and updates the conversation
// summary
func (st *State) AppendMessage(msg model.Message) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.convs[msg.ConversationId]
	if !ok {
		return errcode.ErrConvNotFound
	}

	st.msgs[msg.ConversationId] = append(st.msgs[msg.ConversationId], msg)
	st.msgConv[msg.Id] = msg.ConversationId

	c.LastMessage = &model.LastMessage{
		SenderId: msg.SenderId,
		Text:     msg.Content,
		SentAt:   msg.SentAt,
	}
	c.UpdatedAt = msg.SentAt
	return nil
}

// MarkMessageRead flips one message's read flag. Returns false for an
// unknown message or a conversation mismatch.
func (st *State) MarkMessageRead(conversationId, messageId string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.msgConv[messageId] != conversationId {
		return false
	}
	msgs := st.msgs[conversationId]
	for i := range msgs {
		if msgs[i].Id == messageId {
			if !msgs[i].Read {
				msgs[i].Read = true
				msgs[i].ReadAt = time.Now().UnixMilli()
			}
			return true
		}
	}
	return false
}

// MarkConversationRead zeroes the unread count. Idempotent.
func (st *State) MarkConversationRead(conversationId, userId string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	c, ok := st.convs[conversationId]
	if !ok {
		return errcode.ErrConvNotFound
	}
	if !c.HasParticipant(userId) {
		return errcode.ErrNotParticipant
	}
	c.UnreadCount = 0
	return nil
}
