// Package memory is an in-process implementation of the store repositories.
// It backs the tests and development runs without a database. All
// repositories share one mutex so multi-record updates are atomic.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lingochat/internal/apperr"
	"lingochat/internal/store"
)

type db struct {
	mu            sync.Mutex
	users         map[string]store.User
	mobiles       map[string]string // mobile -> user id
	otps          []*store.Otp
	conversations map[string]store.Conversation
	pairs         map[string]string // pair key -> conversation id
	messages      map[string]store.Message
}

// New returns a Store whose repositories share a single in-memory database.
func New() *store.Store {
	d := &db{
		users:         make(map[string]store.User),
		mobiles:       make(map[string]string),
		conversations: make(map[string]store.Conversation),
		pairs:         make(map[string]string),
		messages:      make(map[string]store.Message),
	}
	return store.New(&userRepo{d}, &otpRepo{d}, &conversationRepo{d}, &messageRepo{d}, nil)
}

// ---------------------------------------------
// Users
// ---------------------------------------------

type userRepo struct{ *db }

func (r *userRepo) Create(ctx context.Context, u *store.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mobiles[u.Mobile]; exists {
		return apperr.Conflict("user with this mobile already exists")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	r.users[u.ID] = *u
	r.mobiles[u.Mobile] = u.ID
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return store.User{}, apperr.NotFound("user not found")
	}
	return u, nil
}

func (r *userRepo) GetByMobile(ctx context.Context, mobile string) (store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.mobiles[mobile]
	if !ok {
		return store.User{}, apperr.NotFound("user not found")
	}
	return r.users[id], nil
}

func (r *userRepo) GetMany(ctx context.Context, ids []string) (map[string]store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]store.User, len(ids))
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (r *userRepo) RecordLogin(ctx context.Context, id string, at time.Time) (store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return store.User{}, apperr.NotFound("user not found")
	}
	u.IsVerified = true
	u.LastLoginAt = &at
	r.users[id] = u
	return u, nil
}

func (r *userRepo) UpdateProfile(ctx context.Context, id string, name, preferredLanguage *string) (store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return store.User{}, apperr.NotFound("user not found")
	}
	if name != nil {
		u.Name = *name
	}
	if preferredLanguage != nil {
		u.PreferredLanguage = *preferredLanguage
	}
	r.users[id] = u
	return u, nil
}

func (r *userRepo) Search(ctx context.Context, query, excludeID string, limit int) ([]store.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := strings.ToLower(query)
	var out []store.User
	for _, u := range r.users {
		if u.ID == excludeID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name), q) || strings.Contains(u.Mobile, q) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---------------------------------------------
// OTPs
// ---------------------------------------------

type otpRepo struct{ *db }

func (r *otpRepo) Replace(ctx context.Context, o *store.Otp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.otps {
		if existing.Mobile == o.Mobile && !existing.IsUsed {
			existing.IsUsed = true
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	cp := *o
	r.otps = append(r.otps, &cp)
	return nil
}

func (r *otpRepo) Consume(ctx context.Context, mobile, code string, now time.Time) (store.Otp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.otps {
		if o.Mobile == mobile && o.Code == code && o.Live(now) {
			o.IsUsed = true
			return *o, nil
		}
	}
	return store.Otp{}, apperr.NotFound("no live otp")
}

func (r *otpRepo) IncrementAttempts(ctx context.Context, mobile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o := r.newest(mobile, func(o *store.Otp) bool { return !o.IsUsed }); o != nil {
		o.Attempts++
	}
	return nil
}

func (r *otpRepo) Latest(ctx context.Context, mobile string, now time.Time) (store.Otp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.newest(mobile, func(o *store.Otp) bool { return o.Live(now) })
	if o == nil {
		return store.Otp{}, apperr.NotFound("no live otp")
	}
	return *o, nil
}

// newest must be called with mu held.
func (r *otpRepo) newest(mobile string, match func(*store.Otp) bool) *store.Otp {
	for i := len(r.otps) - 1; i >= 0; i-- {
		if o := r.otps[i]; o.Mobile == mobile && match(o) {
			return o
		}
	}
	return nil
}

func (r *otpRepo) DeleteByMobile(ctx context.Context, mobile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otps = slices.DeleteFunc(r.otps, func(o *store.Otp) bool { return o.Mobile == mobile })
	return nil
}

func (r *otpRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.otps)
	r.otps = slices.DeleteFunc(r.otps, func(o *store.Otp) bool { return !o.ExpiresAt.After(now) })
	return int64(before - len(r.otps)), nil
}

// ---------------------------------------------
// Conversations
// ---------------------------------------------

type conversationRepo struct{ *db }

func (r *conversationRepo) FindOrCreate(ctx context.Context, participants []string, now time.Time) (store.Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := store.PairKey(participants...)
	if id, ok := r.pairs[key]; ok {
		return r.conversations[id], false, nil
	}
	c := store.Conversation{
		ID:           uuid.NewString(),
		Participants: slices.Clone(participants),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.conversations[c.ID] = c
	r.pairs[key] = c.ID
	return c, true, nil
}

func (r *conversationRepo) GetByID(ctx context.Context, id string) (store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return store.Conversation{}, apperr.NotFound("conversation not found")
	}
	return c, nil
}

func (r *conversationRepo) ListForUser(ctx context.Context, userID string) ([]store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Conversation
	for _, c := range r.conversations {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *conversationRepo) Touch(ctx context.Context, id, lastMessageID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return apperr.NotFound("conversation not found")
	}
	c.LastMessageID = &lastMessageID
	c.UpdatedAt = at
	r.conversations[id] = c
	return nil
}

// ---------------------------------------------
// Messages
// ---------------------------------------------

type messageRepo struct{ *db }

func (r *messageRepo) Create(ctx context.Context, m *store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	r.messages[m.ID] = *m
	return nil
}

func (r *messageRepo) GetByID(ctx context.Context, id string) (store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return store.Message{}, apperr.NotFound("message not found")
	}
	return m, nil
}

func (r *messageRepo) ListByConversation(ctx context.Context, conversationID string, before *time.Time, limit int) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Message
	for _, m := range r.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *messageRepo) Latest(ctx context.Context, conversationID string) (store.Message, error) {
	msgs, err := r.ListByConversation(ctx, conversationID, nil, 1)
	if err != nil {
		return store.Message{}, err
	}
	if len(msgs) == 0 {
		return store.Message{}, apperr.NotFound("no messages")
	}
	return msgs[0], nil
}

func (r *messageRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (store.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return store.Message{}, false, apperr.NotFound("message not found")
	}
	if m.Status != store.StatusSent {
		return m, false, nil
	}
	m.Status = store.StatusDelivered
	m.DeliveredAt = &at
	m.UpdatedAt = at
	r.messages[id] = m
	return m, true, nil
}

func (r *messageRepo) MarkRead(ctx context.Context, id, receiverID string, at time.Time) (store.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.ReceiverID != receiverID {
		return store.Message{}, false, apperr.NotFound("message not found")
	}
	if m.Status == store.StatusRead {
		return m, false, nil
	}
	m.Status = store.StatusRead
	m.ReadAt = &at
	m.UpdatedAt = at
	r.messages[id] = m
	return m, true, nil
}

func (r *messageRepo) MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.messages {
		if m.ConversationID == conversationID && m.ReceiverID == receiverID && m.Status != store.StatusRead {
			m.Status = store.StatusRead
			m.ReadAt = &at
			m.UpdatedAt = at
			r.messages[id] = m
			n++
		}
	}
	return n, nil
}

func (r *messageRepo) UnreadCounts(ctx context.Context, receiverID string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, m := range r.messages {
		if m.ReceiverID != receiverID || m.Status == store.StatusRead {
			continue
		}
		c, ok := r.conversations[m.ConversationID]
		if !ok || !c.HasParticipant(receiverID) {
			continue
		}
		counts[m.ConversationID]++
	}
	return counts, nil
}

func (r *messageRepo) Delete(ctx context.Context, id, senderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.SenderID != senderID {
		return false, nil
	}
	delete(r.messages, id)
	return true, nil
}

func (r *messageRepo) DeleteForParticipant(ctx context.Context, conversationID, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.messages {
		if m.ConversationID == conversationID && (m.SenderID == userID || m.ReceiverID == userID) {
			delete(r.messages, id)
			n++
		}
	}
	return n, nil
}
