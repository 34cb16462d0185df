// Package store defines the persisted entities and the repository contracts
// the services depend on. Implementations live in store/postgres and store/memory.
//
// Lookups that miss return an apperr NotFound error; unique-key collisions
// return apperr Conflict.
package store

import (
	"context"
	"time"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByMobile(ctx context.Context, mobile string) (User, error)
	GetMany(ctx context.Context, ids []string) (map[string]User, error)
	// RecordLogin sets is_verified and last_login_at.
	RecordLogin(ctx context.Context, id string, at time.Time) (User, error)
	UpdateProfile(ctx context.Context, id string, name, preferredLanguage *string) (User, error)
	Search(ctx context.Context, query, excludeID string, limit int) ([]User, error)
}

type OtpRepository interface {
	// Replace marks every unused OTP for o.Mobile as used and inserts o, as one unit.
	Replace(ctx context.Context, o *Otp) error
	// Consume atomically flips the matching live OTP to used and returns it.
	Consume(ctx context.Context, mobile, code string, now time.Time) (Otp, error)
	// IncrementAttempts bumps attempts on the newest unused OTP for mobile.
	IncrementAttempts(ctx context.Context, mobile string) error
	// Latest returns the newest unused, unexpired OTP for mobile.
	Latest(ctx context.Context, mobile string, now time.Time) (Otp, error)
	DeleteByMobile(ctx context.Context, mobile string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type ConversationRepository interface {
	// FindOrCreate returns the canonical conversation for the participant set,
	// creating it when absent. created reports which happened.
	FindOrCreate(ctx context.Context, participants []string, now time.Time) (c Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]Conversation, error)
	// Touch advances last_message_id and updated_at.
	Touch(ctx context.Context, id, lastMessageID string, at time.Time) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id string) (Message, error)
	// ListByConversation returns up to limit messages with created_at < before
	// (when non-nil), newest first.
	ListByConversation(ctx context.Context, conversationID string, before *time.Time, limit int) ([]Message, error)
	Latest(ctx context.Context, conversationID string) (Message, error)
	// MarkDelivered transitions SENT -> DELIVERED. ok is false when the
	// precondition did not hold; the current record is returned either way.
	MarkDelivered(ctx context.Context, id string, at time.Time) (m Message, ok bool, err error)
	// MarkRead transitions a non-READ message addressed to receiverID to READ.
	MarkRead(ctx context.Context, id, receiverID string, at time.Time) (m Message, ok bool, err error)
	MarkConversationRead(ctx context.Context, conversationID, receiverID string, at time.Time) (int64, error)
	UnreadCounts(ctx context.Context, receiverID string) (map[string]int, error)
	// Delete removes the message only when senderID matches.
	Delete(ctx context.Context, id, senderID string) (bool, error)
	// DeleteForParticipant removes every message in the conversation the user sent or received.
	DeleteForParticipant(ctx context.Context, conversationID, userID string) (int64, error)
}

// Store bundles the repositories for the composition root.
type Store struct {
	Users         UserRepository
	Otps          OtpRepository
	Conversations ConversationRepository
	Messages      MessageRepository

	close func() error
}

func New(users UserRepository, otps OtpRepository, convs ConversationRepository, msgs MessageRepository, closeFn func() error) *Store {
	return &Store{Users: users, Otps: otps, Conversations: convs, Messages: msgs, close: closeFn}
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
