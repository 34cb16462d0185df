// Package storetest holds behavioral checks every store implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat/internal/apperr"
	"lingochat/internal/store"
)

// Run exercises s against the repository contracts. Each subtest creates its
// own users so a shared database can be reused across runs.
func Run(t *testing.T, s *store.Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, s) })
	t.Run("Otps", func(t *testing.T) { testOtps(t, s) })
	t.Run("Conversations", func(t *testing.T) { testConversations(t, s) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, s) })
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func randomMobile() string {
	return fmt.Sprintf("+1%010d", rand.Int63n(1e10))
}

// NewUser persists a verified user with a random mobile.
func NewUser(t *testing.T, s *store.Store, name string) store.User {
	t.Helper()
	u := store.User{
		Mobile:            randomMobile(),
		Name:              name,
		PreferredLanguage: "en",
		CreatedAt:         now(),
	}
	require.NoError(t, s.Users.Create(context.Background(), &u))
	require.NotEmpty(t, u.ID)
	return u
}

func testUsers(t *testing.T, s *store.Store) {
	ctx := context.Background()
	tag := randomMobile()[2:]
	alice := NewUser(t, s, "Alice "+tag)

	dup := store.User{Mobile: alice.Mobile, Name: "Other", PreferredLanguage: "en", CreatedAt: now()}
	err := s.Users.Create(ctx, &dup)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := s.Users.GetByMobile(ctx, alice.Mobile)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.False(t, got.IsVerified)

	_, err = s.Users.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	at := now()
	got, err = s.Users.RecordLogin(ctx, alice.ID, at)
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(at))

	lang := "fr"
	got, err = s.Users.UpdateProfile(ctx, alice.ID, nil, &lang)
	require.NoError(t, err)
	assert.Equal(t, "Alice "+tag, got.Name)
	assert.Equal(t, "fr", got.PreferredLanguage)

	bob := NewUser(t, s, "Bob "+tag)
	found, err := s.Users.Search(ctx, tag, alice.ID, 20)
	require.NoError(t, err)
	for _, u := range found {
		assert.NotEqual(t, alice.ID, u.ID)
	}
	ids := make([]string, 0, len(found))
	for _, u := range found {
		ids = append(ids, u.ID)
	}
	assert.Contains(t, ids, bob.ID)

	many, err := s.Users.GetMany(ctx, []string{alice.ID, bob.ID, "missing"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
}

func testOtps(t *testing.T, s *store.Store) {
	ctx := context.Background()
	mobile := randomMobile()
	start := now()

	first := store.Otp{Mobile: mobile, Code: "111111", ExpiresAt: start.Add(5 * time.Minute), CreatedAt: start}
	require.NoError(t, s.Otps.Replace(ctx, &first))

	second := store.Otp{
		Mobile:           mobile,
		Code:             "222222",
		ExpiresAt:        start.Add(5 * time.Minute),
		CreatedAt:        start.Add(time.Millisecond),
		RegistrationData: &store.RegistrationData{Name: "Alice", PreferredLanguage: "es"},
	}
	require.NoError(t, s.Otps.Replace(ctx, &second))

	// The first code was invalidated by the replace.
	_, err := s.Otps.Consume(ctx, mobile, "111111", start)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.Otps.IncrementAttempts(ctx, mobile))
	latest, err := s.Otps.Latest(ctx, mobile, start)
	require.NoError(t, err)
	assert.Equal(t, "222222", latest.Code)
	assert.Equal(t, 1, latest.Attempts)

	// Not consumable once expired.
	_, err = s.Otps.Consume(ctx, mobile, "222222", start.Add(6*time.Minute))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	used, err := s.Otps.Consume(ctx, mobile, "222222", start)
	require.NoError(t, err)
	assert.True(t, used.IsUsed)
	require.NotNil(t, used.RegistrationData)
	assert.Equal(t, "es", used.RegistrationData.PreferredLanguage)

	_, err = s.Otps.Consume(ctx, mobile, "222222", start)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "an OTP verifies at most once")

	_, err = s.Otps.Latest(ctx, mobile, start)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	n, err := s.Otps.DeleteExpired(ctx, start.Add(10*time.Minute))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(2))

	require.NoError(t, s.Otps.DeleteByMobile(ctx, mobile))
}

func testConversations(t *testing.T, s *store.Store) {
	ctx := context.Background()
	alice := NewUser(t, s, "Alice")
	bob := NewUser(t, s, "Bob")
	carol := NewUser(t, s, "Carol")

	c1, created, err := s.Conversations.FindOrCreate(ctx, []string{alice.ID, bob.ID}, now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{alice.ID, bob.ID}, c1.Participants)

	c2, created, err := s.Conversations.FindOrCreate(ctx, []string{bob.ID, alice.ID}, now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c1.ID, c2.ID, "participant order must not create a second conversation")

	c3, _, err := s.Conversations.FindOrCreate(ctx, []string{alice.ID, carol.ID}, now())
	require.NoError(t, err)

	require.NoError(t, s.Conversations.Touch(ctx, c1.ID, "m-1", now().Add(time.Second)))

	list, err := s.Conversations.ListForUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c1.ID, list[0].ID, "most recently touched first")
	assert.Equal(t, c3.ID, list[1].ID)
	require.NotNil(t, list[0].LastMessageID)
	assert.Equal(t, "m-1", *list[0].LastMessageID)

	list, err = s.Conversations.ListForUser(ctx, carol.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.Conversations.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func testMessages(t *testing.T, s *store.Store) {
	ctx := context.Background()
	alice := NewUser(t, s, "Alice")
	bob := NewUser(t, s, "Bob")
	conv, _, err := s.Conversations.FindOrCreate(ctx, []string{alice.ID, bob.ID}, now())
	require.NoError(t, err)

	base := now()
	var ids []string
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Millisecond)
		m := store.Message{
			ConversationID: conv.ID,
			SenderID:       alice.ID,
			ReceiverID:     bob.ID,
			OriginalText:   fmt.Sprintf("msg %d", i),
			SourceLang:     "en",
			TargetLang:     "en",
			Status:         store.StatusSent,
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		require.NoError(t, s.Messages.Create(ctx, &m))
		ids = append(ids, m.ID)
	}

	page, err := s.Messages.ListByConversation(ctx, conv.ID, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "msg 4", page[0].OriginalText)
	assert.Equal(t, "msg 3", page[1].OriginalText)

	before := page[1].CreatedAt
	page, err = s.Messages.ListByConversation(ctx, conv.ID, &before, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "msg 2", page[0].OriginalText)

	latest, err := s.Messages.Latest(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[4], latest.ID)

	m, ok, err := s.Messages.MarkDelivered(ctx, ids[0], now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, store.StatusDelivered, m.Status)
	require.NotNil(t, m.DeliveredAt)

	m, ok, err = s.Messages.MarkDelivered(ctx, ids[0], now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, store.StatusDelivered, m.Status)

	_, _, err = s.Messages.MarkRead(ctx, ids[0], alice.ID, now())
	assert.ErrorIs(t, err, apperr.ErrNotFound, "only the receiver can read")

	m, ok, err = s.Messages.MarkRead(ctx, ids[0], bob.ID, now())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, store.StatusRead, m.Status)
	require.NotNil(t, m.ReadAt)

	_, ok, err = s.Messages.MarkDelivered(ctx, ids[0], now())
	require.NoError(t, err)
	assert.False(t, ok, "status never moves backwards")

	counts, err := s.Messages.UnreadCounts(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[conv.ID])

	n, err := s.Messages.MarkConversationRead(ctx, conv.ID, bob.ID, now())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	counts, err = s.Messages.UnreadCounts(ctx, bob.ID)
	require.NoError(t, err)
	assert.Zero(t, counts[conv.ID])

	deleted, err := s.Messages.Delete(ctx, ids[1], bob.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "only the sender can delete")

	deleted, err = s.Messages.Delete(ctx, ids[1], alice.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	n, err = s.Messages.DeleteForParticipant(ctx, conv.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = s.Messages.Latest(ctx, conv.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
