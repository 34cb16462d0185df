package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lingochat/internal/chat"
	"lingochat/internal/store"
	"lingochat/internal/store/memory"
)

// slowTranslator answers from a phrase table after delay, or returns the
// input once ctx ends.
type slowTranslator struct {
	delay   time.Duration
	phrases map[string]string
}

func (s slowTranslator) Translate(ctx context.Context, text, source, target string) string {
	if source == target {
		return text
	}
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return text
	}
	if out, ok := s.phrases[target+":"+text]; ok {
		return out
	}
	return text
}

type hubFixture struct {
	store  *store.Store
	hub    *Hub
	reg    *Registry
	exec   *Executor
	a, b   store.User
	conv   store.Conversation
	sa, sb *Session
}

func newHubFixture(t *testing.T, langA, langB string, tr chat.Translator, inline time.Duration) *hubFixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	log := discardLogger()

	a := store.User{Mobile: "+2001", Name: "A", PreferredLanguage: langA, CreatedAt: time.Now()}
	b := store.User{Mobile: "+2002", Name: "B", PreferredLanguage: langB, CreatedAt: time.Now()}
	require.NoError(t, s.Users.Create(ctx, &a))
	require.NoError(t, s.Users.Create(ctx, &b))
	conv, _, err := s.Conversations.FindOrCreate(ctx, []string{a.ID, b.ID}, time.Now())
	require.NoError(t, err)

	reg := NewRegistry()
	messages := chat.NewMessageService(s, tr, inline, log)
	messages.SetPresence(reg)
	exec := NewExecutor(2, 16, log)
	exec.Start()
	t.Cleanup(func() { exec.Stop(context.Background()) })

	hub := NewHub(reg, NewLocalBroker(reg), messages, s.Users, tr, exec,
		HubConfig{InlineWait: inline, RefineWait: 2 * time.Second}, log)

	f := &hubFixture{store: s, hub: hub, reg: reg, exec: exec, a: a, b: b, conv: conv}
	f.sa = NewSession(a.ID)
	f.sb = NewSession(b.ID)
	hub.Connect(f.sa)
	hub.Connect(f.sb)
	drain(f.sa)
	drain(f.sb)
	return f
}

func (f *hubFixture) send(t *testing.T, text string) store.Message {
	t.Helper()
	m, err := f.hub.SendMessage(context.Background(), f.a.ID, chat.CreateMessageInput{
		ConversationID: f.conv.ID,
		ReceiverID:     f.b.ID,
		Text:           text,
		SourceLang:     f.a.PreferredLanguage,
	})
	require.NoError(t, err)
	return m
}

func command(t *testing.T, event string, data any) Frame {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Frame{Event: event, Data: raw}
}

func next(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case raw := <-s.send:
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return Frame{}
	}
}

// waitFor skips frames until one with event arrives.
func waitFor(t *testing.T, s *Session, event string) Frame {
	t.Helper()
	for {
		if f := next(t, s); f.Event == event {
			return f
		}
	}
}

func drain(s *Session) []Frame {
	var out []Frame
	for {
		select {
		case raw := <-s.send:
			var f Frame
			_ = json.Unmarshal(raw, &f)
			out = append(out, f)
		default:
			return out
		}
	}
}

func events(frames []Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Event)
	}
	return out
}

func payload[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestSendTwoPhaseTranslation(t *testing.T) {
	tr := slowTranslator{delay: 150 * time.Millisecond, phrases: map[string]string{"hi:hello": "नमस्ते"}}
	f := newHubFixture(t, "en", "hi", tr, 20*time.Millisecond)

	m := f.send(t, "hello")
	assert.Nil(t, m.TranslatedText, "a timed-out translation is not stored")

	first := payload[MessagePayload](t, waitFor(t, f.sb, EventNewMessage))
	assert.Equal(t, m.ID, first.ID)
	assert.Equal(t, "hello", first.TranslatedText, "inline deadline falls back to the original")
	assert.False(t, first.IsTranslated)
	assert.Equal(t, "hi", first.TargetLang)
	assert.Equal(t, store.StatusDelivered, first.Status, "receiver is online")

	update := payload[MessagePayload](t, waitFor(t, f.sb, EventMessageTranslationUpdate))
	assert.Equal(t, m.ID, update.ID)
	assert.Equal(t, "नमस्ते", update.TranslatedText)
	assert.True(t, update.IsTranslated)
	assert.True(t, update.IsTranslationUpdate)

	own := payload[MessagePayload](t, waitFor(t, f.sa, EventNewMessage))
	assert.Equal(t, "hello", own.TranslatedText)
	assert.False(t, own.IsTranslated)

	f.exec.Stop(context.Background())
	assert.NotContains(t, events(drain(f.sa)), EventMessageTranslationUpdate, "the sender never gets refinements")
}

func TestSendFastTranslationHasNoUpdate(t *testing.T) {
	tr := slowTranslator{phrases: map[string]string{"hi:hello": "नमस्ते"}}
	f := newHubFixture(t, "en", "hi", tr, time.Second)

	f.send(t, "hello")

	first := payload[MessagePayload](t, waitFor(t, f.sb, EventNewMessage))
	assert.Equal(t, "नमस्ते", first.TranslatedText)
	assert.True(t, first.IsTranslated)

	f.exec.Stop(context.Background())
	assert.NotContains(t, events(drain(f.sb)), EventMessageTranslationUpdate,
		"a refinement equal to the immediate rendering is not emitted")
}

func TestSendSameLanguage(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)

	f.send(t, "good morning")

	got := payload[MessagePayload](t, waitFor(t, f.sb, EventNewMessage))
	assert.Equal(t, "good morning", got.TranslatedText)
	assert.False(t, got.IsTranslated)

	counts := payload[map[string]int](t, waitFor(t, f.sb, EventUnreadCounts))
	assert.Equal(t, 1, counts[f.conv.ID])

	f.exec.Stop(context.Background())
	assert.NotContains(t, events(drain(f.sb)), EventMessageTranslationUpdate)
}

func TestSendOverSocketReportsErrors(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)

	f.hub.Handle(f.sa, command(t, cmdSendMessage, sendMessageCmd{
		ConversationID: f.conv.ID,
		ReceiverID:     f.b.ID,
		OriginalText:   "   ",
	}))
	errEv := payload[ErrorEvent](t, waitFor(t, f.sa, "messageError"))
	assert.NotEmpty(t, errEv.Error)
	assert.Empty(t, drain(f.sb))
}

func TestJoinSnapshotsUnreadBeforeAndAfter(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)
	f.send(t, "one")
	f.send(t, "two")
	drain(f.sa)
	drain(f.sb)

	f.hub.Handle(f.sb, command(t, cmdJoinConversation, conversationRef{ConversationID: f.conv.ID}))

	before := payload[map[string]int](t, waitFor(t, f.sb, EventUnreadCounts))
	assert.Equal(t, 2, before[f.conv.ID])
	after := payload[map[string]int](t, waitFor(t, f.sb, EventUnreadCounts))
	assert.Empty(t, after)

	status := payload[MessageStatusEvent](t, waitFor(t, f.sa, EventMessageStatusUpdate))
	assert.Equal(t, store.StatusRead, status.Status)
	assert.Equal(t, f.b.ID, status.ReadBy)
	assert.True(t, f.reg.InRoom(f.sb.ID, ConversationRoom(f.conv.ID)))
}

func TestJoinRejectsOutsiders(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)
	outsider := NewSession("someone-else")
	f.hub.Connect(outsider)

	f.hub.Handle(outsider, command(t, cmdJoinConversation, conversationRef{ConversationID: f.conv.ID}))

	waitFor(t, outsider, "joinConversationError")
	assert.False(t, f.reg.InRoom(outsider.ID, ConversationRoom(f.conv.ID)))
}

func TestTypingSkipsTheTypist(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)
	join := command(t, cmdJoinConversation, conversationRef{ConversationID: f.conv.ID})
	f.hub.Handle(f.sa, join)
	f.hub.Handle(f.sb, join)
	drain(f.sa)
	drain(f.sb)

	f.hub.Handle(f.sa, command(t, cmdTyping, typingCmd{ConversationID: f.conv.ID, IsTyping: true}))

	ev := payload[TypingEvent](t, waitFor(t, f.sb, EventUserTyping))
	assert.Equal(t, f.a.ID, ev.UserID)
	assert.True(t, ev.IsTyping)
	assert.NotContains(t, events(drain(f.sa)), EventUserTyping)
}

func TestDeleteMessage(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)
	join := command(t, cmdJoinConversation, conversationRef{ConversationID: f.conv.ID})
	f.hub.Handle(f.sa, join)
	f.hub.Handle(f.sb, join)
	m := f.send(t, "oops")
	drain(f.sa)
	drain(f.sb)

	del := command(t, cmdDeleteMessage, messageRef{MessageID: m.ID, ConversationID: f.conv.ID})
	f.hub.Handle(f.sb, del)
	waitFor(t, f.sb, "deleteMessageError")

	f.hub.Handle(f.sa, del)
	for _, s := range []*Session{f.sa, f.sb} {
		ev := payload[MessageDeletedEvent](t, waitFor(t, s, EventMessageDeleted))
		assert.Equal(t, m.ID, ev.MessageID)
		assert.Equal(t, f.conv.ID, ev.ConversationID)
	}
}

func TestClearConversation(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)
	f.hub.Handle(f.sb, command(t, cmdJoinConversation, conversationRef{ConversationID: f.conv.ID}))
	f.send(t, "one")
	drain(f.sb)

	f.hub.Handle(f.sa, command(t, cmdClearConversation, conversationRef{ConversationID: f.conv.ID}))

	ev := payload[ConversationClearedEvent](t, waitFor(t, f.sb, EventConversationCleared))
	assert.Equal(t, f.a.ID, ev.ClearedBy)
	msgs, err := f.store.Messages.ListByConversation(context.Background(), f.conv.ID, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMarkAsReadNotifiesSenderOnce(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)
	m := f.send(t, "read me")
	drain(f.sa)

	f.hub.Handle(f.sb, command(t, cmdMarkAsRead, messageRef{MessageID: m.ID}))
	ev := payload[MessageStatusEvent](t, waitFor(t, f.sa, EventMessageStatusUpdate))
	assert.Equal(t, m.ID, ev.MessageID)
	assert.Equal(t, store.StatusRead, ev.Status)
	assert.NotNil(t, ev.ReadAt)

	f.hub.Handle(f.sb, command(t, cmdMarkAsRead, messageRef{MessageID: m.ID}))
	assert.NotContains(t, events(drain(f.sa)), EventMessageStatusUpdate)

	f.hub.Handle(f.sa, command(t, cmdMarkAsRead, messageRef{MessageID: m.ID}))
	waitFor(t, f.sa, "markAsReadError")
}

func TestPresenceBroadcastsOnEdgesOnly(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)

	second := NewSession(f.a.ID)
	f.hub.Connect(second)
	f.hub.Disconnect(second)
	assert.NotContains(t, events(drain(f.sb)), EventUserStatusChanged)

	f.hub.Disconnect(f.sa)
	ev := payload[UserStatusEvent](t, waitFor(t, f.sb, EventUserStatusChanged))
	assert.Equal(t, f.a.ID, ev.UserID)
	assert.False(t, ev.IsOnline)

	f.hub.Connect(NewSession(f.a.ID))
	back := payload[UserStatusEvent](t, waitFor(t, f.sb, EventUserStatusChanged))
	assert.True(t, back.IsOnline)
	assert.Greater(t, back.Seq, ev.Seq, "a later edge carries a higher seq")
}

func TestPresenceSeqOrdersReconnect(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)

	// The old socket's teardown loses the race to the new socket's attach.
	old := f.sa
	_, last, offlineSeq := f.reg.Detach(old.ID)
	require.True(t, last)
	f.hub.Connect(NewSession(f.a.ID))
	f.hub.emit(context.Background(), "", "", EventUserStatusChanged,
		UserStatusEvent{UserID: f.a.ID, IsOnline: false, Seq: offlineSeq})

	online := payload[UserStatusEvent](t, waitFor(t, f.sb, EventUserStatusChanged))
	offline := payload[UserStatusEvent](t, waitFor(t, f.sb, EventUserStatusChanged))
	assert.True(t, online.IsOnline)
	assert.False(t, offline.IsOnline)
	assert.Less(t, offline.Seq, online.Seq, "the late offline edge is recognisably stale")
}

func TestStatusQueries(t *testing.T) {
	f := newHubFixture(t, "en", "en", slowTranslator{}, time.Second)

	f.hub.Handle(f.sa, command(t, cmdGetUserStatus, userRef{UserID: f.b.ID}))
	st := payload[UserStatusEvent](t, waitFor(t, f.sa, EventUserStatus))
	assert.True(t, st.IsOnline)

	f.hub.Handle(f.sa, Frame{Event: cmdGetOnlineUsers})
	online := payload[[]string](t, waitFor(t, f.sa, EventOnlineUsers))
	assert.ElementsMatch(t, []string{f.a.ID, f.b.ID}, online)

	f.hub.Handle(f.sa, Frame{Event: cmdGetUnreadCounts})
	counts := payload[map[string]int](t, waitFor(t, f.sa, EventUnreadCounts))
	assert.Empty(t, counts)

	f.hub.Handle(f.sa, Frame{Event: "dance"})
	errEv := payload[ErrorEvent](t, waitFor(t, f.sa, EventError))
	assert.Equal(t, "dance", errEv.Event)
}
