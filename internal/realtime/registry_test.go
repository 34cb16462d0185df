package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPresenceEdges(t *testing.T) {
	r := NewRegistry()
	s1 := NewSession("u1")
	s2 := NewSession("u1")

	first, online := r.Attach(s1)
	assert.True(t, first, "first session brings the user online")
	first, seq := r.Attach(s2)
	assert.False(t, first, "second session is not a presence edge")
	assert.Zero(t, seq)
	assert.True(t, r.IsOnline("u1"))
	assert.Len(t, r.ForUser("u1"), 2)

	_, last, _ := r.Detach(s1.ID)
	assert.False(t, last)
	assert.True(t, r.IsOnline("u1"))

	_, last, offline := r.Detach(s2.ID)
	assert.True(t, last)
	assert.Greater(t, offline, online)
	assert.False(t, r.IsOnline("u1"))
	assert.Empty(t, r.OnlineUsers())

	got, last, _ := r.Detach(s2.ID)
	assert.Nil(t, got)
	assert.False(t, last, "detaching twice must not report a second edge")
}

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry()
	a := NewSession("a")
	b := NewSession("b")
	r.Attach(a)
	r.Attach(b)

	assert.True(t, r.InRoom(a.ID, UserRoom("a")), "attach joins the user room")
	require.True(t, r.JoinRoom(a.ID, ConversationRoom("c1")))
	require.True(t, r.JoinRoom(b.ID, ConversationRoom("c1")))
	assert.False(t, r.JoinRoom("missing", ConversationRoom("c1")))

	r.Deliver(Envelope{Room: ConversationRoom("c1"), Except: a.ID, Payload: []byte(`{"event":"x"}`)})
	assert.Len(t, b.send, 1)
	assert.Empty(t, a.send)

	r.LeaveRoom(b.ID, ConversationRoom("c1"))
	r.Deliver(Envelope{Room: ConversationRoom("c1"), Payload: []byte(`{"event":"y"}`)})
	assert.Len(t, a.send, 1)
	assert.Len(t, b.send, 1)

	r.Deliver(Envelope{Payload: []byte(`{"event":"all"}`)})
	assert.Len(t, a.send, 2)
	assert.Len(t, b.send, 2)

	r.Detach(a.ID)
	assert.False(t, r.InRoom(a.ID, ConversationRoom("c1")))
}

func TestRegistryOnlineUsersSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Attach(NewSession(id))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.OnlineUsers())
}

func TestRegistryConcurrentAttachDetach(t *testing.T) {
	r := NewRegistry()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		firsts = map[string]int{}
		lasts  = map[string]int{}
	)

	for i := 0; i < 50; i++ {
		user := fmt.Sprintf("u%d", i%5)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewSession(user)
			first, _ := r.Attach(s)
			r.JoinRoom(s.ID, ConversationRoom("shared"))
			_, last, _ := r.Detach(s.ID)

			mu.Lock()
			defer mu.Unlock()
			if first {
				firsts[user]++
			}
			if last {
				lasts[user]++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, r.OnlineUsers())
	assert.Empty(t, r.members(ConversationRoom("shared")))
	for user, n := range firsts {
		assert.Equal(t, n, lasts[user], "every online edge for %s has a matching offline edge", user)
	}
}

func TestSlowConsumerIsClosed(t *testing.T) {
	s := NewSession("u")
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, s.enqueue([]byte("x")))
	}
	assert.False(t, s.enqueue([]byte("overflow")))

	select {
	case <-s.Done():
	default:
		t.Fatal("session should be closed after overflowing its buffer")
	}
	assert.False(t, s.Emit(EventOnlineUsers, []string{}))
}
