package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sendBufferSize = 256

func UserRoom(userID string) string { return "user:" + userID }

func ConversationRoom(convID string) string { return "conversation:" + convID }

func MobileRoom(mobile string) string { return "mobile:" + mobile }

// Session is one live connection. UserID is empty on the unauthenticated
// OTP namespace.
type Session struct {
	ID          string
	UserID      string
	ConnectedAt time.Time

	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// mobile is the OTP room this session watches. Only the read loop touches it.
	mobile string
}

func NewSession(userID string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, sendBufferSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
}

// enqueue hands a frame to the write pump without blocking. A session whose
// buffer is full is a slow consumer and gets closed.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.Close()
		return false
	}
}

// Emit sends one event directly to this session.
func (s *Session) Emit(event string, data any) bool {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return false
	}
	return s.enqueue(frame)
}
