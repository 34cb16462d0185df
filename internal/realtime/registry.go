package realtime

import (
	"slices"
	"sync"

	"lingochat/internal/metrics"
)

// Registry tracks live sessions by id, by user and by room. Every method is
// safe for concurrent use and none of them block on I/O.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byUser   map[string]map[string]*Session
	rooms    map[string]map[string]*Session
	joined   map[string]map[string]struct{} // session id -> rooms

	// edgeSeq numbers presence edges in the order they happened.
	edgeSeq uint64

	// trackPresence feeds the presence gauges. Off for the OTP namespace.
	trackPresence bool
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:      make(map[string]*Session),
		byUser:        make(map[string]map[string]*Session),
		rooms:         make(map[string]map[string]*Session),
		joined:        make(map[string]map[string]struct{}),
		trackPresence: true,
	}
}

func newAnonymousRegistry() *Registry {
	r := NewRegistry()
	r.trackPresence = false
	return r
}

// Attach registers s and joins its user room. first reports whether this is
// the user's only live session; seq numbers that edge and is zero otherwise.
func (r *Registry) Attach(s *Session) (first bool, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return false, 0
	}
	r.sessions[s.ID] = s
	r.joined[s.ID] = make(map[string]struct{})
	if s.UserID != "" {
		set, ok := r.byUser[s.UserID]
		if !ok {
			set = make(map[string]*Session)
			r.byUser[s.UserID] = set
		}
		set[s.ID] = s
		first = len(set) == 1
		r.joinLocked(s, UserRoom(s.UserID))
	}
	if first {
		r.edgeSeq++
		seq = r.edgeSeq
	}
	r.updateGaugesLocked()
	return first, seq
}

// Detach removes a session from every index. last reports whether the user
// has no live session left; seq numbers that edge and is zero otherwise.
func (r *Registry) Detach(sessionID string) (s *Session, last bool, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false, 0
	}
	for room := range r.joined[sessionID] {
		r.leaveLocked(sessionID, room)
	}
	delete(r.joined, sessionID)
	delete(r.sessions, sessionID)
	if s.UserID != "" {
		set := r.byUser[s.UserID]
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byUser, s.UserID)
			last = true
			r.edgeSeq++
			seq = r.edgeSeq
		}
	}
	r.updateGaugesLocked()
	return s, last, seq
}

func (r *Registry) ForUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byUser[userID]))
	for _, s := range r.byUser[userID] {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// OnlineUsers returns the ids of users with at least one session, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// JoinRoom reports false when the session is not attached.
func (r *Registry) JoinRoom(sessionID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return false
	}
	r.joinLocked(s, room)
	return true
}

func (r *Registry) LeaveRoom(sessionID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, room)
}

func (r *Registry) InRoom(sessionID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][sessionID]
	return ok
}

func (r *Registry) members(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if room == "" {
		out := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			out = append(out, s)
		}
		return out
	}
	out := make([]*Session, 0, len(r.rooms[room]))
	for _, s := range r.rooms[room] {
		out = append(out, s)
	}
	return out
}

// Deliver writes an envelope's frame to the local members of its room. An
// empty room means every session.
func (r *Registry) Deliver(env Envelope) {
	for _, s := range r.members(env.Room) {
		if s.ID == env.Except {
			continue
		}
		s.enqueue(env.Payload)
	}
}

func (r *Registry) joinLocked(s *Session, room string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[room] = members
	}
	members[s.ID] = s
	r.joined[s.ID][room] = struct{}{}
}

func (r *Registry) leaveLocked(sessionID, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	if rooms, ok := r.joined[sessionID]; ok {
		delete(rooms, room)
	}
}

func (r *Registry) updateGaugesLocked() {
	if !r.trackPresence {
		return
	}
	metrics.LiveSessions.Set(float64(len(r.sessions)))
	metrics.OnlineUsers.Set(float64(len(r.byUser)))
}
