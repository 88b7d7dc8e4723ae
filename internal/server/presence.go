package server

import (
	"errors"
	"hash/fnv"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tmazur/roomchat/internal/types"
)

// ErrBlocked is returned by Admit when the resulting session is blocked;
// the caller must terminate the connection.
var ErrBlocked = errors.New("user is blocked from this room")

// colorPalette holds the avatar colors assigned to sessions. The choice
// is a stable hash of the username so it survives reconnects.
var colorPalette = [...]string{"#4B5563", "#2F4F4F", "#6B7280", "#3B82F6"}

func colorFor(username string) string {
	h := fnv.New32a()
	h.Write([]byte(username))
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}

// Session is the live per-connection record of a user's identity and
// moderation state within a room. It is owned exclusively by the
// SessionRegistry; a username has at most one active session per room,
// and a reconnect migrates the session to the new connection id while
// preserving its moderation flags.
type Session struct {
	ConnectionId string
	Username     string
	RoomId       string
	Color        string
	IsModerator  bool
	IsMuted      bool
	IsBlocked    bool
	IsOnline     bool
	LastSeenAt   time.Time
}

func (s *Session) Info() types.SessionInfo {
	return types.SessionInfo{
		Username:    s.Username,
		Color:       s.Color,
		IsModerator: s.IsModerator,
		IsMuted:     s.IsMuted,
		IsOnline:    s.IsOnline,
		LastSeenAt:  s.LastSeenAt,
	}
}

type ModerationField int

const (
	FieldMuted ModerationField = iota
	FieldBlocked
)

type SessionRegistry struct {
	mu         sync.RWMutex
	byConn     map[string]*Session
	byUserRoom map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byConn:     make(map[string]*Session),
		byUserRoom: make(map[string]*Session),
	}
}

func userRoomKey(username, roomId string) string {
	return username + "\x00" + roomId
}

// Admit registers a connection for username in roomId. An existing
// session for the same username and room is migrated to the new
// connection id, keeping its moderator, mute and block flags. Blocked
// sessions are rejected with ErrBlocked and left registered so future
// admission attempts keep failing.
func (r *SessionRegistry) Admit(connectionId, username, roomId, roomOwner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byUserRoom[userRoomKey(username, roomId)]
	if ok {
		delete(r.byConn, sess.ConnectionId)
		sess.ConnectionId = connectionId
		sess.IsOnline = true
		sess.LastSeenAt = time.Now().UTC()
	} else {
		sess = &Session{
			ConnectionId: connectionId,
			Username:     username,
			RoomId:       roomId,
			Color:        colorFor(username),
			IsModerator:  username == roomOwner,
			IsOnline:     true,
			LastSeenAt:   time.Now().UTC(),
		}
		r.byUserRoom[userRoomKey(username, roomId)] = sess
	}

	if sess.IsBlocked {
		sess.IsOnline = false
		return nil, ErrBlocked
	}

	r.byConn[connectionId] = sess
	return sess, nil
}

func (r *SessionRegistry) Get(connectionId string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byConn[connectionId]
}

func (r *SessionRegistry) GetByUser(username, roomId string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byUserRoom[userRoomKey(username, roomId)]
}

// SetModeration mutates the mute or block flag of the session matching
// username and roomId. An absent session is a no-op, not an error:
// disconnect races are expected.
func (r *SessionRegistry) SetModeration(username, roomId string, field ModerationField, value bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byUserRoom[userRoomKey(username, roomId)]
	if !ok {
		return
	}

	switch field {
	case FieldMuted:
		sess.IsMuted = value
	case FieldBlocked:
		sess.IsBlocked = value
	}
}

// Release marks the session for connectionId offline. The session is
// retained so moderation state and "last seen" survive reconnects.
func (r *SessionRegistry) Release(connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.byConn[connectionId]
	if !ok {
		return
	}

	delete(r.byConn, connectionId)
	sess.IsOnline = false
	sess.LastSeenAt = time.Now().UTC()
}

// ListByRoom returns the sessions known for a room ordered
// moderator-first, online-first, then username ascending. The ordering
// is a display contract and is recomputed on every call.
func (r *SessionRegistry) ListByRoom(roomId string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*Session
	for _, sess := range r.byUserRoom {
		if sess.RoomId == roomId {
			sessions = append(sessions, sess)
		}
	}

	slices.SortFunc(sessions, func(a, b *Session) int {
		if a.IsModerator != b.IsModerator {
			if a.IsModerator {
				return -1
			}
			return 1
		}
		if a.IsOnline != b.IsOnline {
			if a.IsOnline {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Username, b.Username)
	})

	return sessions
}

// Roster projects a room's sessions to the display fields broadcast in
// presence notifications.
func (r *SessionRegistry) Roster(roomId string) []types.SessionInfo {
	sessions := r.ListByRoom(roomId)
	roster := make([]types.SessionInfo, len(sessions))
	for i, sess := range sessions {
		roster[i] = sess.Info()
	}
	return roster
}
