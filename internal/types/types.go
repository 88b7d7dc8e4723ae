package types

import (
	"time"
)

type Room struct {
	Id         int       `json:"id"`
	ExternalId string    `json:"external_id"`
	Name       string    `json:"name"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

type Message struct {
	Id           string     `json:"id"`
	RoomId       string     `json:"room_id"`
	Author       string     `json:"author"`
	Text         string     `json:"text"`
	AuthorColor  string     `json:"author_color,omitempty"`
	IsPinned     bool       `json:"is_pinned"`
	EditedAt     *time.Time `json:"edited_at,omitempty"`
	OriginalText string     `json:"original_text,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SessionInfo is the projection of a live session broadcast in
// presence rosters. Connection identity is never exposed.
type SessionInfo struct {
	Username    string    `json:"username"`
	Color       string    `json:"color"`
	IsModerator bool      `json:"is_moderator"`
	IsMuted     bool      `json:"is_muted"`
	IsOnline    bool      `json:"is_online"`
	LastSeenAt  time.Time `json:"last_seen_at,omitempty"`
}

type Document struct {
	Id          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
