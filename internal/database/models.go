package database

import (
	"database/sql"
	"time"
)

type Room struct {
	Id         int
	ExternalId string
	Name       string
	CreatedBy  string
	CreatedAt  time.Time
}

type Message struct {
	Id           string
	RoomId       string
	Author       string
	Text         string
	AuthorColor  string
	IsPinned     bool
	EditedAt     sql.NullTime
	OriginalText sql.NullString
	CreatedAt    time.Time
}

type Document struct {
	Id          string
	Filename    string
	ContentType string
	Data        []byte
	Size        int64
	UploadedBy  string
	UploadedAt  time.Time
}

type CreateRoomParams struct {
	Name       string `json:"name"`
	CreatedBy  string `json:"-"`
	ExternalId string `json:"external_id"`
}

type UpdateMessageParams struct {
	Id           string
	Text         string
	OriginalText string
	EditedAt     time.Time
}
