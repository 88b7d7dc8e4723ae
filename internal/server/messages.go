package server

import (
	"net/http"
	"time"

	"github.com/tmazur/roomchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the inbound envelope. Exactly one of the operation
// fields is expected to be set.
type ClientMessage struct {
	BaseMessage
	Publish    *Publish      `json:"publish,omitempty"`
	Edit       *Edit         `json:"edit,omitempty"`
	Delete     *Delete       `json:"delete,omitempty"`
	Pin        *Pin          `json:"pin,omitempty"`
	Mute       *ModerateUser `json:"mute,omitempty"`
	Unmute     *ModerateUser `json:"unmute,omitempty"`
	Block      *ModerateUser `json:"block,omitempty"`
	Unblock    *ModerateUser `json:"unblock,omitempty"`
	Typing     *Typing       `json:"typing,omitempty"`
	StopTyping *StopTyping   `json:"stop_typing,omitempty"`
	Summarize  *Summarize    `json:"summarize,omitempty"`
	client     *Client
}

type Publish struct {
	Content string `json:"content"`
}

type Edit struct {
	MessageId string `json:"message_id"`
	NewText   string `json:"new_text"`
}

type Delete struct {
	MessageId string `json:"message_id"`
}

type Pin struct {
	MessageId string `json:"message_id"`
}

type ModerateUser struct {
	Username string `json:"username"`
}

type Typing struct{}

type StopTyping struct{}

type Summarize struct {
	DocumentId string `json:"document_id"`
}

// ServerMessage is the outbound envelope. Terminate instructs the write
// pump to close the connection after the message is flushed; it is used
// on the forced-disconnect block paths only.
type ServerMessage struct {
	BaseMessage
	Response     *Response       `json:"response,omitempty"`
	History      []types.Message `json:"history,omitempty"`
	Message      *types.Message  `json:"message,omitempty"`
	Notification *Notification   `json:"notification,omitempty"`
	SkipClient   *Client         `json:"-"`
	Terminate    bool            `json:"-"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
}

type Notification struct {
	Edited     *MessageEdited      `json:"message_edited,omitempty"`
	Deleted    *MessageDeleted     `json:"message_deleted,omitempty"`
	Pinned     *MessagePinned      `json:"message_pinned,omitempty"`
	Presence   []types.SessionInfo `json:"presence,omitempty"`
	UserJoined *UserJoined         `json:"user_joined,omitempty"`
	UserLeft   *UserLeft           `json:"user_left,omitempty"`
	Moderation *ModerationNotice   `json:"moderation,omitempty"`
	Typing     *TypingNotice       `json:"typing,omitempty"`
	Blocked    *Blocked            `json:"blocked,omitempty"`
	Summary    *SummaryNotice      `json:"summary,omitempty"`
}

type MessageEdited struct {
	MessageId    string    `json:"message_id"`
	NewText      string    `json:"new_text"`
	EditedAt     time.Time `json:"edited_at"`
	OriginalText string    `json:"original_text"`
}

type MessageDeleted struct {
	MessageId string `json:"message_id"`
}

type MessagePinned struct {
	MessageId string `json:"message_id"`
	IsPinned  bool   `json:"is_pinned"`
}

type UserJoined struct {
	Username string `json:"username"`
}

type UserLeft struct {
	Username   string    `json:"username"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// ModerationNotice announces a moderation state change to the room.
// Action is one of "muted", "unmuted", "blocked", "unblocked".
type ModerationNotice struct {
	Action   string `json:"action"`
	Username string `json:"username"`
}

type TypingNotice struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

type Blocked struct {
	Message string `json:"message"`
}

// SummaryNotice carries the out-of-band result of a summarization
// request. Status is "ready" or "failed"; the document id lets clients
// correlate the result with the request.
type SummaryNotice struct {
	DocumentId string `json:"document_id"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

func NoErrOK(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
		},
	}
}

func ErrForbidden(id int, reason string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusForbidden,
			Error:        reason,
		},
	}
}

func ErrNotFound(id int, reason string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        reason,
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
