package server

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/tmazur/roomchat/internal/stats"
)

const idleRoomTimeout = 30 * time.Second

type exitReq struct {
	done chan string
}

// Room runs the per-room event loop. All mutations of the room's
// membership, session flags and live cache are processed one event at a
// time on this loop, which is what gives the FIFO-per-room ordering
// guarantee without locks on the maps the loop owns.
type Room struct {
	externalId    string
	name          string
	owner         string
	cs            *ChatServer
	joinChan      chan *Client
	leaveChan     chan *Client
	clientMsgChan chan *ClientMessage
	// eventChan routes out-of-band results (summaries) back onto the
	// loop so they are broadcast with the same ordering as everything
	// else.
	eventChan chan *ServerMessage
	// clients and byUser are owned by the room loop; no lock required.
	clients map[*Client]struct{}
	byUser  map[string]*Client
	log     *log.Logger
	// killTimer unloads the room once it has been empty for a while.
	killTimer *time.Timer
	exit      chan exitReq
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.externalId)
	r.killTimer = time.NewTimer(idleRoomTimeout)

	for {
		select {
		case c := <-r.joinChan:
			r.handleJoin(c)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		case msg := <-r.eventChan:
			r.broadcast(msg)
		case <-r.killTimer.C:
			r.handleRoomTimeout()
		case e := <-r.exit:
			r.handleRoomExit(e)
			return
		}
	}
}

func (r *Room) handleRoomTimeout() {
	r.log.Printf("room %q timed out", r.externalId)
	select {
	case r.cs.unloadRoomChan <- r.externalId:
	default:
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) handleRoomExit(e exitReq) {
	r.log.Printf("room %q is exiting", r.externalId)

	for c := range r.clients {
		r.cs.registry.Release(c.connId)
		c.clearRoom()
	}

	if e.done != nil {
		e.done <- r.externalId
	}
}

func (r *Room) handleJoin(c *Client) {
	r.killTimer.Stop()

	_, err := r.cs.registry.Admit(c.connId, c.username, r.externalId, r.owner)
	if err != nil {
		if errors.Is(err, ErrBlocked) {
			r.log.Printf("rejecting blocked user %q from room %q", c.username, r.externalId)
			c.queueMessage(&ServerMessage{
				BaseMessage: BaseMessage{Timestamp: Now()},
				Notification: &Notification{
					Blocked: &Blocked{Message: "you are blocked from this room"},
				},
				Terminate: true,
			})
		}
		if len(r.clients) == 0 {
			r.killTimer.Reset(idleRoomTimeout)
		}
		return
	}

	// a reconnect under the same username supersedes the old connection
	if old, ok := r.byUser[c.username]; ok && old != c {
		r.removeClient(old)
		old.stopClient()
	}

	r.addClient(c)

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		History:     r.cs.lifecycle.LoadHistory(r.externalId),
	})

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			UserJoined: &UserJoined{Username: c.username},
		},
		SkipClient: c,
	})
	r.broadcastRoster()
}

func (r *Room) handleLeave(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	r.removeClient(c)
	r.cs.registry.Release(c.connId)

	lastSeen := Now()
	if sess := r.cs.registry.GetByUser(c.username, r.externalId); sess != nil {
		lastSeen = sess.LastSeenAt
	}

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			UserLeft: &UserLeft{Username: c.username, LastSeenAt: lastSeen},
		},
	})
	r.broadcastRoster()
}

func (r *Room) handleClientMessage(msg *ClientMessage) {
	actor := r.cs.registry.Get(msg.client.connId)
	if actor == nil {
		// disconnect race; drop silently
		return
	}

	switch {
	case msg.Publish != nil:
		r.handlePublish(msg, actor)
	case msg.Edit != nil:
		r.handleEdit(msg, actor)
	case msg.Delete != nil:
		r.handleDelete(msg, actor)
	case msg.Pin != nil:
		r.handlePin(msg, actor)
	case msg.Mute != nil:
		r.handleModerateUser(msg, actor, ActionMute, msg.Mute.Username)
	case msg.Unmute != nil:
		r.handleModerateUser(msg, actor, ActionUnmute, msg.Unmute.Username)
	case msg.Block != nil:
		r.handleModerateUser(msg, actor, ActionBlock, msg.Block.Username)
	case msg.Unblock != nil:
		r.handleModerateUser(msg, actor, ActionUnblock, msg.Unblock.Username)
	case msg.Typing != nil:
		r.broadcastTyping(actor.Username, true, msg.client)
	case msg.StopTyping != nil:
		r.broadcastTyping(actor.Username, false, msg.client)
	case msg.Summarize != nil:
		r.cs.stats.Incr(stats.SummaryRequests)
		// results arrive out-of-band as a summary notification
		msg.client.queueMessage(NoErrOK(msg.Id))
		go r.runSummary(msg.Summarize.DocumentId)
	default:
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

func (r *Room) handlePublish(msg *ClientMessage, actor *Session) {
	posted, perr := r.cs.lifecycle.Post(actor, msg.Publish.Content)
	if perr != nil {
		msg.client.queueMessage(ErrForbidden(msg.Id, perr.Reason))
		return
	}

	r.cs.stats.Incr(stats.MessagesPosted)
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: posted.CreatedAt},
		Message:     &posted,
	})
}

func (r *Room) handleEdit(msg *ClientMessage, actor *Session) {
	edited, perr := r.cs.lifecycle.Edit(actor, msg.Edit.MessageId, msg.Edit.NewText)
	if perr != nil {
		msg.client.queueMessage(ErrForbidden(msg.Id, perr.Reason))
		return
	}

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Edited: &MessageEdited{
				MessageId:    edited.Id,
				NewText:      edited.Text,
				EditedAt:     *edited.EditedAt,
				OriginalText: edited.OriginalText,
			},
		},
	})
}

func (r *Room) handleDelete(msg *ClientMessage, actor *Session) {
	if perr := r.cs.lifecycle.Delete(actor, msg.Delete.MessageId); perr != nil {
		msg.client.queueMessage(ErrForbidden(msg.Id, perr.Reason))
		return
	}

	r.cs.stats.Incr(stats.MessagesDeleted)
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Deleted: &MessageDeleted{MessageId: msg.Delete.MessageId},
		},
	})
}

func (r *Room) handlePin(msg *ClientMessage, actor *Session) {
	pinned, perr := r.cs.lifecycle.TogglePin(actor, msg.Pin.MessageId)
	if perr != nil {
		msg.client.queueMessage(ErrForbidden(msg.Id, perr.Reason))
		return
	}

	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Pinned: &MessagePinned{MessageId: pinned.Id, IsPinned: pinned.IsPinned},
		},
	})
}

var moderationNames = map[Action]string{
	ActionMute:    "muted",
	ActionUnmute:  "unmuted",
	ActionBlock:   "blocked",
	ActionUnblock: "unblocked",
}

func (r *Room) handleModerateUser(msg *ClientMessage, actor *Session, action Action, target string) {
	targetSess := r.cs.registry.GetByUser(target, r.externalId)

	perr := CanModerate(actor, action, ModerationTarget{
		Username:      target,
		SessionExists: targetSess != nil,
	})
	if perr != nil {
		msg.client.queueMessage(ErrForbidden(msg.Id, perr.Reason))
		return
	}

	switch action {
	case ActionMute:
		r.cs.registry.SetModeration(target, r.externalId, FieldMuted, true)
	case ActionUnmute:
		r.cs.registry.SetModeration(target, r.externalId, FieldMuted, false)
	case ActionBlock:
		r.cs.registry.SetModeration(target, r.externalId, FieldBlocked, true)
		r.disconnectBlocked(target)
	case ActionUnblock:
		r.cs.registry.SetModeration(target, r.externalId, FieldBlocked, false)
	}

	r.cs.stats.Incr(stats.ModerationActions)
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Moderation: &ModerationNotice{Action: moderationNames[action], Username: target},
		},
	})
	r.broadcastRoster()
}

// disconnectBlocked sends the blocked notice to the target's live
// connection, if any, and forces it closed.
func (r *Room) disconnectBlocked(username string) {
	tc, ok := r.byUser[username]
	if !ok {
		return
	}

	if !tc.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Blocked: &Blocked{Message: "you have been blocked by a moderator"},
		},
		Terminate: true,
	}) {
		// send buffer full; the notice is lost but the disconnect is not
		tc.stopClient()
	}

	r.removeClient(tc)
	r.cs.registry.Release(tc.connId)
}

func (r *Room) broadcastTyping(username string, active bool, skip *Client) {
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Typing: &TypingNotice{Username: username, Active: active},
		},
		SkipClient: skip,
	})
}

// runSummary fetches the document, asks the summarizer collaborator for
// a summary and routes the result back onto the room loop. It runs
// out-of-band: a slow or failing upstream never blocks message flow.
func (r *Room) runSummary(documentId string) {
	notice := &SummaryNotice{DocumentId: documentId}

	doc, reader, err := r.cs.blobs.Open(documentId)
	if err != nil {
		r.log.Printf("open document %q: %v", documentId, err)
		notice.Status = "failed"
		notice.Error = "document not found"
		r.deliver(notice)
		return
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		r.log.Printf("read document %q: %v", documentId, err)
		notice.Status = "failed"
		notice.Error = "document unreadable"
		r.deliver(notice)
		return
	}

	summary, err := r.cs.summarizer.Summarize(context.Background(), doc.Id, content)
	if err != nil {
		r.log.Printf("summarize document %q: %v", documentId, err)
		notice.Status = "failed"
		notice.Error = "summarization failed"
		r.deliver(notice)
		return
	}

	notice.Status = "ready"
	notice.Summary = summary
	r.deliver(notice)
}

func (r *Room) deliver(notice *SummaryNotice) {
	msg := &ServerMessage{
		Notification: &Notification{Summary: notice},
	}

	select {
	case r.eventChan <- msg:
	case <-time.After(5 * time.Second):
		r.log.Printf("dropping summary result for %q, room %q not consuming", notice.DocumentId, r.externalId)
	}
}

func (r *Room) broadcastRoster() {
	r.broadcast(&ServerMessage{
		Notification: &Notification{
			Presence: r.cs.registry.Roster(r.externalId),
		},
	})
}

func (r *Room) addClient(c *Client) {
	r.clients[c] = struct{}{}
	r.byUser[c.username] = c
	c.setRoom(r)
}

func (r *Room) removeClient(c *Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}

	delete(r.clients, c)
	if r.byUser[c.username] == c {
		delete(r.byUser, c.username)
	}
	c.clearRoom()

	if len(r.clients) == 0 {
		r.log.Printf("no clients in %q, starting kill timer", r.externalId)
		r.killTimer.Reset(idleRoomTimeout)
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = Now()
	}

	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
