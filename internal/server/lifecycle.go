package server

import (
	"log"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/tmazur/roomchat/internal/database"
	"github.com/tmazur/roomchat/internal/types"
)

// historyWindow bounds the per-room live cache and the history window
// hydrated from the store.
const historyWindow = 200

type cacheEntry struct {
	msg types.Message
	// provisionalId is the pre-persistence id after reconciliation.
	// Clients that received it in a broadcast keep addressing the
	// message by it, so lookups match it alongside the canonical id.
	provisionalId string
	// persisted is true once the store has acknowledged the message and
	// the cache id is the canonical store id.
	persisted bool
}

type roomCache struct {
	hydrated bool
	entries  []cacheEntry
}

// MessageLifecycle coordinates message create/edit/delete/pin across the
// in-memory live cache and the message store. The cache is the primary
// source for reads and is updated synchronously; persistence is
// asynchronous and best-effort. A store failure leaves the system in
// degraded-durability mode but is never surfaced to end users.
type MessageLifecycle struct {
	db  database.RoomchatRepository
	log *log.Logger

	mu    sync.Mutex
	cache map[string]*roomCache
}

func NewMessageLifecycle(db database.RoomchatRepository, logger *log.Logger) *MessageLifecycle {
	return &MessageLifecycle{
		db:    db,
		log:   logger,
		cache: make(map[string]*roomCache),
	}
}

func (l *MessageLifecycle) room(roomId string) *roomCache {
	rc, ok := l.cache[roomId]
	if !ok {
		rc = &roomCache{}
		l.cache[roomId] = rc
	}
	return rc
}

func (l *MessageLifecycle) find(rc *roomCache, messageId string) int {
	for i := range rc.entries {
		e := &rc.entries[i]
		if e.msg.Id == messageId || (e.provisionalId != "" && e.provisionalId == messageId) {
			return i
		}
	}
	return -1
}

// newMessageId returns a provisional, process-unique, sortable id used
// until the store assigns a canonical one.
func newMessageId() string {
	return ulid.Make().String()
}

// Post appends a message to the room's live cache and schedules
// best-effort persistence. The in-memory post is never rolled back on
// persistence failure.
func (l *MessageLifecycle) Post(actor *Session, content string) (types.Message, *PolicyError) {
	if perr := CanModerate(actor, ActionSend, ModerationTarget{}); perr != nil {
		return types.Message{}, perr
	}

	msg := types.Message{
		Id:          newMessageId(),
		RoomId:      actor.RoomId,
		Author:      actor.Username,
		Text:        content,
		AuthorColor: actor.Color,
		CreatedAt:   Now(),
	}

	l.mu.Lock()
	rc := l.room(actor.RoomId)
	rc.entries = append(rc.entries, cacheEntry{msg: msg})
	if len(rc.entries) > historyWindow {
		rc.entries = rc.entries[len(rc.entries)-historyWindow:]
	}
	l.mu.Unlock()

	go l.persist(msg)

	return msg, nil
}

// persist writes msg to the store and reconciles the cache entry to the
// canonical id. The completion path re-validates that the entry still
// exists: the message may have been edited, pinned or deleted while the
// write was in flight.
func (l *MessageLifecycle) persist(msg types.Message) {
	canonical, err := l.db.CreateMessage(database.Message{
		RoomId:      msg.RoomId,
		Author:      msg.Author,
		Text:        msg.Text,
		AuthorColor: msg.AuthorColor,
		CreatedAt:   msg.CreatedAt,
	})
	if err != nil {
		l.log.Printf("persist message %s: %v (continuing on live cache)", msg.Id, err)
		return
	}

	l.mu.Lock()
	rc := l.room(msg.RoomId)
	i := l.find(rc, msg.Id)
	if i < 0 {
		// deleted while the write was in flight; converge the store
		l.mu.Unlock()
		if err := l.db.DeleteMessage(canonical); err != nil {
			l.log.Printf("delete reconciled message %s: %v", canonical, err)
		}
		return
	}

	entry := &rc.entries[i]
	entry.provisionalId = entry.msg.Id
	entry.msg.Id = canonical
	entry.persisted = true

	// push state changes that raced the initial write
	var (
		edit *database.UpdateMessageParams
		pin  bool
	)
	if entry.msg.EditedAt != nil {
		edit = &database.UpdateMessageParams{
			Id:           canonical,
			Text:         entry.msg.Text,
			OriginalText: entry.msg.OriginalText,
			EditedAt:     *entry.msg.EditedAt,
		}
	}
	pin = entry.msg.IsPinned
	l.mu.Unlock()

	if edit != nil {
		if err := l.db.UpdateMessage(*edit); err != nil {
			l.log.Printf("update reconciled message %s: %v", canonical, err)
		}
	}
	if pin {
		if err := l.db.SetMessagePinned(canonical, true); err != nil {
			l.log.Printf("pin reconciled message %s: %v", canonical, err)
		}
	}
}

// Edit updates a message's text. originalText tracks only the
// immediately-previous version: it is overwritten on every edit.
func (l *MessageLifecycle) Edit(actor *Session, messageId, newText string) (types.Message, *PolicyError) {
	l.mu.Lock()

	rc := l.room(actor.RoomId)
	i := l.find(rc, messageId)
	if i < 0 {
		l.mu.Unlock()
		return types.Message{}, denied("message not found in this room")
	}

	entry := &rc.entries[i]
	if perr := CanModerate(actor, ActionEdit, ModerationTarget{MessageAuthor: entry.msg.Author}); perr != nil {
		l.mu.Unlock()
		return types.Message{}, perr
	}

	now := Now()
	entry.msg.OriginalText = entry.msg.Text
	entry.msg.Text = newText
	entry.msg.EditedAt = &now

	msg := entry.msg
	persisted := entry.persisted
	l.mu.Unlock()

	if persisted {
		go func() {
			if err := l.db.UpdateMessage(database.UpdateMessageParams{
				Id:           msg.Id,
				Text:         msg.Text,
				OriginalText: msg.OriginalText,
				EditedAt:     now,
			}); err != nil {
				l.log.Printf("persist edit of message %s: %v", msg.Id, err)
			}
		}()
	}

	return msg, nil
}

// Delete removes a message from the live cache and issues a best-effort
// store delete. Success is reported from the in-memory removal;
// persistence failure is logged, not surfaced.
func (l *MessageLifecycle) Delete(actor *Session, messageId string) *PolicyError {
	l.mu.Lock()

	rc := l.room(actor.RoomId)
	i := l.find(rc, messageId)
	if i < 0 {
		l.mu.Unlock()
		return denied("message not found in this room")
	}

	entry := rc.entries[i]
	if perr := CanModerate(actor, ActionDelete, ModerationTarget{MessageAuthor: entry.msg.Author}); perr != nil {
		l.mu.Unlock()
		return perr
	}

	rc.entries = append(rc.entries[:i], rc.entries[i+1:]...)
	l.mu.Unlock()

	if entry.persisted {
		canonical := entry.msg.Id
		go func() {
			if err := l.db.DeleteMessage(canonical); err != nil {
				l.log.Printf("persist delete of message %s: %v", canonical, err)
			}
		}()
	}

	return nil
}

// TogglePin flips a message's pinned flag. Two consecutive toggles
// restore the original value.
func (l *MessageLifecycle) TogglePin(actor *Session, messageId string) (types.Message, *PolicyError) {
	l.mu.Lock()

	rc := l.room(actor.RoomId)
	i := l.find(rc, messageId)
	if i < 0 {
		l.mu.Unlock()
		return types.Message{}, denied("message not found in this room")
	}

	if perr := CanModerate(actor, ActionPin, ModerationTarget{}); perr != nil {
		l.mu.Unlock()
		return types.Message{}, perr
	}

	entry := &rc.entries[i]
	entry.msg.IsPinned = !entry.msg.IsPinned

	msg := entry.msg
	persisted := entry.persisted
	l.mu.Unlock()

	if persisted {
		go func() {
			if err := l.db.SetMessagePinned(msg.Id, msg.IsPinned); err != nil {
				l.log.Printf("persist pin of message %s: %v", msg.Id, err)
			}
		}()
	}

	return msg, nil
}

// LoadHistory returns the room's message history. The first touch of a
// room per process attempts to hydrate the cache from the store; on
// store failure the current cache state is returned instead, never an
// error.
func (l *MessageLifecycle) LoadHistory(roomId string) []types.Message {
	l.mu.Lock()
	rc := l.room(roomId)
	hydrate := !rc.hydrated
	rc.hydrated = true
	l.mu.Unlock()

	if hydrate {
		dbMsgs, err := l.db.GetRoomMessages(roomId, historyWindow)
		if err != nil {
			l.log.Printf("hydrate room %q: %v (serving live cache)", roomId, err)
		} else {
			l.mu.Lock()
			// only adopt the store window if nothing was posted while
			// the fetch was in flight
			if len(rc.entries) == 0 {
				for _, m := range dbMsgs {
					msg := types.Message{
						Id:          m.Id,
						RoomId:      m.RoomId,
						Author:      m.Author,
						Text:        m.Text,
						AuthorColor: m.AuthorColor,
						IsPinned:    m.IsPinned,
						CreatedAt:   m.CreatedAt,
					}
					if m.EditedAt.Valid {
						t := m.EditedAt.Time
						msg.EditedAt = &t
						msg.OriginalText = m.OriginalText.String
					}
					rc.entries = append(rc.entries, cacheEntry{msg: msg, persisted: true})
				}
			}
			l.mu.Unlock()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	history := make([]types.Message, len(rc.entries))
	for i, entry := range rc.entries {
		history[i] = entry.msg
	}
	return history
}
