package server

import (
	"context"
	"log"
	"sync"

	"github.com/tmazur/roomchat/internal/blob"
	"github.com/tmazur/roomchat/internal/database"
	"github.com/tmazur/roomchat/internal/stats"
	"github.com/tmazur/roomchat/internal/summarizer"
)

type ChatServer struct {
	log            *log.Logger
	db             database.RoomchatRepository
	registry       *SessionRegistry
	lifecycle      *MessageLifecycle
	stats          stats.StatsProvider
	blobs          blob.Store
	summarizer     summarizer.Summarizer
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	unloadRoomChan chan string
	rooms          map[string]*Room
	stop           chan struct{}
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.RoomchatRepository, st stats.StatsProvider,
	blobs blob.Store, sum summarizer.Summarizer) (*ChatServer, error) {
	return &ChatServer{
		log:            logger,
		db:             db,
		registry:       NewSessionRegistry(),
		lifecycle:      NewMessageLifecycle(db, logger),
		stats:          st,
		blobs:          blobs,
		summarizer:     sum,
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client, 64),
		deRegisterChan: make(chan *Client, 64),
		unloadRoomChan: make(chan string, 16),
		rooms:          make(map[string]*Room),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %q", client.username)
			cs.addClient(client)
			cs.stats.Incr(stats.ActiveConnections)
			cs.routeToRoom(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %q", client.username)
			cs.removeClient(client)
			cs.stats.Decr(stats.ActiveConnections)
		case id := <-cs.unloadRoomChan:
			if r, ok := cs.rooms[id]; ok {
				cs.log.Printf("unloading room %q", id)
				delete(cs.rooms, id)
				cs.stats.Decr(stats.ActiveRooms)

				done := make(chan string)
				r.exit <- exitReq{done: done}
				<-done
			}
		case <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				done := make(chan string)
				r.exit <- exitReq{done: done}
				<-done
			}

			close(cs.done)
			return
		}
	}
}

// routeToRoom attaches a freshly registered client to its room's event
// loop, loading the room if this is the first connection to touch it.
func (cs *ChatServer) routeToRoom(c *Client) {
	room, ok := cs.rooms[c.roomInfo.ExternalId]
	if !ok {
		room = &Room{
			externalId:    c.roomInfo.ExternalId,
			name:          c.roomInfo.Name,
			owner:         c.roomInfo.CreatedBy,
			cs:            cs,
			joinChan:      make(chan *Client, 64),
			leaveChan:     make(chan *Client, 256),
			clientMsgChan: make(chan *ClientMessage, 256),
			eventChan:     make(chan *ServerMessage, 16),
			clients:       make(map[*Client]struct{}),
			byUser:        make(map[string]*Client),
			log:           cs.log,
			exit:          make(chan exitReq),
		}

		cs.rooms[room.externalId] = room
		cs.stats.Incr(stats.ActiveRooms)
		go room.start()
	}

	select {
	case room.joinChan <- c:
	default:
		cs.log.Printf("joinChan full for room %q", room.externalId)
		c.queueMessage(ErrServiceUnavailable(0))
	}
}

// RegisterClient hands a new connection to the hub. The caller starts
// the client's pumps after registering.
func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

// PublishToAll delivers an event to every connection regardless of
// room. Cross-room events sit outside the per-room ordering guarantee.
func (cs *ChatServer) PublishToAll(msg *ServerMessage) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for c := range cs.clients {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
