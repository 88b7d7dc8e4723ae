package database

type RoomchatRepository interface {
	Ping() error
	CreateRoom(params CreateRoomParams) (Room, error)
	ListRooms() ([]Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	CreateMessage(msg Message) (string, error)
	UpdateMessage(params UpdateMessageParams) error
	DeleteMessage(id string) error
	SetMessagePinned(id string, pinned bool) error
	GetRoomMessages(roomId string, limit int) ([]Message, error)
	CreateDocument(doc Document) (string, error)
	GetDocument(id string) (Document, error)
}
