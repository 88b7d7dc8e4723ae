package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRoomchatRepository struct {
	mock.Mock
}

func (m *MockRoomchatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRoomchatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomchatRepository) ListRooms() ([]Room, error) {
	args := m.Called()
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockRoomchatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomchatRepository) CreateMessage(msg Message) (string, error) {
	args := m.Called(msg)
	return args.String(0), args.Error(1)
}
func (m *MockRoomchatRepository) UpdateMessage(params UpdateMessageParams) error {
	args := m.Called(params)
	return args.Error(0)
}
func (m *MockRoomchatRepository) DeleteMessage(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRoomchatRepository) SetMessagePinned(id string, pinned bool) error {
	args := m.Called(id, pinned)
	return args.Error(0)
}
func (m *MockRoomchatRepository) GetRoomMessages(roomId string, limit int) ([]Message, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRoomchatRepository) CreateDocument(doc Document) (string, error) {
	args := m.Called(doc)
	return args.String(0), args.Error(1)
}
func (m *MockRoomchatRepository) GetDocument(id string) (Document, error) {
	args := m.Called(id)
	return args.Get(0).(Document), args.Error(1)
}
