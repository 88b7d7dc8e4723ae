package blob

import (
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/tmazur/roomchat/internal/types"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(filename, contentType, uploadedBy string, data []byte) (types.Document, error) {
	args := m.Called(filename, contentType, uploadedBy, data)
	return args.Get(0).(types.Document), args.Error(1)
}

func (m *MockStore) Open(id string) (types.Document, io.ReadSeeker, error) {
	args := m.Called(id)

	var reader io.ReadSeeker
	if args.Get(1) != nil {
		reader = args.Get(1).(io.ReadSeeker)
	}
	return args.Get(0).(types.Document), reader, args.Error(2)
}
