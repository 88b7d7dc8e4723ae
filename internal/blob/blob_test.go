package blob

import (
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tmazur/roomchat/internal/database"
)

func TestRepositoryStore_Save(t *testing.T) {
	db := &database.MockRoomchatRepository{}
	db.On("CreateDocument", mock.MatchedBy(func(doc database.Document) bool {
		return doc.Id != "" &&
			doc.Filename == "notes.pdf" &&
			doc.ContentType == "application/pdf" &&
			doc.UploadedBy == "alice" &&
			doc.Size == int64(len("pdf bytes"))
	})).Return("doc-1", nil).Once()
	defer db.AssertExpectations(t)

	store := NewRepositoryStore(db)

	doc, err := store.Save("notes.pdf", "application/pdf", "alice", []byte("pdf bytes"))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.Id, "expected store-assigned id")
	assert.Equal(t, "notes.pdf", doc.Filename)
	assert.Equal(t, int64(9), doc.Size)
}

func TestRepositoryStore_Open(t *testing.T) {
	t.Run("returns metadata and seekable content", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("GetDocument", "doc-1").Return(database.Document{
			Id:          "doc-1",
			Filename:    "clip.mp4",
			ContentType: "video/mp4",
			Data:        []byte("mp4 bytes"),
			Size:        9,
			UploadedBy:  "alice",
			UploadedAt:  time.Now().UTC(),
		}, nil).Once()
		defer db.AssertExpectations(t)

		store := NewRepositoryStore(db)

		doc, reader, err := store.Open("doc-1")
		require.NoError(t, err)
		assert.Equal(t, "video/mp4", doc.ContentType)

		// byte-range streaming needs a working seeker
		_, err = reader.Seek(4, io.SeekStart)
		require.NoError(t, err)
		rest, err := io.ReadAll(reader)
		require.NoError(t, err)
		assert.Equal(t, "bytes", string(rest))
	})

	t.Run("missing document", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("GetDocument", "nope").Return(database.Document{}, sql.ErrNoRows).Once()
		defer db.AssertExpectations(t)

		store := NewRepositoryStore(db)

		_, _, err := store.Open("nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
