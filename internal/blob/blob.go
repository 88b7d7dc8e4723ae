// Package blob provides the byte storage collaborator used for uploaded
// PDFs and videos. The chat core only needs save, metadata lookup and
// seekable reads for byte-range streaming.
package blob

import (
	"bytes"
	"database/sql"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tmazur/roomchat/internal/database"
	"github.com/tmazur/roomchat/internal/types"
)

var ErrNotFound = errors.New("document not found")

type Store interface {
	Save(filename, contentType, uploadedBy string, data []byte) (types.Document, error)
	Open(id string) (types.Document, io.ReadSeeker, error)
}

// RepositoryStore keeps document bytes in the relational store alongside
// rooms and messages.
type RepositoryStore struct {
	db database.RoomchatRepository
}

func NewRepositoryStore(db database.RoomchatRepository) *RepositoryStore {
	return &RepositoryStore{db: db}
}

func (s *RepositoryStore) Save(filename, contentType, uploadedBy string, data []byte) (types.Document, error) {
	doc := database.Document{
		Id:          uuid.NewString(),
		Filename:    filename,
		ContentType: contentType,
		Data:        data,
		Size:        int64(len(data)),
		UploadedBy:  uploadedBy,
		UploadedAt:  time.Now().UTC(),
	}

	id, err := s.db.CreateDocument(doc)
	if err != nil {
		return types.Document{}, err
	}

	return types.Document{
		Id:          id,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		Size:        doc.Size,
		UploadedBy:  doc.UploadedBy,
		UploadedAt:  doc.UploadedAt,
	}, nil
}

func (s *RepositoryStore) Open(id string) (types.Document, io.ReadSeeker, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Document{}, nil, ErrNotFound
		}
		return types.Document{}, nil, err
	}

	meta := types.Document{
		Id:          doc.Id,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
		Size:        doc.Size,
		UploadedBy:  doc.UploadedBy,
		UploadedAt:  doc.UploadedAt,
	}

	return meta, bytes.NewReader(doc.Data), nil
}
