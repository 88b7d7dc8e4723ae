package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

func (db *PgRoomchatRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (name, external_id, created_by, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, name, external_id, created_by, created_at",
		params.Name,
		params.ExternalId,
		params.CreatedBy,
		time.Now().UTC(),
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.Name,
		&room.ExternalId,
		&room.CreatedBy,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgRoomchatRepository) ListRooms() ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, name, created_by, created_at FROM rooms ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms = make([]Room, 0)
	for rows.Next() {
		var room Room
		if err = rows.Scan(&room.Id, &room.ExternalId, &room.Name, &room.CreatedBy, &room.CreatedAt); err != nil {
			break
		}

		rooms = append(rooms, room)
	}
	return rooms, err
}

func (db *PgRoomchatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, created_by, created_at FROM rooms "+
			"WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.CreatedBy,
		&room.CreatedAt,
	)

	return room, err
}

// CreateMessage persists a message and returns the canonical id assigned
// by the store. The caller's provisional id is not stored.
func (db *PgRoomchatRepository) CreateMessage(msg Message) (string, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (room_id, author, text, author_color, is_pinned, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		msg.RoomId,
		msg.Author,
		msg.Text,
		msg.AuthorColor,
		msg.IsPinned,
		msg.CreatedAt,
	)

	var id int64
	if err := res.Scan(&id); err != nil {
		return "", err
	}

	return strconv.FormatInt(id, 10), nil
}

func (db *PgRoomchatRepository) UpdateMessage(params UpdateMessageParams) error {
	id, err := strconv.ParseInt(params.Id, 10, 64)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", params.Id, err)
	}

	res, err := db.conn.Exec(
		"UPDATE messages SET text = $2, original_text = $3, edited_at = $4 WHERE id = $1",
		id,
		params.Text,
		params.OriginalText,
		params.EditedAt,
	)
	if err != nil {
		return err
	}

	return affectedOne(res)
}

func (db *PgRoomchatRepository) DeleteMessage(idStr string) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", idStr, err)
	}

	_, err = db.conn.Exec("DELETE FROM messages WHERE id = $1", id)

	return err
}

func (db *PgRoomchatRepository) SetMessagePinned(idStr string, pinned bool) error {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("parse message id %q: %w", idStr, err)
	}

	res, err := db.conn.Exec("UPDATE messages SET is_pinned = $2 WHERE id = $1", id, pinned)
	if err != nil {
		return err
	}

	return affectedOne(res)
}

func (db *PgRoomchatRepository) GetRoomMessages(roomId string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}

	// newest window, returned in ascending time order
	rows, err := db.conn.Query(
		"SELECT id, room_id, author, text, author_color, is_pinned, edited_at, original_text, created_at "+
			"FROM (SELECT * FROM messages WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2) w "+
			"ORDER BY created_at ASC, id ASC",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0, limit)
	for rows.Next() {
		var (
			id  int64
			msg Message
		)
		if err = rows.Scan(&id, &msg.RoomId, &msg.Author, &msg.Text, &msg.AuthorColor,
			&msg.IsPinned, &msg.EditedAt, &msg.OriginalText, &msg.CreatedAt); err != nil {
			break
		}

		msg.Id = strconv.FormatInt(id, 10)
		messages = append(messages, msg)
	}
	return messages, err
}

func (db *PgRoomchatRepository) CreateDocument(doc Document) (string, error) {
	res := db.conn.QueryRow(
		"INSERT INTO documents (id, filename, content_type, data, size, uploaded_by, uploaded_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id",
		doc.Id,
		doc.Filename,
		doc.ContentType,
		doc.Data,
		doc.Size,
		doc.UploadedBy,
		doc.UploadedAt,
	)

	var id string
	err := res.Scan(&id)

	return id, err
}

func (db *PgRoomchatRepository) GetDocument(id string) (Document, error) {
	row := db.conn.QueryRow(
		"SELECT id, filename, content_type, data, size, uploaded_by, uploaded_at FROM documents "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var doc Document
	err := row.Scan(
		&doc.Id,
		&doc.Filename,
		&doc.ContentType,
		&doc.Data,
		&doc.Size,
		&doc.UploadedBy,
		&doc.UploadedAt,
	)

	return doc, err
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
