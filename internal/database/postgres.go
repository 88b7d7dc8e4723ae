package database

import (
	"database/sql"
)

type PgRoomchatRepository struct {
	conn *sql.DB
}

func NewPgRoomchatRepository(dsn string) (*PgRoomchatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgRoomchatRepository{conn: db}, nil
}

func (db *PgRoomchatRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgRoomchatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
