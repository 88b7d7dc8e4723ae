package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/tmazur/roomchat/internal/blob"
	"github.com/tmazur/roomchat/internal/database"
	"github.com/tmazur/roomchat/internal/server"
	"github.com/tmazur/roomchat/internal/types"
)

const maxUploadBytes = 50 << 20

type CreateSessionRequest struct {
	Username string `json:"username"`
}

type SessionResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

type CreateRoomRequest struct {
	Name string `json:"name"`
}

type SummarizeResponse struct {
	DocumentId string `json:"document_id"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
}

func (s *RoomchatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RoomchatApp) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createSessionToken(req.Username, defaultTokenExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createTokenCookie(token, defaultTokenExpiration))

	s.writeJson(w, http.StatusCreated, SessionResponse{
		Username: req.Username,
		Token:    token,
	})
}

func (s *RoomchatApp) listRooms(w http.ResponseWriter, _ *http.Request) {
	dbRooms, err := s.db.ListRooms()
	if err != nil {
		s.log.Println("list rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rooms := make([]types.Room, 0, len(dbRooms))
	for _, room := range dbRooms {
		rooms = append(rooms, types.Room{
			Id:         room.Id,
			ExternalId: room.ExternalId,
			Name:       room.Name,
			CreatedBy:  room.CreatedBy,
			CreatedAt:  room.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *RoomchatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var createRoomReq CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&createRoomReq); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	createRoomReq.Name = strings.TrimSpace(createRoomReq.Name)
	if createRoomReq.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newRoom, err := s.db.CreateRoom(database.CreateRoomParams{
		Name:       createRoomReq.Name,
		CreatedBy:  username,
		ExternalId: sid,
	})
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Room{
		Id:         newRoom.Id,
		ExternalId: newRoom.ExternalId,
		Name:       newRoom.Name,
		CreatedBy:  newRoom.CreatedBy,
		CreatedAt:  newRoom.CreatedAt,
	})
}

func (s *RoomchatApp) getRoom(w http.ResponseWriter, r *http.Request) {
	externalId := r.PathValue("id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.Room{
		Id:         room.Id,
		ExternalId: room.ExternalId,
		Name:       room.Name,
		CreatedBy:  room.CreatedBy,
		CreatedAt:  room.CreatedAt,
	})
}

func allowedContentType(contentType string) bool {
	return contentType == "application/pdf" || strings.HasPrefix(contentType, "video/")
}

func (s *RoomchatApp) uploadDocument(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !allowedContentType(contentType) {
		errResp := NewUnsupportedMediaTypeError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	doc, err := s.blobs.Save(header.Filename, contentType, username, data)
	if err != nil {
		s.log.Println("save document:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, doc)
}

func (s *RoomchatApp) getDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	doc, reader, err := s.blobs.Open(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, blob.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.Header().Set("Content-Type", doc.ContentType)
	// ServeContent handles byte-range requests for video scrubbing
	http.ServeContent(w, r, doc.Filename, doc.UploadedAt, reader)
}

func (s *RoomchatApp) summarizeDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	doc, reader, err := s.blobs.Open(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, blob.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if doc.ContentType != "application/pdf" {
		errResp := NewUnsupportedMediaTypeError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summary, err := s.summarizer.Summarize(r.Context(), doc.Id, content)
	if err != nil {
		s.log.Println("summarize document:", err)
		s.writeJson(w, http.StatusBadGateway, SummarizeResponse{
			DocumentId: doc.Id,
			Status:     "failed",
		})
		return
	}

	s.writeJson(w, http.StatusOK, SummarizeResponse{
		DocumentId: doc.Id,
		Status:     "ready",
		Summary:    summary,
	})
}

func (s *RoomchatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(username, types.Room{
		Id:         room.Id,
		ExternalId: room.ExternalId,
		Name:       room.Name,
		CreatedBy:  room.CreatedBy,
		CreatedAt:  room.CreatedAt,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}
