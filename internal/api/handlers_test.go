package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tmazur/roomchat/internal/blob"
	"github.com/tmazur/roomchat/internal/config"
	"github.com/tmazur/roomchat/internal/database"
	"github.com/tmazur/roomchat/internal/server"
	"github.com/tmazur/roomchat/internal/stats"
	"github.com/tmazur/roomchat/internal/summarizer"
	"github.com/tmazur/roomchat/internal/testutil"
	"github.com/tmazur/roomchat/internal/types"
)

func newTestApp(t *testing.T, db database.RoomchatRepository, blobs blob.Store, sum summarizer.Summarizer) (*RoomchatApp, *http.ServeMux) {
	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, &stats.MockStatsUpdater{}, blobs, sum)
	require.NoError(t, err, "failed to create test ChatServer")

	mux := http.NewServeMux()
	app := NewRoomchatApp(mux, logger, cs, db, blobs, sum, &config.Config{
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:3000"},
	})
	return app, mux
}

// findCookie returns the named cookie from the recorded response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func authedRequest(req *http.Request) *http.Request {
	return req.WithContext(WithUsername(req.Context(), "alice"))
}

func Test_healthz(t *testing.T) {
	tcases := []struct {
		name       string
		mockErr    error
		wantStatus string
	}{
		{
			name:       "healthy",
			mockErr:    nil,
			wantStatus: "ok",
		},
		{
			name:       "store unreachable is degraded, not down",
			mockErr:    errors.New("connection refused"),
			wantStatus: "degraded",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRoomchatRepository{}
			db.On("Ping").Return(tc.mockErr).Once()
			defer db.AssertExpectations(t)

			app, _ := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})

			rr := httptest.NewRecorder()
			app.healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, http.StatusOK, rr.Code, "liveness must not depend on the store")

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tc.wantStatus, body["status"])
		})
	}
}

func Test_createSession(t *testing.T) {
	t.Run("issues token and cookie", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})

		body := strings.NewReader(`{"username": "alice"}`)
		rr := httptest.NewRecorder()
		app.createSession(rr, httptest.NewRequest(http.MethodPost, "/api/session", body))

		require.Equal(t, http.StatusCreated, rr.Code)

		var resp SessionResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.Username)
		require.NotEmpty(t, resp.Token)

		username, err := app.extractUsernameFromToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "alice", username, "expected token to carry the session username")

		cookie := findCookie(rr, tokenCookieKey)
		require.NotNil(t, cookie, "expected session cookie to be set")
		assert.Equal(t, resp.Token, cookie.Value)
	})

	t.Run("rejects blank username", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})

		body := strings.NewReader(`{"username": "   "}`)
		rr := httptest.NewRecorder()
		app.createSession(rr, httptest.NewRequest(http.MethodPost, "/api/session", body))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})

		rr := httptest.NewRecorder()
		app.createSession(rr, httptest.NewRequest(http.MethodPost, "/api/session", strings.NewReader("{")))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_listRooms(t *testing.T) {
	t.Run("returns rooms", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("ListRooms").Return([]database.Room{
			{Id: 1, ExternalId: "study-1", Name: "Study Hall", CreatedBy: "mod"},
			{Id: 2, ExternalId: "lounge-9", Name: "Lounge", CreatedBy: "alice"},
		}, nil).Once()
		defer db.AssertExpectations(t)

		app, _ := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})

		rr := httptest.NewRecorder()
		app.listRooms(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

		require.Equal(t, http.StatusOK, rr.Code)

		var rooms []types.Room
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rooms))
		require.Len(t, rooms, 2)
		assert.Equal(t, "study-1", rooms[0].ExternalId)
		assert.Equal(t, "Lounge", rooms[1].Name)
	})

	t.Run("store error", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("ListRooms").Return([]database.Room{}, errors.New("db error")).Once()
		defer db.AssertExpectations(t)

		app, _ := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})

		rr := httptest.NewRecorder()
		app.listRooms(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_createRoom(t *testing.T) {
	t.Run("creates room for the session user", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("CreateRoom", mock.MatchedBy(func(p database.CreateRoomParams) bool {
			return p.Name == "Study Hall" && p.CreatedBy == "alice" && p.ExternalId != ""
		})).Return(database.Room{
			Id:         1,
			ExternalId: "study-1",
			Name:       "Study Hall",
			CreatedBy:  "alice",
			CreatedAt:  time.Now().UTC(),
		}, nil).Once()
		defer db.AssertExpectations(t)

		app, _ := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})

		body := strings.NewReader(`{"name": "Study Hall"}`)
		rr := httptest.NewRecorder()
		app.createRoom(rr, authedRequest(httptest.NewRequest(http.MethodPost, "/api/rooms", body)))

		require.Equal(t, http.StatusCreated, rr.Code)

		var room types.Room
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
		assert.Equal(t, "study-1", room.ExternalId)
		assert.Equal(t, "alice", room.CreatedBy, "room creator becomes the moderator on join")
	})

	t.Run("rejects blank name", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})

		body := strings.NewReader(`{"name": ""}`)
		rr := httptest.NewRecorder()
		app.createRoom(rr, authedRequest(httptest.NewRequest(http.MethodPost, "/api/rooms", body)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects missing session", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})

		body := strings.NewReader(`{"name": "Study Hall"}`)
		rr := httptest.NewRecorder()
		app.createRoom(rr, httptest.NewRequest(http.MethodPost, "/api/rooms", body))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_getRoom(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("GetRoomByExternalId", "study-1").Return(database.Room{
			Id:         1,
			ExternalId: "study-1",
			Name:       "Study Hall",
			CreatedBy:  "mod",
		}, nil).Once()
		defer db.AssertExpectations(t)

		app, _ := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})

		req := httptest.NewRequest(http.MethodGet, "/api/rooms/study-1", nil)
		req.SetPathValue("id", "study-1")

		rr := httptest.NewRecorder()
		app.getRoom(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var room types.Room
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &room))
		assert.Equal(t, "Study Hall", room.Name)
	})

	t.Run("not found", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("GetRoomByExternalId", "nope").Return(database.Room{}, sql.ErrNoRows).Once()
		defer db.AssertExpectations(t)

		app, _ := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})

		req := httptest.NewRequest(http.MethodGet, "/api/rooms/nope", nil)
		req.SetPathValue("id", "nope")

		rr := httptest.NewRecorder()
		app.getRoom(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

// multipartBody builds a single-file multipart form with an explicit
// part content type, the way browsers submit uploads.
func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	return buf, w.FormDataContentType()
}

func Test_uploadDocument(t *testing.T) {
	t.Run("accepts pdf", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Save", "notes.pdf", "application/pdf", "alice", []byte("pdf bytes")).Return(types.Document{
			Id:          "doc-1",
			Filename:    "notes.pdf",
			ContentType: "application/pdf",
			Size:        9,
			UploadedBy:  "alice",
			UploadedAt:  time.Now().UTC(),
		}, nil).Once()
		defer blobs.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, &summarizer.MockSummarizer{})

		body, contentType := multipartBody(t, "notes.pdf", "application/pdf", []byte("pdf bytes"))
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)

		rr := httptest.NewRecorder()
		app.uploadDocument(rr, authedRequest(req))

		require.Equal(t, http.StatusCreated, rr.Code)

		var doc types.Document
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
		assert.Equal(t, "doc-1", doc.Id)
	})

	t.Run("accepts video", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Save", "clip.mp4", "video/mp4", "alice", mock.Anything).Return(types.Document{
			Id:          "doc-2",
			Filename:    "clip.mp4",
			ContentType: "video/mp4",
		}, nil).Once()
		defer blobs.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, &summarizer.MockSummarizer{})

		body, contentType := multipartBody(t, "clip.mp4", "video/mp4", []byte("mp4 bytes"))
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)

		rr := httptest.NewRecorder()
		app.uploadDocument(rr, authedRequest(req))

		assert.Equal(t, http.StatusCreated, rr.Code)
	})

	t.Run("rejects disallowed content type", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})

		body, contentType := multipartBody(t, "evil.exe", "application/octet-stream", []byte("nope"))
		req := httptest.NewRequest(http.MethodPost, "/api/documents", body)
		req.Header.Set("Content-Type", contentType)

		rr := httptest.NewRecorder()
		app.uploadDocument(rr, authedRequest(req))

		assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	})

	t.Run("rejects missing session", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})

		rr := httptest.NewRecorder()
		app.uploadDocument(rr, httptest.NewRequest(http.MethodPost, "/api/documents", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_getDocument(t *testing.T) {
	doc := types.Document{
		Id:          "doc-1",
		Filename:    "clip.mp4",
		ContentType: "video/mp4",
		Size:        9,
		UploadedAt:  time.Now().UTC(),
	}

	t.Run("serves full content", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Open", "doc-1").Return(doc, bytes.NewReader([]byte("mp4 bytes")), nil).Once()
		defer blobs.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, &summarizer.MockSummarizer{})

		req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil)
		req.SetPathValue("id", "doc-1")

		rr := httptest.NewRecorder()
		app.getDocument(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
		assert.Equal(t, "mp4 bytes", rr.Body.String())
	})

	t.Run("serves byte range for scrubbing", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Open", "doc-1").Return(doc, bytes.NewReader([]byte("mp4 bytes")), nil).Once()
		defer blobs.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, &summarizer.MockSummarizer{})

		req := httptest.NewRequest(http.MethodGet, "/api/documents/doc-1", nil)
		req.SetPathValue("id", "doc-1")
		req.Header.Set("Range", "bytes=0-2")

		rr := httptest.NewRecorder()
		app.getDocument(rr, req)

		require.Equal(t, http.StatusPartialContent, rr.Code)
		assert.Equal(t, "mp4", rr.Body.String())
	})

	t.Run("not found", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Open", "nope").Return(types.Document{}, nil, blob.ErrNotFound).Once()
		defer blobs.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, &summarizer.MockSummarizer{})

		req := httptest.NewRequest(http.MethodGet, "/api/documents/nope", nil)
		req.SetPathValue("id", "nope")

		rr := httptest.NewRecorder()
		app.getDocument(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_summarizeDocument(t *testing.T) {
	pdf := types.Document{Id: "doc-1", Filename: "notes.pdf", ContentType: "application/pdf"}

	t.Run("returns summary", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Open", "doc-1").Return(pdf, bytes.NewReader([]byte("pdf bytes")), nil).Once()
		defer blobs.AssertExpectations(t)

		sum := &summarizer.MockSummarizer{}
		sum.On("Summarize", mock.Anything, "doc-1", []byte("pdf bytes")).Return("a short summary", nil).Once()
		defer sum.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, sum)

		req := httptest.NewRequest(http.MethodPost, "/api/documents/doc-1/summarize", nil)
		req.SetPathValue("id", "doc-1")

		rr := httptest.NewRecorder()
		app.summarizeDocument(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp SummarizeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "ready", resp.Status)
		assert.Equal(t, "a short summary", resp.Summary)
	})

	t.Run("only pdfs are summarizable", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Open", "doc-2").Return(types.Document{
			Id:          "doc-2",
			ContentType: "video/mp4",
		}, bytes.NewReader([]byte("mp4 bytes")), nil).Once()
		defer blobs.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, &summarizer.MockSummarizer{})

		req := httptest.NewRequest(http.MethodPost, "/api/documents/doc-2/summarize", nil)
		req.SetPathValue("id", "doc-2")

		rr := httptest.NewRecorder()
		app.summarizeDocument(rr, req)

		assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		blobs := &blob.MockStore{}
		blobs.On("Open", "doc-1").Return(pdf, bytes.NewReader([]byte("pdf bytes")), nil).Once()
		defer blobs.AssertExpectations(t)

		sum := &summarizer.MockSummarizer{}
		sum.On("Summarize", mock.Anything, "doc-1", mock.Anything).Return("", errors.New("upstream timeout")).Once()
		defer sum.AssertExpectations(t)

		app, _ := newTestApp(t, &database.MockRoomchatRepository{}, blobs, sum)

		req := httptest.NewRequest(http.MethodPost, "/api/documents/doc-1/summarize", nil)
		req.SetPathValue("id", "doc-1")

		rr := httptest.NewRecorder()
		app.summarizeDocument(rr, req)

		require.Equal(t, http.StatusBadGateway, rr.Code)

		var resp SummarizeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "failed", resp.Status)
	})
}

func Test_serveWs(t *testing.T) {
	t.Run("authenticated dial joins the room", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("GetRoomByExternalId", "study-1").Return(database.Room{
			Id:         1,
			ExternalId: "study-1",
			Name:       "Study Hall",
			CreatedBy:  "mod",
		}, nil).Once()
		db.On("GetRoomMessages", mock.Anything, mock.Anything).Return([]database.Message{}, nil).Maybe()

		app, mux := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})
		go app.cs.Run()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			app.cs.Shutdown(ctx)
		}()

		ts := httptest.NewServer(mux)
		defer ts.Close()

		token, err := app.createSessionToken("alice", time.Hour)
		require.NoError(t, err)

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=study-1&token=" + token
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err, "expected websocket handshake to succeed")
		defer conn.Close()

		// history arrives first, then the presence roster
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, _, err = conn.ReadMessage()
		require.NoError(t, err, "expected history message after join")

		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "expected roster message after history")

		var msg struct {
			Notification *struct {
				Presence []types.SessionInfo `json:"presence"`
			} `json:"notification"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		require.NotNil(t, msg.Notification, "expected roster notification")
		require.Len(t, msg.Notification.Presence, 1)
		assert.Equal(t, "alice", msg.Notification.Presence[0].Username)
	})

	t.Run("unauthenticated dial is rejected", func(t *testing.T) {
		app, mux := newTestApp(t, &database.MockRoomchatRepository{}, &blob.MockStore{}, &summarizer.MockSummarizer{})
		_ = app

		ts := httptest.NewServer(mux)
		defer ts.Close()

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=study-1"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err, "expected handshake to fail without a token")
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown room is rejected", func(t *testing.T) {
		db := &database.MockRoomchatRepository{}
		db.On("GetRoomByExternalId", "nope").Return(database.Room{}, sql.ErrNoRows).Once()
		defer db.AssertExpectations(t)

		app, mux := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})

		ts := httptest.NewServer(mux)
		defer ts.Close()

		token, err := app.createSessionToken("alice", time.Hour)
		require.NoError(t, err)

		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=nope&token=" + token
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err, "expected handshake to fail for unknown room")
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

type wsEnvelope struct {
	Response *struct {
		ResponseCode int    `json:"response_code"`
		Error        string `json:"error"`
	} `json:"response"`
	History      []types.Message `json:"history"`
	Message      *types.Message  `json:"message"`
	Notification *struct {
		Presence []types.SessionInfo `json:"presence"`
		UserJoined *struct {
			Username string `json:"username"`
		} `json:"user_joined"`
		Moderation *struct {
			Action   string `json:"action"`
			Username string `json:"username"`
		} `json:"moderation"`
		Pinned *struct {
			MessageId string `json:"message_id"`
			IsPinned  bool   `json:"is_pinned"`
		} `json:"message_pinned"`
	} `json:"notification"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "expected a server message")
	var env wsEnvelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func Test_serveWs_moderationFlow(t *testing.T) {
	db := &database.MockRoomchatRepository{}
	db.On("GetRoomByExternalId", "study-1").Return(database.Room{
		Id:         1,
		ExternalId: "study-1",
		Name:       "Study Hall",
		CreatedBy:  "mod",
	}, nil).Twice()
	db.On("GetRoomMessages", mock.Anything, mock.Anything).Return([]database.Message{}, nil).Maybe()
	// storage stays down for the whole scenario; messages live in memory only
	db.On("CreateMessage", mock.Anything).Return("", errors.New("connection refused")).Maybe()
	db.On("SetMessagePinned", mock.Anything, mock.Anything).Return(nil).Maybe()

	app, mux := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})
	go app.cs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		app.cs.Shutdown(ctx)
	}()

	ts := httptest.NewServer(mux)
	defer ts.Close()

	dial := func(username string) *websocket.Conn {
		token, err := app.createSessionToken(username, time.Hour)
		require.NoError(t, err)
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=study-1&token=" + token
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err, "expected websocket handshake to succeed for %s", username)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	modConn := dial("mod")
	readEnvelope(t, modConn) // history
	readEnvelope(t, modConn) // roster

	aliceConn := dial("alice")
	readEnvelope(t, aliceConn) // history
	readEnvelope(t, aliceConn) // roster

	joined := readEnvelope(t, modConn)
	require.NotNil(t, joined.Notification)
	require.NotNil(t, joined.Notification.UserJoined)
	assert.Equal(t, "alice", joined.Notification.UserJoined.Username)
	readEnvelope(t, modConn) // updated roster

	// the moderator posts a message; both members receive it
	require.NoError(t, modConn.WriteJSON(map[string]any{
		"id":      1,
		"publish": map[string]any{"content": "welcome"},
	}))
	posted := readEnvelope(t, aliceConn)
	require.NotNil(t, posted.Message)
	assert.Equal(t, "welcome", posted.Message.Text)
	readEnvelope(t, modConn)

	// the moderator mutes alice; both members see the notice and roster
	require.NoError(t, modConn.WriteJSON(map[string]any{
		"id":   2,
		"mute": map[string]any{"username": "alice"},
	}))
	for _, conn := range []*websocket.Conn{modConn, aliceConn} {
		muted := readEnvelope(t, conn)
		require.NotNil(t, muted.Notification)
		require.NotNil(t, muted.Notification.Moderation)
		assert.Equal(t, "muted", muted.Notification.Moderation.Action)
		assert.Equal(t, "alice", muted.Notification.Moderation.Username)
		readEnvelope(t, conn) // roster
	}

	// a muted member's publish is denied, visible only to the actor
	require.NoError(t, aliceConn.WriteJSON(map[string]any{
		"id":      3,
		"publish": map[string]any{"content": "hi"},
	}))
	denied := readEnvelope(t, aliceConn)
	require.NotNil(t, denied.Response)
	assert.Equal(t, http.StatusForbidden, denied.Response.ResponseCode)
	assert.Equal(t, "you are muted", denied.Response.Error)

	// the moderator pins the welcome message; everyone is notified
	require.NoError(t, modConn.WriteJSON(map[string]any{
		"id":  4,
		"pin": map[string]any{"message_id": posted.Message.Id},
	}))
	for _, conn := range []*websocket.Conn{modConn, aliceConn} {
		pinned := readEnvelope(t, conn)
		require.NotNil(t, pinned.Notification)
		require.NotNil(t, pinned.Notification.Pinned)
		assert.Equal(t, posted.Message.Id, pinned.Notification.Pinned.MessageId)
		assert.True(t, pinned.Notification.Pinned.IsPinned)
	}
}

func Test_serveWs_pinAfterPersist(t *testing.T) {
	db := &database.MockRoomchatRepository{}
	db.On("GetRoomByExternalId", "study-1").Return(database.Room{
		Id:         1,
		ExternalId: "study-1",
		Name:       "Study Hall",
		CreatedBy:  "mod",
	}, nil).Once()
	db.On("GetRoomMessages", mock.Anything, mock.Anything).Return([]database.Message{}, nil).Maybe()
	db.On("CreateMessage", mock.Anything).Return("7", nil).Once()
	db.On("SetMessagePinned", mock.Anything, mock.Anything).Return(nil).Maybe()

	app, mux := newTestApp(t, db, &blob.MockStore{}, &summarizer.MockSummarizer{})
	go app.cs.Run()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		app.cs.Shutdown(ctx)
	}()

	ts := httptest.NewServer(mux)
	defer ts.Close()

	token, err := app.createSessionToken("mod", time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room_id=study-1&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEnvelope(t, conn) // history
	readEnvelope(t, conn) // roster

	require.NoError(t, conn.WriteJSON(map[string]any{
		"id":      1,
		"publish": map[string]any{"content": "welcome"},
	}))
	posted := readEnvelope(t, conn)
	require.NotNil(t, posted.Message)

	// the id a client received in the broadcast must keep working after
	// the store has assigned a canonical one
	require.NoError(t, conn.WriteJSON(map[string]any{
		"id":  2,
		"pin": map[string]any{"message_id": posted.Message.Id},
	}))
	pinned := readEnvelope(t, conn)
	require.NotNil(t, pinned.Notification)
	require.NotNil(t, pinned.Notification.Pinned, "expected pin notification, not a denial")
	assert.True(t, pinned.Notification.Pinned.IsPinned)
	assert.Contains(t, []string{posted.Message.Id, "7"}, pinned.Notification.Pinned.MessageId)
}
