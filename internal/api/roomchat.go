package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
	"github.com/tmazur/roomchat/internal/blob"
	"github.com/tmazur/roomchat/internal/config"
	"github.com/tmazur/roomchat/internal/database"
	"github.com/tmazur/roomchat/internal/server"
	"github.com/tmazur/roomchat/internal/summarizer"
)

type RoomchatApp struct {
	log            *log.Logger
	db             database.RoomchatRepository
	mux            *http.Server
	cs             *server.ChatServer
	blobs          blob.Store
	summarizer     summarizer.Summarizer
	signingKey     []byte
	allowedOrigins []string
}

func NewRoomchatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer,
	db database.RoomchatRepository, blobs blob.Store, sum summarizer.Summarizer, cfg *config.Config) *RoomchatApp {
	s := &RoomchatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		blobs:          blobs,
		summarizer:     sum,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/session", s.createSession)
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms/{id}", s.authMiddleware(s.getRoom))
	mux.Handle("POST /api/documents", s.authMiddleware(s.uploadDocument))
	mux.Handle("GET /api/documents/{id}", s.authMiddleware(s.getDocument))
	mux.Handle("POST /api/documents/{id}/summarize", s.authMiddleware(s.summarizeDocument))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.HandleFunc("GET /healthz", s.healthz)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RoomchatApp) healthz(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		// degraded durability, not an outage: the chat core keeps
		// serving from the live cache
		s.writeJson(w, http.StatusOK, map[string]string{"status": "degraded"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *RoomchatApp) generateShortId() (string, error) {
	return shortid.Generate()
}

func (s *RoomchatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RoomchatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
