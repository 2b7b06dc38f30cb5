package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dxpcore/dxp-chat/internal/auth"
	"github.com/dxpcore/dxp-chat/internal/config"
	"github.com/dxpcore/dxp-chat/internal/database"
	"github.com/dxpcore/dxp-chat/internal/rooms"
	"github.com/dxpcore/dxp-chat/internal/server"
	"github.com/gorilla/handlers"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

type ChatApp struct {
	log            hclog.Logger
	db             database.ChatRepository
	cs             *server.ChatServer
	rooms          *rooms.Service
	verifier       auth.Verifier
	allowedOrigins []string
	upgrader       websocket.Upgrader
	handler        http.Handler
	srv            *http.Server
}

// NewChatApp registers the HTTP and websocket routes on mux. mux may already
// carry other routes, such as the stats endpoint.
func NewChatApp(logger hclog.Logger, mux *http.ServeMux, cs *server.ChatServer, rs *rooms.Service, db database.ChatRepository, verifier auth.Verifier, cfg *config.Config) *ChatApp {
	a := &ChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		rooms:          rs,
		verifier:       verifier,
		allowedOrigins: cfg.AllowedOrigins,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkOrigin,
	}

	mux.HandleFunc("GET /healthz", a.healthCheck)
	mux.Handle("GET /api/rooms", a.authMiddleware(a.listRooms))
	mux.Handle("POST /api/rooms/direct", a.authMiddleware(a.createDirectRoom))
	mux.Handle("POST /api/rooms/group", a.staffOnly(a.createGroupRoom))

	mux.Handle("GET /ws/chat/{room}", a.authMiddleware(a.serveChat))
	mux.Handle("GET /ws/chat/{room}/{$}", a.authMiddleware(a.serveChat))
	mux.Handle("GET /ws/chatrooms", a.authMiddleware(a.serveRoomsList))
	mux.Handle("GET /ws/chatrooms/{$}", a.authMiddleware(a.serveRoomsList))
	mux.Handle("GET /ws/unread", a.authMiddleware(a.serveUnread))
	mux.Handle("GET /ws/unread/{$}", a.authMiddleware(a.serveUnread))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CombinedLoggingHandler(logger.StandardWriter(&hclog.StandardLoggerOptions{ForceLevel: hclog.Info}), h)
	h = a.errorHandler(h)

	a.handler = h
	a.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}
	return a
}

func (a *ChatApp) Handler() http.Handler {
	return a.handler
}

// Start serves HTTP until Shutdown is called.
func (a *ChatApp) Start() error {
	a.log.Info("starting server", "addr", a.srv.Addr)
	if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server. Upgraded connections are not tracked by
// net/http and are closed by ChatServer.Shutdown.
func (a *ChatApp) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down HTTP server")
	if err := a.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
