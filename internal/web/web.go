// Package web serves the HTTP surface of a game server: status reports and
// the WebSocket endpoint.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/matryer/way"
	"github.com/sirupsen/logrus"
	"github.com/twitchtv/twirp"

	"github.com/rallypoint/rallypoint/internal/game"
	"github.com/rallypoint/rallypoint/internal/msg"
	"github.com/rallypoint/rallypoint/internal/server"
	"github.com/rallypoint/rallypoint/internal/session"
)

const WebSocketPath = "/ws"

// Backend is the game server behind the HTTP surface.
type Backend interface {
	Status() server.Status
	Game(id uint64) (msg.GameDescription, error)
	Admit(remote string) bool
	HandleTransport(ctx context.Context, t session.Transport) error
}

type Server struct {
	backend  Backend
	logger   *logrus.Logger
	router   *way.Router
	upgrader websocket.Upgrader
	now      func() time.Time

	// Sessions opened over WebSocket live as long as this context.
	ctx context.Context
}

func New(ctx context.Context, backend Backend, logger *logrus.Logger) *Server {
	s := &Server{
		backend: backend,
		logger:  logger,
		router:  way.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
		ctx: ctx,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET", "/status", s.handleStatus)
	s.router.HandleFunc("GET", "/games/:id", s.handleGame)
	s.router.HandleFunc("GET", WebSocketPath, s.handleWebSocket)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves HTTP on address until ctx is cancelled.
func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup, address string) error {
	httpServer := &http.Server{Addr: address, Handler: s, ReadHeaderTimeout: 10 * time.Second}

	errs := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.logger.Infof("serving status on %s", address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("error serving http on %s: %w", address, err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

type disconnectedClient struct {
	Name  string    `json:"name"`
	Since time.Time `json:"since"`
	Ago   string    `json:"ago"`
}

type statusResponse struct {
	server.Status
	Disconnected []disconnectedClient `json:"disconnected"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.backend.Status()
	resp := statusResponse{Status: st, Disconnected: []disconnectedClient{}}
	for _, d := range st.Disconnected {
		resp.Disconnected = append(resp.Disconnected, disconnectedClient{
			Name:  d.Name,
			Since: d.Since,
			Ago:   humanize.RelTime(d.Since, s.now(), "ago", "from now"),
		})
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(way.Param(r.Context(), "id"), 10, 64)
	if err != nil || id == 0 {
		s.writeError(w, twirp.InvalidArgumentError("id", "must be a positive game id"))
		return
	}

	desc, err := s.backend.Game(id)
	if errors.Is(err, game.ErrGameNotFound) {
		s.writeError(w, twirp.NotFoundError(err.Error()))
		return
	}
	if err != nil {
		s.writeError(w, twirp.InternalErrorWith(err))
		return
	}
	s.writeJSON(w, desc)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.backend.Admit(r.RemoteAddr) {
		s.writeError(w, twirp.NewError(twirp.ResourceExhausted, "too many connections"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnf("failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}
	if err := s.backend.HandleTransport(s.ctx, session.NewWebSocketTransport(conn)); err != nil {
		s.logger.Warnf("rejected websocket connection from %s: %v", r.RemoteAddr, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnf("failed to write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err twirp.Error) {
	if werr := twirp.WriteError(w, err); werr != nil {
		s.logger.Warnf("failed to write error response: %v", werr)
	}
}
