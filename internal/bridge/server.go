package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"

	"github.com/TheMichaelB/silentpen/internal/config"
	"github.com/TheMichaelB/silentpen/internal/events"
	"github.com/TheMichaelB/silentpen/internal/models"
)

// Request is one command frame sent by the UI.
type Request struct {
	ID   string          `json:"id"`
	Cmd  string          `json:"cmd"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response answers the request with the same ID.
type Response struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result"`
	Error  *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries a stable code and a message safe to show the user.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server serves the dispatcher over WebSocket.
type Server struct {
	cfg        config.BridgeConfig
	dispatcher *Dispatcher
	logger     *events.Logger
	upgrader   websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a bridge server.
func NewServer(cfg config.BridgeConfig, dispatcher *Dispatcher, logger *events.Logger) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "bridge"),
		conns:      make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Handler returns the HTTP handler that upgrades requests on the configured path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)
	return mux
}

// ListenAndServe listens on the configured address and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every open
// connection and waits for in-flight commands.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.WithFields(map[string]interface{}{
		"addr": ln.Addr().String(),
		"path": s.cfg.Path,
	}).Info("Bridge listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.closeAll()
	s.wg.Wait()

	s.logger.Info("Bridge stopped")
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// checkOrigin admits clients without an Origin header (non-browser) and
// browsers on the allow-list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	s.logger.WithField("origin", origin).Warn("Rejected bridge origin")
	return false
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("Upgrade failed")
		return
	}

	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	s.serveConn(r.Context(), conn)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.wg.Done()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// serveConn reads request frames and answers each one from its own
// goroutine. Writes are serialised on the connection.
func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	logger := s.logger.WithField("remote", conn.RemoteAddr().String())
	logger.Debug("Bridge client connected")

	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}

	var (
		writeMu  sync.Mutex
		inflight sync.WaitGroup
	)
	send := func(resp Response) {
		writeMu.Lock()
		defer writeMu.Unlock()

		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := conn.WriteJSON(resp); err != nil {
			logger.WithError(err).Warn("Write response failed")
		}
	}

	defer func() {
		inflight.Wait()
		_ = conn.Close()
		logger.Debug("Bridge client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				logger.WithError(err).Warn("Bridge read error")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil || req.Cmd == "" {
			send(errorResponse(req.ID, fmt.Errorf("%w: malformed request frame", models.ErrInvalidInput)))
			continue
		}

		inflight.Add(1)
		go func(req Request) {
			defer inflight.Done()
			send(s.handle(ctx, req))
		}(req)
	}
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	ctx = events.WithLogger(ctx, s.logger)
	ctx = events.WithRequestID(ctx, req.ID)
	ctx = events.WithOperation(ctx, req.Cmd)
	logger := events.FromContext(ctx)

	start := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, req.Cmd, req.Args)

	logger.WithFields(map[string]interface{}{
		"ok":          err == nil,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Handled command")

	if err != nil {
		resp := errorResponse(req.ID, err)
		resp.Result = result
		return resp
	}
	return Response{ID: req.ID, OK: true, Result: result}
}

func errorResponse(id string, err error) Response {
	return Response{
		ID: id,
		Error: &ErrorBody{
			Code:    models.CodeOf(err),
			Message: models.PublicMessage(err),
		},
	}
}
