package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/engeditor/session/auth"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Server serves one role's RPC surface. FrontEnds is nil on the content server.
type Server struct {
	Log       *zap.SugaredLogger
	Role      string
	Gate      *auth.Gate
	Handshake HandshakeService
	FrontEnds FrontEndSpawner

	mut        sync.Mutex
	httpServer *http.Server
	cancel     context.CancelFunc
	closed     bool
}

// Handler returns the routes wrapped in the gate.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET(pathHeartbeat, s.heartbeat)
	router.GET(pathHandshake, s.handshake)
	if s.FrontEnds != nil {
		router.POST(pathFrontEnds, s.spawnFrontEnd)
	}
	return s.Gate.Wrap(router)
}

// Serve serves on listener until Close is called, which makes it return nil.
func (s *Server) Serve(listener net.Listener) error {
	// hijacked WebSocket conns outlive http.Server.Close, so they hang off a context Close cancels
	ctx, cancel := context.WithCancel(context.Background())
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       5 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mut.Lock()
	if s.closed {
		s.mut.Unlock()
		cancel()
		listener.Close()
		return nil
	}
	s.httpServer = server
	s.cancel = cancel
	s.mut.Unlock()

	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.closed = true
	if s.httpServer == nil {
		return nil
	}
	s.cancel()
	return s.httpServer.Close()
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	writeJSON(s.Log, w, HeartbeatResponse{Role: s.Role})
}

func (s *Server) spawnFrontEnd(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req SpawnFrontEndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.Log.Info("received front end spawn request")
	if err := s.FrontEnds.SpawnFrontEnd(r.Context()); err != nil {
		s.Log.Warnf("spawning front end: %s", err)
		http.Error(w, fmt.Sprintf("failed to launch front end: %s", err), http.StatusInternalServerError)
		return
	}
	writeJSON(s.Log, w, SpawnFrontEndResponse{Success: true})
}

// handshake answers each message in arrival order until the client closes the stream.
func (s *Server) handshake(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.Log.Debugf("handshake WebSocket accept error: %s", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	ctx := r.Context()
	responder, err := s.Handshake.NewResponder(ctx)
	if err != nil {
		s.Log.Warnf("starting handshake: %s", err)
		conn.Close(websocket.StatusInternalError, closeReason(err))
		return
	}
	defer responder.Close()

	for {
		var req HandshakeRequest
		err := wsjson.Read(ctx, conn, &req)
		if isStreamEnd(err) {
			s.Log.Debug("handshake stream ended by client")
			return
		}
		if err != nil {
			s.Log.Debugf("handshake read error: %s", err)
			return
		}

		reply, err := responder.Respond(ctx, req.ClientMessage)
		if err != nil {
			s.Log.Warnf("handshake error: %s", err)
			conn.Close(websocket.StatusInternalError, closeReason(err))
			return
		}
		if err := wsjson.Write(ctx, conn, HandshakeResponse{ServerMessage: reply}); err != nil {
			s.Log.Debugf("handshake write error: %s", err)
			return
		}
	}
}

func isStreamEnd(err error) bool {
	if err == nil {
		return false
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, io.EOF)
}

// closeReason truncates err to fit a WebSocket close frame.
func closeReason(err error) string {
	reason := err.Error()
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	return reason
}

func writeJSON(log *zap.SugaredLogger, w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	if _, err := w.Write(b); err != nil {
		log.Debugf("error writing response: %s", err)
	}
}
