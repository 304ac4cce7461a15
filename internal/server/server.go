package server

import (
	"context"
	"log"
	"net/http"

	"github.com/soar/wheelbridge/internal/hub"
)

// Server exposes the local diagnostics endpoints: a status websocket and a
// health check. It binds to loopback by default and carries no
// authentication.
type Server struct {
	hub         *hub.Hub
	broadcaster *hub.Broadcaster
	session     hub.Recalibrator
	addr        string
	httpServer  *http.Server
}

func New(h *hub.Hub, b *hub.Broadcaster, session hub.Recalibrator, addr string) *Server {
	return &Server{
		hub:         h,
		broadcaster: b,
		session:     session,
		addr:        addr,
	}
}

func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", handleWebSocket(s.hub, s.broadcaster, s.session))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	log.Printf("Diagnostics server listening on %s", s.addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		log.Println("Shutting down diagnostics server...")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
