// Package server exposes the engine's HTTP surfaces: the async scraper
// results webhook, health introspection, and a WebSocket event feed that
// doubles as a development chat transport.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmazurovsky/jobs-alerts-sub001/alert"
	"github.com/mmazurovsky/jobs-alerts-sub001/bus"
	"github.com/mmazurovsky/jobs-alerts-sub001/pipeline"
	"github.com/mmazurovsky/jobs-alerts-sub001/session"
	"github.com/mmazurovsky/jobs-alerts-sub001/sym"
)

// MaxClients bounds concurrent WebSocket connections.
const MaxClients = 32

// Config tunes the ops server.
type Config struct {
	Port           int
	AllowedOrigins []string
	// MinScraperVersion is a semver constraint checked against the
	// X-Scraper-Version webhook header. Empty disables the gate.
	MinScraperVersion string
}

// Server is the ops HTTP server.
type Server struct {
	cfg       Config
	runner    *pipeline.Runner
	sessions  *session.Store
	searches  *alert.SearchStore
	execStore *pipeline.ExecutionStore
	inbound   *bus.Bus[bus.InboundEvent]
	logger    *zap.SugaredLogger

	httpServer *http.Server

	mu      sync.RWMutex
	clients map[*Client]bool

	startTime time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an ops server. The server doubles as the chat transport
// for development deployments: outbound events are broadcast to console
// clients via Send, and console input feeds the inbound bus.
func New(
	cfg Config,
	runner *pipeline.Runner,
	sessions *session.Store,
	searches *alert.SearchStore,
	execStore *pipeline.ExecutionStore,
	inbound *bus.Bus[bus.InboundEvent],
	log *zap.SugaredLogger,
) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		runner:    runner,
		sessions:  sessions,
		searches:  searches,
		execStore: execStore,
		inbound:   inbound,
		logger:    log.Named("server"),
		clients:   make(map[*Client]bool),
		startTime: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Infow("Ops server listening",
			"symbol", sym.Net,
			"addr", s.httpServer.Addr,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("Ops server failed", "error", err)
		}
	}()
}

// Shutdown stops accepting connections, closes WebSocket clients, and
// waits for handlers with a timeout.
func (s *Server) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warnw("Ops server shutdown incomplete", "error", err)
	}

	s.mu.Lock()
	for client := range s.clients {
		client.close()
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Infow("Ops server stopped", "symbol", sym.Net)
}

// registerClient adds a WebSocket client, enforcing the connection cap.
func (s *Server) registerClient(client *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.clients) >= MaxClients {
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		return false
	}
	s.clients[client] = true
	s.logger.Infow("Console client connected",
		"client_id", client.id,
		"total_clients", len(s.clients),
	)
	return true
}

func (s *Server) unregisterClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		s.logger.Infow("Console client disconnected",
			"client_id", client.id,
			"total_clients", len(s.clients),
		)
	}
	s.mu.Unlock()
}
