// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/llmchat/internal/instance"
	"github.com/jeranaias/llmchat/internal/logging"
	"github.com/jeranaias/llmchat/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DeliverPath receives follower payloads.
	DeliverPath = "/deliver"

	// HealthPath reports liveness.
	HealthPath = "/health"

	// MaxPayloadSize is the largest accepted payload (1MB).
	MaxPayloadSize = 1 * 1024 * 1024

	// DefaultRatePerSecond and DefaultBurst size the per-client token bucket.
	DefaultRatePerSecond = 5.0
	DefaultBurst         = 10
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// Submitter accepts a forwarded turn. The engine satisfies it.
type Submitter interface {
	SubmitTurn(text string) error
}

// Activator raises the owner's interactive surface.
type Activator interface {
	Activate()
}

// ActivatorFunc adapts a function to Activator.
type ActivatorFunc func()

// Activate calls f.
func (f ActivatorFunc) Activate() { f() }

// Config configures a Server.
type Config struct {
	Submitter Submitter
	Activator Activator

	// Token is the bearer token followers must present. A random one is
	// generated when empty.
	Token string

	RatePerSecond float64
	Burst         int

	// Logger receives request and audit lines. Defaults to logging.Info.
	Logger *log.Logger
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the owner's delivery receiver.
type Server struct {
	cfg     Config
	token   string
	handler http.Handler
	logger  *log.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

// NewServer builds the handler chain. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Token == "" {
		cfg.Token = uuid.NewString()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.Burst < 1 {
		cfg.Burst = DefaultBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Info
	}

	s := &Server{
		cfg:    cfg,
		token:  cfg.Token,
		logger: cfg.Logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+DeliverPath, s.handleDeliver)
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)

	s.handler = Chain(
		RecoveryMiddleware(cfg.Logger),
		LoggingMiddleware(cfg.Logger),
		AuthMiddleware(cfg.Token, cfg.Logger),
		RateLimitMiddleware(NewRateLimiter(cfg.RatePerSecond, cfg.Burst), cfg.Logger),
		BodyLimitMiddleware(MaxPayloadSize),
	)(mux)
	return s
}

// Token returns the bearer token followers must present.
func (s *Server) Token() string {
	return s.token
}

// Start listens on an ephemeral loopback port and serves in the background.
// The returned Endpoint is what the owner advertises.
func (s *Server) Start() (instance.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return instance.Endpoint{}, errors.New("delivery server already started")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return instance.Endpoint{}, fmt.Errorf("listening for deliveries: %w", err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		ErrorLog:          logging.Warn,
	}
	errCh := make(chan error, 1)
	s.serveErr = errCh

	srv := s.server
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	ep := instance.Endpoint{Addr: ln.Addr().String(), Token: s.token, PID: os.Getpid()}
	s.logger.Printf("DELIVERY_START | addr=%s", ep.Addr)
	return ep, nil
}

// Shutdown stops accepting deliveries and waits for in-flight requests
// until ctx is done. It is a no-op if the server is not running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, ln, serveErr := s.server, s.listener, s.serveErr
	s.server, s.listener, s.serveErr = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Printf("DELIVERY_SHUTDOWN | addr=%s", ln.Addr())
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		return err
	}
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// HANDLERS
// ============================================================================

// handleDeliver handles POST /deliver. Every delivery raises the owner;
// a non-empty payload is also submitted as a user turn.
func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds %d bytes", MaxPayloadSize))
			return
		}
		s.writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	text, err := DecodePayload(r.Header.Get("Content-Type"), body)
	if err != nil {
		s.logger.Printf("DELIVERY_REJECTED | reason=decode error=%v", err)
		s.writeError(w, http.StatusBadRequest, "payload is not valid text")
		return
	}
	text = strings.TrimSpace(text)

	if s.cfg.Activator != nil {
		s.cfg.Activator.Activate()
	}
	if text == "" {
		s.logger.Printf("DELIVERY_ACTIVATE")
		s.writeJSON(w, http.StatusAccepted, deliverResponse{Status: "activated"})
		return
	}

	if s.cfg.Submitter == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no conversation available")
		return
	}
	if err := s.cfg.Submitter.SubmitTurn(text); err != nil {
		s.logger.Printf("DELIVERY_REJECTED | chars=%d error=%v", len(text), err)
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.logger.Printf("DELIVERY_ACCEPTED | preview=%q", util.TruncateWidth(util.FirstLine(text), 40))
	s.writeJSON(w, http.StatusAccepted, deliverResponse{Status: "accepted"})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", PID: os.Getpid()})
}

// ============================================================================
// HELPERS
// ============================================================================

type deliverResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, deliverResponse{Status: "rejected", Error: message})
}
