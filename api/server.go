// Package api exposes the control surface of a Ben-Or node over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/usernamenenad/bft-benor/impl/benor"
)

const maxBodySize = 1 << 16

// Engine is the part of a node the control surface drives.
type Engine interface {
	Status() benor.Status
	Start(ctx context.Context) error
	Stop()
	GetState() benor.NodeState
	Deliver(msg *benor.Message) error
	LastProposedValue() (benor.Value, bool)
}

type valueReply struct {
	Value benor.Value `json:"value"`
}

// Server routes control and protocol requests into one engine.
type Server struct {
	engine   Engine
	codec    *benor.Codec
	gatherer prometheus.Gatherer

	httpSrv  *http.Server
	listener net.Listener

	logger *slog.Logger
}

type ServerOption func(*Server)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

func NewServer(engine Engine, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		engine:   engine,
		codec:    benor.NewCodec(),
		gatherer: prometheus.DefaultGatherer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routes of the control surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.hStatus)
	mux.HandleFunc("GET /start", s.hStart)
	mux.HandleFunc("GET /stop", s.hStop)
	mux.HandleFunc("GET /getState", s.hGetState)
	mux.HandleFunc("POST /message", s.hMessage)
	mux.HandleFunc("GET /getMessage", s.hGetMessage)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Listen binds addr and serves in the background. It returns once the socket is
// bound, so the caller may mark the node ready right after.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.listener = l
	s.httpSrv = &http.Server{Handler: s.Handler()}

	go func() {
		if err := s.httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control surface stopped", "error", err)
		}
	}()

	s.logger.Info("control surface listening", "addr", l.Addr().String())
	return nil
}

// Addr returns the bound address once Listen succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) hStatus(w http.ResponseWriter, r *http.Request) {
	if s.engine.Status() == benor.StatusFaulty {
		http.Error(w, string(benor.StatusFaulty), http.StatusInternalServerError)
		return
	}
	io.WriteString(w, string(benor.StatusLive))
}

func (s *Server) hStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, benor.ErrAlreadyStarted) {
			code = http.StatusConflict
		}
		http.Error(w, err.Error(), code)
		return
	}
	io.WriteString(w, "started")
}

func (s *Server) hStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	io.WriteString(w, "killed")
}

func (s *Server) hGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetState())
}

func (s *Server) hMessage(w http.ResponseWriter, r *http.Request) {
	if s.engine.Status() == benor.StatusFaulty {
		http.Error(w, "faulty node", http.StatusInternalServerError)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	msg, err := s.codec.Unmarshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.Deliver(msg.(*benor.Message)); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, benor.ErrInvalidMessage) {
			code = http.StatusBadRequest
		}
		http.Error(w, err.Error(), code)
		return
	}
	io.WriteString(w, "message received")
}

func (s *Server) hGetMessage(w http.ResponseWriter, r *http.Request) {
	x, ok := s.engine.LastProposedValue()
	if !ok {
		http.Error(w, "no value set for this node", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, valueReply{Value: x})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
