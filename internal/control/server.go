// Package control exposes a small HTTP API over a running live session:
// read-only state endpoints plus manual close and pause/resume commands.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/meridian-lab/helmsman/internal/logger"
	"github.com/meridian-lab/helmsman/internal/types"
	"github.com/meridian-lab/helmsman/pkg/errors"
)

// Runner is the slice of the live runner the API needs.
type Runner interface {
	Positions() []types.Position
	Trades() []types.Trade
	EquityCurve() types.EquityCurve
	Metrics() types.PerformanceMetrics
	Equity() types.EquityState
	Paused() bool
	Pause()
	Resume()
	ClosePosition(symbol string) error
}

// Server serves the control API.
type Server struct {
	runner Runner
	logger *logger.Logger
	http   *http.Server
}

// NewServer creates a control server bound to addr.
func NewServer(addr string, runner Runner, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Server{
		runner: runner,
		logger: log,
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Router builds the route table. Exposed separately so tests can drive the
// handlers without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	r.HandleFunc("/equity", s.handleEquity).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/positions/{symbol}/close", s.handleClose).Methods(http.MethodPost)
	r.HandleFunc("/strategy/pause", s.handlePause).Methods(http.MethodPost)
	r.HandleFunc("/strategy/resume", s.handleResume).Methods(http.MethodPost)

	return r
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("control server listening", zap.String("addr", s.http.Addr))

	err := s.http.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Positions())
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Trades())
}

func (s *Server) handleEquity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"account": s.runner.Equity(),
		"curve":   s.runner.EquityCurve(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Metrics())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"paused":         s.runner.Paused(),
		"open_positions": len(s.runner.Positions()),
		"closed_trades":  len(s.runner.Trades()),
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	if err := s.runner.ClosePosition(symbol); err != nil {
		s.logger.Warn("manual close rejected", zap.String("symbol", symbol), zap.Error(err))
		writeError(w, err)

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"symbol": symbol, "status": "closing"})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.runner.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	s.runner.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch errors.GetCode(err) {
	case errors.ErrCodePositionNotFound:
		status = http.StatusNotFound
	case errors.ErrCodePositionClosing:
		status = http.StatusConflict
	case errors.ErrCodeQueueFull:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
