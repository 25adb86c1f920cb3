package server

import (
	"arbiter/internal/arbitrage"
	"arbiter/internal/metrics"
	"arbiter/internal/model"
	"arbiter/internal/risk"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const maxBodyBytes = 1 << 20

// Status tags every response envelope.
type Status string

const (
	StatusOK      Status = "ok"
	StatusInvalid Status = "invalid"
	StatusError   Status = "error"
)

// Coordinator is the execution surface the server exposes.
type Coordinator interface {
	Scan(ctx context.Context, req arbitrage.ScanRequest) (arbitrage.ScanResult, error)
	AutoExecute(ctx context.Context, req arbitrage.AutoExecuteRequest) (arbitrage.AutoExecuteResult, error)
	Execute(ctx context.Context, opp model.Opportunity) (arbitrage.ExecuteResult, error)
	Analytics(ctx context.Context) (arbitrage.Analytics, error)
	SizingPolicy() model.SizingPolicy
	UpdateSizing(patch arbitrage.SizingPatch) (model.SizingPolicy, error)
}

// Governor is the operator control surface of the risk governor.
type Governor interface {
	Activate(ctx context.Context, reason string) (model.GovernorState, error)
	Deactivate(ctx context.Context) (model.GovernorState, error)
	SetLimit(ctx context.Context, limit float64) (model.GovernorState, error)
	RecordPnL(ctx context.Context, delta float64) (model.GovernorState, error)
	Reset(ctx context.Context) (model.GovernorState, error)
	Snapshot(ctx context.Context) (model.GovernorState, error)
}

// Server is the HTTP command surface.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	coordinator Coordinator
	governor    Governor
}

// NewServer creates a server bound to addr. The metrics route is mounted
// only when withMetrics is set.
func NewServer(addr string, logger *slog.Logger, coordinator Coordinator, governor Governor, withMetrics bool) *Server {
	s := &Server{
		logger:      logger,
		coordinator: coordinator,
		governor:    governor,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/scan", s.handleScan)
	mux.HandleFunc("POST /v1/auto-execute", s.handleAutoExecute)
	mux.HandleFunc("POST /v1/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/kill-switch", s.handleKillSwitch)
	mux.HandleFunc("POST /v1/pnl-limits", s.handlePnLLimits)
	mux.HandleFunc("POST /v1/position-sizing", s.handlePositionSizing)
	mux.HandleFunc("GET /v1/analytics", s.handleAnalytics)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if withMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("Server: listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server: serve failed", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type errorBody struct {
	Status Status `json:"status"`
	Error  string `json:"error"`
}

type governorBody struct {
	Status   Status              `json:"status"`
	Governor model.GovernorState `json:"governor"`
}

type sizingBody struct {
	Status Status             `json:"status"`
	Policy model.SizingPolicy `json:"policy"`
}

type analyticsBody struct {
	Status Status `json:"status"`
	arbitrage.Analytics
}

type killSwitchRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

type pnlLimitsRequest struct {
	SetLimit  *float64 `json:"setLimit,omitempty"`
	UpdatePnL *float64 `json:"updatePnL,omitempty"`
	Reset     bool     `json:"reset,omitempty"`
}

type executeRequest struct {
	Opportunity *model.Opportunity `json:"opportunity"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Server: failed to encode response", "error", err)
	}
}

// writeError maps err onto the envelope. Validation failures are the
// caller's fault; anything else is ours.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if isInvalid(err) {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Status: StatusInvalid, Error: err.Error()})
		return
	}
	s.logger.Error("Server: request failed", "path", r.URL.Path, "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorBody{Status: StatusError, Error: err.Error()})
}

func isInvalid(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	var tooLarge *http.MaxBytesError
	return errors.Is(err, arbitrage.ErrInvalidRequest) ||
		errors.Is(err, risk.ErrInvalidLimit) ||
		errors.Is(err, risk.ErrInvalidPnL) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &syntax) ||
		errors.As(err, &typ) ||
		errors.As(err, &tooLarge)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req arbitrage.ScanRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.coordinator.Scan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAutoExecute(w http.ResponseWriter, r *http.Request) {
	var req arbitrage.AutoExecuteRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.coordinator.AutoExecute(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Opportunity == nil {
		s.writeError(w, r, fmt.Errorf("%w: opportunity is required", arbitrage.ErrInvalidRequest))
		return
	}
	res, err := s.coordinator.Execute(r.Context(), *req.Opportunity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	var (
		st  model.GovernorState
		err error
	)
	switch req.Action {
	case "activate":
		st, err = s.governor.Activate(r.Context(), req.Reason)
	case "deactivate":
		st, err = s.governor.Deactivate(r.Context())
	default:
		err = fmt.Errorf("%w: action must be activate or deactivate, got %q", arbitrage.ErrInvalidRequest, req.Action)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("Server: kill switch updated", "action", req.Action, "active", st.KillSwitchActive)
	s.writeJSON(w, http.StatusOK, governorBody{Status: StatusOK, Governor: st})
}

// handlePnLLimits applies reset, then setLimit, then updatePnL. A request
// with none of them returns the current snapshot.
func (s *Server) handlePnLLimits(w http.ResponseWriter, r *http.Request) {
	var req pnlLimitsRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	st, err := s.governor.Snapshot(ctx)
	if err == nil && req.Reset {
		st, err = s.governor.Reset(ctx)
	}
	if err == nil && req.SetLimit != nil {
		st, err = s.governor.SetLimit(ctx, *req.SetLimit)
	}
	if err == nil && req.UpdatePnL != nil {
		st, err = s.governor.RecordPnL(ctx, *req.UpdatePnL)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	metrics.ObserveGovernor(st)
	s.writeJSON(w, http.StatusOK, governorBody{Status: StatusOK, Governor: st})
}

func (s *Server) handlePositionSizing(w http.ResponseWriter, r *http.Request) {
	var patch arbitrage.SizingPatch
	if err := decode(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.coordinator.UpdateSizing(patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sizingBody{Status: StatusOK, Policy: p})
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.coordinator.Analytics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analyticsBody{Status: StatusOK, Analytics: a})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": StatusOK, "sizing": s.coordinator.SizingPolicy()})
}
