package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"courier/internal/logging"
	"courier/internal/queue"
	"courier/internal/uploader"
)

// APIServer exposes the daemon control surface over HTTP for callers that
// cannot reach the unix socket.
type APIServer struct {
	bind   string
	token  string
	daemon *Daemon
	logger *slog.Logger
	server *http.Server
	addr   string
}

// Addr returns the bound address once Start has succeeded. Useful when
// binding to port 0.
func (s *APIServer) Addr() string { return s.addr }

// NewAPIServer builds the HTTP control server. It does not listen until
// Start is called.
func NewAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &APIServer{
		bind:   bind,
		token:  token,
		daemon: d,
		logger: logging.NewComponentLogger(logger, "api"),
	}
}

// Start begins serving. Listen errors surface here; serve errors after a
// successful bind only get logged.
func (s *APIServer) Start() error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("POST /api/items", bearerAuth(s.token, http.HandlerFunc(s.handleEnqueue)))
	mux.Handle("GET /api/queue", bearerAuth(s.token, http.HandlerFunc(s.handleQueue)))
	mux.Handle("GET /api/progress", bearerAuth(s.token, http.HandlerFunc(s.handleProgress)))
	mux.Handle("GET /api/status", bearerAuth(s.token, http.HandlerFunc(s.handleStatus)))
	mux.Handle("POST /api/queue/retry", bearerAuth(s.token, http.HandlerFunc(s.handleRetry)))
	mux.Handle("POST /api/queue/clear", bearerAuth(s.token, http.HandlerFunc(s.handleClear)))
	mux.Handle("POST /api/queue/resume", bearerAuth(s.token, http.HandlerFunc(s.handleResume)))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = listener.Addr().String()
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", logging.Args(logging.Error(err))...)
		}
	}()
	s.logger.Info("api listening", logging.Args(
		logging.String("bind", listener.Addr().String()),
		logging.Bool("auth", s.token != ""),
	)...)
	return nil
}

// Stop drains the server.
func (s *APIServer) Stop(ctx context.Context) {
	if s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("api shutdown failed", logging.Args(logging.Error(err))...)
	}
}

type enqueueRequest struct {
	Payload    string    `json:"payload"`
	Label      string    `json:"label,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Sequence   int       `json:"sequence,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Device     string    `json:"device,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitzero"`
}

func (s *APIServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payload must be base64")
		return
	}

	view, err := s.daemon.Enqueue(r.Context(), payload, queue.Metadata{
		Label:      req.Label,
		Phase:      req.Phase,
		Sequence:   req.Sequence,
		SessionID:  req.SessionID,
		Device:     req.Device,
		CapturedAt: req.CapturedAt,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, uploader.ErrConfiguration) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

func (s *APIServer) handleQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.daemon.Queue()})
}

func (s *APIServer) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Progress())
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *APIServer) handleRetry(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"reset": s.daemon.RetryFailed()})
}

func (s *APIServer) handleClear(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.daemon.Clear(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *APIServer) handleResume(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": s.daemon.Resume()})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"healthy": true,
		"state":   status.State,
		"pending": status.Progress.Pending,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
