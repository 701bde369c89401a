package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"vinscan/internal/api"
	"vinscan/internal/config"
	"vinscan/internal/history"
	"vinscan/internal/logging"
	"vinscan/internal/services"
	"vinscan/internal/vin"
)

const defaultHistoryLimit = 100

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.upgrader = websocket.Upgrader{CheckOrigin: sameOrigin}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(authMiddleware(token))

	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/devices", s.handleDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/session", s.handleSessionStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/session", s.handleSessionStart).Methods(http.MethodPost)
	r.HandleFunc("/api/session", s.handleSessionStop).Methods(http.MethodDelete)
	r.HandleFunc("/api/session/decode", s.handleDecode).Methods(http.MethodPost)
	r.HandleFunc("/api/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/history/{id:[0-9]+}", s.handleHistoryItem).Methods(http.MethodGet)
	r.HandleFunc("/api/vin", s.handleVIN).Methods(http.MethodPost)
	r.HandleFunc("/api/results/stream", s.handleStream).Methods(http.MethodGet)

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		s.logger.Info("api server disabled", logging.String(logging.FieldEventType, "api_disabled"))
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	payload := api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		LockFilePath:  status.LockFilePath,
		HistoryDBPath: status.HistoryDBPath,
		Watching:      status.Watching,
		Dependencies:  deps,
	}
	if status.Scanner.Session != nil {
		ss := api.FromSessionStatus(*status.Scanner.Session)
		payload.Session = &ss
	}
	if status.Scanner.Last != nil {
		payload.LastResult = api.FromResultEvent(*status.Scanner.Last)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	infos, err := s.daemon.Devices(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DevicesResponse{Devices: api.FromDevices(infos)})
}

func (s *apiServer) handleSessionStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.daemon.Scanner().Status()
	if st.Session == nil {
		s.writeError(w, http.StatusNotFound, "no capture session is running")
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSessionStatus(*st.Session)})
}

func (s *apiServer) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	st, err := s.daemon.Scanner().Start(r.Context(), strings.TrimSpace(req.Device))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.SessionResponse{Session: api.FromSessionStatus(st)})
}

func (s *apiServer) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.daemon.cfg.StopTimeout())
	defer cancel()
	st, err := s.daemon.Scanner().Stop(ctx)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{Session: api.FromSessionStatus(st)})
}

func (s *apiServer) handleDecode(w http.ResponseWriter, r *http.Request) {
	id, err := s.daemon.Scanner().Request(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.DecodeResponse{TaskID: uint64(id)})
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	store := s.daemon.Store()
	if store == nil {
		s.writeJSON(w, http.StatusOK, api.HistoryResponse{Scans: []api.ScanRecord{}})
		return
	}
	query := r.URL.Query()
	opts := history.ListOptions{
		Limit:     defaultHistoryLimit,
		SessionID: strings.TrimSpace(query.Get("session")),
		FoundOnly: query.Get("found") == "1" || strings.EqualFold(query.Get("found"), "true"),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = limit
	}

	scans, err := store.List(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	summary, err := store.Summarize(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{
		Scans:   api.FromScans(scans),
		Summary: api.FromSummary(summary),
	})
}

func (s *apiServer) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	store := s.daemon.Store()
	if store == nil {
		s.writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid scan id")
		return
	}
	scan, err := store.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if scan == nil {
		s.writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.ScanResponse{Scan: api.FromScan(*scan)})
}

func (s *apiServer) handleVIN(w http.ResponseWriter, r *http.Request) {
	var req api.VINRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.writeJSON(w, http.StatusOK, vin.Validate(req.Value))
}

func (s *apiServer) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("stream upgrade failed", logging.Error(err))
		return
	}
	c := s.daemon.hub.AddClient(conn)
	s.logger.Debug("stream client connected", logging.String("remote", r.RemoteAddr))

	go func() {
		defer func() {
			s.daemon.hub.RemoveClient(c)
			s.logger.Debug("stream client disconnected", logging.String("remote", r.RemoteAddr))
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Warn("api request failed",
			logging.Error(err),
			logging.Int("status", status),
			logging.String("path", r.URL.Path),
		)
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: err.Error(), Kind: errorKind(err)})
}

func errorKind(err error) string {
	for _, marker := range []error{
		services.ErrRejected, services.ErrProtocol, services.ErrNotFound,
		services.ErrValidation, services.ErrConfiguration, services.ErrTimeout,
		services.ErrDevice,
	} {
		if errors.Is(err, marker) {
			return marker.Error()
		}
	}
	return ""
}

// sameOrigin accepts non-browser clients and browsers on the daemon's own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://")
	return strings.EqualFold(trimmed, r.Host)
}
