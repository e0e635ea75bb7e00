// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/simulation-engine/internal/config"
	"github.com/atlas-desktop/simulation-engine/internal/data"
	"github.com/atlas-desktop/simulation-engine/internal/engine"
	"github.com/atlas-desktop/simulation-engine/internal/observability"
	"github.com/atlas-desktop/simulation-engine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Run statuses
const (
	StatusRunning    = "running"
	StatusCancelling = "cancelling"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	defaults   *config.Config
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	stopHub    context.CancelFunc
	dataStore  *data.Store
	engines    map[string]engine.Engine
	runs       map[string]*RunState
	stopped    bool
	wg         sync.WaitGroup
}

// RunState tracks a simulation started through the API
type RunState struct {
	ID       string                `json:"id"`
	Engine   string                `json:"engine"`
	Status   string                `json:"status"`
	Started  time.Time             `json:"started"`
	Config   *types.BacktestConfig `json:"config,omitempty"`
	Progress types.Progress        `json:"progress"`
	Result   *types.EngineResult   `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`

	cancel context.CancelFunc
}

// SimulationRequest is the body of a run request. MarketData, when given,
// is used as is; otherwise Symbols are loaded from the data store.
type SimulationRequest struct {
	Strategy   types.StrategyDefinition           `json:"strategy"`
	Config     types.BacktestConfig               `json:"config"`
	Symbols    []string                           `json:"symbols,omitempty"`
	MarketData map[string][]types.MarketDataPoint `json:"marketData,omitempty"`
}

// NewServer creates a new API server. defaults fill unset request fields
// and may be nil.
func NewServer(logger *zap.Logger, cfg *types.ServerConfig, defaults *config.Config, dataStore *data.Store, engines ...engine.Engine) *Server {
	hubCtx, stopHub := context.WithCancel(context.Background())

	server := &Server{
		logger:    logger,
		config:    cfg,
		defaults:  defaults,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		stopHub:   stopHub,
		dataStore: dataStore,
		engines:   make(map[string]engine.Engine, len(engines)),
		runs:      make(map[string]*RunState),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}
	for _, e := range engines {
		server.engines[e.Name()] = e
	}

	go server.hub.Run(hubCtx)

	server.setupRoutes()
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.instrument)

	// Health check
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Data endpoints
	api.HandleFunc("/symbols", s.handleGetSymbols).Methods("GET")
	api.HandleFunc("/symbols/{symbol}/quality", s.handleGetQuality).Methods("GET")

	// Simulation endpoints
	api.HandleFunc("/simulations", s.handleListSimulations).Methods("GET")
	api.HandleFunc("/simulations/{engine}", s.handleRunSimulation).Methods("POST")
	api.HandleFunc("/simulations/{id}", s.handleGetSimulation).Methods("GET")
	api.HandleFunc("/simulations/{id}/cancel", s.handleCancelSimulation).Methods("POST")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", observability.Handler()).Methods("GET")
	}

	// WebSocket
	wsPath := s.config.WebSocketPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	s.router.HandleFunc(wsPath, s.handleWebSocket)
}

// Router returns the HTTP handler without CORS, for embedding and tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting API server", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop cancels running simulations, closes WebSocket clients and shuts the
// server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	for _, state := range s.runs {
		if state.Status == StatusRunning {
			state.cancel()
		}
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.stopHub()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// Wait blocks until every simulation started so far has finished
func (s *Server) Wait() {
	s.wg.Wait()
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.engines))
	for name := range s.engines {
		names = append(names, name)
	}
	sort.Strings(names)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"engines": names,
		"clients": s.hub.ClientCount(),
	})
}

// handleGetSymbols returns available symbols
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols := []string{}
	if s.dataStore != nil {
		symbols = s.dataStore.Symbols()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbols": symbols,
	})
}

// handleGetQuality validates the stored series of a symbol
func (s *Server) handleGetQuality(w http.ResponseWriter, r *http.Request) {
	if s.dataStore == nil {
		writeError(w, http.StatusNotFound, "no data store configured")
		return
	}

	report, err := s.dataStore.Quality(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleRunSimulation starts a simulation on the named engine
func (s *Server) handleRunSimulation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["engine"]
	eng, ok := s.engines[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown engine "+name)
		return
	}

	var req SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg := req.Config
	if s.defaults != nil {
		s.defaults.Apply(&cfg)
	}
	// Generate ID if not provided
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	marketData, err := s.marketData(r.Context(), &req, &cfg)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	state := &RunState{
		ID:      cfg.ID,
		Engine:  name,
		Status:  StatusRunning,
		Started: time.Now(),
		Config:  &cfg,
		cancel:  cancel,
	}

	s.mu.Lock()
	if _, exists := s.runs[cfg.ID]; exists {
		s.mu.Unlock()
		cancel()
		writeError(w, http.StatusConflict, "simulation "+cfg.ID+" already exists")
		return
	}
	s.runs[cfg.ID] = state
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Simulation started",
		zap.String("id", cfg.ID),
		zap.String("engine", name),
		zap.Int("symbols", len(marketData)),
	)

	go s.execute(ctx, eng, state, req.Strategy, marketData, &cfg)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      cfg.ID,
		"engine":  name,
		"status":  StatusRunning,
		"started": state.Started.Unix(),
	})
}

// marketData resolves the price series of a request
func (s *Server) marketData(ctx context.Context, req *SimulationRequest, cfg *types.BacktestConfig) (map[string][]types.MarketDataPoint, error) {
	if len(req.MarketData) > 0 {
		return req.MarketData, nil
	}
	if s.dataStore == nil {
		return nil, fmt.Errorf("%w: no market data in request and no data store configured", engine.ErrNoMarketData)
	}

	symbols := req.Symbols
	if len(symbols) == 0 && cfg.BaseSymbol != "" {
		symbols = []string{cfg.BaseSymbol}
	}
	if len(symbols) == 0 {
		symbols = s.dataStore.Symbols()
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: data store is empty", engine.ErrNoMarketData)
	}

	return s.dataStore.LoadAll(ctx, symbols, cfg.StartDate, cfg.EndDate)
}

// execute runs a simulation to completion and publishes its outcome
func (s *Server) execute(ctx context.Context, eng engine.Engine, state *RunState, def types.StrategyDefinition, marketData map[string][]types.MarketDataPoint, cfg *types.BacktestConfig) {
	defer s.wg.Done()
	defer state.cancel()

	result, err := eng.BacktestWithProgress(ctx, def, marketData, cfg, func(p types.Progress) {
		s.mu.Lock()
		state.Progress = p
		s.mu.Unlock()
		s.hub.BroadcastProgress(p)
	})

	s.mu.Lock()
	switch {
	case err != nil:
		state.Status = StatusFailed
		state.Error = err.Error()
	case cancelled(result):
		state.Status = StatusCancelled
		state.Result = result
	default:
		state.Status = StatusCompleted
		state.Result = result
	}
	event := CompletionEvent{ID: state.ID, Engine: state.Engine, Status: state.Status, Error: state.Error}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Simulation failed", zap.String("id", state.ID), zap.Error(err))
	} else {
		s.logger.Info("Simulation finished", zap.String("id", state.ID), zap.String("status", event.Status))
	}

	s.hub.BroadcastComplete(event)
}

func cancelled(result *types.EngineResult) bool {
	switch {
	case result.MonteCarlo != nil:
		return result.MonteCarlo.Cancelled
	case result.Bootstrap != nil:
		return result.Bootstrap.Cancelled
	}
	return false
}

// handleListSimulations returns every known run without results
func (s *Server) handleListSimulations(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	runs := make([]RunState, 0, len(s.runs))
	for _, state := range s.runs {
		snapshot := *state
		snapshot.Result = nil
		runs = append(runs, snapshot)
	}
	s.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Started.Before(runs[j].Started)
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"simulations": runs,
		"count":       len(runs),
	})
}

// handleGetSimulation returns the state and, once finished, the result of a run
func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.runs[id]
	var snapshot RunState
	if ok {
		snapshot = *state
	}
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Simulation not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// handleCancelSimulation cancels a running simulation. The run keeps the
// trials finished so far.
func (s *Server) handleCancelSimulation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.mu.Lock()
	state, ok := s.runs[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Simulation not found")
		return
	}
	if state.Status != StatusRunning {
		status := state.Status
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "Simulation not running: "+status)
		return
	}
	state.Status = StatusCancelling
	state.cancel()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":     id,
		"status": StatusCancelling,
	})
}

// handleWebSocket handles WebSocket connections
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	s.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go client.WritePump()
	go client.ReadPump()
}

// instrument counts API requests by route template and status code
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		observability.RecordAPIRequest(r.Method, route, strconv.Itoa(rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// statusFor maps a request error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, data.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, data.ErrUnusableData), errors.Is(err, engine.ErrNoMarketData):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
