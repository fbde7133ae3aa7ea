package admin

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"sheetbatch"
)

// Logger defines the logging interface.
type Logger interface {
	Printf(format string, v ...any)
}

type defaultLogger struct{}

func (l *defaultLogger) Printf(format string, v ...any) {
	log.Printf("[Admin] "+format, v...)
}

// Server exposes the engine's state over HTTP as JSON. It is read-only
// except for flushing; bind it to an internal address.
type Server struct {
	addr   string
	engine *sheetbatch.Engine
	events *EventStore
	logger Logger

	httpServer *http.Server
}

// ServerOption is a function that configures the Server.
type ServerOption func(*Server)

// WithAddr sets the listen address. Defaults to ":8080".
func WithAddr(addr string) ServerOption {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithEngine sets the engine the server reports on.
func WithEngine(e *sheetbatch.Engine) ServerOption {
	return func(s *Server) {
		s.engine = e
	}
}

// WithEventStore sets the event log the server serves.
func WithEventStore(es *EventStore) ServerOption {
	return func(s *Server) {
		s.events = es
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(l Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new admin server with the given options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		addr:   ":8080",
		logger: &defaultLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/transactions", s.handleTransactions)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/flush", s.handleFlush)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	return s
}

// Handler returns the HTTP handler. Useful for mounting the API under
// an existing server or for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until it shuts down.
func (s *Server) Start() error {
	s.logger.Printf("listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Printf("shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// statsResponse aggregates the stats of every engine component.
type statsResponse struct {
	Batcher      sheetbatch.BatcherStats   `json:"batcher"`
	Transactions sheetbatch.TxManagerStats `json:"transactions"`
	Sweeper      sweeperStats              `json:"sweeper"`
	Window       windowStats               `json:"window"`
}

type sweeperStats struct {
	ReapedCount  int64 `json:"reaped_count"`
	ExpiredCount int64 `json:"expired_count"`
	ErrorCount   int64 `json:"error_count"`
	IsRunning    bool  `json:"is_running"`
}

type windowStats struct {
	Current string `json:"current"`
	Average string `json:"average"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "no engine configured", http.StatusServiceUnavailable)
		return
	}

	ws := s.engine.Sweeper().Stats()
	window := s.engine.Batcher().Window()
	writeJSON(w, http.StatusOK, statsResponse{
		Batcher:      s.engine.Batcher().Stats(),
		Transactions: s.engine.Transactions().Stats(),
		Sweeper: sweeperStats{
			ReapedCount:  ws.ReapedCount,
			ExpiredCount: ws.ExpiredCount,
			ErrorCount:   ws.ErrorCount,
			IsRunning:    ws.IsRunning,
		},
		Window: windowStats{
			Current: window.Current().String(),
			Average: window.Average().String(),
		},
	})
}

// transactionSummary is the list form of an active transaction.
type transactionSummary struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	Isolation string    `json:"isolation"`
	OpCount   int       `json:"op_count"`
	StartTime time.Time `json:"start_time"`
	IdleFor   string    `json:"idle_for"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "no engine configured", http.StatusServiceUnavailable)
		return
	}

	active := s.engine.Transactions().ActiveTransactions()
	summaries := make([]transactionSummary, 0, len(active))
	for _, tx := range active {
		summaries = append(summaries, transactionSummary{
			ID:        tx.ID(),
			Target:    tx.Target(),
			Status:    string(tx.Status()),
			Isolation: string(tx.Isolation()),
			OpCount:   tx.OpCount(),
			StartTime: tx.StartTime(),
			IdleFor:   tx.IdleFor().String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":        len(summaries),
		"transactions": summaries,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "no event store configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	filter := EventFilter{
		Type:   q.Get("type"),
		TxID:   q.Get("tx_id"),
		Target: q.Get("target"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":  s.events.Count(filter),
		"events": s.events.List(filter),
	})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "no engine configured", http.StatusServiceUnavailable)
		return
	}

	if err := s.engine.FlushAll(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "flushed"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
