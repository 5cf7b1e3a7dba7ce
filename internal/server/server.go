package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"eyeline/internal/pipeline"
	"eyeline/internal/storage"
)

// Server exposes job submission and job history over HTTP.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	hub      *Hub
	log      *slog.Logger
	server   *http.Server
}

// JobRequest is the POST /jobs body.
type JobRequest struct {
	Type      pipeline.JobType `json:"type"`
	InputPath string           `json:"input_path"`
	Output    string           `json:"output"`
	Options   map[string]any   `json:"options"`
}

// Event is one finished job as published on /stream and /ws.
type Event struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// NewEvent converts a pipeline result for publishing.
func NewEvent(res pipeline.Result) Event {
	ev := Event{ID: res.Job.ID, Type: string(res.Job.Type), Status: "completed", Meta: res.Meta}
	if res.Error != nil {
		ev.Status = "failed"
		ev.Error = res.Error.Error()
	}
	return ev
}

func NewServer(addr string, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		hub:      NewHub(log),
		log:      log,
	}
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.relay(ctx)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.log.Info("Shutting down server...")
		s.hub.Close()

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("Server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/jobs/{id}", s.handleJob).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.ServeWS).Methods("GET")
	return r
}

// relay subscribes to the pipeline and forwards results to websocket
// clients until ctx is done.
func (s *Server) relay(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-resCh:
				if !ok {
					return
				}
				s.hub.Broadcast(NewEvent(res))
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.store.RecentJobs(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []storage.JobRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.Job(id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		storage.JobRecord
		Meta map[string]any `json:"meta,omitempty"`
	}{JobRecord: rec}
	if meta, err := s.store.JobMeta(id); err == nil {
		resp.Meta = meta
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid job request: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Type {
	case pipeline.JobStabilize, pipeline.JobDetect:
	default:
		http.Error(w, "unknown job type: "+string(req.Type), http.StatusBadRequest)
		return
	}
	if req.InputPath == "" {
		http.Error(w, "input_path is required", http.StatusBadRequest)
		return
	}

	job := pipeline.Job{
		ID:        uuid.NewString(),
		Type:      req.Type,
		InputPath: req.InputPath,
		Output:    req.Output,
		Options:   req.Options,
	}
	if err := s.pipeline.Submit(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.log.Info("job accepted", "id", job.ID, "type", job.Type, "input", job.InputPath)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			payload, _ := json.Marshal(NewEvent(res))
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
