// Package messaging carries requests from CLI invocations to the daemon over a
// localhost-only HTTP channel. It has no authentication in this mode.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gotrack/flush"
	"gotrack/internal/timeutil"
	"gotrack/tracking"
	"gotrack/worklog"
)

type Flusher interface {
	FlushAll(ctx context.Context) (flush.Report, error)
}

type Tracker interface {
	Current(ctx context.Context) (worklog.Tracking, error)
	Tick(ctx context.Context, now time.Time) (*tracking.Gap, error)
}

type Lister interface {
	List(ctx context.Context, from, to time.Time) ([]worklog.Entry, error)
}

// Services are the daemon components reachable over the channel.
type Services struct {
	Flusher  Flusher
	Tracker  Tracker
	Worklogs Lister
	Holder   string
	Location *time.Location
	Now      func() time.Time
	Logger   *slog.Logger
}

type HealthResponse struct {
	Status string `json:"status"`
	PID    int    `json:"pid"`
	Holder string `json:"holder,omitempty"`
}

type FlushResponse struct {
	Skipped bool     `json:"skipped"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Denied  int      `json:"denied"`
	Errors  []string `json:"errors,omitempty"`
}

type GapView struct {
	Issue          worklog.Issue `json:"issue"`
	Start          time.Time     `json:"start"`
	LastHeartbeat  time.Time     `json:"lastHeartbeat"`
	FirstHeartbeat time.Time     `json:"firstHeartbeat"`
}

type TickResponse struct {
	Gap *GapView `json:"gap,omitempty"`
}

type TrackingResponse struct {
	State    string           `json:"state"`
	Tracking worklog.Tracking `json:"tracking"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	services Services
	mux      *http.ServeMux
}

func NewServer(services Services) http.Handler {
	if services.Now == nil {
		services.Now = time.Now
	}
	if services.Location == nil {
		services.Location = time.Local
	}
	if services.Logger == nil {
		services.Logger = slog.Default()
	}
	server := &Server{services: services}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", server.handleHealth)
	mux.HandleFunc("POST /api/flush", server.handleFlush)
	mux.HandleFunc("POST /api/tick", server.handleTick)
	mux.HandleFunc("GET /api/tracking", server.handleTracking)
	mux.HandleFunc("GET /api/worklogs", server.handleWorklogs)
	server.mux = mux

	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", PID: os.Getpid(), Holder: s.services.Holder})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if s.services.Flusher == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("flush is not available"))
		return
	}
	// The run outlives a caller that stops waiting for the reply.
	report, err := s.services.Flusher.FlushAll(context.WithoutCancel(r.Context()))
	if err != nil {
		s.services.Logger.Warn("flush request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, NewFlushResponse(report))
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if s.services.Tracker == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("tracking is not available"))
		return
	}
	gap, err := s.services.Tracker.Tick(r.Context(), s.services.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	response := TickResponse{}
	if gap != nil {
		response.Gap = &GapView{
			Issue:          gap.Issue,
			Start:          gap.Start,
			LastHeartbeat:  gap.LastHeartbeat,
			FirstHeartbeat: gap.FirstHeartbeat,
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	if s.services.Tracker == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("tracking is not available"))
		return
	}
	current, err := s.services.Tracker.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, TrackingResponse{State: current.State().String(), Tracking: current})
}

func (s *Server) handleWorklogs(w http.ResponseWriter, r *http.Request) {
	if s.services.Worklogs == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("worklog list is not available"))
		return
	}
	from, to, err := s.parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entries, err := s.services.Worklogs.List(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []worklog.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseRange reads from/to days; to is inclusive. Both default to the current week.
func (s *Server) parseRange(r *http.Request) (time.Time, time.Time, error) {
	from, to := timeutil.WeekRange(s.services.Now().In(s.services.Location))
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := timeutil.ParseDay(raw, s.services.Location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := timeutil.ParseDay(raw, s.services.Location)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid range: to must not be before from")
	}
	return from, to, nil
}

// NewFlushResponse summarizes report for the wire.
func NewFlushResponse(report flush.Report) FlushResponse {
	response := FlushResponse{
		Skipped: report.Skipped,
		Synced:  report.Synced,
		Failed:  report.Failed(),
		Denied:  report.Denied,
	}
	for _, failure := range report.Failures {
		response.Errors = append(response.Errors, fmt.Sprintf("%s: %v", failure.Key, failure.Err))
	}
	return response
}

func decodeJSON(r io.Reader, out any) error {
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
