// Package v1 provides the student state endpoints.
package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"k8s.io/utils/clock"

	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/api/common"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/history"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/student"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/sync/coordinator"
	"github.com/pcartwright81/Home-Assistant-Here-Comes-The-Bus/internal/views"
)

// MaxHistoryLimit caps the history page size
const MaxHistoryLimit = 500

// StudentReader reads student records
type StudentReader interface {
	List() []*student.Record
	Get(id string) (*student.Record, bool)
}

// Refresher runs a tick on demand
type Refresher interface {
	Tick(ctx context.Context, now time.Time) ([]string, error)
}

// HistoryReader lists recorded segment arrivals
type HistoryReader interface {
	List(ctx context.Context, studentID string, limit int) ([]history.Entry, error)
}

// StudentListResponse is the body of GET /students
type StudentListResponse struct {
	Students []*student.Record `json:"students"`
	Count    int               `json:"count"`
}

// HistoryResponse is the body of GET /students/{id}/history
type HistoryResponse struct {
	StudentID string          `json:"student_id"`
	Entries   []history.Entry `json:"entries"`
}

// RefreshResponse is the body of POST /refresh
type RefreshResponse struct {
	Updated []string `json:"updated"`
}

// Option configures the routes
type Option func(*Routes)

// WithHistory enables the history endpoint
func WithHistory(h HistoryReader) Option {
	return func(rr *Routes) {
		rr.history = h
	}
}

// WithClock sets the clock used for on-demand ticks
func WithClock(clk clock.PassiveClock) Option {
	return func(rr *Routes) {
		rr.clock = clk
	}
}

// Routes holds the handler dependencies
type Routes struct {
	students  StudentReader
	refresher Refresher
	history   HistoryReader
	clock     clock.PassiveClock
}

// NewRoutes creates a new Routes instance
func NewRoutes(students StudentReader, refresher Refresher, opts ...Option) *Routes {
	rr := &Routes{
		students:  students,
		refresher: refresher,
		clock:     clock.RealClock{},
	}
	for _, opt := range opts {
		opt(rr)
	}
	return rr
}

// Router creates the router for the v1 API
func Router(students StudentReader, refresher Refresher, opts ...Option) http.Handler {
	routes := NewRoutes(students, refresher, opts...)

	r := chi.NewRouter()
	r.Get("/students", routes.listStudents)
	r.Route("/students/{id}", func(r chi.Router) {
		r.Get("/", routes.getStudent)
		r.Get("/entities", routes.getEntities)
		if routes.history != nil {
			r.Get("/history", routes.getHistory)
		}
	})
	r.Post("/refresh", routes.refresh)

	return r
}

func (rr *Routes) listStudents(w http.ResponseWriter, _ *http.Request) {
	records := rr.students.List()
	common.WriteJSONResponse(w, StudentListResponse{Students: records, Count: len(records)}, http.StatusOK)
}

func (rr *Routes) getStudent(w http.ResponseWriter, r *http.Request) {
	rec, ok := rr.lookup(w, r)
	if !ok {
		return
	}
	common.WriteJSONResponse(w, rec, http.StatusOK)
}

func (rr *Routes) getEntities(w http.ResponseWriter, r *http.Request) {
	rec, ok := rr.lookup(w, r)
	if !ok {
		return
	}
	common.WriteJSONResponse(w, views.Build(rec), http.StatusOK)
}

func (rr *Routes) getHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := rr.lookup(w, r)
	if !ok {
		return
	}

	limit, err := common.QueryLimit(r, history.DefaultListLimit, MaxHistoryLimit)
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := rr.history.List(r.Context(), rec.StudentID, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list history", "student", rec.StudentID, "error", err)
		common.WriteErrorResponse(w, "failed to list history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	common.WriteJSONResponse(w, HistoryResponse{StudentID: rec.StudentID, Entries: entries}, http.StatusOK)
}

func (rr *Routes) refresh(w http.ResponseWriter, r *http.Request) {
	updated, err := rr.refresher.Tick(r.Context(), rr.clock.Now())
	switch {
	case errors.Is(err, coordinator.ErrTickInProgress):
		common.WriteErrorResponse(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		slog.WarnContext(r.Context(), "On-demand tick failed", "error", err)
		common.WriteErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if updated == nil {
		updated = []string{}
	}
	common.WriteJSONResponse(w, RefreshResponse{Updated: updated}, http.StatusOK)
}

func (rr *Routes) lookup(w http.ResponseWriter, r *http.Request) (*student.Record, bool) {
	id, err := common.PathParam(r, "id")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	rec, ok := rr.students.Get(id)
	if !ok {
		common.WriteErrorResponse(w, "student not found", http.StatusNotFound)
		return nil, false
	}
	return rec, true
}
