package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anstrom/livescan/internal/scheduler"
)

// Scheduler is the scheduled scan manager as seen by the API.
type Scheduler interface {
	Jobs() []scheduler.JobStatus
	Trigger(name string) error
	Enable(name string) error
	Disable(name string) error
}

// SchedulesResponse lists scheduled scans.
type SchedulesResponse struct {
	Schedules []scheduler.JobStatus `json:"schedules"`
	Count     int                   `json:"count"`
}

// ScheduleHandler serves scheduled scans.
type ScheduleHandler struct {
	scheduler Scheduler
}

// NewScheduleHandler creates a schedule handler.
func NewScheduleHandler(s Scheduler) *ScheduleHandler {
	return &ScheduleHandler{scheduler: s}
}

// List returns every scheduled scan with its last and next run.
func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.scheduler.Jobs()
	if jobs == nil {
		jobs = []scheduler.JobStatus{}
	}
	writeJSON(w, r, http.StatusOK, SchedulesResponse{Schedules: jobs, Count: len(jobs)})
}

// Trigger runs a scheduled scan now.
func (h *ScheduleHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.scheduler.Trigger)
}

// Enable lets a scheduled scan fire again.
func (h *ScheduleHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.scheduler.Enable)
}

// Disable keeps a scheduled scan from firing.
func (h *ScheduleHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.scheduler.Disable)
}

func (h *ScheduleHandler) apply(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	name := mux.Vars(r)["name"]
	if err := fn(name); err != nil {
		writeCodedError(w, r, err)
		return
	}
	for _, job := range h.scheduler.Jobs() {
		if job.Name == name {
			writeJSON(w, r, http.StatusOK, job)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
