package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/hosts"
)

// HostsResponse lists host records.
type HostsResponse struct {
	Hosts []hosts.Record `json:"hosts"`
	Count int            `json:"count"`
}

// HostsHandler serves the live host registry.
type HostsHandler struct {
	ctrl Controller
}

// NewHostsHandler creates a hosts handler.
func NewHostsHandler(ctrl Controller) *HostsHandler {
	return &HostsHandler{ctrl: ctrl}
}

// List returns every known host in discovery order, optionally only those
// of one bucket.
func (h *HostsHandler) List(w http.ResponseWriter, r *http.Request) {
	bucket, err := getQueryParamInt(r, "bucket", -1)
	if err == nil && r.URL.Query().Has("bucket") && bucket < 0 {
		err = errors.ErrConfigInvalid("bucket", bucket)
	}
	if err != nil {
		writeCodedError(w, r, err)
		return
	}

	all := h.ctrl.Hosts()
	out := make([]hosts.Record, 0, len(all))
	for _, rec := range all {
		if bucket < 0 || rec.Bucket == bucket {
			out = append(out, rec)
		}
	}
	writeJSON(w, r, http.StatusOK, HostsResponse{Hosts: out, Count: len(out)})
}

// Get returns the selection snapshot of one host.
func (h *HostsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sel, err := h.ctrl.Select(mux.Vars(r)["ip"])
	if err != nil {
		writeCodedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sel)
}
