package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/hosts"
	"github.com/anstrom/livescan/internal/lifecycle"
	"github.com/anstrom/livescan/internal/logging"
)

// Controller is the lifecycle controller as seen by the API.
type Controller interface {
	Start(ctx context.Context, opts lifecycle.Options) error
	Pause() error
	Resume() error
	Stop() error
	State() lifecycle.State
	Session() (lifecycle.SessionInfo, bool)
	Hosts() []hosts.Record
	Select(ip string) (hosts.Selection, error)
}

// StartRequest carries the options of a start request. Missing fields take
// the configured defaults.
type StartRequest struct {
	Threads   *int     `json:"threads" validate:"omitempty,gte=0,lte=10000"`
	TimeoutMS *int     `json:"timeout_ms" validate:"omitempty,gte=0,lte=600000"`
	Ranges    []string `json:"ranges" validate:"omitempty,max=64,dive,required,max=128"`
	Debug     *bool    `json:"debug"`
}

// Options merges the request over defaults.
func (req StartRequest) Options(defaults lifecycle.Options) lifecycle.Options {
	opts := lifecycle.Options{
		Threads:   defaults.Threads,
		TimeoutMS: defaults.TimeoutMS,
		Ranges:    append([]string(nil), defaults.Ranges...),
		Debug:     defaults.Debug,
	}
	if req.Threads != nil {
		opts.Threads = *req.Threads
	}
	if req.TimeoutMS != nil {
		opts.TimeoutMS = *req.TimeoutMS
	}
	if req.Ranges != nil {
		opts.Ranges = append([]string(nil), req.Ranges...)
	}
	if req.Debug != nil {
		opts.Debug = *req.Debug
	}
	return opts.Normalize()
}

// StatusResponse reports the controller state.
type StatusResponse struct {
	State     lifecycle.State        `json:"state"`
	Session   *lifecycle.SessionInfo `json:"session,omitempty"`
	Hosts     int                    `json:"hosts"`
	Timestamp time.Time              `json:"timestamp"`
}

// ScanHandler maps the control endpoints to controller operations.
type ScanHandler struct {
	ctrl     Controller
	defaults lifecycle.Options
	validate *validator.Validate
	logger   *logging.Logger
	maxBody  int64
}

// NewScanHandler creates a scan handler. defaults fill fields a start
// request leaves out.
func NewScanHandler(ctrl Controller, defaults lifecycle.Options, logger *logging.Logger,
	maxBody int64) *ScanHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ScanHandler{
		ctrl:     ctrl,
		defaults: defaults,
		validate: validator.New(),
		logger:   logger.WithComponent("api.scan"),
		maxBody:  maxBody,
	}
}

func (h *ScanHandler) status() StatusResponse {
	resp := StatusResponse{
		State:     h.ctrl.State(),
		Hosts:     len(h.ctrl.Hosts()),
		Timestamp: time.Now().UTC(),
	}
	if info, ok := h.ctrl.Session(); ok {
		resp.State = info.State
		resp.Session = &info
	}
	return resp
}

// Status returns the state, the current session and the host count.
func (h *ScanHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.status())
}

// Start begins a session, or resumes a paused one.
func (h *ScanHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if _, err := parseJSON(w, r, &req, h.maxBody); err != nil {
		writeCodedError(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeCodedError(w, r, validationError(err))
		return
	}

	opts := req.Options(h.defaults)
	if err := h.ctrl.Start(r.Context(), opts); err != nil {
		h.logger.Warn("Start request rejected", "error", err, "ranges", opts.Ranges)
		writeCodedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, h.status())
}

// Pause suspends the running session.
func (h *ScanHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "pause", h.ctrl.Pause)
}

// Resume continues the paused session.
func (h *ScanHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "resume", h.ctrl.Resume)
}

// Stop terminates the session.
func (h *ScanHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, "stop", h.ctrl.Stop)
}

func (h *ScanHandler) control(w http.ResponseWriter, r *http.Request, op string, fn func() error) {
	if err := fn(); err != nil {
		h.logger.Debug("Control request rejected", "op", op, "error", err)
		writeCodedError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, h.status())
}

// validationError reports the first failed field of a request.
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("%s failed on the '%s' rule", fe.Field(), fe.Tag()), fe.Field(), fe.Value())
	}
	return errors.WrapConfigError(errors.CodeValidation, "invalid request", err)
}
