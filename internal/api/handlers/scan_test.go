package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/lifecycle"
)

var testDefaults = lifecycle.Options{
	Threads:   50,
	TimeoutMS: 1000,
	Ranges:    []string{"192.168.0.0/24"},
}

func intPtr(n int) *int { return &n }

func TestStartRequestOptions(t *testing.T) {
	debug := true
	tests := []struct {
		name string
		req  StartRequest
		want lifecycle.Options
	}{
		{
			name: "empty request takes defaults",
			want: lifecycle.Options{Threads: 50, TimeoutMS: 1000, Ranges: []string{"192.168.0.0/24"}},
		},
		{
			name: "fields override defaults",
			req:  StartRequest{Threads: intPtr(8), TimeoutMS: intPtr(250), Ranges: []string{"10.0.0.0/8"}, Debug: &debug},
			want: lifecycle.Options{Threads: 8, TimeoutMS: 250, Ranges: []string{"10.0.0.0/8"}, Debug: true},
		},
		{
			name: "zero values fall back after normalization",
			req:  StartRequest{Threads: intPtr(0), TimeoutMS: intPtr(0)},
			want: lifecycle.Options{Threads: 50, TimeoutMS: 1000, Ranges: []string{"192.168.0.0/24"}},
		},
		{
			name: "explicit empty ranges clear the default",
			req:  StartRequest{Ranges: []string{}},
			want: lifecycle.Options{Threads: 50, TimeoutMS: 1000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.req.Options(testDefaults))
		})
	}
}

func TestScanHandler_Start(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		startErr       error
		expectStart    bool
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "empty body uses defaults",
			expectStart:    true,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "custom options",
			body:           `{"threads": 10, "ranges": ["10.0.0.1-10.0.0.50"], "debug": true}`,
			expectStart:    true,
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "invalid JSON",
			body:           `{"threads": `,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(errors.CodeValidation),
		},
		{
			name:           "unknown field",
			body:           `{"thread": 10}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "threads out of range",
			body:           `{"threads": 100000}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(errors.CodeValidation),
		},
		{
			name:           "no ranges",
			body:           `{"ranges": []}`,
			startErr:       errors.ErrNoRanges(),
			expectStart:    true,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(errors.CodeNoRanges),
		},
		{
			name:           "already running",
			startErr:       errors.NewControlError(errors.CodeAlreadyRunning, "scan already in progress", "scanning"),
			expectStart:    true,
			expectedStatus: http.StatusConflict,
			expectedCode:   string(errors.CodeAlreadyRunning),
		},
		{
			name:           "script missing",
			startErr:       errors.NewProcessError(errors.CodeScriptMissing, "spawn", "script not found"),
			expectStart:    true,
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := (&MockController{}).idle()
			if tt.expectStart {
				ctrl.On("Start", mock.Anything, mock.AnythingOfType("lifecycle.Options")).Return(tt.startErr)
			}
			h := NewScanHandler(ctrl, testDefaults, createTestLogger(), 0)

			rec := serve(http.MethodPost, "/scan/start", "/scan/start", tt.body, h.Start)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedCode != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedCode, resp.Code)
			}
			if !tt.expectStart {
				ctrl.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
			}
			ctrl.AssertExpectations(t)
		})
	}
}

func TestScanHandler_StartPassesMergedOptions(t *testing.T) {
	ctrl := &MockController{}
	want := lifecycle.Options{Threads: 10, TimeoutMS: 1000, Ranges: []string{"10.0.0.0/24"}}
	info := lifecycle.SessionInfo{
		ID:        "7d1c6a52-1d47-4a1f-9a53-2b7c43f0c9a1",
		State:     lifecycle.StateScanning,
		Options:   want,
		StartedAt: time.Now(),
		PID:       4242,
	}
	ctrl.On("Start", mock.Anything, want).Return(nil)
	ctrl.On("State").Return(lifecycle.StateScanning)
	ctrl.On("Session").Return(info, true)
	ctrl.On("Hosts").Return(nilRecords())

	h := NewScanHandler(ctrl, testDefaults, createTestLogger(), 0)
	rec := serve(http.MethodPost, "/scan/start", "/scan/start",
		`{"threads": 10, "ranges": [" 10.0.0.0/24 "]}`, h.Start)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, lifecycle.StateScanning, resp.State)
	require.NotNil(t, resp.Session)
	assert.Equal(t, info.ID, resp.Session.ID)
	assert.Equal(t, 4242, resp.Session.PID)
	ctrl.AssertExpectations(t)
}

func TestScanHandler_Controls(t *testing.T) {
	idle := errors.NewControlError(errors.CodeIdle, "no scan is running", "idle")
	notPaused := errors.NewControlError(errors.CodeInvalidState, "scan is not paused", "scanning")

	tests := []struct {
		name           string
		method         string
		path           string
		err            error
		expectedStatus int
	}{
		{"pause", "Pause", "/scan/pause", nil, http.StatusOK},
		{"pause while idle", "Pause", "/scan/pause", idle, http.StatusConflict},
		{"resume", "Resume", "/scan/resume", nil, http.StatusOK},
		{"resume while scanning", "Resume", "/scan/resume", notPaused, http.StatusConflict},
		{"stop", "Stop", "/scan/stop", nil, http.StatusOK},
		{"stop while idle", "Stop", "/scan/stop", idle, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := (&MockController{}).idle()
			ctrl.On(tt.method).Return(tt.err).Once()
			h := NewScanHandler(ctrl, testDefaults, createTestLogger(), 0)

			handlers := map[string]http.HandlerFunc{"Pause": h.Pause, "Resume": h.Resume, "Stop": h.Stop}
			rec := serve(http.MethodPost, tt.path, tt.path, "", handlers[tt.method])

			assert.Equal(t, tt.expectedStatus, rec.Code)
			ctrl.AssertExpectations(t)
		})
	}
}

func TestScanHandler_Status(t *testing.T) {
	ctrl := &MockController{}
	ctrl.On("State").Return(lifecycle.StatePaused)
	ctrl.On("Session").Return(lifecycle.SessionInfo{ID: "abc", State: lifecycle.StatePaused, Hosts: 2}, true)
	ctrl.On("Hosts").Return(sampleRecords())

	h := NewScanHandler(ctrl, testDefaults, createTestLogger(), 0)
	rec := serve(http.MethodGet, "/scan", "/scan", "", h.Status)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, lifecycle.StatePaused, resp.State)
	assert.Equal(t, len(sampleRecords()), resp.Hosts)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "abc", resp.Session.ID)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		code   errors.ErrorCode
		status int
	}{
		{errors.CodeValidation, http.StatusBadRequest},
		{errors.CodeNoRanges, http.StatusBadRequest},
		{errors.CodeNotFound, http.StatusNotFound},
		{errors.CodeHostUnknown, http.StatusNotFound},
		{errors.CodeAlreadyRunning, http.StatusConflict},
		{errors.CodeIdle, http.StatusConflict},
		{errors.CodeInvalidState, http.StatusConflict},
		{errors.CodeNoSuchProcess, http.StatusConflict},
		{errors.CodeDatabaseConnection, http.StatusServiceUnavailable},
		{errors.CodeSpawnFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := errors.NewControlError(tt.code, "failure", "")
			assert.Equal(t, tt.status, statusForError(err))
		})
	}
}
