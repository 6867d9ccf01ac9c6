package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/livescan/internal/lifecycle"
)

func TestHealthHandler_Liveness(t *testing.T) {
	h := NewHealthHandler((&MockController{}).idle(), nil, "test")

	rec := serve(http.MethodGet, "/liveness", "/liveness", "", h.Liveness)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "alive"}`, rec.Body.String())
}

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name           string
		setupDB        func() *MockPinger
		expectedStatus int
		expectedHealth string
		expectedCheck  string
	}{
		{
			name:           "no database",
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
		},
		{
			name: "database reachable",
			setupDB: func() *MockPinger {
				db := &MockPinger{}
				db.On("PingContext", mock.Anything).Return(nil)
				return db
			},
			expectedStatus: http.StatusOK,
			expectedHealth: "healthy",
			expectedCheck:  "ok",
		},
		{
			name: "database down",
			setupDB: func() *MockPinger {
				db := &MockPinger{}
				db.On("PingContext", mock.Anything).Return(fmt.Errorf("connection refused"))
				return db
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedHealth: "unhealthy",
			expectedCheck:  "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h *HealthHandler
			var db *MockPinger
			if tt.setupDB != nil {
				db = tt.setupDB()
				h = NewHealthHandler((&MockController{}).idle(), db, "1.0.0")
			} else {
				h = NewHealthHandler((&MockController{}).idle(), nil, "1.0.0")
			}

			rec := serve(http.MethodGet, "/health", "/health", "", h.Health)

			require.Equal(t, tt.expectedStatus, rec.Code)
			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedHealth, resp.Status)
			assert.Equal(t, lifecycle.StateIdle, resp.State)
			assert.Equal(t, "1.0.0", resp.Version)
			if tt.expectedCheck != "" {
				assert.Equal(t, tt.expectedCheck, resp.Checks["database"])
			}
			if db != nil {
				db.AssertExpectations(t)
			}
		})
	}
}
