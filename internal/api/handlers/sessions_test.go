package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/livescan/internal/db"
	"github.com/anstrom/livescan/internal/errors"
)

func sampleSession(id string) *db.SessionRow {
	outcome := "completed"
	finished := time.Date(2026, 1, 2, 4, 0, 0, 0, time.UTC)
	return &db.SessionRow{
		ID:         id,
		Ranges:     []string{"192.168.0.0/24"},
		Threads:    50,
		TimeoutMS:  1000,
		StartedAt:  time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
		Outcome:    &outcome,
		HostCount:  2,
	}
}

func TestSessionsHandler_List(t *testing.T) {
	tests := []struct {
		name           string
		target         string
		limit          int
		rows           []*db.SessionRow
		err            error
		expectedStatus int
		expectedCount  int
	}{
		{
			name:           "default limit",
			target:         "/sessions",
			limit:          defaultSessionLimit,
			rows:           []*db.SessionRow{sampleSession(uuid.NewString()), sampleSession(uuid.NewString())},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:           "explicit limit with no rows",
			target:         "/sessions?limit=5",
			limit:          5,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "limit too large",
			target:         "/sessions?limit=10000",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "limit zero",
			target:         "/sessions?limit=0",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "database unavailable",
			target:         "/sessions",
			limit:          defaultSessionLimit,
			err:            errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error"),
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockSessionStore{}
			if tt.limit > 0 {
				store.On("List", mock.Anything, tt.limit).Return(tt.rows, tt.err)
			}
			h := NewSessionsHandler(store, &MockHostStore{}, createTestLogger())

			rec := serve(http.MethodGet, "/sessions", tt.target, "", h.List)

			require.Equal(t, tt.expectedStatus, rec.Code)
			if rec.Code == http.StatusOK {
				var resp SessionsResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedCount, resp.Count)
				assert.NotNil(t, resp.Sessions)
			}
			store.AssertExpectations(t)
		})
	}
}

func TestSessionsHandler_Get(t *testing.T) {
	id := uuid.NewString()
	missing := uuid.NewString()

	store := &MockSessionStore{}
	store.On("Get", mock.Anything, id).Return(sampleSession(id), nil)
	store.On("Get", mock.Anything, missing).Return(nil, errors.NewDatabaseError(errors.CodeNotFound, "Resource not found"))
	h := NewSessionsHandler(store, &MockHostStore{}, createTestLogger())

	rec := serve(http.MethodGet, "/sessions/{id}", "/sessions/"+id, "", h.Get)
	require.Equal(t, http.StatusOK, rec.Code)
	var row db.SessionRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))
	assert.Equal(t, id, row.ID)
	require.NotNil(t, row.Outcome)
	assert.Equal(t, "completed", *row.Outcome)

	rec = serve(http.MethodGet, "/sessions/{id}", "/sessions/"+missing, "", h.Get)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(http.MethodGet, "/sessions/{id}", "/sessions/not-a-uuid", "", h.Get)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	store.AssertExpectations(t)
}

func TestSessionsHandler_Hosts(t *testing.T) {
	id := uuid.NewString()
	seen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	store := &MockSessionStore{}
	store.On("Get", mock.Anything, id).Return(sampleSession(id), nil)
	hostStore := &MockHostStore{}
	hostStore.On("ListBySession", mock.Anything, id).Return([]*db.HostRow{
		{SessionID: id, IP: "192.168.0.10", Alive: true,
			Hostname: sql.NullString{String: "nas", Valid: true}, FirstSeen: seen, LastSeen: seen},
		{SessionID: id, IP: "192.168.0.11", Alive: false, FirstSeen: seen, LastSeen: seen},
	}, nil)
	h := NewSessionsHandler(store, hostStore, createTestLogger())

	rec := serve(http.MethodGet, "/sessions/{id}/hosts", "/sessions/"+id+"/hosts", "", h.Hosts)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HostsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	name, ok := resp.Hosts[0].Hostname.Get()
	assert.True(t, ok)
	assert.Equal(t, "nas", name)
	assert.True(t, resp.Hosts[1].Hostname.IsAbsent())

	store.AssertExpectations(t)
	hostStore.AssertExpectations(t)
}

func TestSessionsHandler_HostsUnknownSession(t *testing.T) {
	id := uuid.NewString()
	store := &MockSessionStore{}
	store.On("Get", mock.Anything, id).Return(nil, errors.NewDatabaseError(errors.CodeNotFound, "Resource not found"))
	hostStore := &MockHostStore{}
	h := NewSessionsHandler(store, hostStore, createTestLogger())

	rec := serve(http.MethodGet, "/sessions/{id}/hosts", "/sessions/"+id+"/hosts", "", h.Hosts)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	hostStore.AssertNotCalled(t, "ListBySession", mock.Anything, mock.Anything)
}
