package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/mock"

	"github.com/anstrom/livescan/internal/db"
	"github.com/anstrom/livescan/internal/hosts"
	"github.com/anstrom/livescan/internal/lifecycle"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/scheduler"
)

// MockController is a mock implementation of the lifecycle controller.
type MockController struct {
	mock.Mock
}

func (m *MockController) Start(ctx context.Context, opts lifecycle.Options) error {
	return m.Called(ctx, opts).Error(0)
}

func (m *MockController) Pause() error  { return m.Called().Error(0) }
func (m *MockController) Resume() error { return m.Called().Error(0) }
func (m *MockController) Stop() error   { return m.Called().Error(0) }

func (m *MockController) State() lifecycle.State {
	return m.Called().Get(0).(lifecycle.State)
}

func (m *MockController) Session() (lifecycle.SessionInfo, bool) {
	args := m.Called()
	return args.Get(0).(lifecycle.SessionInfo), args.Bool(1)
}

func (m *MockController) Hosts() []hosts.Record {
	return m.Called().Get(0).([]hosts.Record)
}

func (m *MockController) Select(ip string) (hosts.Selection, error) {
	args := m.Called(ip)
	return args.Get(0).(hosts.Selection), args.Error(1)
}

// idle sets the status expectations of a controller with no session.
func (m *MockController) idle(records ...hosts.Record) *MockController {
	m.On("State").Return(lifecycle.StateIdle).Maybe()
	m.On("Session").Return(lifecycle.SessionInfo{State: lifecycle.StateIdle}, false).Maybe()
	m.On("Hosts").Return(records).Maybe()
	return m
}

// MockSessionStore is a mock implementation of the session repository.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Get(ctx context.Context, id string) (*db.SessionRow, error) {
	args := m.Called(ctx, id)
	row, _ := args.Get(0).(*db.SessionRow)
	return row, args.Error(1)
}

func (m *MockSessionStore) List(ctx context.Context, limit int) ([]*db.SessionRow, error) {
	args := m.Called(ctx, limit)
	rows, _ := args.Get(0).([]*db.SessionRow)
	return rows, args.Error(1)
}

// MockHostStore is a mock implementation of the host repository.
type MockHostStore struct {
	mock.Mock
}

func (m *MockHostStore) ListBySession(ctx context.Context, sessionID string) ([]*db.HostRow, error) {
	args := m.Called(ctx, sessionID)
	rows, _ := args.Get(0).([]*db.HostRow)
	return rows, args.Error(1)
}

// MockScheduler is a mock implementation of the scheduled scan manager.
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) Jobs() []scheduler.JobStatus {
	jobs, _ := m.Called().Get(0).([]scheduler.JobStatus)
	return jobs
}

func (m *MockScheduler) Trigger(name string) error { return m.Called(name).Error(0) }
func (m *MockScheduler) Enable(name string) error  { return m.Called(name).Error(0) }
func (m *MockScheduler) Disable(name string) error { return m.Called(name).Error(0) }

// MockPinger is a mock implementation of a database ping.
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) PingContext(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func createTestLogger() *logging.Logger {
	return logging.NewWithWriter(logging.DefaultConfig(), &bytes.Buffer{})
}

// serve routes one request through a router holding a single route.
func serve(method, pattern, target, body string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	router := mux.NewRouter()
	router.HandleFunc(pattern, handler).Methods(method)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
