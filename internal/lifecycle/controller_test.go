package lifecycle

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/livescan/internal/dispatch"
	"github.com/anstrom/livescan/internal/errors"
	"github.com/anstrom/livescan/internal/logging"
	"github.com/anstrom/livescan/internal/supervisor"
	"github.com/anstrom/livescan/internal/supervisor/mocks"
)

var (
	exitOK      = supervisor.ExitStatus{Code: 0}
	exitFailed  = supervisor.ExitStatus{Code: 2}
	exitSIGTERM = supervisor.ExitStatus{Code: -1, Signaled: true, Signal: "SIGTERM"}
)

// fakeProcess is a scan process whose output and exit are driven by the test.
type fakeProcess struct {
	pid    int
	outR   *io.PipeReader
	outW   *io.PipeWriter
	errR   *io.PipeReader
	errW   *io.PipeWriter
	done   chan struct{}
	once   sync.Once
	status supervisor.ExitStatus
}

func newFakeProcess(pid int) *fakeProcess {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	return &fakeProcess{pid: pid, outR: outR, outW: outW, errR: errR, errW: errW, done: make(chan struct{})}
}

func (f *fakeProcess) PID() int              { return f.pid }
func (f *fakeProcess) Stdout() io.ReadCloser { return f.outR }
func (f *fakeProcess) Stderr() io.ReadCloser { return f.errR }
func (f *fakeProcess) Done() <-chan struct{} { return f.done }
func (f *fakeProcess) Paused() bool          { return false }

func (f *fakeProcess) Alive() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

func (f *fakeProcess) ExitStatus() supervisor.ExitStatus {
	<-f.done
	return f.status
}

// stdout writes lines to the process output. Writes to a stream nobody
// reads any more are dropped.
func (f *fakeProcess) stdout(lines ...string) {
	for _, l := range lines {
		_, _ = io.WriteString(f.outW, l+"\n")
	}
}

func (f *fakeProcess) stderr(lines ...string) {
	for _, l := range lines {
		_, _ = io.WriteString(f.errW, l+"\n")
	}
}

func (f *fakeProcess) exit(status supervisor.ExitStatus) {
	f.once.Do(func() {
		f.status = status
		_ = f.outW.Close()
		_ = f.errW.Close()
		close(f.done)
	})
}

// eventLog records every published event.
type eventLog struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (l *eventLog) Publish(e dispatch.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []dispatch.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dispatch.Event(nil), l.events...)
}

func (l *eventLog) logs() []dispatch.LogEntry {
	var out []dispatch.LogEntry
	for _, e := range l.all() {
		if e.Type == dispatch.EventLog {
			out = append(out, *e.Log)
		}
	}
	return out
}

func (l *eventLog) hasLog(level dispatch.Level, prefix string) bool {
	for _, entry := range l.logs() {
		if entry.Level == level && strings.HasPrefix(entry.Message, prefix) {
			return true
		}
	}
	return false
}

func (l *eventLog) states() []string {
	var out []string
	for _, e := range l.all() {
		if e.Type == dispatch.EventState {
			out = append(out, e.State)
		}
	}
	return out
}

func (l *eventLog) rows() []dispatch.Row {
	var out []dispatch.Row
	for _, e := range l.all() {
		if e.Type == dispatch.EventRowUpsert {
			out = append(out, *e.Row)
		}
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type harness struct {
	t      *testing.T
	sup    *mocks.MockSupervisor
	events *eventLog
	c      *Controller

	mu    sync.Mutex
	procs []*fakeProcess
	cmds  []supervisor.Command
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	sup := mocks.NewMockSupervisor(ctrl)
	events := &eventLog{}

	logger := logging.NewWithWriter(logging.Config{Level: logging.LevelDebug}, io.Discard)
	c := NewController(Config{
		Launcher:          "bash",
		Script:            "scan_subnets_enhanced.sh",
		ReaderJoinTimeout: 100 * time.Millisecond,
		ExitJoinTimeout:   time.Second,
	}, Deps{
		Supervisor: sup,
		Bridge:     dispatch.NewBridge(events),
		Logger:     logger,
	})
	ids := 0
	c.newID = func() string {
		ids++
		return fmt.Sprintf("session-%d", ids)
	}

	h := &harness{t: t, sup: sup, events: events, c: c}

	sup.EXPECT().Wait(gomock.Any()).DoAndReturn(func(p supervisor.Process) supervisor.ExitStatus {
		<-p.Done()
		return p.ExitStatus()
	}).AnyTimes()

	t.Cleanup(func() {
		h.mu.Lock()
		procs := append([]*fakeProcess(nil), h.procs...)
		h.mu.Unlock()
		for _, p := range procs {
			p.exit(exitSIGTERM)
		}
		sup.EXPECT().Stop(gomock.Any()).AnyTimes()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, c.Shutdown(ctx))
	})
	return h
}

// expectSpawn makes the next Spawn call succeed with a new fake process.
func (h *harness) expectSpawn() *fakeProcess {
	h.mu.Lock()
	p := newFakeProcess(1000 + len(h.procs))
	h.procs = append(h.procs, p)
	h.mu.Unlock()

	h.sup.EXPECT().Spawn(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, cmd supervisor.Command) (supervisor.Process, error) {
			h.mu.Lock()
			h.cmds = append(h.cmds, cmd)
			h.mu.Unlock()
			return p, nil
		})
	return p
}

// expectStop makes the next Stop call terminate p.
func (h *harness) expectStop(p *fakeProcess) *gomock.Call {
	return h.sup.EXPECT().Stop(p).Do(func(supervisor.Process) {
		p.exit(exitSIGTERM)
	})
}

func (h *harness) start(ranges ...string) {
	h.t.Helper()
	require.NoError(h.t, h.c.Start(context.Background(), Options{Threads: 50, TimeoutMS: 1000, Ranges: ranges}))
}

func (h *harness) waitState(s State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.c.State() == s }, 2*time.Second, 5*time.Millisecond)
}

func TestStartSpawnsAndReadsRecords(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()

	require.NoError(t, h.c.Start(context.Background(), Options{
		Threads:   10,
		TimeoutMS: 250,
		Ranges:    []string{"192.168.0.0/24", "192.168.8.0/24"},
		Debug:     true,
	}))
	assert.Equal(t, StateScanning, h.c.State())

	require.Len(t, h.cmds, 1)
	assert.Equal(t, "bash", h.cmds[0].Launcher)
	assert.Equal(t, "scan_subnets_enhanced.sh", h.cmds[0].Script)
	assert.Equal(t, []string{"10", "250", "192.168.0.0/24", "192.168.8.0/24", "--debug"}, h.cmds[0].Args)

	info, ok := h.c.Session()
	require.True(t, ok)
	assert.Equal(t, "session-1", info.ID)
	assert.Equal(t, p.pid, info.PID)

	p.stdout(
		"Scanning 192.168.0.0/24",
		"LIVE|192.168.8.20|printer|aa:bb:cc:dd:ee:01|HP|631|4ms",
		"LIVE|192.168.0.5|nas||Synology|22,445|1ms",
		"LIVE|192.168.0.5|nas||Synology|22,80,445|1ms",
	)
	p.stderr("arp-scan: permission denied")

	require.Eventually(t, func() bool { return len(h.events.rows()) == 3 }, 2*time.Second, 5*time.Millisecond)

	rows := h.events.rows()
	assert.Equal(t, 1, rows[0].Bucket)
	assert.True(t, rows[0].Inserted)
	assert.Equal(t, 0, rows[1].Bucket)
	assert.True(t, rows[1].Inserted)
	assert.False(t, rows[2].Inserted)

	rec, ok := h.c.Registry().Get("192.168.0.5")
	require.True(t, ok)
	assert.Equal(t, "22,80,445", rec.Ports.String())
	assert.True(t, rec.MAC.IsAbsent())
	assert.Equal(t, 2, h.c.Registry().Len())

	require.Eventually(t, func() bool {
		return h.events.hasLog(dispatch.LevelError, "[STDERR] arp-scan: permission denied")
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Scanning 192.168.0.0/24"))
	assert.True(t, h.events.hasLog(dispatch.LevelSuccess, "Found live host: 192.168.8.20"))
	assert.True(t, h.events.hasLog(dispatch.LevelDebug, "192.168.0.5: Ports=[22,80,445] Ping=1ms"))
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Starting scan: 192.168.0.0/24, 192.168.8.0/24"))
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Config: 10 threads, 250ms timeout"))

	p.exit(exitOK)
	h.waitState(StateIdle)

	assert.True(t, h.events.hasLog(dispatch.LevelSuccess, "Scan completed! Found 2 live hosts."))
	assert.Equal(t, []string{"scanning", "idle"}, h.events.states())
	_, ok = h.c.Session()
	assert.False(t, ok)
}

func TestStartWithoutRanges(t *testing.T) {
	h := newHarness(t)

	err := h.c.Start(context.Background(), Options{Ranges: []string{"", "  "}})
	assert.True(t, errors.IsCode(err, errors.CodeNoRanges))
	assert.Equal(t, StateIdle, h.c.State())

	logs := h.events.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, dispatch.LevelError, logs[0].Level)
	assert.Equal(t, "Error: No IP ranges specified!", logs[0].Message)
}

func TestStartSpawnFailureStaysIdle(t *testing.T) {
	h := newHarness(t)
	h.sup.EXPECT().Spawn(gomock.Any(), gomock.Any()).Return(nil,
		errors.NewProcessError(errors.CodeScriptMissing, "spawn", "script not found: scan.sh"))

	err := h.c.Start(context.Background(), Options{Ranges: []string{"10.0.0.0/24"}})
	assert.True(t, errors.IsCode(err, errors.CodeScriptMissing))
	assert.Equal(t, StateIdle, h.c.State())
	assert.True(t, h.events.hasLog(dispatch.LevelError, "Failed to start scan"))
	assert.Empty(t, h.events.states())
}

func TestStartWhileScanningIsRejected(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")
	h.events.reset()

	err := h.c.Start(context.Background(), Options{Ranges: []string{"10.1.0.0/24"}})
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyRunning))
	assert.Equal(t, StateScanning, h.c.State())

	logs := h.events.logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "Scan already in progress.", logs[0].Message)

	h.expectStop(p)
	require.NoError(t, h.c.Stop())
}

func TestStartWhilePausedResumes(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	gomock.InOrder(
		h.sup.EXPECT().Pause(p).Return(nil),
		h.sup.EXPECT().Resume(p).Return(nil),
	)
	require.NoError(t, h.c.Pause())
	require.NoError(t, h.c.Start(context.Background(), Options{Ranges: []string{"10.9.0.0/24"}}))
	assert.Equal(t, StateScanning, h.c.State())

	info, _ := h.c.Session()
	assert.Equal(t, []string{"10.0.0.0/24"}, info.Options.Ranges)

	h.expectStop(p)
	require.NoError(t, h.c.Stop())
}

func TestStartIfIdle(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()

	info, err := h.c.StartIfIdle(context.Background(), Options{Ranges: []string{"10.0.0.0/24"}})
	require.NoError(t, err)
	assert.Equal(t, "session-1", info.ID)
	assert.Equal(t, StateScanning, info.State)
	assert.Equal(t, p.PID(), info.PID)

	h.sup.EXPECT().Pause(p).Return(nil)
	require.NoError(t, h.c.Pause())

	// no Resume expectation: a resume here fails the mock
	info, err = h.c.StartIfIdle(context.Background(), Options{Ranges: []string{"10.9.0.0/24"}})
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyRunning))
	assert.Equal(t, "session-1", info.ID)
	assert.Equal(t, StatePaused, h.c.State())

	h.expectStop(p)
	require.NoError(t, h.c.Stop())
}

func TestStopSessionMatchesID(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	err := h.c.StopSession("session-0")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
	assert.Equal(t, StateScanning, h.c.State())

	h.expectStop(p)
	require.NoError(t, h.c.StopSession("session-1"))
	assert.Equal(t, StateIdle, h.c.State())

	err = h.c.StopSession("session-1")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
}

func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	h.sup.EXPECT().Pause(p).Return(nil)
	require.NoError(t, h.c.Pause())
	assert.Equal(t, StatePaused, h.c.State())
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Scan paused."))

	err := h.c.Pause()
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Scan is already paused."))
	assert.Equal(t, StatePaused, h.c.State())

	h.sup.EXPECT().Resume(p).Return(nil)
	require.NoError(t, h.c.Resume())
	assert.Equal(t, StateScanning, h.c.State())
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Scan resumed."))

	err = h.c.Resume()
	assert.True(t, errors.IsCode(err, errors.CodeInvalidState))
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Scan is not paused."))

	assert.Equal(t, []string{"scanning", "paused", "scanning"}, h.events.states())

	h.expectStop(p)
	require.NoError(t, h.c.Stop())
}

func TestPauseAfterProcessExitedResetsToIdle(t *testing.T) {
	for _, code := range []errors.ErrorCode{errors.CodeNotRunning, errors.CodeNoSuchProcess} {
		t.Run(string(code), func(t *testing.T) {
			h := newHarness(t)
			p := h.expectSpawn()
			h.start("10.0.0.0/24")

			h.sup.EXPECT().Pause(p).Return(errors.NewProcessError(code, "SIGSTOP", "gone"))
			err := h.c.Pause()
			assert.True(t, errors.IsCode(err, code))
			assert.Equal(t, StateIdle, h.c.State())
			assert.True(t, h.events.hasLog(dispatch.LevelWarn, "Scan process has already finished."))
		})
	}
}

func TestResumeAfterProcessExitedResetsToIdle(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	h.sup.EXPECT().Pause(p).Return(nil)
	require.NoError(t, h.c.Pause())

	h.sup.EXPECT().Resume(p).Return(errors.NewProcessError(errors.CodeNoSuchProcess, "SIGCONT", "gone"))
	err := h.c.Resume()
	assert.True(t, errors.IsProcessGone(err))
	assert.Equal(t, StateIdle, h.c.State())
}

func TestPauseSignalFailureKeepsState(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	h.sup.EXPECT().Pause(p).Return(errors.NewProcessError(errors.CodePermission, "SIGSTOP", "operation not permitted"))
	err := h.c.Pause()
	assert.True(t, errors.IsCode(err, errors.CodePermission))
	assert.Equal(t, StateScanning, h.c.State())
	assert.True(t, h.events.hasLog(dispatch.LevelError, "Failed to pause scan"))

	h.expectStop(p)
	require.NoError(t, h.c.Stop())
}

func TestStopWhilePaused(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	gomock.InOrder(
		h.sup.EXPECT().Pause(p).Return(nil),
		h.expectStop(p),
	)
	require.NoError(t, h.c.Pause())
	require.NoError(t, h.c.Stop())

	assert.Equal(t, StateIdle, h.c.State())
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Stopping scan..."))
	assert.True(t, h.events.hasLog(dispatch.LevelInfo, "Scan stopped."))

	select {
	case <-p.Done():
	default:
		t.Fatal("process should have been stopped")
	}
	time.Sleep(50 * time.Millisecond)
	assert.False(t, h.events.hasLog(dispatch.LevelInfo, "Scan stopped by user"),
		"a stopped session does not report a completion summary")
}

func TestStopReachesIdleWhenProcessAlreadyGone(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	h.sup.EXPECT().Pause(p).Return(nil)
	require.NoError(t, h.c.Pause())

	// The supervisor swallows termination failures; nothing is signalled.
	h.sup.EXPECT().Stop(p)
	require.NoError(t, h.c.Stop())
	assert.Equal(t, StateIdle, h.c.State())
}

func TestIdleRequestsLogOnce(t *testing.T) {
	ops := map[string]func(*Controller) error{
		"pause":  (*Controller).Pause,
		"resume": (*Controller).Resume,
		"stop":   (*Controller).Stop,
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)

			err := op(h.c)
			assert.True(t, errors.IsCode(err, errors.CodeIdle))
			assert.Equal(t, StateIdle, h.c.State())

			events := h.events.all()
			require.Len(t, events, 1)
			assert.Equal(t, dispatch.EventLog, events[0].Type)
			assert.Equal(t, dispatch.LevelInfo, events[0].Log.Level)
			assert.Equal(t, "No scan is currently running.", events[0].Log.Message)
		})
	}
}

func TestNewSessionStartsWithEmptyRegistry(t *testing.T) {
	h := newHarness(t)
	first := h.expectSpawn()
	h.start("10.0.0.0/24")

	first.stdout("LIVE|10.0.0.1|a||||", "LIVE|10.0.0.2|b||||")
	require.Eventually(t, func() bool { return h.c.Registry().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	first.exit(exitOK)
	h.waitState(StateIdle)

	second := h.expectSpawn()
	h.start("10.1.0.0/24")
	assert.Equal(t, 0, h.c.Registry().Len())
	assert.Equal(t, []string{"10.1.0.0/24"}, h.c.Registry().Ranges())

	second.stdout("LIVE|10.1.0.9|c||||")
	require.Eventually(t, func() bool { return h.c.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, ok := h.c.Registry().Get("10.0.0.1")
	assert.False(t, ok)

	h.expectStop(second)
	require.NoError(t, h.c.Stop())
}

func TestNaturalExitSummary(t *testing.T) {
	tests := []struct {
		name   string
		status supervisor.ExitStatus
		level  dispatch.Level
		prefix string
	}{
		{"success", exitOK, dispatch.LevelSuccess, "Scan completed! Found 1 live hosts."},
		{"terminated", exitSIGTERM, dispatch.LevelInfo, "Scan stopped by user. Found 1 hosts."},
		{"failed", exitFailed, dispatch.LevelError, "Scan finished with errors (exit code 2). Found 1 hosts."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.expectSpawn()
			h.start("10.0.0.0/24")

			p.stdout("LIVE|10.0.0.7|h||||")
			require.Eventually(t, func() bool { return h.c.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

			p.exit(tt.status)
			h.waitState(StateIdle)
			assert.True(t, h.events.hasLog(tt.level, tt.prefix), "%v", h.events.logs())
		})
	}
}

func TestStoppedSessionNeverMutatesRegistry(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	p.stdout("LIVE|10.0.0.1|before||||")
	require.Eventually(t, func() bool { return h.c.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Stop without closing the pipes so the readers stay blocked past the
	// join timeout.
	h.sup.EXPECT().Stop(p)
	require.NoError(t, h.c.Stop())
	rowsAtStop := len(h.events.rows())

	go p.stdout("LIVE|10.0.0.2|after||||")
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, h.c.Registry().Len())
	_, ok := h.c.Registry().Get("10.0.0.2")
	assert.False(t, ok)
	assert.Equal(t, rowsAtStop, len(h.events.rows()))
}

func TestMalformedRecordIsDropped(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	p.stdout("LIVE|10.0.0.3|short", "LIVE|10.0.0.4|ok||||")
	require.Eventually(t, func() bool { return h.c.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, ok := h.c.Registry().Get("10.0.0.3")
	assert.False(t, ok)
	assert.True(t, h.events.hasLog(dispatch.LevelDebug, "Incomplete data"))
	assert.Equal(t, StateScanning, h.c.State())

	h.expectStop(p)
	require.NoError(t, h.c.Stop())
}

func TestSelect(t *testing.T) {
	h := newHarness(t)
	p := h.expectSpawn()
	h.start("10.0.0.0/24")

	p.stdout("LIVE|10.0.0.5|host1|aa:bb:cc:dd:ee:ff|VendorX|22,80|12ms")
	require.Eventually(t, func() bool { return h.c.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	sel, err := h.c.Select("10.0.0.5")
	require.NoError(t, err)
	assert.Equal(t, "host1", sel.Hostname.String())
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", sel.MAC.String())
	assert.Equal(t, "22,80", sel.Ports.String())

	_, err = h.c.Select("10.0.0.6")
	assert.True(t, errors.IsCode(err, errors.CodeHostUnknown))

	assert.Len(t, h.c.Hosts(), 1)

	h.expectStop(p)
	require.NoError(t, h.c.Stop())
}

// TestRandomRequestSequences checks every request against a model of the
// transition table.
func TestRandomRequestSequences(t *testing.T) {
	h := newHarness(t)

	var (
		mu      sync.Mutex
		current *fakeProcess
	)
	h.sup.EXPECT().Spawn(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, supervisor.Command) (supervisor.Process, error) {
			p := newFakeProcess(7)
			h.mu.Lock()
			h.procs = append(h.procs, p)
			h.mu.Unlock()
			mu.Lock()
			current = p
			mu.Unlock()
			return p, nil
		}).AnyTimes()
	h.sup.EXPECT().Pause(gomock.Any()).Return(nil).AnyTimes()
	h.sup.EXPECT().Resume(gomock.Any()).Return(nil).AnyTimes()
	h.sup.EXPECT().Stop(gomock.Any()).Do(func(p supervisor.Process) {
		p.(*fakeProcess).exit(exitSIGTERM)
	}).AnyTimes()

	rng := rand.New(rand.NewSource(42))
	model := StateIdle
	for i := 0; i < 200; i++ {
		switch rng.Intn(4) {
		case 0:
			_ = h.c.Start(context.Background(), Options{Ranges: []string{"10.0.0.0/24"}})
			if model == StateIdle || model == StatePaused {
				model = StateScanning
			}
		case 1:
			_ = h.c.Pause()
			if model == StateScanning {
				model = StatePaused
			}
		case 2:
			_ = h.c.Resume()
			if model == StatePaused {
				model = StateScanning
			}
		case 3:
			_ = h.c.Stop()
			model = StateIdle
		}
		got := h.c.State()
		require.Equal(t, model, got, "step %d", i)
		require.Contains(t, []State{StateIdle, StateScanning, StatePaused}, got)
	}

	mu.Lock()
	last := current
	mu.Unlock()
	if last != nil && h.c.State() != StateIdle {
		require.NoError(t, h.c.Stop())
		require.False(t, last.Alive())
	}
}

type observed struct {
	event   string
	info    SessionInfo
	outcome string
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observed
}

func (o *recordingObserver) SessionStarted(info SessionInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observed{event: "started", info: info})
}

func (o *recordingObserver) SessionFinished(info SessionInfo, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observed{event: "finished", info: info, outcome: outcome})
}

func (o *recordingObserver) all() []observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observed(nil), o.events...)
}

func TestObserverSeesSessionBoundaries(t *testing.T) {
	h := newHarness(t)
	obs := &recordingObserver{}
	h.c.observer = obs

	first := h.expectSpawn()
	h.start("10.0.0.0/24")
	first.stdout("LIVE|10.0.0.1|a||||")
	require.Eventually(t, func() bool { return h.c.Registry().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	first.exit(exitOK)
	h.waitState(StateIdle)

	second := h.expectSpawn()
	h.start("10.1.0.0/24")
	h.expectStop(second)
	require.NoError(t, h.c.Stop())

	events := obs.all()
	require.Len(t, events, 4)

	assert.Equal(t, "started", events[0].event)
	assert.Equal(t, "session-1", events[0].info.ID)
	assert.Equal(t, StateScanning, events[0].info.State)
	assert.Equal(t, first.pid, events[0].info.PID)

	assert.Equal(t, "finished", events[1].event)
	assert.Equal(t, OutcomeCompleted, events[1].outcome)
	assert.Equal(t, 1, events[1].info.Hosts)
	assert.Equal(t, StateIdle, events[1].info.State)

	assert.Equal(t, "session-2", events[2].info.ID)
	assert.Equal(t, []string{"10.1.0.0/24"}, events[2].info.Options.Ranges)
	assert.Equal(t, OutcomeStopped, events[3].outcome)
}
