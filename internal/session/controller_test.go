package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lwneal/sharescript/internal/buffer"
	"github.com/lwneal/sharescript/internal/db"
	"github.com/lwneal/sharescript/internal/model"
	"github.com/lwneal/sharescript/internal/pty"
	"github.com/lwneal/sharescript/internal/repository"
	"github.com/lwneal/sharescript/internal/ws"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func newTestController(t *testing.T, scriptPath string, opts Options) (*Controller, *ws.Hub) {
	t.Helper()
	opts.ScriptPath = scriptPath
	hub := ws.NewHub(buffer.NewReplayBuffer(buffer.DefaultCapacity, buffer.DefaultRetained))
	ctrl := NewController(hub, pty.NewSupervisor(), opts)
	t.Cleanup(func() {
		ctrl.Shutdown()
		hub.Close()
	})
	return ctrl, hub
}

func attachClient(hub *ws.Hub) *ws.Client {
	client := ws.NewClient(nil)
	hub.Subscribe(client)
	return client
}

func decodeFrame(t *testing.T, frame []byte) ws.Message {
	t.Helper()
	var msg ws.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return msg
}

// collectUntil reads frames from the client until one of the given type
// arrives, returning every frame seen including it.
func collectUntil(t *testing.T, client *ws.Client, want ws.MessageType, timeout time.Duration) []ws.Message {
	t.Helper()
	deadline := time.After(timeout)
	var msgs []ws.Message
	for {
		select {
		case frame, ok := <-client.SendChan():
			if !ok {
				t.Fatalf("Client closed while waiting for %q (got %d frames)", want, len(msgs))
			}
			msg := decodeFrame(t, frame)
			msgs = append(msgs, msg)
			if msg.Type == want {
				return msgs
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %q (got %d frames)", want, len(msgs))
		}
	}
}

func waitForState(t *testing.T, ctrl *Controller, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ctrl.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Controller did not reach state %q, still %q", want, ctrl.State())
}

func stdoutText(msgs []ws.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		if m.Type == ws.MessageTypeStdout {
			sb.WriteString(m.Data)
		}
	}
	return sb.String()
}

func TestControllerRunCompletes(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\necho hello\nexit 0\n")
	ctrl, hub := newTestController(t, script, Options{})
	client := attachClient(hub)

	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("RequestRun failed: %v", err)
	}

	msgs := collectUntil(t, client, ws.MessageTypeFinished, 5*time.Second)

	var sawStarted, sawDisabled bool
	for _, m := range msgs {
		switch m.Type {
		case ws.MessageTypeStarted:
			sawStarted = true
		case ws.MessageTypeButtonState:
			if m.Disabled {
				sawDisabled = true
			}
		}
	}
	if !sawStarted {
		t.Error("Expected a started frame")
	}
	if !sawDisabled {
		t.Error("Expected a button_state frame disabling the run button")
	}

	out := stdoutText(msgs)
	if !strings.Contains(out, "hello") {
		t.Errorf("Expected script output in stream, got %q", out)
	}
	if !strings.Contains(out, "Script completed with return code: 0") {
		t.Errorf("Expected completion marker in stream, got %q", out)
	}

	fin := msgs[len(msgs)-1]
	if fin.Code == nil || *fin.Code != 0 {
		t.Errorf("Expected finished frame with code 0, got %+v", fin)
	}

	waitForState(t, ctrl, StateIdle, 2*time.Second)
}

func TestControllerReportsExitCode(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nexit 7\n")
	ctrl, hub := newTestController(t, script, Options{})
	client := attachClient(hub)

	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("RequestRun failed: %v", err)
	}

	msgs := collectUntil(t, client, ws.MessageTypeFinished, 5*time.Second)
	fin := msgs[len(msgs)-1]
	if fin.Code == nil || *fin.Code != 7 {
		t.Errorf("Expected finished frame with code 7, got %+v", fin)
	}
	if out := stdoutText(msgs); !strings.Contains(out, "Script completed with return code: 7") {
		t.Errorf("Expected completion marker with code 7, got %q", out)
	}
}

func TestControllerRejectsSecondRun(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nsleep 0.5\n")
	ctrl, _ := newTestController(t, script, Options{})

	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("First RequestRun failed: %v", err)
	}
	if err := ctrl.RequestRun(); !errors.Is(err, model.ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	waitForState(t, ctrl, StateIdle, 5*time.Second)

	// A new run is possible once the first has wound down
	if err := ctrl.RequestRun(); err != nil {
		t.Errorf("RequestRun after completion failed: %v", err)
	}
	waitForState(t, ctrl, StateIdle, 5*time.Second)
}

func TestControllerConcurrentRequests(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nsleep 0.3\n")
	ctrl, hub := newTestController(t, script, Options{})
	client := attachClient(hub)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ctrl.RequestRun()
		}()
	}
	wg.Wait()
	close(results)

	var wins, rejections int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, model.ErrAlreadyRunning):
			rejections++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", wins)
	}
	if rejections != callers-1 {
		t.Errorf("Expected %d rejections, got %d", callers-1, rejections)
	}

	msgs := collectUntil(t, client, ws.MessageTypeFinished, 5*time.Second)
	var started int
	for _, m := range msgs {
		if m.Type == ws.MessageTypeStarted {
			started++
		}
	}
	if started != 1 {
		t.Errorf("Expected exactly 1 started frame, got %d", started)
	}
}

func TestControllerClearMidRun(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\necho first\nsleep 0.5\necho second\n")
	ctrl, hub := newTestController(t, script, Options{})
	client := attachClient(hub)

	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("RequestRun failed: %v", err)
	}

	// Wait for the first chunk to land in the replay buffer
	deadline := time.Now().Add(3 * time.Second)
	for {
		frame, ok := <-client.SendChan()
		if !ok {
			t.Fatal("Client closed before any output")
		}
		msg := decodeFrame(t, frame)
		if msg.Type == ws.MessageTypeStdout && strings.Contains(msg.Data, "first") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for first output")
		}
	}

	ctrl.RequestClear()

	msgs := collectUntil(t, client, ws.MessageTypeFinished, 5*time.Second)

	var sawCleared bool
	for _, m := range msgs {
		if m.Type == ws.MessageTypeCleared {
			sawCleared = true
		}
	}
	if !sawCleared {
		t.Error("Expected a cleared frame")
	}

	// The running script is unaffected by the clear
	if out := stdoutText(msgs); !strings.Contains(out, "second") {
		t.Errorf("Expected output after clear, got %q", out)
	}

	// A viewer joining after the clear must not see pre-clear output
	waitForState(t, ctrl, StateIdle, 2*time.Second)
	late := attachClient(hub)
	select {
	case frame := <-late.SendChan():
		msg := decodeFrame(t, frame)
		if msg.Type == ws.MessageTypeHistory && strings.Contains(msg.Data, "first") {
			t.Errorf("Late joiner saw pre-clear output: %q", msg.Data)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestControllerSpawnFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.sh")
	ctrl, hub := newTestController(t, missing, Options{CreateIfMissing: false})
	client := attachClient(hub)

	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("RequestRun failed: %v", err)
	}

	msgs := collectUntil(t, client, ws.MessageTypeFinished, 5*time.Second)
	fin := msgs[len(msgs)-1]
	if fin.Code != nil {
		t.Errorf("Expected finished frame without exit code, got %d", *fin.Code)
	}
	if fin.Error == "" {
		t.Error("Expected finished frame with an error description")
	}

	waitForState(t, ctrl, StateIdle, 2*time.Second)

	// Spawn failure is non-fatal: a retry is accepted
	if err := ctrl.RequestRun(); err != nil {
		t.Errorf("RequestRun after spawn failure rejected: %v", err)
	}
	waitForState(t, ctrl, StateIdle, 5*time.Second)
}

func TestControllerShutdownTerminatesRun(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nsleep 300\n")
	ctrl, _ := newTestController(t, script, Options{ShutdownGrace: 2 * time.Second})

	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("RequestRun failed: %v", err)
	}
	waitForState(t, ctrl, StateRunning, 3*time.Second)

	start := time.Now()
	ctrl.Shutdown()
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Shutdown took %v, expected it bounded by the grace period", elapsed)
	}

	if err := ctrl.RequestRun(); !errors.Is(err, model.ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown after shutdown, got %v", err)
	}
}

func TestControllerShutdownDuringStart(t *testing.T) {
	script := writeScript(t, "#!/bin/bash\nsleep 300\n")
	ctrl, _ := newTestController(t, script, Options{ShutdownGrace: 500 * time.Millisecond})

	// Shutdown lands while the run is still starting, before the child
	// process has been published; the spawned child must still be
	// terminated rather than left running
	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("RequestRun failed: %v", err)
	}
	ctrl.Shutdown()

	// The run goroutine can only wind down to Idle once the child has been
	// signaled and reaped; with an orphaned child it blocks forever
	waitForState(t, ctrl, StateIdle, 5*time.Second)
}

func TestControllerRecordsHistoryAndCast(t *testing.T) {
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	defer testDB.Close()

	castDir := t.TempDir()
	repo := repository.NewRunRepository(testDB)
	script := writeScript(t, "#!/bin/bash\necho recorded\nexit 3\n")
	ctrl, hub := newTestController(t, script, Options{Repo: repo, CastDir: castDir})
	client := attachClient(hub)

	if err := ctrl.RequestRun(); err != nil {
		t.Fatalf("RequestRun failed: %v", err)
	}
	collectUntil(t, client, ws.MessageTypeFinished, 5*time.Second)
	waitForState(t, ctrl, StateIdle, 2*time.Second)

	runs, err := repo.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run record, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != model.RunStatusExited {
		t.Errorf("Expected status %q, got %q", model.RunStatusExited, run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %v", run.ExitCode)
	}
	if run.FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}

	data, err := os.ReadFile(run.CastPath)
	if err != nil {
		t.Fatalf("Failed to read cast file: %v", err)
	}
	cast := string(data)
	if !strings.Contains(cast, `"version": 2`) && !strings.Contains(cast, `"version":2`) {
		t.Errorf("Expected Asciinema v2 header in cast file, got %q", cast)
	}
	if !strings.Contains(cast, "recorded") {
		t.Errorf("Expected script output in cast file, got %q", cast)
	}
}

func TestControllerCreatesSampleScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.sh")
	if err := writeSampleScript(path); err != nil {
		t.Fatalf("writeSampleScript failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Sample script not created: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("Expected executable sample script, got mode %v", info.Mode())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read sample script: %v", err)
	}
	if !strings.HasPrefix(string(data), "#!/bin/bash") {
		t.Errorf("Expected bash shebang, got %q", string(data[:20]))
	}
}
