// Package session implements the shared run lifecycle: a state machine that
// owns the child process, pumps its PTY output into the broadcast hub, and
// enforces that at most one run is in flight.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lwneal/sharescript/internal/logger"
	"github.com/lwneal/sharescript/internal/model"
	"github.com/lwneal/sharescript/internal/pty"
	"github.com/lwneal/sharescript/internal/repository"
	"github.com/lwneal/sharescript/internal/ws"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
)

// Options configures a Controller.
type Options struct {
	// ScriptPath is the script executed on every run request.
	ScriptPath string

	// CreateIfMissing writes a sample script when ScriptPath does not
	// exist, the way the shared terminal has always demoed itself.
	CreateIfMissing bool

	// ShutdownGrace bounds how long the script's process group gets to
	// exit after SIGTERM before it is killed.
	ShutdownGrace time.Duration

	// CastDir, when set, receives one Asciinema recording per run.
	CastDir string

	// Repo, when set, receives one history record per run.
	Repo *repository.RunRepository
}

// Controller coordinates run requests, the PTY supervisor, and the hub.
// All state transitions happen under one lock held only for the
// check-and-set, never across I/O.
type Controller struct {
	opts       Options
	hub        *ws.Hub
	supervisor *pty.Supervisor

	mu     sync.Mutex
	state  State
	proc   *pty.Process
	closed bool
	wg     sync.WaitGroup
}

// NewController creates a Controller in the Idle state.
func NewController(hub *ws.Hub, supervisor *pty.Supervisor, opts Options) *Controller {
	if opts.ShutdownGrace == 0 {
		opts.ShutdownGrace = 3 * time.Second
	}
	return &Controller{
		opts:       opts,
		hub:        hub,
		supervisor: supervisor,
		state:      StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Viewers returns the number of attached viewers.
func (c *Controller) Viewers() int {
	return c.hub.ClientCount()
}

// Disabled reports whether the run affordance is disabled.
func (c *Controller) Disabled() bool {
	return c.State() != StateIdle
}

// RequestRun starts a run if none is in flight. Exactly one of any number of
// concurrent callers wins; the rest get model.ErrAlreadyRunning and no state
// changes.
func (c *Controller) RequestRun() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return model.ErrShuttingDown
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return model.ErrAlreadyRunning
	}
	c.state = StateStarting
	c.mu.Unlock()

	c.hub.BroadcastButtonState(true)

	c.wg.Add(1)
	go c.run()

	return nil
}

// RequestClear empties the replay buffer and notifies viewers. Permitted in
// any state; a running script is unaffected.
func (c *Controller) RequestClear() {
	c.hub.ClearReplay()
}

// Shutdown terminates any running script's whole process group, waits up to
// the grace period for the run to wind down, and returns. Further run
// requests are rejected.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	c.closed = true
	proc := c.proc
	c.mu.Unlock()

	if proc != nil {
		proc.Terminate(c.opts.ShutdownGrace)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.ShutdownGrace):
		log.Printf("Shutdown: run did not wind down within %v", c.opts.ShutdownGrace)
	}
}

// run executes one script run from spawn through completion. It is the only
// goroutine that reads the PTY master while the run is alive.
func (c *Controller) run() {
	defer c.wg.Done()

	path := c.opts.ScriptPath
	if c.opts.CreateIfMissing {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			c.hub.PublishOutput([]byte(fmt.Sprintf("Error: %s not found. Creating a sample script...\r\n", path)))
			if err := writeSampleScript(path); err != nil {
				c.failSpawn(fmt.Errorf("failed to create sample script: %w", err))
				return
			}
			c.hub.PublishOutput([]byte("Created sample script.\r\n"))
		}
	}

	proc, err := c.supervisor.Spawn(path)
	if err != nil {
		c.failSpawn(err)
		return
	}

	c.mu.Lock()
	c.proc = proc
	c.state = StateRunning
	closed := c.closed
	c.mu.Unlock()

	// Shutdown may have run before proc was published; it found nothing to
	// signal, so the spawned child must be terminated here. Done in the
	// background: the read loop and Wait below are what let Terminate
	// observe the reaped child.
	if closed {
		go proc.Terminate(c.opts.ShutdownGrace)
	}

	c.hub.BroadcastStarted()

	runID := uuid.New().String()
	rec, castPath := c.startRecording(runID)
	c.recordRunStart(runID, path, castPath, proc.PID())

	c.readLoop(proc, rec)

	// The read loop only returns once the child has exited and the master
	// reported end of stream, so the final bytes are already drained.
	code, werr := proc.Wait()

	c.mu.Lock()
	c.state = StateTerminating
	c.mu.Unlock()

	var codePtr *int
	var errMsg string
	status := model.RunStatusExited
	if werr != nil {
		status = model.RunStatusFailed
		errMsg = werr.Error()
		c.hub.PublishOutput([]byte(fmt.Sprintf("\r\nError running script: %v\r\n", werr)))
	} else {
		codeCopy := code
		codePtr = &codeCopy
		c.hub.PublishOutput([]byte(fmt.Sprintf("\r\nScript completed with return code: %d\r\n", code)))
	}

	c.hub.BroadcastFinished(codePtr, errMsg)

	if rec != nil {
		rec.Close()
	}
	c.recordRunFinish(runID, status, codePtr)

	proc.Close()

	c.mu.Lock()
	c.proc = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.hub.BroadcastButtonState(false)
}

// readLoop pumps PTY output into the hub until the stream ends. A read error
// is end of stream, not a failure: the master reports EIO once the child
// exits and its output is drained.
func (c *Controller) readLoop(proc *pty.Process, rec *logger.CastRecorder) {
	buf := make([]byte, pty.ReadChunkSize)
	for {
		n, err := proc.Master.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			c.hub.PublishOutput(chunk)
			if rec != nil {
				rec.WriteOutput(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// failSpawn reports a spawn failure to all viewers and returns to Idle so a
// later run remains possible.
func (c *Controller) failSpawn(err error) {
	log.Printf("Failed to start script: %v", err)

	c.hub.PublishOutput([]byte(fmt.Sprintf("Error running script: %v\r\n", err)))
	c.hub.BroadcastFinished(nil, err.Error())

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	c.hub.BroadcastButtonState(false)
}

// startRecording opens the cast recorder for this run, if recording is
// configured. Recording failures are logged, never fatal to the run.
func (c *Controller) startRecording(runID string) (*logger.CastRecorder, string) {
	if c.opts.CastDir == "" {
		return nil, ""
	}

	castPath := filepath.Join(c.opts.CastDir, runID+".cast")
	rec, err := logger.NewCastRecorder(castPath)
	if err != nil {
		log.Printf("Failed to create cast recording: %v", err)
		return nil, ""
	}
	if err := rec.WriteHeader(int(c.supervisor.Cols), int(c.supervisor.Rows)); err != nil {
		log.Printf("Failed to write cast header: %v", err)
		rec.Close()
		return nil, ""
	}
	return rec, castPath
}

// recordRunStart persists the run record, if history is configured.
func (c *Controller) recordRunStart(runID, path, castPath string, pid int) {
	if c.opts.Repo == nil {
		return
	}

	record := &model.Run{
		ID:         runID,
		ScriptPath: path,
		Status:     model.RunStatusRunning,
		PID:        &pid,
		CastPath:   castPath,
		StartedAt:  time.Now(),
	}
	if err := c.opts.Repo.Create(context.Background(), record); err != nil {
		log.Printf("Failed to record run start: %v", err)
	}
}

// recordRunFinish marks the run record finished, if history is configured.
func (c *Controller) recordRunFinish(runID string, status model.RunStatus, exitCode *int) {
	if c.opts.Repo == nil {
		return
	}

	if err := c.opts.Repo.Finish(context.Background(), runID, status, exitCode); err != nil {
		log.Printf("Failed to record run finish: %v", err)
	}
}
