package display

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"proyektor/internal/logger"
	"proyektor/internal/models"
	"proyektor/internal/presentation"
	"proyektor/internal/transport"
)

// LocalOpener runs the display agent inside the server process, on its own
// member of the channel.
type LocalOpener struct {
	Dial     presentation.ChannelFactory
	Codec    transport.Codec
	Renderer func() Renderer
}

func (o *LocalOpener) Open(ctx context.Context, route string, placement models.WindowPosition) (presentation.Window, error) {
	backend, err := o.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("join channel: %w", err)
	}

	var r Renderer
	if o.Renderer != nil {
		r = o.Renderer()
	}

	opts := []AgentOption{WithGeometry(placement)}
	if o.Codec != nil {
		opts = append(opts, WithCodec(o.Codec))
	}
	agent := NewAgent(backend, r, opts...)
	w := &LocalWindow{agent: agent, geometry: placement}
	if err := agent.Start(); err != nil {
		agent.Close()
		return nil, fmt.Errorf("start display: %w", err)
	}

	logger.Info("local display opened", "route", route)
	return w, nil
}

// LocalWindow is an in-process display.
type LocalWindow struct {
	agent    *Agent
	geometry models.WindowPosition
	closed   atomic.Bool
}

func (w *LocalWindow) Closed() bool {
	if w.closed.Load() {
		return true
	}
	select {
	case <-w.agent.Done():
		return true
	default:
		return false
	}
}

func (w *LocalWindow) Focus() error { return nil }

func (w *LocalWindow) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	return w.agent.Close()
}

func (w *LocalWindow) Geometry() models.WindowPosition {
	return w.geometry
}

// Agent exposes the running agent, mainly for tests.
func (w *LocalWindow) Agent() *Agent {
	return w.agent
}

// ExecOpener starts the display as a child process that joins the channel
// on its own, through the server's WebSocket hub or the MQTT broker.
type ExecOpener struct {
	// Path is the server binary; empty means the running executable.
	Path string
	// Args select the channel, e.g. --url ws://127.0.0.1:5000/ws/presentation.
	Args []string
	// Stdout receives the projection; nil means the parent's stdout.
	Stdout *os.File
}

func (o *ExecOpener) Open(_ context.Context, route string, placement models.WindowPosition) (presentation.Window, error) {
	path := o.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	args := append([]string{"display"}, o.Args...)
	args = append(args,
		"--route", route,
		"--x", strconv.Itoa(placement.X),
		"--y", strconv.Itoa(placement.Y),
		"--width", strconv.Itoa(placement.Width),
		"--height", strconv.Itoa(placement.Height),
	)

	// Not bound to the request context: the window outlives the call.
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	if o.Stdout != nil {
		cmd.Stdout = o.Stdout
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start display process: %w", err)
	}

	w := &ProcessWindow{cmd: cmd, geometry: placement, exited: make(chan struct{})}
	go w.wait()

	logger.Info("display process started", "pid", cmd.Process.Pid, "args", o.Args)
	return w, nil
}

// ProcessWindow is a display running in a child process.
type ProcessWindow struct {
	cmd      *exec.Cmd
	geometry models.WindowPosition
	exited   chan struct{}

	closeOnce sync.Once
}

func (w *ProcessWindow) wait() {
	err := w.cmd.Wait()
	if err != nil {
		logger.Info("display process exited", "pid", w.cmd.Process.Pid, "error", err)
	} else {
		logger.Info("display process exited", "pid", w.cmd.Process.Pid)
	}
	close(w.exited)
}

func (w *ProcessWindow) Closed() bool {
	select {
	case <-w.exited:
		return true
	default:
		return false
	}
}

func (w *ProcessWindow) Focus() error { return nil }

// Close interrupts the process and kills it if it does not exit in time.
func (w *ProcessWindow) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if w.Closed() {
			return
		}
		if sigErr := w.cmd.Process.Signal(os.Interrupt); sigErr != nil {
			err = w.cmd.Process.Kill()
			return
		}
		select {
		case <-w.exited:
		case <-time.After(3 * time.Second):
			err = w.cmd.Process.Kill()
		}
	})
	return err
}

func (w *ProcessWindow) Geometry() models.WindowPosition {
	return w.geometry
}
