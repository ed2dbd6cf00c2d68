package wifi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/bbernstein/lacylights-wifi/internal/services/ctrl"
)

// Channel is an open control connection to the supplicant.
type Channel interface {
	Request(ctx context.Context, command string) (ctrl.Reply, error)
	// Recv blocks for the next event line. It returns ctrl.ErrClosed once the
	// channel is closed.
	Recv(ctx context.Context) (string, error)
	Close(graceful bool) error
}

// Dialer opens control channels.
type Dialer interface {
	Dial(ctx context.Context, path string) (Channel, error)
}

// Process is a running supplicant.
type Process interface {
	Wait() error
	Kill() error
	Pid() int
}

// ProcessLauncher starts the supplicant executable.
type ProcessLauncher interface {
	Launch(ctx context.Context, path string, args []string) (Process, error)
}

// CtrlDialer dials the real control socket.
type CtrlDialer struct {
	Retries int
	Timeout time.Duration
}

// Dial opens a control client on the socket at path.
func (c CtrlDialer) Dial(ctx context.Context, path string) (Channel, error) {
	return ctrl.Open(ctx, ctrl.Config{SocketPath: path, RetryCount: c.Retries, Timeout: c.Timeout})
}

// ExecLauncher starts the supplicant with os/exec.
type ExecLauncher struct{}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Launch starts the process detached from ctx; its lifetime is managed by
// the driver.
func (ExecLauncher) Launch(_ context.Context, path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

// supplicantArgs builds the command line for the supplicant.
func supplicantArgs(cfg Config) []string {
	args := []string{"-t", "-i" + cfg.Interface}
	if cfg.ConfigFile != "" {
		args = append(args, "-c"+cfg.ConfigFile)
	} else {
		args = append(args, "-C"+cfg.CtrlDir)
	}
	if cfg.LogFile != "" {
		args = append(args, "-f"+cfg.LogFile)
	}
	return args
}

// ensureConfigFile creates a minimal supplicant configuration if path does
// not exist yet.
func ensureConfigFile(path, ctrlDir string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("ctrl_interface=%s\nupdate_config=1\n", ctrlDir)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return err
	}
	log.Printf("wifi: created supplicant config %s", path)
	return nil
}

// reap waits up to timeout for the process to exit and kills it otherwise.
func reap(p Process, timeout time.Duration) {
	if p == nil {
		return
	}
	var waitErr error
	done := make(chan struct{})
	go func() {
		waitErr = p.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Printf("wifi: supplicant pid %d did not exit in %s, killing", p.Pid(), timeout)
		if err := p.Kill(); err != nil {
			log.Printf("wifi: kill supplicant: %v", err)
		}
		select {
		case <-done:
		case <-time.After(timeout):
			log.Printf("wifi: supplicant pid %d still not reaped", p.Pid())
			return
		}
	}
	if waitErr != nil {
		log.Printf("wifi: supplicant exited: %v", waitErr)
	}
}
