// Package supervisor owns the worker process lifecycle: it keeps exactly one
// worker alive, restarts it with backoff after a crash, and drives graceful
// shutdown with a bounded grace period.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	DefaultBackoff     = 5 * time.Second
	DefaultGracePeriod = 10 * time.Second
)

type Supervisor struct {
	path string
	args []string

	// Backoff is the wait before restarting a crashed worker; GracePeriod
	// bounds how long a stopping worker may take before it is killed.
	Backoff     time.Duration
	GracePeriod time.Duration
}

func New(path string, args ...string) *Supervisor {
	return &Supervisor{
		path:        path,
		args:        args,
		Backoff:     DefaultBackoff,
		GracePeriod: DefaultGracePeriod,
	}
}

// Run starts the worker and keeps it running until the context ends or the
// worker exits cleanly on its own. A non-clean exit (non-zero status or
// signal) that the supervisor did not request schedules a restart after the
// backoff. On context cancellation the worker gets SIGTERM and the grace
// period to leave; after that it is killed.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		cmd := exec.Command(s.path, s.args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = os.Environ()

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start worker %s: %w", s.path, err)
		}
		log.Printf("[supervisor] worker started pid=%d", cmd.Process.Pid)

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case err := <-done:
			if err == nil {
				log.Printf("[supervisor] worker exited cleanly, not restarting")
				return nil
			}
			log.Printf("[supervisor] worker exited error=%v, restarting in %s", err, s.Backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.Backoff):
			}

		case <-ctx.Done():
			return s.stop(cmd, done)
		}
	}
}

// stop asks the worker to terminate, waits up to the grace period, then
// force-kills it.
func (s *Supervisor) stop(cmd *exec.Cmd, done <-chan error) error {
	log.Printf("[supervisor] stopping worker pid=%d", cmd.Process.Pid)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// already gone
		<-done
		return nil
	}

	select {
	case err := <-done:
		log.Printf("[supervisor] worker stopped exit=%v", err)
		return nil
	case <-time.After(s.GracePeriod):
		log.Printf("[supervisor] worker did not stop within %s, killing", s.GracePeriod)
		_ = cmd.Process.Kill()
		<-done
		return nil
	}
}
