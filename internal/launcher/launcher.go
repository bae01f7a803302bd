// Package launcher implements singleton startup of the relay daemon. Any
// number of ccrelay processes may discover a missing daemon at once; exactly
// one of them spawns it, everyone else waits for the outcome.
package launcher

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/mkalinski/ccrelay/internal/lock"
)

// readinessBufSize bounds the single read of the daemon's startup report.
const readinessBufSize = 1024

// StartError means the daemon could not be brought up. Diagnostic carries
// whatever the daemon printed before giving up, if anything.
type StartError struct {
	Diagnostic string
}

func (e *StartError) Error() string {
	if e.Diagnostic == "" {
		return "could not start daemon"
	}
	return "could not start daemon: " + e.Diagnostic
}

// Spawner launches the daemon process detached from the current one and
// returns its standard output, where the daemon reports readiness.
type Spawner interface {
	Start() (io.ReadCloser, error)
}

// DaemonSpawner is the production Spawner: it runs "<daemon> start" in its
// own session with stdout piped back to us. The socket path is exported so
// the daemon listens exactly where this process will dial.
type DaemonSpawner struct {
	DaemonPath string
	SocketPath string
}

func (s *DaemonSpawner) Start() (io.ReadCloser, error) {
	cmd := exec.Command(s.DaemonPath, "start")
	cmd.Env = append(os.Environ(), "CCRELAY_SOCKET="+s.SocketPath)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("daemon stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", s.DaemonPath, err)
	}
	// The daemon outlives us; we never Wait on it. It is reparented when
	// this process exits moments from now.
	return stdout, nil
}

// Launcher coordinates the startup race over a Locker.
type Launcher struct {
	lock   lock.Locker
	spawn  Spawner
	logger *slog.Logger
}

func New(lk lock.Locker, sp Spawner, logger *slog.Logger) *Launcher {
	return &Launcher{lock: lk, spawn: sp, logger: logger}
}

// EnsureStarted returns once a daemon startup race has finished. The caller
// that wins the non-blocking lock spawns the daemon and waits for its
// readiness token; every other caller blocks on the lock until the winner is
// done, then assumes the daemon is reachable. The lock is held only for the
// duration of the race, never across a request round trip.
func (l *Launcher) EnsureStarted() error {
	won, err := l.lock.TryLock()
	if err != nil {
		return &StartError{Diagnostic: err.Error()}
	}

	if !won {
		// Someone else is mid-start. Wake when they finish, win or lose.
		l.logger.Info("daemon start in progress elsewhere, waiting")
		if err := l.lock.Lock(); err != nil {
			return &StartError{Diagnostic: err.Error()}
		}
		_ = l.lock.Unlock()
		_ = l.lock.Close()
		return nil
	}

	defer func() {
		_ = l.lock.Unlock()
		_ = l.lock.Close()
	}()

	l.logger.Info("starting daemon")
	out, err := l.spawn.Start()
	if err != nil {
		return &StartError{Diagnostic: err.Error()}
	}
	defer out.Close()

	// One read: the daemon prints "1\0" once it is listening, or an error
	// message and exits. EOF before any byte means it died silently.
	buf := make([]byte, readinessBufSize)
	n, err := out.Read(buf)
	if n <= 0 {
		diag := "daemon exited before reporting readiness"
		if err != nil && err != io.EOF {
			diag = err.Error()
		}
		return &StartError{Diagnostic: diag}
	}
	if buf[0] != '1' || buf[1] != 0 {
		text := strings.TrimSpace(strings.TrimRight(string(buf[:n]), "\x00"))
		return &StartError{Diagnostic: text}
	}

	l.logger.Info("daemon reported ready")
	// Best effort; flock works on a recreated file just as well.
	_ = l.lock.Remove()
	return nil
}
