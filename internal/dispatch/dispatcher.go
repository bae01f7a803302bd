// Package dispatch is ccrelay's top-level policy. Given one captured
// invocation it picks exactly one way to run it (pre-warm the daemon, pass
// through to the daemon binary, link locally, relay to the daemon, or fall
// back to the local compiler) and produces the process exit code.
package dispatch

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/mkalinski/ccrelay/internal/client"
	"github.com/mkalinski/ccrelay/internal/config"
	"github.com/mkalinski/ccrelay/internal/launcher"
	"github.com/mkalinski/ccrelay/internal/linkstep"
	"github.com/mkalinski/ccrelay/internal/lock"
	"github.com/mkalinski/ccrelay/internal/protocol"
)

// distccBinary is the legacy escape hatch target. A var so tests can point it
// at something that exists.
var distccBinary = "distcc"

// Invocation is the immutable capture of this process's command line and
// working directory, taken once at startup. Argv[0] is ccrelay itself,
// Argv[1] the compiler, Argv[2:] its arguments.
type Invocation struct {
	Argv []string
	Cwd  string
}

// Dispatcher routes one invocation. It never calls os.Exit; Run returns the
// code and main performs the single exit.
type Dispatcher struct {
	cfg    *config.Config
	logger *slog.Logger

	// Overridable for tests; wired to the real process streams by New.
	stdout io.Writer
	stderr io.Writer
}

func New(cfg *config.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Run applies the dispatch policy and returns the exit code.
func (d *Dispatcher) Run(inv Invocation) int {
	if d.cfg.FallbackDistcc {
		return d.runLocal(distccBinary, inv.Argv[1:], inv.Cwd)
	}
	if len(inv.Argv) == 2 && inv.Argv[1] == "start" {
		return d.runStart()
	}
	if len(inv.Argv) < 3 || strings.HasPrefix(inv.Argv[1], "-") {
		// Not a compiler call. The daemon binary owns every other
		// surface (flags, maintenance commands); hand it the same
		// argv shape untouched.
		return d.runLocal(d.cfg.DaemonPath, inv.Argv[1:], inv.Cwd)
	}
	if len(inv.Argv) > 4 && linkstep.IsLinkerInvocation(inv.Argv[2:]) {
		d.logger.Info("link step, executing locally", "compiler", inv.Argv[1])
		return d.runLocal(inv.Argv[1], inv.Argv[2:], inv.Cwd)
	}

	code, err := d.relay(inv)
	if err != nil {
		return d.fallbackLocal(inv, err)
	}
	return code
}

// runStart pre-warms the daemon: connect if it is already up, otherwise run
// the startup race and connect once. Used by build orchestration before the
// first compile job lands.
func (d *Dispatcher) runStart() int {
	conn, err := d.newClient().Connect()
	if err != nil {
		d.logger.Error("pre-warm failed", "error", err)
		fmt.Fprintf(d.stderr, "[ccrelay] %v\n", err)
		return 1
	}
	_ = conn.Close()
	return 0
}

// relay performs the daemon round trip. Any returned error is a fallback
// trigger; the reply's streams are written verbatim before returning.
func (d *Dispatcher) relay(inv Invocation) (int, error) {
	if inv.Cwd == "" {
		return 0, errors.New("working directory unknown")
	}

	// Encode first: an oversized command line must be rejected before any
	// socket traffic, and without a daemon start.
	request, err := protocol.EncodeRequest(inv.Cwd, inv.Argv[1:])
	if err != nil {
		return 0, err
	}

	conn, err := d.newClient().Connect()
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := client.Send(conn, request); err != nil {
		return 0, err
	}
	raw, err := client.Receive(conn)
	if err != nil {
		return 0, err
	}
	reply, err := protocol.DecodeReply(raw)
	if err != nil {
		return 0, err
	}

	_, _ = d.stdout.Write(reply.Stdout)
	_, _ = d.stderr.Write(reply.Stderr)
	return reply.ExitCode, nil
}

func (d *Dispatcher) newClient() *client.Client {
	starter := launcher.New(
		lock.NewFlock(d.cfg.LockPath),
		&launcher.DaemonSpawner{DaemonPath: d.cfg.DaemonPath, SocketPath: d.cfg.SocketPath},
		d.logger,
	)
	return client.New(d.cfg.SocketPath, starter, d.logger)
}

// fallbackLocal runs the originally requested compiler after a relay failure.
// Whatever broke, startup or connect or framing or the reply, the build must
// still observe an ordinary compiler invocation.
func (d *Dispatcher) fallbackLocal(inv Invocation, cause error) int {
	d.logger.Error("fallback to local compiler", "reason", cause.Error())
	fmt.Fprintf(d.stderr, "[ccrelay] %v. Executing the compiler locally...\n", cause)
	return d.runLocal(inv.Argv[1], inv.Argv[2:], inv.Cwd)
}

// runLocal spawns program with inherited streams, waits, and propagates its
// exit code: the spawn-and-wait equivalent of replacing the process image.
func (d *Dispatcher) runLocal(program string, args []string, cwd string) int {
	cmd := exec.Command(program, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = d.stdout
	cmd.Stderr = d.stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		d.logger.Error("could not run local program", "program", program, "error", err)
		fmt.Fprintf(d.stderr, "[ccrelay] could not run %s: %v\n", program, err)
		return 1
	}
	return 0
}
