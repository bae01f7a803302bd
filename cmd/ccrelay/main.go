// ccrelay is the compiler shim a build system actually executes:
//
//	ccrelay g++ -c src/main.cpp -o obj/main.o
//
// Each invocation hands its command line to the long-running relay daemon
// over a unix socket (starting the daemon exactly once across racing
// invocations) and exits with the daemon's reported exit code. If anything in
// that pipeline is broken, the named compiler runs locally instead; a build
// never fails because of ccrelay itself.
package main

import (
	"fmt"
	"os"

	"github.com/mkalinski/ccrelay/internal/config"
	"github.com/mkalinski/ccrelay/internal/dispatch"
	"github.com/mkalinski/ccrelay/internal/log"
	"github.com/mkalinski/ccrelay/internal/tui"
)

const version = "0.4.1"

func main() {
	argv := os.Args

	// Only purely local commands are intercepted here; `start` and bare
	// flags are dispatch policy.
	if len(argv) == 2 {
		switch argv[1] {
		case "version", "--version":
			fmt.Printf("ccrelay version %s\n", version)
			return
		case "monitor":
			os.Exit(runMonitor())
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		// The one error with no fallback: without a daemon path there is
		// no original-program context to fall back to safely.
		fmt.Fprintf(os.Stderr, "[ccrelay] %v\n", err)
		os.Exit(1)
	}
	log.Setup(cfg.LogFile)

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "" // the dispatcher falls back to a local run
	}

	d := dispatch.New(cfg, log.WithComponent("dispatch"))
	os.Exit(d.Run(dispatch.Invocation{Argv: argv, Cwd: cwd}))
}

func runMonitor() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ccrelay] %v\n", err)
		return 1
	}
	if cfg.LogFile == "" {
		fmt.Fprintf(os.Stderr, "[ccrelay] monitor needs a log file (set %s)\n", config.EnvLogFile)
		return 1
	}
	if err := tui.Run(cfg.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "[ccrelay] monitor: %v\n", err)
		return 1
	}
	return 0
}

func printUsage() {
	fmt.Print(`ccrelay - relay compiler invocations to a shared warm daemon

Usage:
  ccrelay <compiler> <args...>   Relay one compile job (the normal path)
  ccrelay start                  Pre-warm the daemon, exit 0/1
  ccrelay monitor                Tail the invocation log interactively
  ccrelay version                Show version information

Configuration (environment, optionally a YAML file via CCRELAY_CONFIG):
  CCRELAY_DAEMON           Relay daemon executable (required)
  CCRELAY_LOG_FILE         Append invocation events here (optional)
  CCRELAY_FALLBACK_DISTCC  Truthy value routes everything through distcc
  CCRELAY_SOCKET           Daemon socket path (default derived per daemon)
  CCRELAY_LOCK             Startup lock path (default derived per daemon)

Link steps and non-compiler calls never touch the daemon. Any relay failure
falls back to running the named compiler locally.
`)
}
